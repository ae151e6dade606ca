package att

import (
	"encoding/binary"
	"fmt"
)

// PDU is one ATT protocol data unit. Every PDU starts with its opcode byte.
type PDU interface {
	Opcode() uint8
	Marshal() []byte
}

// ErrorResponse (0x01)
type ErrorResponse struct {
	RequestOpcode uint8
	Handle        uint16
	Code          uint8
}

func (p *ErrorResponse) Opcode() uint8 { return OpErrorResponse }

func (p *ErrorResponse) Marshal() []byte {
	buf := []byte{OpErrorResponse, p.RequestOpcode, 0, 0, p.Code}
	binary.LittleEndian.PutUint16(buf[2:4], p.Handle)
	return buf
}

// Err converts the response into an *Error
func (p *ErrorResponse) Err() *Error {
	return NewError(p.Code, p.RequestOpcode, p.Handle)
}

// ExchangeMTU is both the request (client rx MTU) and the response (server rx MTU)
type ExchangeMTU struct {
	Op  uint8
	MTU uint16
}

func (p *ExchangeMTU) Opcode() uint8 { return p.Op }

func (p *ExchangeMTU) Marshal() []byte {
	buf := []byte{p.Op, 0, 0}
	binary.LittleEndian.PutUint16(buf[1:], p.MTU)
	return buf
}

// RangeRequest covers the discovery requests that carry a handle range:
// find information (no type), read by type and read by group type.
type RangeRequest struct {
	Op    uint8
	Start uint16
	End   uint16
	Type  []byte // 2 or 16 byte UUID, little-endian
}

func (p *RangeRequest) Opcode() uint8 { return p.Op }

func (p *RangeRequest) Marshal() []byte {
	buf := make([]byte, 5, 5+len(p.Type))
	buf[0] = p.Op
	binary.LittleEndian.PutUint16(buf[1:3], p.Start)
	binary.LittleEndian.PutUint16(buf[3:5], p.End)
	return append(buf, p.Type...)
}

// ListResponse covers the discovery responses. Format is the per-entry length
// for read by type / read by group type, and the UUID format (1 = 16-bit,
// 2 = 128-bit) for find information.
type ListResponse struct {
	Op     uint8
	Format uint8
	Data   []byte
}

func (p *ListResponse) Opcode() uint8 { return p.Op }

func (p *ListResponse) Marshal() []byte {
	return append([]byte{p.Op, p.Format}, p.Data...)
}

// Entries splits Data into fixed-size records. Find information entries are
// 4 or 18 bytes depending on Format.
func (p *ListResponse) Entries() [][]byte {
	size := int(p.Format)
	if p.Op == OpFindInformationResponse {
		size = 4
		if p.Format == 2 {
			size = 18
		}
	}
	if size == 0 {
		return nil
	}
	var entries [][]byte
	for i := 0; i+size <= len(p.Data); i += size {
		entries = append(entries, p.Data[i:i+size])
	}
	return entries
}

// ReadRequest (0x0A)
type ReadRequest struct {
	Handle uint16
}

func (p *ReadRequest) Opcode() uint8 { return OpReadRequest }

func (p *ReadRequest) Marshal() []byte {
	return []byte{OpReadRequest, byte(p.Handle), byte(p.Handle >> 8)}
}

// ReadResponse (0x0B)
type ReadResponse struct {
	Value []byte
}

func (p *ReadResponse) Opcode() uint8 { return OpReadResponse }

func (p *ReadResponse) Marshal() []byte {
	return append([]byte{OpReadResponse}, p.Value...)
}

// HandleValue covers every PDU laid out as [opcode][handle][value]: write
// request, write command, notification and indication.
type HandleValue struct {
	Op     uint8
	Handle uint16
	Value  []byte
}

func (p *HandleValue) Opcode() uint8 { return p.Op }

func (p *HandleValue) Marshal() []byte {
	buf := make([]byte, 3, 3+len(p.Value))
	buf[0] = p.Op
	binary.LittleEndian.PutUint16(buf[1:3], p.Handle)
	return append(buf, p.Value...)
}

// PrepareWrite is both the request and its echoing response
type PrepareWrite struct {
	Op     uint8
	Handle uint16
	Offset uint16
	Value  []byte
}

func (p *PrepareWrite) Opcode() uint8 { return p.Op }

func (p *PrepareWrite) Marshal() []byte {
	buf := make([]byte, 5, 5+len(p.Value))
	buf[0] = p.Op
	binary.LittleEndian.PutUint16(buf[1:3], p.Handle)
	binary.LittleEndian.PutUint16(buf[3:5], p.Offset)
	return append(buf, p.Value...)
}

// Execute write flags
const (
	ExecuteCancel = 0x00
	ExecuteWrite  = 0x01
)

// ExecuteWriteRequest (0x18)
type ExecuteWriteRequest struct {
	Flags uint8
}

func (p *ExecuteWriteRequest) Opcode() uint8 { return OpExecuteWriteRequest }

func (p *ExecuteWriteRequest) Marshal() []byte {
	return []byte{OpExecuteWriteRequest, p.Flags}
}

// Empty covers the PDUs that are only an opcode: write response, execute
// write response and handle value confirmation.
type Empty struct {
	Op uint8
}

func (p *Empty) Opcode() uint8 { return p.Op }

func (p *Empty) Marshal() []byte { return []byte{p.Op} }

// Parse decodes one PDU. Values are copied out of data.
func Parse(data []byte) (PDU, error) {
	if len(data) == 0 {
		return nil, ErrShortPDU
	}
	op := data[0]
	body := data[1:]

	need := func(n int) error {
		if len(body) < n {
			return fmt.Errorf("%w: %s has %d bytes, need %d", ErrShortPDU, OpcodeName(op), len(body), n)
		}
		return nil
	}
	tail := func(from int) []byte {
		return append([]byte{}, body[from:]...)
	}

	switch op {
	case OpErrorResponse:
		if err := need(4); err != nil {
			return nil, err
		}
		return &ErrorResponse{RequestOpcode: body[0], Handle: binary.LittleEndian.Uint16(body[1:3]), Code: body[3]}, nil

	case OpExchangeMTURequest, OpExchangeMTUResponse:
		if err := need(2); err != nil {
			return nil, err
		}
		return &ExchangeMTU{Op: op, MTU: binary.LittleEndian.Uint16(body)}, nil

	case OpFindInformationRequest, OpReadByTypeRequest, OpReadByGroupTypeRequest:
		n := 4
		if op != OpFindInformationRequest {
			n = 6
		}
		if err := need(n); err != nil {
			return nil, err
		}
		return &RangeRequest{
			Op:    op,
			Start: binary.LittleEndian.Uint16(body[0:2]),
			End:   binary.LittleEndian.Uint16(body[2:4]),
			Type:  tail(4),
		}, nil

	case OpFindInformationResponse, OpReadByTypeResponse, OpReadByGroupTypeResponse:
		if err := need(1); err != nil {
			return nil, err
		}
		return &ListResponse{Op: op, Format: body[0], Data: tail(1)}, nil

	case OpReadRequest:
		if err := need(2); err != nil {
			return nil, err
		}
		return &ReadRequest{Handle: binary.LittleEndian.Uint16(body)}, nil

	case OpReadResponse:
		return &ReadResponse{Value: tail(0)}, nil

	case OpWriteRequest, OpWriteCommand, OpHandleValueNotification, OpHandleValueIndication:
		if err := need(2); err != nil {
			return nil, err
		}
		return &HandleValue{Op: op, Handle: binary.LittleEndian.Uint16(body), Value: tail(2)}, nil

	case OpPrepareWriteRequest, OpPrepareWriteResponse:
		if err := need(4); err != nil {
			return nil, err
		}
		return &PrepareWrite{
			Op:     op,
			Handle: binary.LittleEndian.Uint16(body[0:2]),
			Offset: binary.LittleEndian.Uint16(body[2:4]),
			Value:  tail(4),
		}, nil

	case OpExecuteWriteRequest:
		if err := need(1); err != nil {
			return nil, err
		}
		return &ExecuteWriteRequest{Flags: body[0]}, nil

	case OpWriteResponse, OpExecuteWriteResponse, OpHandleValueConfirmation:
		return &Empty{Op: op}, nil
	}

	return nil, fmt.Errorf("%w 0x%02X", ErrUnknownOpcode, op)
}
