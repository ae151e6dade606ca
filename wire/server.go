package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/wire/att"
	"github.com/user/ergo-blue/wire/debug"
	"github.com/user/ergo-blue/wire/gatt"
)

// maxAttributeValue is the longest value ATT allows
const maxAttributeValue = 512

// HandlePDU serves one PDU from conn. Protocol errors are answered with an
// ErrorResponse; the returned error only reports an unknown connection.
func (p *Peripheral) HandlePDU(conn ble.ConnHandle, pdu []byte) error {
	c, log, ok := p.connection(conn)
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownConnection, conn)
	}
	if len(pdu) == 0 {
		return nil
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	log.Record(debug.RX, conn, pdu)
	logger.Verbose("WIRE", "conn %d rx %s (%d bytes)", conn, att.OpcodeName(pdu[0]), len(pdu))

	reply := p.serve(c, pdu)
	if reply != nil {
		p.send(c, log, reply.Marshal())
	}
	return nil
}

// serve returns the response PDU, or nil when none is due
func (p *Peripheral) serve(c *connection, raw []byte) att.PDU {
	req, err := att.Parse(raw)
	if err == nil && len(raw) > p.currentMTU(c) {
		err = fmt.Errorf("%s of %d bytes exceeds MTU %d", att.OpcodeName(raw[0]), len(raw), p.currentMTU(c))
	}
	if err != nil {
		logger.Trace("WIRE", "conn %d: %v", c.handle, err)
		if att.ResponseFor(raw[0]) != 0 {
			return att.NewError(att.ErrInvalidPDU, raw[0], 0).Response()
		}
		if raw[0] == att.OpWriteCommand || isResponse(raw[0]) {
			return nil
		}
		return att.NewError(att.ErrRequestNotSupported, raw[0], 0).Response()
	}

	switch r := req.(type) {
	case *att.ExchangeMTU:
		if r.Op != att.OpExchangeMTURequest {
			return nil
		}
		return p.exchangeMTU(c, r.MTU)

	case *att.ReadRequest:
		return p.read(c, r.Handle)

	case *att.HandleValue:
		switch r.Op {
		case att.OpWriteRequest:
			if err := p.write(c, r.Handle, r.Value, ble.PropWrite); err != nil {
				return err.Response()
			}
			return &att.Empty{Op: att.OpWriteResponse}
		case att.OpWriteCommand:
			if err := p.write(c, r.Handle, r.Value, ble.PropWriteNoResponse); err != nil {
				logger.Trace("WIRE", "conn %d: write command dropped: %v", c.handle, err)
			}
			return nil
		}
		return nil

	case *att.PrepareWrite:
		if r.Op != att.OpPrepareWriteRequest {
			return nil
		}
		return p.prepareWrite(c, r)

	case *att.ExecuteWriteRequest:
		return p.executeWrite(c, r.Flags)

	case *att.RangeRequest:
		if r.Start == 0 || r.Start > r.End {
			return att.NewError(att.ErrInvalidHandle, r.Op, r.Start).Response()
		}
		switch r.Op {
		case att.OpReadByGroupTypeRequest:
			return p.readByGroupType(c, r)
		case att.OpReadByTypeRequest:
			return p.readByType(c, r)
		default:
			return p.findInformation(c, r)
		}

	case *att.Empty:
		if r.Op == att.OpHandleValueConfirmation {
			logger.Verbose("WIRE", "conn %d confirmed indication", c.handle)
		}
		return nil
	}

	return nil
}

func isResponse(op uint8) bool {
	switch op {
	case att.OpErrorResponse, att.OpExchangeMTUResponse, att.OpFindInformationResponse,
		att.OpReadByTypeResponse, att.OpReadResponse, att.OpReadByGroupTypeResponse,
		att.OpWriteResponse, att.OpPrepareWriteResponse, att.OpExecuteWriteResponse,
		att.OpHandleValueConfirmation:
		return true
	}
	return false
}

func (p *Peripheral) exchangeMTU(c *connection, clientMTU uint16) att.PDU {
	mtu := clientMTU
	if mtu > p.maxMTU {
		mtu = p.maxMTU
	}
	if mtu < ble.DefaultMTU {
		mtu = ble.DefaultMTU
	}

	p.mu.Lock()
	c.mtu = mtu
	p.mu.Unlock()

	logger.Trace("WIRE", "conn %d: MTU %d (client %d)", c.handle, mtu, clientMTU)
	return &att.ExchangeMTU{Op: att.OpExchangeMTUResponse, MTU: p.maxMTU}
}

func (p *Peripheral) currentMTU(c *connection) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int(c.mtu)
}

func (p *Peripheral) read(c *connection, handle uint16) att.PDU {
	attr, err := p.db.GetAttribute(handle)
	if err != nil {
		return att.NewError(att.ErrInvalidHandle, att.OpReadRequest, handle).Response()
	}
	if attr.Permissions&gatt.PermReadable == 0 {
		return att.NewError(att.ErrReadNotPermitted, att.OpReadRequest, handle).Response()
	}

	value := attr.Value
	if owner, ok := p.cccdOwner(handle); ok {
		s := c.cccds.Subscription(owner.handles.Value)
		value = gatt.EncodeCCCDValue(s.Notify, s.Indicate)
	}

	if limit := p.currentMTU(c) - 1; len(value) > limit {
		value = value[:limit]
	}
	return &att.ReadResponse{Value: value}
}

func (p *Peripheral) cccdOwner(handle uint16) (*characteristic, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.cccdOwners[handle]
	return c, ok
}

func (p *Peripheral) valueOwner(handle uint16) (*characteristic, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.chars[handle]
	return c, ok
}

// write applies a client write. CCCD writes update the subscription of this
// connection; value writes go to the characteristic's handler.
func (p *Peripheral) write(c *connection, handle uint16, value []byte, via ble.Property) *att.Error {
	op := uint8(att.OpWriteRequest)
	if via == ble.PropWriteNoResponse {
		op = att.OpWriteCommand
	}

	if owner, ok := p.cccdOwner(handle); ok {
		state, err := c.cccds.SetSubscription(owner.handles.Value, value)
		if err != nil {
			return att.NewError(att.ErrInvalidAttributeValueLength, op, handle)
		}
		logger.Trace("WIRE", "conn %d: %s notify=%v indicate=%v", c.handle, owner.uuid, state.Notify, state.Indicate)
		if owner.onSubscribe != nil {
			owner.onSubscribe(c.handle, state.Notify, state.Indicate)
		}
		return nil
	}

	owner, ok := p.valueOwner(handle)
	if !ok {
		if _, err := p.db.GetAttribute(handle); err != nil {
			return att.NewError(att.ErrInvalidHandle, op, handle)
		}
		return att.NewError(att.ErrWriteNotPermitted, op, handle)
	}
	if !owner.props.Has(via) {
		return att.NewError(att.ErrWriteNotPermitted, op, handle)
	}
	if len(value) > maxAttributeValue {
		return att.NewError(att.ErrInvalidAttributeValueLength, op, handle)
	}

	if owner.onWrite != nil {
		owner.onWrite(c.handle, append([]byte{}, value...))
	}
	return nil
}

func (p *Peripheral) prepareWrite(c *connection, r *att.PrepareWrite) att.PDU {
	owner, ok := p.valueOwner(r.Handle)
	if !ok {
		if _, err := p.db.GetAttribute(r.Handle); err != nil {
			return att.NewError(att.ErrInvalidHandle, att.OpPrepareWriteRequest, r.Handle).Response()
		}
		return att.NewError(att.ErrWriteNotPermitted, att.OpPrepareWriteRequest, r.Handle).Response()
	}
	if !owner.props.Has(ble.PropWrite) {
		return att.NewError(att.ErrWriteNotPermitted, att.OpPrepareWriteRequest, r.Handle).Response()
	}

	if err := c.queue.Add(r); err != nil {
		var attErr *att.Error
		if errors.As(err, &attErr) {
			return attErr.Response()
		}
		return att.NewError(att.ErrUnlikelyError, att.OpPrepareWriteRequest, r.Handle).Response()
	}
	return &att.PrepareWrite{Op: att.OpPrepareWriteResponse, Handle: r.Handle, Offset: r.Offset, Value: r.Value}
}

func (p *Peripheral) executeWrite(c *connection, flags uint8) att.PDU {
	if flags != att.ExecuteWrite {
		c.queue.Clear()
		return &att.Empty{Op: att.OpExecuteWriteResponse}
	}

	for _, w := range c.queue.Drain() {
		if err := p.write(c, w.Handle, w.Value, ble.PropWrite); err != nil {
			return att.NewError(err.Code, att.OpExecuteWriteRequest, w.Handle).Response()
		}
	}
	return &att.Empty{Op: att.OpExecuteWriteResponse}
}

// readByGroupType answers primary service discovery
func (p *Peripheral) readByGroupType(c *connection, r *att.RangeRequest) att.PDU {
	groupType, err := ble.ParseWireBytes(r.Type)
	if err != nil || groupType != gatt.UUIDPrimaryService {
		return att.NewError(att.ErrUnsupportedGroupType, r.Op, r.Start).Response()
	}

	all := p.db.Range(1, 0xFFFF)
	limit := p.currentMTU(c) - 2

	var data []byte
	entryLen := 0
	for i, a := range all {
		if a.Handle < r.Start || a.Handle > r.End || a.Type != gatt.UUIDPrimaryService {
			continue
		}

		end := all[len(all)-1].Handle
		for _, next := range all[i+1:] {
			if next.Type == gatt.UUIDPrimaryService {
				end = next.Handle - 1
				break
			}
		}

		n := 4 + len(a.Value)
		if entryLen == 0 {
			entryLen = n
		}
		if n != entryLen || len(data)+n > limit {
			break
		}
		data = binary.LittleEndian.AppendUint16(data, a.Handle)
		data = binary.LittleEndian.AppendUint16(data, end)
		data = append(data, a.Value...)
	}

	if len(data) == 0 {
		return att.NewError(att.ErrAttributeNotFound, r.Op, r.Start).Response()
	}
	return &att.ListResponse{Op: att.OpReadByGroupTypeResponse, Format: uint8(entryLen), Data: data}
}

// readByType answers characteristic discovery and reads by UUID
func (p *Peripheral) readByType(c *connection, r *att.RangeRequest) att.PDU {
	attrType, err := ble.ParseWireBytes(r.Type)
	if err != nil {
		return att.NewError(att.ErrInvalidPDU, r.Op, r.Start).Response()
	}

	mtu := p.currentMTU(c)
	limit := mtu - 2
	maxValue := mtu - 4
	if maxValue > 253 {
		maxValue = 253
	}

	var data []byte
	entryLen := 0
	for _, a := range p.db.Range(r.Start, r.End) {
		if a.Type != attrType {
			continue
		}
		if a.Permissions&gatt.PermReadable == 0 {
			if entryLen == 0 {
				return att.NewError(att.ErrReadNotPermitted, r.Op, a.Handle).Response()
			}
			break
		}

		value := a.Value
		if owner, ok := p.cccdOwner(a.Handle); ok {
			s := c.cccds.Subscription(owner.handles.Value)
			value = gatt.EncodeCCCDValue(s.Notify, s.Indicate)
		}
		if len(value) > maxValue {
			value = value[:maxValue]
		}

		n := 2 + len(value)
		if entryLen == 0 {
			entryLen = n
		}
		if n != entryLen || len(data)+n > limit {
			break
		}
		data = binary.LittleEndian.AppendUint16(data, a.Handle)
		data = append(data, value...)
	}

	if len(data) == 0 {
		return att.NewError(att.ErrAttributeNotFound, r.Op, r.Start).Response()
	}
	return &att.ListResponse{Op: att.OpReadByTypeResponse, Format: uint8(entryLen), Data: data}
}

// findInformation answers descriptor discovery
func (p *Peripheral) findInformation(c *connection, r *att.RangeRequest) att.PDU {
	limit := p.currentMTU(c) - 2

	var data []byte
	var format uint8
	for _, a := range p.db.Range(r.Start, r.End) {
		u := ble.WireBytes(a.Type)
		f := uint8(1)
		if len(u) == 16 {
			f = 2
		}
		if format == 0 {
			format = f
		}
		if f != format || len(data)+2+len(u) > limit {
			break
		}
		data = binary.LittleEndian.AppendUint16(data, a.Handle)
		data = append(data, u...)
	}

	if len(data) == 0 {
		return att.NewError(att.ErrAttributeNotFound, r.Op, r.Start).Response()
	}
	return &att.ListResponse{Op: att.OpFindInformationResponse, Format: format, Data: data}
}
