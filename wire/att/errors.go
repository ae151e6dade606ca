package att

import (
	"errors"
	"fmt"
)

// ATT error codes carried in ErrorResponse
const (
	ErrInvalidHandle               = 0x01
	ErrReadNotPermitted            = 0x02
	ErrWriteNotPermitted           = 0x03
	ErrInvalidPDU                  = 0x04
	ErrRequestNotSupported         = 0x06
	ErrInvalidOffset               = 0x07
	ErrPrepareQueueFull            = 0x09
	ErrAttributeNotFound           = 0x0A
	ErrInvalidAttributeValueLength = 0x0D
	ErrUnlikelyError               = 0x0E
	ErrUnsupportedGroupType        = 0x10
)

var errorNames = map[uint8]string{
	ErrInvalidHandle:               "Invalid Handle",
	ErrReadNotPermitted:            "Read Not Permitted",
	ErrWriteNotPermitted:           "Write Not Permitted",
	ErrInvalidPDU:                  "Invalid PDU",
	ErrRequestNotSupported:         "Request Not Supported",
	ErrInvalidOffset:               "Invalid Offset",
	ErrPrepareQueueFull:            "Prepare Queue Full",
	ErrAttributeNotFound:           "Attribute Not Found",
	ErrInvalidAttributeValueLength: "Invalid Attribute Value Length",
	ErrUnlikelyError:               "Unlikely Error",
	ErrUnsupportedGroupType:        "Unsupported Group Type",
}

var (
	ErrShortPDU      = errors.New("att: pdu too short")
	ErrUnknownOpcode = errors.New("att: unknown opcode")
)

// Error is an ATT error returned by the server for a request
type Error struct {
	Code          uint8
	RequestOpcode uint8
	Handle        uint16
}

func (e *Error) Error() string {
	name, ok := errorNames[e.Code]
	if !ok {
		name = fmt.Sprintf("error 0x%02X", e.Code)
	}
	return fmt.Sprintf("att: %s (handle 0x%04X, request %s)", name, e.Handle, OpcodeName(e.RequestOpcode))
}

// NewError creates an ATT error for a request
func NewError(code, requestOpcode uint8, handle uint16) *Error {
	return &Error{Code: code, RequestOpcode: requestOpcode, Handle: handle}
}

// Response encodes the error as an ErrorResponse PDU
func (e *Error) Response() *ErrorResponse {
	return &ErrorResponse{RequestOpcode: e.RequestOpcode, Handle: e.Handle, Code: e.Code}
}

// CodeOf returns the ATT error code wrapped in err, or 0
func CodeOf(err error) uint8 {
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Code
	}
	return 0
}
