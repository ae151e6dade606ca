package att

import "fmt"

// ATT opcodes (Core Spec Vol 3, Part F, 3.4)
const (
	OpErrorResponse           = 0x01
	OpExchangeMTURequest      = 0x02
	OpExchangeMTUResponse     = 0x03
	OpFindInformationRequest  = 0x04
	OpFindInformationResponse = 0x05
	OpReadByTypeRequest       = 0x08
	OpReadByTypeResponse      = 0x09
	OpReadRequest             = 0x0A
	OpReadResponse            = 0x0B
	OpReadByGroupTypeRequest  = 0x10
	OpReadByGroupTypeResponse = 0x11
	OpWriteRequest            = 0x12
	OpWriteResponse           = 0x13
	OpPrepareWriteRequest     = 0x16
	OpPrepareWriteResponse    = 0x17
	OpExecuteWriteRequest     = 0x18
	OpExecuteWriteResponse    = 0x19
	OpHandleValueNotification = 0x1B
	OpHandleValueIndication   = 0x1D
	OpHandleValueConfirmation = 0x1E
	OpWriteCommand            = 0x52
)

var opcodeNames = map[uint8]string{
	OpErrorResponse:           "ErrorResponse",
	OpExchangeMTURequest:      "ExchangeMTURequest",
	OpExchangeMTUResponse:     "ExchangeMTUResponse",
	OpFindInformationRequest:  "FindInformationRequest",
	OpFindInformationResponse: "FindInformationResponse",
	OpReadByTypeRequest:       "ReadByTypeRequest",
	OpReadByTypeResponse:      "ReadByTypeResponse",
	OpReadRequest:             "ReadRequest",
	OpReadResponse:            "ReadResponse",
	OpReadByGroupTypeRequest:  "ReadByGroupTypeRequest",
	OpReadByGroupTypeResponse: "ReadByGroupTypeResponse",
	OpWriteRequest:            "WriteRequest",
	OpWriteResponse:           "WriteResponse",
	OpPrepareWriteRequest:     "PrepareWriteRequest",
	OpPrepareWriteResponse:    "PrepareWriteResponse",
	OpExecuteWriteRequest:     "ExecuteWriteRequest",
	OpExecuteWriteResponse:    "ExecuteWriteResponse",
	OpHandleValueNotification: "HandleValueNotification",
	OpHandleValueIndication:   "HandleValueIndication",
	OpHandleValueConfirmation: "HandleValueConfirmation",
	OpWriteCommand:            "WriteCommand",
}

// OpcodeName returns a printable name for op
func OpcodeName(op uint8) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", op)
}

// ResponseFor returns the opcode that completes a request, or 0 when op
// expects no response (commands, notifications, responses themselves).
func ResponseFor(op uint8) uint8 {
	switch op {
	case OpExchangeMTURequest, OpFindInformationRequest, OpReadByTypeRequest,
		OpReadRequest, OpReadByGroupTypeRequest, OpWriteRequest,
		OpPrepareWriteRequest, OpExecuteWriteRequest:
		return op + 1
	case OpHandleValueIndication:
		return OpHandleValueConfirmation
	}
	return 0
}
