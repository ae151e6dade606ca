// Package controlpoint implements the settings control point command protocol
// shared by the settings service and the profile control points.
package controlpoint

import "fmt"

// OpCode is the first byte of a control point write.
type OpCode uint8

const (
	SetLogLevel                OpCode = 17
	ChangeBleService           OpCode = 18
	SetDeltaTimeLogging        OpCode = 19
	SetLogToSdCard             OpCode = 20
	SetMachineSettings         OpCode = 21
	SetSensorSignalSettings    OpCode = 22
	SetDragFactorSettings      OpCode = 23
	SetStrokeDetectionSettings OpCode = 24
	RestartDevice              OpCode = 31
)

// Response headers
const (
	ResponseCode     uint8 = 0x20
	FTMSResponseCode uint8 = 0x80
)

func (op OpCode) String() string {
	switch op {
	case SetLogLevel:
		return "SetLogLevel"
	case ChangeBleService:
		return "ChangeBleService"
	case SetDeltaTimeLogging:
		return "SetDeltaTimeLogging"
	case SetLogToSdCard:
		return "SetLogToSdCard"
	case SetMachineSettings:
		return "SetMachineSettings"
	case SetSensorSignalSettings:
		return "SetSensorSignalSettings"
	case SetDragFactorSettings:
		return "SetDragFactorSettings"
	case SetStrokeDetectionSettings:
		return "SetStrokeDetectionSettings"
	case RestartDevice:
		return "RestartDevice"
	}
	return fmt.Sprintf("OpCode(%d)", uint8(op))
}

// Result is the last byte of every response.
type Result uint8

const (
	Successful          Result = 1
	UnsupportedOpCode   Result = 2
	InvalidParameter    Result = 3
	OperationFailed     Result = 4
	ControlNotPermitted Result = 5
)

func (r Result) String() string {
	switch r {
	case Successful:
		return "Successful"
	case UnsupportedOpCode:
		return "UnsupportedOpCode"
	case InvalidParameter:
		return "InvalidParameter"
	case OperationFailed:
		return "OperationFailed"
	case ControlNotPermitted:
		return "ControlNotPermitted"
	}
	return fmt.Sprintf("Result(%d)", uint8(r))
}

// Command is one control point write.
type Command struct {
	OpCode  OpCode
	Payload []byte
}

// ParseCommand splits a write into opcode and payload. It returns false for
// an empty write.
func ParseCommand(value []byte) (Command, bool) {
	if len(value) == 0 {
		return Command{}, false
	}
	return Command{OpCode: OpCode(value[0]), Payload: value[1:]}, true
}

// Response is the 3-byte reply indicated on the control point.
type Response struct {
	Header uint8
	OpCode OpCode
	Result Result
}

// Bytes encodes r as [header, opcode, result].
func (r Response) Bytes() []byte {
	return []byte{r.Header, uint8(r.OpCode), uint8(r.Result)}
}
