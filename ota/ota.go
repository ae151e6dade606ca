// Package ota implements the firmware update sub-protocol carried over the OTA
// rx/tx characteristics.
package ota

import "fmt"

// Request opcodes, the first byte of every rx write.
const (
	OpBegin   uint8 = 0
	OpPackage uint8 = 1
	OpEnd     uint8 = 2
	OpAbort   uint8 = 3
)

// Response is the first byte of every tx frame.
type Response uint8

const (
	Ok                    Response = 0
	NotOk                 Response = 1
	IncorrectFormat       Response = 2
	IncorrectFirmwareSize Response = 3
	ChecksumError         Response = 4
	InternalStorageError  Response = 5
)

func (r Response) String() string {
	switch r {
	case Ok:
		return "Ok"
	case NotOk:
		return "NotOk"
	case IncorrectFormat:
		return "IncorrectFormat"
	case IncorrectFirmwareSize:
		return "IncorrectFirmwareSize"
	case ChecksumError:
		return "ChecksumError"
	case InternalStorageError:
		return "InternalStorageError"
	}
	return fmt.Sprintf("Response(%d)", uint8(r))
}

const (
	// BufferedPackets is how many packets are collected before a flash write.
	BufferedPackets = 40
	// packetOverhead is the ATT write header plus the OTA opcode byte.
	packetOverhead = 3 + 1
	// DigestSize is the length of the MD5 digest sent with End.
	DigestSize = 16
)

// State of the session
type State uint8

const (
	Idle State = iota
	Receiving
)

func (s State) String() string {
	if s == Receiving {
		return "Receiving"
	}
	return "Idle"
}
