package ota

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/device"
	"github.com/user/ergo-blue/flash"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/rotation"
)

// Sender delivers a response frame on the tx characteristic.
type Sender interface {
	Notify(value []byte) error
}

// Session is the single firmware update session of the device. Requests are
// serialised by mu; a second client writing during an update is treated as the
// same session.
type Session struct {
	target       flash.Target
	interrupt    rotation.Interrupt
	restarter    device.Restarter
	restartDelay time.Duration

	mu             sync.Mutex
	state          State
	targetSize     uint32
	perPacketSize  uint32
	bufferCapacity uint32
	buffer         []byte
	bytesWritten   uint32
	guard          *rotation.Guard
}

// NewSession creates an idle session writing to target.
func NewSession(target flash.Target, interrupt rotation.Interrupt, restarter device.Restarter, restartDelay time.Duration) *Session {
	return &Session{
		target:       target,
		interrupt:    interrupt,
		restarter:    restarter,
		restartDelay: restartDelay,
	}
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BytesWritten returns how many image bytes reached the target
func (s *Session) BytesWritten() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}

// Handle processes one rx write and returns the tx response frame. mtu is the
// negotiated MTU of the writing connection.
func (s *Session) Handle(mtu uint16, request []byte) []byte {
	if len(request) == 0 {
		return []byte{byte(IncorrectFormat)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op, payload := request[0], request[1:]
	switch op {
	case OpBegin:
		return s.begin(mtu, payload)
	case OpPackage:
		return []byte{byte(s.pkg(payload))}
	case OpEnd:
		return []byte{byte(s.end(payload))}
	case OpAbort:
		s.abort()
		return []byte{byte(Ok)}
	}
	logger.Warn("OTA", "unknown request opcode %d", op)
	return []byte{byte(IncorrectFormat)}
}

// MTUSource reports the negotiated MTU of a connection
type MTUSource interface {
	MTU(conn ble.ConnHandle) uint16
}

// WriteHandler returns the OnWrite handler of the rx characteristic. Responses
// go out on tx.
func (s *Session) WriteHandler(tx Sender, mtus MTUSource) ble.WriteHandler {
	return func(conn ble.ConnHandle, value []byte) {
		resp := s.Handle(mtus.MTU(conn), value)
		logger.Trace("OTA", "conn %d: request %d -> %s", conn, firstByte(value), Response(resp[0]))
		if err := tx.Notify(resp); err != nil {
			logger.Warn("OTA", "response not sent: %v", err)
		}
	}
}

func firstByte(b []byte) int {
	if len(b) == 0 {
		return -1
	}
	return int(b[0])
}

func (s *Session) begin(mtu uint16, payload []byte) []byte {
	s.abort()

	if len(payload) != 4 {
		return []byte{byte(IncorrectFormat)}
	}
	if mtu <= packetOverhead {
		mtu = ble.DefaultMTU
	}
	size := binary.LittleEndian.Uint32(payload)

	if err := s.target.Begin(size); err != nil {
		logger.Error("OTA", "begin %d bytes: %v", size, err)
		s.target.Abort()
		switch {
		case errors.Is(err, flash.ErrFirmwareSize):
			return []byte{byte(IncorrectFirmwareSize)}
		case errors.Is(err, flash.ErrStorage):
			return []byte{byte(InternalStorageError)}
		}
		return []byte{byte(NotOk)}
	}

	s.state = Receiving
	s.targetSize = size
	s.perPacketSize = uint32(mtu) - packetOverhead
	s.bufferCapacity = s.perPacketSize * BufferedPackets
	s.buffer = make([]byte, 0, s.bufferCapacity)
	s.bytesWritten = 0
	if s.interrupt != nil {
		s.guard = rotation.Acquire(s.interrupt)
	}
	logger.Info("OTA", "update started: %d bytes, %d per packet, %d buffered", size, s.perPacketSize, s.bufferCapacity)

	resp := make([]byte, 9)
	resp[0] = byte(Ok)
	binary.LittleEndian.PutUint32(resp[1:5], s.perPacketSize)
	binary.LittleEndian.PutUint32(resp[5:9], s.bufferCapacity)
	return resp
}

func (s *Session) pkg(data []byte) Response {
	if s.state != Receiving {
		return NotOk
	}

	s.buffer = append(s.buffer, data...)
	if uint32(len(s.buffer)) < s.bufferCapacity {
		return Ok
	}
	if err := s.flush(); err != nil {
		return s.fail(err)
	}
	return Ok
}

func (s *Session) end(digest []byte) Response {
	if s.state != Receiving {
		return NotOk
	}
	if len(digest) != DigestSize {
		return IncorrectFormat
	}

	if err := s.target.SetMD5(hex.EncodeToString(digest)); err != nil {
		return s.fail(err)
	}
	if err := s.flush(); err != nil {
		return s.fail(err)
	}
	if err := s.target.End(); err != nil {
		logger.Error("OTA", "finalize failed: %v", err)
		s.reset()
		if errors.Is(err, flash.ErrChecksumMismatch) {
			return ChecksumError
		}
		return NotOk
	}

	logger.Info("OTA", "update complete: %d bytes, restarting", s.bytesWritten)
	s.reset()
	if s.restarter != nil {
		s.restarter.RestartAfter(s.restartDelay)
	}
	return Ok
}

func (s *Session) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	n, err := s.target.Write(s.buffer)
	s.bytesWritten += uint32(n)
	s.buffer = s.buffer[:0]
	return err
}

// fail aborts the target after a write error and ends the session.
func (s *Session) fail(err error) Response {
	logger.Error("OTA", "write failed after %d bytes: %v", s.bytesWritten, err)
	s.target.Abort()
	s.reset()
	if errors.Is(err, flash.ErrMagicByte) {
		return ChecksumError
	}
	return InternalStorageError
}

func (s *Session) abort() {
	if s.state == Idle {
		return
	}
	logger.Info("OTA", "update aborted after %d bytes", s.bytesWritten)
	s.target.Abort()
	s.reset()
}

// reset returns to Idle and releases the rotation interrupt.
func (s *Session) reset() {
	s.state = Idle
	s.buffer = nil
	s.targetSize = 0
	s.perPacketSize = 0
	s.bufferCapacity = 0
	s.guard.Release()
	s.guard = nil
}
