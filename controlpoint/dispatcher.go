package controlpoint

import (
	"errors"
	"sync"
	"time"

	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/device"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/settings"
)

// errLength rejects a message whose size does not match its opcode.
var errLength = errors.New("controlpoint: wrong message length")

// SettingsBroadcaster pushes the settings characteristics after a change.
type SettingsBroadcaster interface {
	BroadcastSettings()
	BroadcastStrokeDetectionSettings()
}

// Indicator is the control point characteristic responses are indicated on.
type Indicator interface {
	Indicate(value []byte) error
}

// Handler applies one command payload to the register.
type Handler func(d *Dispatcher, payload []byte) error

type entry struct {
	length  int // whole message, opcode included
	handler Handler
	// after runs once the response is ready: broadcasts and restarts.
	after func(d *Dispatcher)
}

// Dispatcher turns control point writes into register updates and responses.
// It holds no per-request state; mu only serialises writes from concurrent
// connections.
type Dispatcher struct {
	register     settings.Register
	profile      settings.Profile
	broadcaster  SettingsBroadcaster
	restarter    device.Restarter
	restartDelay time.Duration

	mu      sync.Mutex
	entries map[OpCode]entry
}

// NewDispatcher creates a dispatcher for the profile the device booted with.
func NewDispatcher(register settings.Register, profile settings.Profile, broadcaster SettingsBroadcaster, restarter device.Restarter, restartDelay time.Duration) *Dispatcher {
	d := &Dispatcher{
		register:     register,
		profile:      profile,
		broadcaster:  broadcaster,
		restarter:    restarter,
		restartDelay: restartDelay,
		entries:      make(map[OpCode]entry),
	}

	d.Register(SetLogLevel, 2, setLogLevel, broadcastSettings)
	d.Register(ChangeBleService, 2, changeBleService, scheduleRestart)
	d.Register(SetDeltaTimeLogging, 2, setDeltaTimeLogging, broadcastSettings)
	d.Register(SetLogToSdCard, 2, setLogToSdCard, broadcastSettings)
	d.Register(SetMachineSettings, 1+settings.MachinePayloadSize, setMachineSettings, broadcastSettings)
	d.Register(SetSensorSignalSettings, 1+settings.SensorSignalPayloadSize, setSensorSignalSettings, broadcastSettings)
	d.Register(SetDragFactorSettings, 1+settings.DragFactorPayloadSize, setDragFactorSettings, broadcastSettings)
	d.Register(SetStrokeDetectionSettings, 1+settings.StrokeDetectionPayloadSize, setStrokeDetectionSettings, broadcastStrokeSettings)
	d.Register(RestartDevice, 1, restartDevice, scheduleRestart)
	return d
}

// Register adds or replaces the handler of op. length is the exact message
// size including the opcode byte. after may be nil.
func (d *Dispatcher) Register(op OpCode, length int, handler Handler, after func(d *Dispatcher)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[op] = entry{length: length, handler: handler, after: after}
}

// Handle processes one write and returns the response. Side effects that must
// follow the response (broadcasts, restart scheduling) are returned as a
// function so the caller can indicate first.
func (d *Dispatcher) Handle(value []byte) (Response, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd, ok := ParseCommand(value)
	if !ok {
		logger.Warn("CONTROL", "empty control point write")
		return Response{Header: ResponseCode, Result: OperationFailed}, nil
	}

	e, ok := d.entries[cmd.OpCode]
	if !ok {
		logger.Trace("CONTROL", "unsupported opcode %d", uint8(cmd.OpCode))
		if d.profile == settings.ProfileFTMS {
			return Response{Header: FTMSResponseCode, OpCode: cmd.OpCode, Result: ControlNotPermitted}, nil
		}
		return Response{Header: ResponseCode, OpCode: cmd.OpCode, Result: UnsupportedOpCode}, nil
	}

	resp := Response{Header: ResponseCode, OpCode: cmd.OpCode}
	if len(value) != e.length {
		logger.Trace("CONTROL", "%v: %v (got %d bytes, want %d)", cmd.OpCode, errLength, len(value), e.length)
		resp.Result = InvalidParameter
		return resp, nil
	}

	if err := e.handler(d, cmd.Payload); err != nil {
		logger.Warn("CONTROL", "%v rejected: %v", cmd.OpCode, err)
		resp.Result = OperationFailed
		return resp, nil
	}

	logger.Info("CONTROL", "%v applied", cmd.OpCode)
	resp.Result = Successful
	if e.after == nil {
		return resp, nil
	}
	return resp, func() { e.after(d) }
}

// WriteHandler returns the OnWrite handler of a control point characteristic.
// Every write produces exactly one indication on cp.
func (d *Dispatcher) WriteHandler(cp Indicator) ble.WriteHandler {
	return func(conn ble.ConnHandle, value []byte) {
		resp, after := d.Handle(value)
		logger.Trace("CONTROL", "conn %d: % X -> % X", conn, value, resp.Bytes())
		if err := cp.Indicate(resp.Bytes()); err != nil {
			logger.Warn("CONTROL", "response not indicated: %v", err)
		}
		if after != nil {
			after()
		}
	}
}

func boolPayload(p []byte) (bool, error) {
	switch p[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, settings.ErrInvalid
}

func setLogLevel(d *Dispatcher, p []byte) error {
	if err := d.register.SetLogLevel(p[0]); err != nil {
		return err
	}
	logger.SetLevel(logger.LogLevel(p[0]))
	return nil
}

func changeBleService(d *Dispatcher, p []byte) error {
	return d.register.SetProfile(settings.Profile(p[0]))
}

func setDeltaTimeLogging(d *Dispatcher, p []byte) error {
	enabled, err := boolPayload(p)
	if err != nil {
		return err
	}
	return d.register.SetDeltaTimeLogging(enabled)
}

func setLogToSdCard(d *Dispatcher, p []byte) error {
	enabled, err := boolPayload(p)
	if err != nil {
		return err
	}
	return d.register.SetLogToSdCard(enabled)
}

func setMachineSettings(d *Dispatcher, p []byte) error {
	m, err := settings.DecodeMachine(p)
	if err != nil {
		return err
	}
	return d.register.SetMachineSettings(m)
}

func setSensorSignalSettings(d *Dispatcher, p []byte) error {
	s, err := settings.DecodeSensorSignal(p)
	if err != nil {
		return err
	}
	return d.register.SetSensorSignalSettings(s)
}

func setDragFactorSettings(d *Dispatcher, p []byte) error {
	df, err := settings.DecodeDragFactor(p)
	if err != nil {
		return err
	}
	return d.register.SetDragFactorSettings(df)
}

func setStrokeDetectionSettings(d *Dispatcher, p []byte) error {
	s, err := settings.DecodeStrokeDetection(p)
	if err != nil {
		return err
	}
	return d.register.SetStrokeDetectionSettings(s)
}

func restartDevice(*Dispatcher, []byte) error {
	return nil
}

func broadcastSettings(d *Dispatcher) {
	if d.broadcaster != nil {
		d.broadcaster.BroadcastSettings()
	}
}

func broadcastStrokeSettings(d *Dispatcher) {
	if d.broadcaster != nil {
		d.broadcaster.BroadcastSettings()
		d.broadcaster.BroadcastStrokeDetectionSettings()
	}
}

func scheduleRestart(d *Dispatcher) {
	if d.restarter != nil {
		d.restarter.RestartAfter(d.restartDelay)
	}
}
