package controlpoint

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/settings"
)

type fakeBroadcaster struct {
	settings int
	stroke   int
}

func (f *fakeBroadcaster) BroadcastSettings()                { f.settings++ }
func (f *fakeBroadcaster) BroadcastStrokeDetectionSettings() { f.stroke++ }

type fakeRestarter struct {
	delays []time.Duration
}

func (f *fakeRestarter) RestartAfter(d time.Duration) { f.delays = append(f.delays, d) }

type recordingIndicator struct {
	values [][]byte
}

func (r *recordingIndicator) Indicate(value []byte) error {
	r.values = append(r.values, append([]byte(nil), value...))
	return nil
}

type fixture struct {
	store       *settings.Store
	broadcaster *fakeBroadcaster
	restarter   *fakeRestarter
	cp          *recordingIndicator
	dispatcher  *Dispatcher
}

func newFixture(t *testing.T, profile settings.Profile, features settings.Features) *fixture {
	t.Helper()
	prev := logger.GetLevel()
	t.Cleanup(func() { logger.SetLevel(prev) })

	f := &fixture{
		store:       settings.NewMemoryStore(settings.Defaults(), features),
		broadcaster: &fakeBroadcaster{},
		restarter:   &fakeRestarter{},
		cp:          &recordingIndicator{},
	}
	f.dispatcher = NewDispatcher(f.store, profile, f.broadcaster, f.restarter, time.Second)
	return f
}

func (f *fixture) write(value ...byte) []byte {
	f.dispatcher.WriteHandler(f.cp)(1, value)
	return f.cp.values[len(f.cp.values)-1]
}

func TestSetLogLevelScenario(t *testing.T) {
	f := newFixture(t, settings.ProfileCPS, settings.Features{})

	resp := f.write(byte(SetLogLevel), 4)

	if !bytes.Equal(resp, []byte{ResponseCode, byte(SetLogLevel), byte(Successful)}) {
		t.Errorf("response = %v", resp)
	}
	if f.store.Snapshot().LogLevel != 4 {
		t.Errorf("LogLevel = %d, want 4", f.store.Snapshot().LogLevel)
	}
	if f.broadcaster.settings != 1 {
		t.Errorf("settings broadcasts = %d, want 1", f.broadcaster.settings)
	}
	if len(f.cp.values) != 1 {
		t.Errorf("indications = %d, want 1", len(f.cp.values))
	}
	if logger.GetLevel() != logger.INFO {
		t.Errorf("logger level = %v, want INFO", logger.GetLevel())
	}
}

func TestEmptyWrite(t *testing.T) {
	f := newFixture(t, settings.ProfileCPS, settings.Features{})

	resp := f.write()
	if !bytes.Equal(resp, []byte{ResponseCode, 0, byte(OperationFailed)}) {
		t.Errorf("response = %v", resp)
	}
}

func TestUnknownOpCode(t *testing.T) {
	f := newFixture(t, settings.ProfileCSC, settings.Features{})
	if resp := f.write(0x05, 1); !bytes.Equal(resp, []byte{ResponseCode, 0x05, byte(UnsupportedOpCode)}) {
		t.Errorf("CSC response = %v", resp)
	}

	f = newFixture(t, settings.ProfileFTMS, settings.Features{})
	if resp := f.write(0x05, 1); !bytes.Equal(resp, []byte{FTMSResponseCode, 0x05, byte(ControlNotPermitted)}) {
		t.Errorf("FTMS response = %v", resp)
	}
}

func TestWrongLengthIsInvalidParameter(t *testing.T) {
	lengths := map[OpCode]int{
		SetLogLevel:                2,
		ChangeBleService:           2,
		SetDeltaTimeLogging:        2,
		SetLogToSdCard:             2,
		SetMachineSettings:         9,
		SetSensorSignalSettings:    3,
		SetDragFactorSettings:      8,
		SetStrokeDetectionSettings: 17,
		RestartDevice:              1,
	}
	features := settings.Features{DeltaTimeLogging: true, SdCardLogging: true}

	for op, want := range lengths {
		for n := 1; n <= 20; n++ {
			if n == want {
				continue
			}
			f := newFixture(t, settings.ProfileCPS, features)
			before := f.store.Snapshot()

			msg := make([]byte, n)
			msg[0] = byte(op)
			for i := 1; i < n; i++ {
				msg[i] = 1
			}
			resp := f.write(msg...)

			if !bytes.Equal(resp, []byte{ResponseCode, byte(op), byte(InvalidParameter)}) {
				t.Errorf("%v with %d bytes: response %v", op, n, resp)
			}
			if f.store.Snapshot() != before {
				t.Errorf("%v with %d bytes changed settings", op, n)
			}
			if f.broadcaster.settings != 0 || len(f.restarter.delays) != 0 {
				t.Errorf("%v with %d bytes had side effects", op, n)
			}
		}
	}
}

func TestSemanticFailuresLeaveRegister(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
	}{
		{"log level out of range", []byte{byte(SetLogLevel), 7}},
		{"unknown profile", []byte{byte(ChangeBleService), 3}},
		{"delta time logging not built", []byte{byte(SetDeltaTimeLogging), 1}},
		{"sd card logging not built", []byte{byte(SetLogToSdCard), 1}},
		{"zero impulses", []byte{byte(SetMachineSettings), 0, 0, 0x80, 0x3F, 98, 0xDC, 0x05, 0}},
		{"zero debounce", []byte{byte(SetSensorSignalSettings), 0, 7}},
		{"debounce too short for recovery window", []byte{byte(SetSensorSignalSettings), 5, 7}},
		{"drag thresholds inverted", []byte{byte(SetDragFactorSettings), 247, 6, 250, 0, 75, 0, 6}},
		{"recovery window too long", []byte{byte(SetDragFactorSettings), 247, 8, 75, 0, 250, 0, 6}},
		{"impulse array too short", []byte{byte(SetStrokeDetectionSettings), 2 << 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, settings.ProfileCPS, settings.Features{})
			before := f.store.Snapshot()

			resp := f.write(tt.msg...)
			if !bytes.Equal(resp, []byte{ResponseCode, tt.msg[0], byte(OperationFailed)}) {
				t.Errorf("response = %v", resp)
			}
			if f.store.Snapshot() != before {
				t.Error("settings changed")
			}
			if f.broadcaster.settings != 0 || f.broadcaster.stroke != 0 || len(f.restarter.delays) != 0 {
				t.Error("side effects after failure")
			}
		})
	}
}

func TestDragFactorUsesPendingDebounce(t *testing.T) {
	f := newFixture(t, settings.ProfileCPS, settings.Features{})

	// 10 ms debounce allows a 10 s recovery window.
	if resp := f.write(byte(SetSensorSignalSettings), 10, 7); resp[2] != byte(Successful) {
		t.Fatalf("SetSensorSignalSettings = %v", resp)
	}
	if resp := f.write(byte(SetDragFactorSettings), 247, 10, 75, 0, 250, 0, 6); resp[2] != byte(Successful) {
		t.Errorf("SetDragFactorSettings(10 s) = %v", resp)
	}
	if resp := f.write(byte(SetDragFactorSettings), 247, 11, 75, 0, 250, 0, 6); resp[2] != byte(OperationFailed) {
		t.Errorf("SetDragFactorSettings(11 s) = %v", resp)
	}
}

func TestRestartOpCodes(t *testing.T) {
	f := newFixture(t, settings.ProfileCPS, settings.Features{})

	if resp := f.write(byte(ChangeBleService), byte(settings.ProfileFTMS)); resp[2] != byte(Successful) {
		t.Fatalf("ChangeBleService = %v", resp)
	}
	if f.store.Snapshot().Profile != settings.ProfileFTMS {
		t.Errorf("Profile = %v", f.store.Snapshot().Profile)
	}
	if resp := f.write(byte(RestartDevice)); !bytes.Equal(resp, []byte{ResponseCode, byte(RestartDevice), byte(Successful)}) {
		t.Errorf("RestartDevice = %v", resp)
	}
	if len(f.restarter.delays) != 2 || f.restarter.delays[0] != time.Second {
		t.Errorf("restarts = %v", f.restarter.delays)
	}
	if f.broadcaster.settings != 0 {
		t.Errorf("settings broadcasts = %d, want 0", f.broadcaster.settings)
	}
}

func TestStrokeDetectionBroadcastsBoth(t *testing.T) {
	f := newFixture(t, settings.ProfileCPS, settings.Features{})

	payload := settings.EncodeStrokeDetection(settings.Defaults().StrokeDetection, false)
	resp := f.write(append([]byte{byte(SetStrokeDetectionSettings)}, payload...)...)
	if resp[2] != byte(Successful) {
		t.Fatalf("response = %v", resp)
	}
	if f.broadcaster.settings != 1 || f.broadcaster.stroke != 1 {
		t.Errorf("broadcasts settings=%d stroke=%d, want 1 and 1", f.broadcaster.settings, f.broadcaster.stroke)
	}
}

func TestDoublePrecisionLimitsImpulseArray(t *testing.T) {
	f := newFixture(t, settings.ProfileCPS, settings.Features{DoublePrecision: true})

	sd := settings.Defaults().StrokeDetection
	sd.ImpulseDataArrayLength = 16
	payload := settings.EncodeStrokeDetection(sd, true)
	if resp := f.write(append([]byte{byte(SetStrokeDetectionSettings)}, payload...)...); resp[2] != byte(OperationFailed) {
		t.Errorf("16 impulses in double precision = %v", resp)
	}
}

func TestSettingsRoundTripWithinScale(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	f := newFixture(t, settings.ProfileCPS, settings.Features{})

	for i := 0; i < 200; i++ {
		machine := make([]byte, settings.MachinePayloadSize)
		binary.LittleEndian.PutUint32(machine[0:4], math.Float32bits(0.01+rng.Float32()))
		machine[4] = byte(1 + rng.Intn(255))
		binary.LittleEndian.PutUint16(machine[5:7], uint16(1+rng.Intn(65535)))
		machine[7] = byte(1 + rng.Intn(12))

		if resp := f.write(append([]byte{byte(SetMachineSettings)}, machine...)...); resp[2] != byte(Successful) {
			t.Fatalf("SetMachineSettings(% X) = %v", machine, resp)
		}
		if got := settings.EncodeMachine(f.store.Snapshot().Machine); !bytes.Equal(got, machine) {
			t.Fatalf("machine round trip % X -> % X", machine, got)
		}

		drag := make([]byte, settings.DragFactorPayloadSize)
		lower := uint16(rng.Intn(1000))
		drag[0] = byte(rng.Intn(256))
		drag[1] = byte(1 + rng.Intn(7))
		binary.LittleEndian.PutUint16(drag[2:4], lower)
		binary.LittleEndian.PutUint16(drag[4:6], lower+1+uint16(rng.Intn(1000)))
		drag[6] = byte(1 + rng.Intn(32))

		if resp := f.write(append([]byte{byte(SetDragFactorSettings)}, drag...)...); resp[2] != byte(Successful) {
			t.Fatalf("SetDragFactorSettings(% X) = %v", drag, resp)
		}
		if got := settings.EncodeDragFactor(f.store.Snapshot().DragFactor); !bytes.Equal(got, drag) {
			t.Fatalf("drag round trip % X -> % X", drag, got)
		}

		stroke := make([]byte, settings.StrokeDetectionPayloadSize)
		stroke[0] = byte(rng.Intn(3)) | byte(3+rng.Intn(16))<<2
		binary.LittleEndian.PutUint16(stroke[1:3], uint16(rng.Intn(65536)))
		binary.LittleEndian.PutUint16(stroke[3:5], uint16(rng.Intn(65536)))
		binary.LittleEndian.PutUint32(stroke[5:9], math.Float32bits(rng.Float32()))
		binary.LittleEndian.PutUint16(stroke[9:11], uint16(rng.Intn(65536)))
		binary.LittleEndian.PutUint16(stroke[11:13], uint16(rng.Intn(65536)))
		binary.LittleEndian.PutUint16(stroke[13:15], uint16(rng.Intn(65536)))
		stroke[15] = byte(1 + rng.Intn(255))

		if resp := f.write(append([]byte{byte(SetStrokeDetectionSettings)}, stroke...)...); resp[2] != byte(Successful) {
			t.Fatalf("SetStrokeDetectionSettings(% X) = %v", stroke, resp)
		}
		if got := settings.EncodeStrokeDetection(f.store.Snapshot().StrokeDetection, false); !bytes.Equal(got, stroke) {
			t.Fatalf("stroke round trip % X -> % X", stroke, got)
		}
	}
}

func TestCustomHandlerRegistration(t *testing.T) {
	f := newFixture(t, settings.ProfileCPS, settings.Features{})

	var got []byte
	f.dispatcher.Register(0x40, 3, func(_ *Dispatcher, p []byte) error {
		got = append([]byte(nil), p...)
		return nil
	}, nil)

	if resp := f.write(0x40, 9, 8); resp[2] != byte(Successful) {
		t.Errorf("response = %v", resp)
	}
	if !bytes.Equal(got, []byte{9, 8}) {
		t.Errorf("payload = %v", got)
	}
}
