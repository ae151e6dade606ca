package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var allFeatures = Features{DeltaTimeLogging: true, SdCardLogging: true, RuntimeSettings: true}

func TestSetLogLevelRejectsOutOfRange(t *testing.T) {
	s := NewMemoryStore(Defaults(), allFeatures)

	if err := s.SetLogLevel(7); !errors.Is(err, ErrInvalid) {
		t.Fatalf("SetLogLevel(7) err = %v, want ErrInvalid", err)
	}
	if s.Snapshot().LogLevel != Defaults().LogLevel {
		t.Error("log level changed after rejected write")
	}

	if err := s.SetLogLevel(6); err != nil {
		t.Fatalf("SetLogLevel(6): %v", err)
	}
	if s.Snapshot().LogLevel != 6 {
		t.Errorf("LogLevel = %d, want 6", s.Snapshot().LogLevel)
	}
}

func TestFeatureGatedLogging(t *testing.T) {
	s := NewMemoryStore(Defaults(), Features{})

	if err := s.SetDeltaTimeLogging(true); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetDeltaTimeLogging without feature err = %v", err)
	}
	if err := s.SetLogToSdCard(true); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetLogToSdCard without feature err = %v", err)
	}
}

func TestDragFactorUsesPendingDebounce(t *testing.T) {
	s := NewMemoryStore(Defaults(), allFeatures)

	// 6 s recovery window needs a debounce of at least 6 ms to stay under 1000 samples
	if err := s.SetSensorSignalSettings(SensorSignalSettings{RotationDebounceTimeMin: 6, RowingStoppedThresholdPeriod: 7}); err != nil {
		t.Fatalf("SetSensorSignalSettings: %v", err)
	}

	drag := Defaults().DragFactor
	drag.MaxDragFactorRecoveryPeriod = 7 // 7000/6 = 1166 samples
	if err := s.SetDragFactorSettings(drag); !errors.Is(err, ErrInvalid) {
		t.Fatalf("SetDragFactorSettings err = %v, want ErrInvalid", err)
	}

	drag.MaxDragFactorRecoveryPeriod = 6 // 6000/6 = 1000 samples
	if err := s.SetDragFactorSettings(drag); err != nil {
		t.Fatalf("SetDragFactorSettings at ceiling: %v", err)
	}
}

func TestSensorSignalRejectsDebounceThatOverflowsRecovery(t *testing.T) {
	s := NewMemoryStore(Defaults(), allFeatures)

	// default recovery window is 6 s: 6000/5 = 1200 samples
	err := s.SetSensorSignalSettings(SensorSignalSettings{RotationDebounceTimeMin: 5, RowingStoppedThresholdPeriod: 7})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if s.Snapshot().Sensor != Defaults().Sensor {
		t.Error("sensor settings changed after rejected write")
	}
}

func TestValidateMachine(t *testing.T) {
	good := Defaults().Machine
	if err := ValidateMachine(good); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(m *MachineSettings)
	}{
		{"zero inertia", func(m *MachineSettings) { m.FlywheelInertia = 0 }},
		{"zero magic", func(m *MachineSettings) { m.MagicNumber = 0 }},
		{"zero sprocket", func(m *MachineSettings) { m.SprocketRadius = 0 }},
		{"zero impulses", func(m *MachineSettings) { m.ImpulsesPerRevolution = 0 }},
		{"too many impulses", func(m *MachineSettings) { m.ImpulsesPerRevolution = 13 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := good
			tt.mutate(&m)
			if err := ValidateMachine(m); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestValidateStrokeDetectionPrecision(t *testing.T) {
	sd := Defaults().StrokeDetection
	sd.ImpulseDataArrayLength = 16

	if err := ValidateStrokeDetection(sd, false); err != nil {
		t.Errorf("float build rejected length 16: %v", err)
	}
	if err := ValidateStrokeDetection(sd, true); !errors.Is(err, ErrInvalid) {
		t.Errorf("double build accepted length 16: %v", err)
	}

	sd.ImpulseDataArrayLength = 7
	sd.StrokeDetectionType = 3
	if err := ValidateStrokeDetection(sd, false); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown stroke detection type accepted: %v", err)
	}
}

func TestFileStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cbor")

	s, err := OpenFileStore(path, Defaults(), allFeatures)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if err := s.SetProfile(ProfileFTMS); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	if err := s.SetLogLevel(2); err != nil {
		t.Fatalf("SetLogLevel: %v", err)
	}

	reopened, err := OpenFileStore(path, Defaults(), allFeatures)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Snapshot()
	if got.Profile != ProfileFTMS || got.LogLevel != 2 {
		t.Errorf("reopened snapshot = profile %v level %d", got.Profile, got.LogLevel)
	}
	if got.Machine != Defaults().Machine {
		t.Errorf("machine settings = %+v, want defaults", got.Machine)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cbor")
	if err := os.WriteFile(path, []byte{0xFF, 0x00, 0x13}, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenFileStore(path, Defaults(), allFeatures); err == nil {
		t.Error("expected decode error for corrupt file")
	}
}

func TestSnapshotProto(t *testing.T) {
	st := Defaults().Proto()
	if st.Fields["profile"].GetStringValue() != "CPS" {
		t.Errorf("profile = %v", st.Fields["profile"])
	}
	machine := st.Fields["machine"].GetStructValue()
	if machine == nil || machine.Fields["impulsesPerRevolution"].GetNumberValue() != 3 {
		t.Errorf("machine = %v", machine)
	}
}
