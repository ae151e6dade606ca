package settings

import (
	"sync"

	"github.com/user/ergo-blue/logger"
)

// persistFunc writes a full snapshot to backing storage.
type persistFunc func(s Snapshot) error

// Store is the Register implementation shared by the memory and file backends.
type Store struct {
	mu       sync.RWMutex
	current  Snapshot
	features Features
	persist  persistFunc
}

// NewMemoryStore returns a Register that keeps settings in memory only.
func NewMemoryStore(initial Snapshot, features Features) *Store {
	return &Store{
		current:  initial,
		features: features,
		persist:  func(Snapshot) error { return nil },
	}
}

// Features returns the build capabilities the store validates against.
func (s *Store) Features() Features {
	return s.features
}

// Snapshot returns a copy of the persisted settings
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// update applies mutate to a copy, persists it, then publishes it.
func (s *Store) update(mutate func(next *Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if err := mutate(&next); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		logger.Error("SETTINGS", "persist failed: %v", err)
		return err
	}
	s.current = next
	return nil
}

func (s *Store) SetLogLevel(level uint8) error {
	return s.update(func(next *Snapshot) error {
		if err := ValidateLogLevel(level); err != nil {
			return err
		}
		next.LogLevel = level
		return nil
	})
}

func (s *Store) SetProfile(p Profile) error {
	return s.update(func(next *Snapshot) error {
		if !p.Valid() {
			return invalid("profile %d", p)
		}
		next.Profile = p
		return nil
	})
}

func (s *Store) SetDeltaTimeLogging(enabled bool) error {
	return s.update(func(next *Snapshot) error {
		if !s.features.DeltaTimeLogging {
			return invalid("delta time logging not supported by this build")
		}
		next.DeltaTimeLogging = enabled
		return nil
	})
}

func (s *Store) SetLogToSdCard(enabled bool) error {
	return s.update(func(next *Snapshot) error {
		if !s.features.SdCardLogging {
			return invalid("sd card logging not supported by this build")
		}
		next.LogToSdCard = enabled
		return nil
	})
}

func (s *Store) SetMachineSettings(m MachineSettings) error {
	return s.update(func(next *Snapshot) error {
		if err := ValidateMachine(m); err != nil {
			return err
		}
		next.Machine = m
		return nil
	})
}

func (s *Store) SetSensorSignalSettings(sensor SensorSignalSettings) error {
	return s.update(func(next *Snapshot) error {
		if err := ValidateSensorSignal(sensor, next.DragFactor); err != nil {
			return err
		}
		next.Sensor = sensor
		return nil
	})
}

func (s *Store) SetDragFactorSettings(d DragFactorSettings) error {
	return s.update(func(next *Snapshot) error {
		if err := ValidateDragFactor(d, next.Sensor); err != nil {
			return err
		}
		next.DragFactor = d
		return nil
	})
}

func (s *Store) SetStrokeDetectionSettings(sd StrokeDetectionSettings) error {
	return s.update(func(next *Snapshot) error {
		if err := ValidateStrokeDetection(sd, s.features.DoublePrecision); err != nil {
			return err
		}
		next.StrokeDetection = sd
		return nil
	})
}
