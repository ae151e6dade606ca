package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// OpenFileStore loads settings from a CBOR file, falling back to defaults when
// the file does not exist yet. Every successful setter rewrites the file.
func OpenFileStore(path string, defaults Snapshot, features Features) (*Store, error) {
	initial := defaults

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	default:
		if err := cbor.Unmarshal(data, &initial); err != nil {
			return nil, fmt.Errorf("settings: decode %s: %w", path, err)
		}
	}

	s := NewMemoryStore(initial, features)
	s.persist = func(snap Snapshot) error {
		return writeSnapshot(path, snap)
	}
	return s, nil
}

func writeSnapshot(path string, snap Snapshot) error {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("settings: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("settings: commit %s: %w", path, err)
	}
	return nil
}
