package flash

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/ergo-blue/logger"
)

// ImageMagic is the first byte of every ESP application image.
const ImageMagic = 0xE9

// DefaultSlotSize is the size of a 1.9 MiB OTA partition.
const DefaultSlotSize = 0x1E0000

// FileTarget stores the image in a file next to the running configuration.
// The image is written to "<path>.part" and renamed to path by End.
type FileTarget struct {
	path     string
	slotSize uint32

	mu       sync.Mutex
	file     *os.File
	size     uint32
	written  uint32
	digest   hash.Hash
	expected string
}

// NewFileTarget creates a target with the given slot size. A zero slotSize
// uses DefaultSlotSize.
func NewFileTarget(path string, slotSize uint32) *FileTarget {
	if slotSize == 0 {
		slotSize = DefaultSlotSize
	}
	return &FileTarget{path: path, slotSize: slotSize}
}

// Path returns where a completed image is stored
func (t *FileTarget) Path() string {
	return t.path
}

func (t *FileTarget) partPath() string {
	return t.path + ".part"
}

func (t *FileTarget) Begin(size uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.abortLocked()

	if size == 0 || size > t.slotSize {
		return fmt.Errorf("%w: %d bytes (slot %d)", ErrFirmwareSize, size, t.slotSize)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	f, err := os.Create(t.partPath())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	t.file = f
	t.size = size
	t.written = 0
	t.digest = md5.New()
	t.expected = ""
	logger.Info("FLASH", "update started: %d bytes -> %s", size, t.path)
	return nil
}

func (t *FileTarget) Write(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return 0, ErrNotStarted
	}
	if len(data) == 0 {
		return 0, nil
	}
	if t.written == 0 && data[0] != ImageMagic {
		return 0, fmt.Errorf("%w: 0x%02X", ErrMagicByte, data[0])
	}
	if uint64(t.written)+uint64(len(data)) > uint64(t.size) {
		return 0, fmt.Errorf("%w: image exceeds announced size %d", ErrFirmwareSize, t.size)
	}

	n, err := t.file.Write(data)
	t.written += uint32(n)
	t.digest.Write(data[:n])
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

func (t *FileTarget) SetMD5(hexDigest string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return ErrNotStarted
	}
	digest, err := parseDigest(hexDigest)
	if err != nil {
		return err
	}
	t.expected = digest
	return nil
}

func (t *FileTarget) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return ErrNotStarted
	}
	if t.written != t.size {
		t.abortLocked()
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrFirmwareSize, t.written, t.size)
	}

	got := hex.EncodeToString(t.digest.Sum(nil))
	if t.expected != "" && got != t.expected {
		t.abortLocked()
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, t.expected)
	}

	if err := t.file.Close(); err != nil {
		t.file = nil
		os.Remove(t.partPath())
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	t.file = nil
	if err := os.Rename(t.partPath(), t.path); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	logger.Info("FLASH", "update complete: %d bytes, md5 %s", t.written, got)
	return nil
}

func (t *FileTarget) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.abortLocked()
}

func (t *FileTarget) abortLocked() {
	if t.file == nil {
		return
	}
	t.file.Close()
	os.Remove(t.partPath())
	t.file = nil
	t.written = 0
	logger.Info("FLASH", "update aborted")
}
