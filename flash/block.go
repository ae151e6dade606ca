package flash

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"sync"

	"github.com/user/ergo-blue/logger"
)

// BlockDevice is an erasable flash region such as machine.Flash on TinyGo
type BlockDevice interface {
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// BlockTarget writes the image to the start of a block device. Commit, when
// set, runs after a verified End and marks the image bootable.
type BlockTarget struct {
	dev    BlockDevice
	Commit func(size uint32) error

	mu       sync.Mutex
	started  bool
	size     uint32
	written  uint32
	digest   hash.Hash
	expected string
}

// NewBlockTarget creates a target on dev
func NewBlockTarget(dev BlockDevice) *BlockTarget {
	return &BlockTarget{dev: dev}
}

func parseDigest(hexDigest string) (string, error) {
	if len(hexDigest) != 2*md5.Size {
		return "", fmt.Errorf("flash: md5 must be %d hex characters, got %d", 2*md5.Size, len(hexDigest))
	}
	if _, err := hex.DecodeString(hexDigest); err != nil {
		return "", fmt.Errorf("flash: md5: %w", err)
	}
	return strings.ToLower(hexDigest), nil
}

func (t *BlockTarget) Begin(size uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = false
	if size == 0 || int64(size) > t.dev.Size() {
		return fmt.Errorf("%w: %d bytes (slot %d)", ErrFirmwareSize, size, t.dev.Size())
	}

	block := t.dev.EraseBlockSize()
	blocks := (int64(size) + block - 1) / block
	if err := t.dev.EraseBlocks(0, blocks); err != nil {
		return fmt.Errorf("%w: erase %d blocks: %v", ErrStorage, blocks, err)
	}

	t.started = true
	t.size = size
	t.written = 0
	t.digest = md5.New()
	t.expected = ""
	logger.Info("FLASH", "update started: %d bytes, %d blocks erased", size, blocks)
	return nil
}

func (t *BlockTarget) Write(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
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

	n, err := t.dev.WriteAt(data, int64(t.written))
	t.written += uint32(n)
	t.digest.Write(data[:n])
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

func (t *BlockTarget) SetMD5(hexDigest string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return ErrNotStarted
	}
	digest, err := parseDigest(hexDigest)
	if err != nil {
		return err
	}
	t.expected = digest
	return nil
}

func (t *BlockTarget) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return ErrNotStarted
	}
	t.started = false
	if t.written != t.size {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrFirmwareSize, t.written, t.size)
	}
	got := hex.EncodeToString(t.digest.Sum(nil))
	if t.expected != "" && got != t.expected {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, t.expected)
	}
	if t.Commit != nil {
		if err := t.Commit(t.size); err != nil {
			return fmt.Errorf("%w: commit: %v", ErrStorage, err)
		}
	}
	logger.Info("FLASH", "update complete: %d bytes, md5 %s", t.written, got)
	return nil
}

// Abort leaves the written blocks in place; Begin erases them again.
func (t *BlockTarget) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		logger.Info("FLASH", "update aborted after %d bytes", t.written)
	}
	t.started = false
	t.written = 0
}
