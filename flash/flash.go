// Package flash writes firmware images received over the air to an update slot.
package flash

import "errors"

var (
	// ErrFirmwareSize is returned by Begin when the image does not fit the slot.
	ErrFirmwareSize = errors.New("flash: firmware size out of range")
	// ErrStorage is an erase or write failure of the underlying storage.
	ErrStorage = errors.New("flash: storage error")
	// ErrMagicByte is returned by Write when the image does not start with the
	// expected magic byte.
	ErrMagicByte = errors.New("flash: invalid image magic byte")
	// ErrChecksumMismatch is returned by End when the written image does not
	// match the digest passed to SetMD5.
	ErrChecksumMismatch = errors.New("flash: md5 mismatch")
	// ErrNotStarted is returned when Write or End is called outside Begin/End.
	ErrNotStarted = errors.New("flash: update not started")
)

// Target is the destination of a firmware update.
type Target interface {
	// Begin prepares the slot for an image of size bytes.
	Begin(size uint32) error
	Write(data []byte) (int, error)
	// SetMD5 sets the expected digest as 32 lowercase hex characters.
	SetMD5(hexDigest string) error
	// End verifies the image and marks it bootable.
	End() error
	// Abort discards the partially written image. It is safe to call at any time.
	Abort()
}
