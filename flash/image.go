package flash

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ImageInfo describes a firmware image file
type ImageInfo struct {
	Path  string
	Size  int64
	Magic byte
	MD5   string
}

// Valid reports whether the image starts with ImageMagic
func (i ImageInfo) Valid() bool {
	return i.Size > 0 && i.Magic == ImageMagic
}

// Fits reports whether the image fits a slot of slotSize bytes
func (i ImageInfo) Fits(slotSize uint32) bool {
	return i.Size > 0 && i.Size <= int64(slotSize)
}

// Inspect reads an image file and computes what a client sends with an
// update: its size and MD5 digest.
func Inspect(path string) (ImageInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer f.Close()

	info := ImageInfo{Path: path}
	digest := md5.New()
	first := make([]byte, 1)

	n, err := io.ReadFull(f, first)
	if n == 1 {
		info.Magic = first[0]
		digest.Write(first)
	}
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ImageInfo{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	rest, err := io.Copy(digest, f)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	info.Size = int64(n) + rest
	info.MD5 = hex.EncodeToString(digest.Sum(nil))
	return info, nil
}
