// Package chunk fragments arrays of fixed-size elements into notification frames
// that fit the smallest MTU among a characteristic's subscribers.
//
// Frame layout: [totalChunks: 1][chunkIndex (1-based): 1][elements...]
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/user/ergo-blue/ble"
)

// HeaderSize is the per-frame chunk header (total + index)
const HeaderSize = 2

var (
	ErrNoMTU          = errors.New("chunk: no negotiated MTU among subscribers")
	ErrMTUTooSmall    = errors.New("chunk: MTU too small for one element")
	ErrTooManyChunks  = errors.New("chunk: payload needs more than 255 chunks")
	ErrElementSize    = errors.New("chunk: payload is not a whole number of elements")
	ErrMalformedFrame = errors.New("chunk: malformed frame")
)

// Frame is one fragment of a chunked payload
type Frame struct {
	Total uint8
	Index uint8 // 1-based
	Data  []byte
}

// Bytes encodes the frame for a notification
func (f Frame) Bytes() []byte {
	buf := make([]byte, HeaderSize+len(f.Data))
	buf[0] = f.Total
	buf[1] = f.Index
	copy(buf[HeaderSize:], f.Data)
	return buf
}

// ParseFrame decodes a notification value into a frame
func ParseFrame(value []byte) (Frame, error) {
	if len(value) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(value))
	}
	f := Frame{Total: value[0], Index: value[1], Data: append([]byte{}, value[HeaderSize:]...)}
	if f.Total == 0 || f.Index == 0 || f.Index > f.Total {
		return Frame{}, fmt.Errorf("%w: chunk %d of %d", ErrMalformedFrame, f.Index, f.Total)
	}
	return f, nil
}

// EffectiveMTU returns the smallest non-zero MTU clamped to max, or 0 when
// no subscriber has a known MTU.
func EffectiveMTU(mtus []uint16, max uint16) uint16 {
	var min uint16
	for _, m := range mtus {
		if m == 0 {
			continue
		}
		if min == 0 || m < min {
			min = m
		}
	}
	if min > max {
		min = max
	}
	return min
}

// ChunkSize returns how many elements fit in one frame
func ChunkSize(mtu uint16, elementSize int) int {
	available := int(mtu) - ble.ATTHeaderSize - HeaderSize
	if available <= 0 || elementSize <= 0 {
		return 0
	}
	return available / elementSize
}

// Split fragments payload, a packed array of elementSize-byte elements, into
// frames for the given MTU. An empty payload yields no frames.
func Split(payload []byte, elementSize int, mtu uint16) ([]Frame, error) {
	if elementSize <= 0 || len(payload)%elementSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes, element size %d", ErrElementSize, len(payload), elementSize)
	}
	if len(payload) == 0 {
		return nil, nil
	}
	if mtu == 0 {
		return nil, ErrNoMTU
	}

	chunkSize := ChunkSize(mtu, elementSize)
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: mtu=%d element=%d", ErrMTUTooSmall, mtu, elementSize)
	}

	elements := len(payload) / elementSize
	count := (elements + chunkSize - 1) / chunkSize
	if count > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %d elements in chunks of %d", ErrTooManyChunks, elements, chunkSize)
	}

	frames := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize * elementSize
		end := start + chunkSize*elementSize
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, Frame{
			Total: uint8(count),
			Index: uint8(i + 1),
			Data:  payload[start:end],
		})
	}
	return frames, nil
}

// Reassemble rebuilds the payload from the notification values of one
// broadcast. Frames may arrive in any order but must all be present.
func Reassemble(values [][]byte) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	var total uint8
	parts := make(map[uint8][]byte)
	for _, v := range values {
		f, err := ParseFrame(v)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			total = f.Total
		} else if f.Total != total {
			return nil, fmt.Errorf("%w: total %d, expected %d", ErrMalformedFrame, f.Total, total)
		}
		if _, dup := parts[f.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate chunk %d", ErrMalformedFrame, f.Index)
		}
		parts[f.Index] = f.Data
	}

	if len(parts) != int(total) {
		return nil, fmt.Errorf("%w: got %d of %d chunks", ErrMalformedFrame, len(parts), total)
	}

	var out []byte
	for i := 1; i <= int(total); i++ {
		out = append(out, parts[uint8(i)]...)
	}
	return out, nil
}

// Float32Size and Uint32Size are the element sizes of the two chunked streams
const (
	Float32Size = 4
	Uint32Size  = 4
)

// EncodeFloat32s packs values as little-endian IEEE-754 singles
func EncodeFloat32s(values []float64) []byte {
	buf := make([]byte, len(values)*Float32Size)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*Float32Size:], math.Float32bits(float32(v)))
	}
	return buf
}

// DecodeFloat32s is the inverse of EncodeFloat32s
func DecodeFloat32s(buf []byte) []float32 {
	out := make([]float32, len(buf)/Float32Size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*Float32Size:]))
	}
	return out
}

// EncodeUint32s packs values as little-endian unsigned longs
func EncodeUint32s(values []uint32) []byte {
	buf := make([]byte, len(values)*Uint32Size)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*Uint32Size:], v)
	}
	return buf
}
