package chunk

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/wire/gatt"
)

func TestChunkSizeForHandleForces(t *testing.T) {
	// (100 - 3 - 2) / 4
	if got := ChunkSize(100, Float32Size); got != 23 {
		t.Errorf("ChunkSize(100, 4) = %d, want 23", got)
	}
	if got := ChunkSize(5, Float32Size); got != 0 {
		t.Errorf("ChunkSize(5, 4) = %d, want 0", got)
	}
}

func TestEffectiveMTU(t *testing.T) {
	tests := []struct {
		name string
		mtus []uint16
		want uint16
	}{
		{"minimum wins", []uint16{247, 100, 185}, 100},
		{"zero ignored", []uint16{0, 185, 0}, 185},
		{"all unknown", []uint16{0, 0}, 0},
		{"clamped to transport max", []uint16{600}, ble.MaxMTU},
		{"no subscribers", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveMTU(tt.mtus, ble.MaxMTU); got != tt.want {
				t.Errorf("EffectiveMTU(%v) = %d, want %d", tt.mtus, got, tt.want)
			}
		})
	}
}

func TestSplitFourFloatsSingleFrame(t *testing.T) {
	payload := EncodeFloat32s([]float64{1.5, 2.5, 3.5, 4.5})

	frames, err := Split(payload, Float32Size, 100)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}

	got := frames[0].Bytes()
	if got[0] != 1 || got[1] != 1 || len(got) != 2+16 {
		t.Errorf("frame = % X", got)
	}
	if !bytes.Equal(got[2:], payload) {
		t.Error("frame payload differs from input")
	}
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, mtu := range []uint16{23, 24, 27, 100, 185, 247, 512} {
		for _, elements := range []int{1, 2, 3, 4, 5, 17, 64, 200} {
			payload := make([]byte, elements*Uint32Size)
			rng.Read(payload)

			frames, err := Split(payload, Uint32Size, mtu)
			if err != nil {
				t.Fatalf("Split(mtu=%d, n=%d): %v", mtu, elements, err)
			}

			chunkSize := ChunkSize(mtu, Uint32Size)
			wantCount := (elements + chunkSize - 1) / chunkSize
			values := make([][]byte, len(frames))
			for i, f := range frames {
				if int(f.Total) != wantCount {
					t.Fatalf("mtu=%d n=%d: frame total %d, want %d", mtu, elements, f.Total, wantCount)
				}
				if len(f.Bytes()) > int(mtu)-ble.ATTHeaderSize {
					t.Fatalf("mtu=%d: frame of %d bytes exceeds MTU", mtu, len(f.Bytes()))
				}
				values[i] = f.Bytes()
			}

			// delivery order must not matter for reassembly
			rng.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })

			got, err := Reassemble(values)
			if err != nil {
				t.Fatalf("Reassemble: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("mtu=%d n=%d: reassembled payload differs", mtu, elements)
			}
		}
	}
}

func TestSplitErrors(t *testing.T) {
	if _, err := Split([]byte{1, 2, 3}, Float32Size, 100); !errors.Is(err, ErrElementSize) {
		t.Errorf("partial element err = %v", err)
	}
	if _, err := Split(make([]byte, 8), Float32Size, 0); !errors.Is(err, ErrNoMTU) {
		t.Errorf("zero MTU err = %v", err)
	}
	if _, err := Split(make([]byte, 8), Float32Size, 8); !errors.Is(err, ErrMTUTooSmall) {
		t.Errorf("tiny MTU err = %v", err)
	}
	// MTU 23 fits 4 elements per chunk: 1021 elements need 256 chunks
	if _, err := Split(make([]byte, 1021*Uint32Size), Uint32Size, 23); !errors.Is(err, ErrTooManyChunks) {
		t.Errorf("oversized payload err = %v", err)
	}
	frames, err := Split(nil, Float32Size, 100)
	if err != nil || frames != nil {
		t.Errorf("empty payload = %v, %v", frames, err)
	}
}

func TestReassembleRejectsMissingChunk(t *testing.T) {
	frames, _ := Split(make([]byte, 40), Uint32Size, 23)
	values := [][]byte{frames[0].Bytes(), frames[2].Bytes()}

	if _, err := Reassemble(values); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

type recordingChar struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingChar) Notify(value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte{}, value...))
	return nil
}

type mtuTable map[ble.ConnHandle]uint16

func (m mtuTable) MTU(conn ble.ConnHandle) uint16 { return m[conn] }

func TestNotifierHandleForcesMTU100(t *testing.T) {
	char := &recordingChar{}
	subs := &gatt.SubscriberSet{}
	subs.Add(1)

	n := NewNotifier("handle-forces", char, subs, mtuTable{1: 100}, Float32Size)
	if !n.Broadcast(EncodeFloat32s([]float64{10, 20, 30, 40})) {
		t.Fatal("Broadcast returned false")
	}
	n.Wait()

	if len(char.frames) != 1 {
		t.Fatalf("notify calls = %d, want 1", len(char.frames))
	}
	f := char.frames[0]
	if f[0] != 1 || f[1] != 1 || len(f) != 18 {
		t.Errorf("frame = % X", f)
	}
}

func TestNotifierUsesSmallestSubscriberMTU(t *testing.T) {
	char := &recordingChar{}
	subs := &gatt.SubscriberSet{}
	subs.Add(1)
	subs.Add(2)
	subs.Add(3)

	// connection 3 has not negotiated yet and is ignored
	n := NewNotifier("delta-times", char, subs, mtuTable{1: 247, 2: 27, 3: 0}, Uint32Size)
	values := make([]uint32, 10)
	for i := range values {
		values[i] = uint32(10000 + i)
	}
	n.Broadcast(EncodeUint32s(values))
	n.Wait()

	// (27 - 5) / 4 = 5 elements per chunk
	if len(char.frames) != 2 {
		t.Fatalf("notify calls = %d, want 2", len(char.frames))
	}
	for i, f := range char.frames {
		if f[0] != 2 || int(f[1]) != i+1 {
			t.Errorf("frame %d header = [%d %d]", i, f[0], f[1])
		}
	}

	got, err := Reassemble(char.frames)
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if !bytes.Equal(got, EncodeUint32s(values)) {
		t.Error("reassembled delta times differ")
	}
}

func TestNotifierSkipsWithoutSubscribersOrPayload(t *testing.T) {
	char := &recordingChar{}
	subs := &gatt.SubscriberSet{}
	n := NewNotifier("handle-forces", char, subs, mtuTable{}, Float32Size)

	if n.Broadcast(EncodeFloat32s([]float64{1})) {
		t.Error("Broadcast with zero subscribers returned true")
	}

	subs.Add(1)
	if n.Broadcast(nil) {
		t.Error("Broadcast of empty payload returned true")
	}
	// subscriber without a known MTU
	if n.Broadcast(EncodeFloat32s([]float64{1})) {
		t.Error("Broadcast without MTU returned true")
	}
	n.Wait()

	if len(char.frames) != 0 {
		t.Errorf("notify calls = %d, want 0", len(char.frames))
	}
}
