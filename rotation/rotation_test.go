package rotation

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/ergo-blue/settings"
)

func TestFilterDebounceAndOutliers(t *testing.T) {
	f := NewFilter(7000)

	if _, ok := f.Observe(1000); ok {
		t.Fatal("first impulse produced a delta")
	}

	steps := []struct {
		ts    uint64
		delta uint64
		ok    bool
	}{
		{ts: 21000, delta: 20000, ok: true},   // first delta, debounce only
		{ts: 23000, ok: false},                // bounce
		{ts: 41000, delta: 20000, ok: true},   // measured from 21000
		{ts: 161000, delta: 120000, ok: true}, // |120000-20000| == 100000 == 5x
		{ts: 900000, ok: false},               // outlier
		{ts: 1020000, delta: 120000, ok: true},
	}
	for i, s := range steps {
		delta, ok := f.Observe(s.ts)
		if ok != s.ok || delta != s.delta {
			t.Errorf("step %d: Observe(%d) = (%d, %v), want (%d, %v)", i, s.ts, delta, ok, s.delta, s.ok)
		}
	}
}

func TestFilterResetAcceptsNextImpulse(t *testing.T) {
	f := NewFilter(1000)
	f.Observe(0)
	f.Observe(10000)

	f.Reset()
	if _, ok := f.Observe(5000000); ok {
		t.Fatal("impulse after reset produced a delta")
	}
	if delta, ok := f.Observe(5500000); !ok || delta != 500000 {
		t.Errorf("Observe after reset = (%d, %v), want (500000, true)", delta, ok)
	}
}

func TestCaptureRingKeepsNewest(t *testing.T) {
	c := NewCapture(settings.SensorSignalSettings{RotationDebounceTimeMin: 1, RowingStoppedThresholdPeriod: 7}, 3)

	ts := uint64(1000)
	c.Impulse(ts)
	for i := 0; i < 5; i++ {
		ts += uint64(10000 + i)
		c.Impulse(ts)
	}

	got := c.Drain()
	want := []uint32{10002, 10003, 10004}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if c.Accepted() != 5 {
		t.Errorf("Accepted() = %d, want 5", c.Accepted())
	}
	if len(c.Drain()) != 0 {
		t.Error("second Drain returned data")
	}
}

func TestCaptureStoppedResetsFilter(t *testing.T) {
	c := NewCapture(settings.SensorSignalSettings{RotationDebounceTimeMin: 7, RowingStoppedThresholdPeriod: 1}, 0)

	c.Impulse(1000000)
	c.Impulse(1020000)
	if c.Stopped(1500000) {
		t.Error("Stopped after 480ms with 1s threshold")
	}
	if !c.Stopped(2100000) {
		t.Error("not Stopped after 1.08s with 1s threshold")
	}

	// After the pause the next impulse is a new reference, not an outlier.
	c.Impulse(9000000)
	c.Impulse(9030000)
	got := c.Drain()
	if len(got) != 2 || got[1] != 30000 {
		t.Errorf("Drain() = %v, want [20000 30000]", got)
	}
}

func TestGuardReleasesOnce(t *testing.T) {
	var n atomic.Int32
	intr := NewSoftInterrupt(func(uint64) { n.Add(1) })

	g := Acquire(intr)
	if intr.Fire(1) {
		t.Error("impulse delivered while guarded")
	}
	g.Release()
	intr.Disable()
	g.Release()
	if intr.Enabled() {
		t.Error("second Release re-enabled the interrupt")
	}

	var nilGuard *Guard
	nilGuard.Release()

	intr.Enable()
	if !intr.Fire(2) || n.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", n.Load())
	}
}

func TestReadTimestamps(t *testing.T) {
	var got []uint64
	err := ReadTimestamps(strings.NewReader("100\n\n  250 \nnoise\n400\n"), func(ts uint64) {
		got = append(got, ts)
	})
	if err != nil {
		t.Fatalf("ReadTimestamps: %v", err)
	}
	if len(got) != 3 || got[0] != 100 || got[1] != 250 || got[2] != 400 {
		t.Errorf("timestamps = %v, want [100 250 400]", got)
	}
}

func TestRunSyntheticStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var n atomic.Int32
	err := RunSynthetic(ctx, 5*time.Millisecond, func(uint64) { n.Add(1) })
	if err != context.DeadlineExceeded {
		t.Errorf("RunSynthetic = %v, want DeadlineExceeded", err)
	}
	if n.Load() == 0 {
		t.Error("no synthetic impulses")
	}
}
