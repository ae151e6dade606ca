package rotation

import (
	"math"
	"sync"

	"github.com/user/ergo-blue/settings"
)

// DefaultCaptureSize holds roughly two strokes of impulses.
const DefaultCaptureSize = 256

// Capture filters impulses and keeps the accepted delta times in a ring buffer
// until the delta time characteristic drains them.
type Capture struct {
	mu sync.Mutex

	filter           *Filter
	stoppedThreshold uint64 // µs

	ring     []uint32
	head     int
	count    int
	accepted uint64
	lastSeen uint64
}

// NewCapture builds a capture from the sensor signal settings.
func NewCapture(sensor settings.SensorSignalSettings, size int) *Capture {
	if size <= 0 {
		size = DefaultCaptureSize
	}
	return &Capture{
		filter:           NewFilter(uint64(sensor.RotationDebounceTimeMin) * 1000),
		stoppedThreshold: uint64(sensor.RowingStoppedThresholdPeriod) * 1000000,
		ring:             make([]uint32, size),
	}
}

// Impulse records one raw impulse. It is the interrupt handler.
func (c *Capture) Impulse(timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastSeen != 0 && timestamp > c.lastSeen && timestamp-c.lastSeen > c.stoppedThreshold {
		c.filter.Reset()
	}
	c.lastSeen = timestamp

	delta, ok := c.filter.Observe(timestamp)
	if !ok {
		return
	}
	if delta > math.MaxUint32 {
		delta = math.MaxUint32
	}

	c.ring[(c.head+c.count)%len(c.ring)] = uint32(delta)
	if c.count < len(c.ring) {
		c.count++
	} else {
		c.head = (c.head + 1) % len(c.ring)
	}
	c.accepted++
}

// Drain returns the buffered delta times oldest first and empties the buffer.
func (c *Capture) Drain() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]uint32, c.count)
	for i := range out {
		out[i] = c.ring[(c.head+i)%len(c.ring)]
	}
	c.head = 0
	c.count = 0
	return out
}

// Accepted returns the number of impulses accepted since creation
func (c *Capture) Accepted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Stopped reports whether no impulse arrived within the stopped threshold.
func (c *Capture) Stopped(now uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen == 0 || now < c.lastSeen || now-c.lastSeen > c.stoppedThreshold
}
