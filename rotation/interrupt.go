// Package rotation turns raw flywheel sensor impulses into filtered delta times.
package rotation

import (
	"sync"
	"sync/atomic"
)

// Interrupt gates delivery of rotation impulses.
type Interrupt interface {
	Enable()
	Disable()
	Enabled() bool
}

// SoftInterrupt is an Interrupt for impulse sources that are not a GPIO pin:
// serial bridges, simulations and tests. Fire drops impulses while disabled.
type SoftInterrupt struct {
	enabled atomic.Bool
	handler func(timestamp uint64)
}

// NewSoftInterrupt returns an enabled interrupt delivering to handler.
func NewSoftInterrupt(handler func(timestamp uint64)) *SoftInterrupt {
	s := &SoftInterrupt{handler: handler}
	s.enabled.Store(true)
	return s
}

func (s *SoftInterrupt) Enable()       { s.enabled.Store(true) }
func (s *SoftInterrupt) Disable()      { s.enabled.Store(false) }
func (s *SoftInterrupt) Enabled() bool { return s.enabled.Load() }

// Fire delivers one impulse (µs timestamp) if the interrupt is enabled.
func (s *SoftInterrupt) Fire(timestamp uint64) bool {
	if !s.enabled.Load() || s.handler == nil {
		return false
	}
	s.handler(timestamp)
	return true
}

// Guard keeps the rotation interrupt disabled while it is held. Flash writes
// stall the CPU long enough to corrupt impulse timing, so the update session
// holds a guard from Begin until the session ends.
type Guard struct {
	intr Interrupt
	once sync.Once
}

// Acquire disables intr and returns the guard that re-enables it.
func Acquire(intr Interrupt) *Guard {
	intr.Disable()
	return &Guard{intr: intr}
}

// Release re-enables the interrupt. Only the first call has an effect.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(g.intr.Enable)
}
