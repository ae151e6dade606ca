//go:build tinygo

package rotation

import (
	"machine"
	"time"
)

// PinInterrupt delivers falling edges of a reed or hall sensor pin.
type PinInterrupt struct {
	pin     machine.Pin
	change  machine.PinChange
	handler func(timestamp uint64)
	enabled bool
	start   time.Time
}

// NewPinInterrupt configures pin as a pulled-up input. The interrupt starts
// disabled.
func NewPinInterrupt(pin machine.Pin, handler func(timestamp uint64)) *PinInterrupt {
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return &PinInterrupt{
		pin:     pin,
		change:  machine.PinFalling,
		handler: handler,
		start:   time.Now(),
	}
}

func (p *PinInterrupt) Enable() {
	p.pin.SetInterrupt(p.change, func(machine.Pin) {
		p.handler(uint64(time.Since(p.start).Microseconds()))
	})
	p.enabled = true
}

func (p *PinInterrupt) Disable() {
	p.pin.SetInterrupt(0, nil)
	p.enabled = false
}

func (p *PinInterrupt) Enabled() bool {
	return p.enabled
}
