package bridge

import (
	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/wire"
)

// Loopback attaches a central to p without a socket. PDUs are exchanged by
// direct calls, so responses arrive before send returns.
func Loopback(p *wire.Peripheral) (*Central, ble.ConnHandle, error) {
	var handle ble.ConnHandle
	c := NewCentral(func(pdu []byte) error {
		return p.HandlePDU(handle, pdu)
	})

	h, err := p.Connect(c.Deliver)
	if err != nil {
		return nil, 0, err
	}
	handle = h
	return c, h, nil
}
