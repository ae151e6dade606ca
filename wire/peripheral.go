// Package wire is an in-process BLE peripheral stack. It keeps a GATT
// attribute database, serves raw ATT PDUs from attached centrals and delivers
// notifications and indications through each central's outbox.
package wire

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/wire/advertising"
	"github.com/user/ergo-blue/wire/att"
	"github.com/user/ergo-blue/wire/debug"
	"github.com/user/ergo-blue/wire/gatt"
)

var (
	ErrUnknownConnection  = errors.New("wire: unknown connection")
	ErrTooManyConnections = errors.New("wire: no free connection handle")
	ErrServicesLocked     = errors.New("wire: services are fixed once advertising starts")
)

// Outbox receives PDUs sent by the peripheral to one central. It may be
// called from several goroutines and must not call back into the Peripheral
// while blocking.
type Outbox func(pdu []byte)

type connection struct {
	handle ble.ConnHandle
	mtu    uint16
	cccds  *gatt.CCCDManager
	outbox Outbox

	// serializes PDUs of this connection
	reqMu sync.Mutex
	queue att.PrepareQueue
}

// Peripheral implements ble.Stack
type Peripheral struct {
	mu sync.RWMutex

	db         *gatt.AttributeDatabase
	chars      map[uint16]*characteristic // value handle
	cccdOwners map[uint16]*characteristic // CCCD handle
	conns      map[ble.ConnHandle]*connection
	maxMTU     uint16

	onConnect   func(conn ble.ConnHandle, connected bool)
	advertising *advertising.Payload
	services    []uuid.UUID

	packets *debug.PacketLog
}

// NewPeripheral creates a stack that negotiates at most maxMTU
func NewPeripheral(maxMTU uint16) *Peripheral {
	if maxMTU < ble.DefaultMTU || maxMTU > ble.MaxMTU {
		maxMTU = ble.MaxMTU
	}
	return &Peripheral{
		db:         gatt.NewAttributeDatabase(),
		chars:      make(map[uint16]*characteristic),
		cccdOwners: make(map[uint16]*characteristic),
		conns:      make(map[ble.ConnHandle]*connection),
		maxMTU:     maxMTU,
	}
}

// SetPacketLog records every PDU in and out of the stack
func (p *Peripheral) SetPacketLog(l *debug.PacketLog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packets = l
}

// AddService builds svc into the attribute database
func (p *Peripheral) AddService(svc ble.ServiceConfig) ([]ble.Characteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.advertising != nil {
		return nil, ErrServicesLocked
	}

	handles := p.db.AddService(svc)
	out := make([]ble.Characteristic, len(svc.Characteristics))
	for i, cfg := range svc.Characteristics {
		c := &characteristic{
			p:           p,
			uuid:        cfg.UUID,
			props:       cfg.Properties,
			handles:     handles.Characteristics[i],
			onWrite:     cfg.OnWrite,
			onSubscribe: cfg.OnSubscribe,
		}
		p.chars[c.handles.Value] = c
		if c.handles.CCCD != 0 {
			p.cccdOwners[c.handles.CCCD] = c
		}
		out[i] = c
	}

	p.services = append(p.services, svc.UUID)
	logger.Trace("WIRE", "service %s: handles 0x%04X-0x%04X", svc.UUID, handles.Service, handles.End)
	return out, nil
}

// StartAdvertising lays out the advertising payload. The service set is
// frozen from here on.
func (p *Peripheral) StartAdvertising(name string, services []uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.advertising != nil {
		return ble.ErrAlreadyAdvertising
	}

	payload, err := advertising.Build(name, services)
	if err != nil {
		return fmt.Errorf("wire: advertise %q: %w", name, err)
	}
	p.advertising = &payload

	logger.Info("WIRE", "advertising %q with %d services", name, len(services))
	return nil
}

// Advertisement returns the payload on air, if advertising
func (p *Peripheral) Advertisement() (advertising.Payload, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.advertising == nil {
		return advertising.Payload{}, false
	}
	return *p.advertising, true
}

// Services returns the registered service UUIDs in registration order
func (p *Peripheral) Services() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]uuid.UUID(nil), p.services...)
}

// MTU returns the negotiated MTU of conn, or 0 if conn is unknown
func (p *Peripheral) MTU(conn ble.ConnHandle) uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if c, ok := p.conns[conn]; ok {
		return c.mtu
	}
	return 0
}

// SetConnectHandler registers the connect/disconnect callback
func (p *Peripheral) SetConnectHandler(fn func(conn ble.ConnHandle, connected bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = fn
}

// Connect attaches a central. Handles start at 1; 0 is never handed out.
func (p *Peripheral) Connect(outbox Outbox) (ble.ConnHandle, error) {
	p.mu.Lock()
	var handle ble.ConnHandle
	for h := 1; h <= 0xFF; h++ {
		if _, used := p.conns[ble.ConnHandle(h)]; !used {
			handle = ble.ConnHandle(h)
			break
		}
	}
	if handle == 0 {
		p.mu.Unlock()
		return 0, ErrTooManyConnections
	}

	p.conns[handle] = &connection{
		handle: handle,
		mtu:    ble.DefaultMTU,
		cccds:  gatt.NewCCCDManager(),
		outbox: outbox,
	}
	fn := p.onConnect
	p.mu.Unlock()

	logger.Info("WIRE", "central connected (conn %d)", handle)
	if fn != nil {
		fn(handle, true)
	}
	return handle, nil
}

// Disconnect detaches a central and drops its CCCD state
func (p *Peripheral) Disconnect(conn ble.ConnHandle) error {
	p.mu.Lock()
	c, ok := p.conns[conn]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w %d", ErrUnknownConnection, conn)
	}
	delete(p.conns, conn)
	fn := p.onConnect
	p.mu.Unlock()

	c.cccds.Clear()
	logger.Info("WIRE", "central disconnected (conn %d)", conn)
	if fn != nil {
		fn(conn, false)
	}
	return nil
}

// Connections returns the attached connection handles
func (p *Peripheral) Connections() []ble.ConnHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := make([]ble.ConnHandle, 0, len(p.conns))
	for h := range p.conns {
		conns = append(conns, h)
	}
	return conns
}

func (p *Peripheral) connection(conn ble.ConnHandle) (*connection, *debug.PacketLog, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[conn]
	return c, p.packets, ok
}

// send delivers pdu to c outside of any Peripheral lock
func (p *Peripheral) send(c *connection, log *debug.PacketLog, pdu []byte) {
	log.Record(debug.TX, c.handle, pdu)
	logger.Verbose("WIRE", "conn %d tx %s (%d bytes)", c.handle, att.OpcodeName(pdu[0]), len(pdu))
	if c.outbox != nil {
		c.outbox(pdu)
	}
}
