//go:build tinygo

// Package hw runs the peripheral on the radio through tinygo.org/x/bluetooth.
//
// The TinyGo stack serves one central at a time and exposes neither CCCD
// writes nor the negotiated MTU, so every central is reported as connection
// 1, notify-capable characteristics count it as a subscriber while it is
// connected, and MTU reports the value the stack was configured with.
package hw

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/logger"
	"tinygo.org/x/bluetooth"
)

// Conn is the handle of the single central
const Conn ble.ConnHandle = 1

// Stack implements ble.Stack on a bluetooth.Adapter
type Stack struct {
	adapter *bluetooth.Adapter
	mtu     uint16

	mu          sync.Mutex
	connected   bool
	chars       []*characteristic
	onConnect   func(conn ble.ConnHandle, connected bool)
	advertising bool
}

// New enables adapter. mtu is the ATT MTU the SoftDevice is configured for.
func New(adapter *bluetooth.Adapter, mtu uint16) (*Stack, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("hw: enable adapter: %w", err)
	}
	if mtu < ble.DefaultMTU {
		mtu = ble.DefaultMTU
	}
	s := &Stack{adapter: adapter, mtu: mtu}
	adapter.SetConnectHandler(s.connectionChanged)
	return s, nil
}

func convertUUID(u uuid.UUID) (bluetooth.UUID, error) {
	return bluetooth.ParseUUID(u.String())
}

func flags(p ble.Property) bluetooth.CharacteristicPermissions {
	var f bluetooth.CharacteristicPermissions
	if p.Has(ble.PropRead) {
		f |= bluetooth.CharacteristicReadPermission
	}
	if p.Has(ble.PropWrite) {
		f |= bluetooth.CharacteristicWritePermission
	}
	if p.Has(ble.PropWriteNoResponse) {
		f |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if p.Has(ble.PropNotify) {
		f |= bluetooth.CharacteristicNotifyPermission
	}
	if p.Has(ble.PropIndicate) {
		f |= bluetooth.CharacteristicIndicatePermission
	}
	return f
}

func (s *Stack) AddService(svc ble.ServiceConfig) ([]ble.Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	serviceUUID, err := convertUUID(svc.UUID)
	if err != nil {
		return nil, fmt.Errorf("hw: service %s: %w", svc.UUID, err)
	}

	chars := make([]*characteristic, len(svc.Characteristics))
	configs := make([]bluetooth.CharacteristicConfig, len(svc.Characteristics))
	for i, cc := range svc.Characteristics {
		u, err := convertUUID(cc.UUID)
		if err != nil {
			return nil, fmt.Errorf("hw: characteristic %s: %w", cc.UUID, err)
		}
		c := &characteristic{
			stack:       s,
			uuid:        cc.UUID,
			props:       cc.Properties,
			value:       append([]byte(nil), cc.Value...),
			onSubscribe: cc.OnSubscribe,
		}
		chars[i] = c

		configs[i] = bluetooth.CharacteristicConfig{
			Handle: &c.handle,
			UUID:   u,
			Value:  append([]byte(nil), cc.Value...),
			Flags:  flags(cc.Properties),
		}
		if onWrite := cc.OnWrite; onWrite != nil {
			configs[i].WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
				if offset != 0 {
					logger.Warn("HW", "%s: ignoring write at offset %d", c.uuid, offset)
					return
				}
				c.store(value)
				onWrite(Conn, append([]byte(nil), value...))
			}
		}
	}

	if err := s.adapter.AddService(&bluetooth.Service{UUID: serviceUUID, Characteristics: configs}); err != nil {
		return nil, fmt.Errorf("hw: add service %s: %w", svc.UUID, err)
	}

	out := make([]ble.Characteristic, len(chars))
	for i, c := range chars {
		out[i] = c
	}
	s.chars = append(s.chars, chars...)
	logger.Info("HW", "service %s registered with %d characteristics", svc.UUID, len(chars))
	return out, nil
}

func (s *Stack) StartAdvertising(name string, services []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.advertising {
		return ble.ErrAlreadyAdvertising
	}

	// The primary service fits the advertisement; the rest are found on
	// discovery.
	var uuids []bluetooth.UUID
	if len(services) > 0 {
		u, err := convertUUID(services[0])
		if err != nil {
			return fmt.Errorf("hw: advertised service: %w", err)
		}
		uuids = append(uuids, u)
	}

	adv := s.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    name,
		ServiceUUIDs: uuids,
	}); err != nil {
		return fmt.Errorf("hw: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("hw: start advertisement: %w", err)
	}
	s.advertising = true
	logger.Info("HW", "advertising as %q", name)
	return nil
}

func (s *Stack) MTU(conn ble.ConnHandle) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn != Conn || !s.connected {
		return 0
	}
	return s.mtu
}

func (s *Stack) SetConnectHandler(fn func(conn ble.ConnHandle, connected bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = fn
}

func (s *Stack) connectionChanged(device bluetooth.Device, connected bool) {
	s.mu.Lock()
	s.connected = connected
	fn := s.onConnect
	chars := append([]*characteristic(nil), s.chars...)
	s.mu.Unlock()

	logger.Info("HW", "central %s connected=%v", device.Address.String(), connected)
	for _, c := range chars {
		if c.onSubscribe != nil && c.props.Has(ble.PropNotify) {
			c.onSubscribe(Conn, connected, false)
		}
	}
	if fn != nil {
		fn(Conn, connected)
	}
	if !connected {
		// The SoftDevice stops advertising on connect; resume for the next
		// central.
		if err := s.adapter.DefaultAdvertisement().Start(); err != nil {
			logger.Warn("HW", "restart advertising: %v", err)
		}
	}
}

func (s *Stack) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

type characteristic struct {
	stack       *Stack
	handle      bluetooth.Characteristic
	uuid        uuid.UUID
	props       ble.Property
	onSubscribe ble.SubscribeHandler

	mu    sync.Mutex
	value []byte
}

func (c *characteristic) UUID() uuid.UUID {
	return c.uuid
}

func (c *characteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...)
}

func (c *characteristic) store(value []byte) {
	c.mu.Lock()
	c.value = append(c.value[:0], value...)
	c.mu.Unlock()
}

// SetValue updates the stored value. The stack only has one write call, which
// also notifies a subscribed central.
func (c *characteristic) SetValue(value []byte) {
	c.store(value)
	if _, err := c.handle.Write(value); err != nil {
		logger.Warn("HW", "%s: set value: %v", c.uuid, err)
	}
}

func (c *characteristic) send(value []byte) error {
	if !c.stack.isConnected() {
		return nil
	}
	if len(value) > int(c.stack.mtu)-ble.ATTHeaderSize {
		return ble.ErrValueTooLong
	}
	c.store(value)
	_, err := c.handle.Write(value)
	return err
}

func (c *characteristic) Notify(value []byte) error {
	if !c.props.Has(ble.PropNotify) {
		return ble.ErrNotNotifiable
	}
	return c.send(value)
}

func (c *characteristic) Indicate(value []byte) error {
	if !c.props.Has(ble.PropIndicate) {
		return ble.ErrNotIndicatable
	}
	return c.send(value)
}

func (c *characteristic) SubscriberCount() int {
	if c.props&(ble.PropNotify|ble.PropIndicate) != 0 && c.stack.isConnected() {
		return 1
	}
	return 0
}
