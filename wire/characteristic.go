package wire

import (
	"github.com/google/uuid"
	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/wire/att"
	"github.com/user/ergo-blue/wire/gatt"
)

// characteristic implements ble.Characteristic on the attribute database
type characteristic struct {
	p           *Peripheral
	uuid        uuid.UUID
	props       ble.Property
	handles     gatt.CharacteristicHandles
	onWrite     ble.WriteHandler
	onSubscribe ble.SubscribeHandler
}

func (c *characteristic) UUID() uuid.UUID {
	return c.uuid
}

func (c *characteristic) Value() []byte {
	attr, err := c.p.db.GetAttribute(c.handles.Value)
	if err != nil {
		return nil
	}
	return attr.Value
}

func (c *characteristic) SetValue(value []byte) {
	c.p.db.SetAttributeValue(c.handles.Value, value)
}

// ValueHandle is the ATT handle centrals read and write
func (c *characteristic) ValueHandle() uint16 {
	return c.handles.Value
}

func (c *characteristic) Notify(value []byte) error {
	if !c.props.Has(ble.PropNotify) {
		return ble.ErrNotNotifiable
	}
	return c.push(att.OpHandleValueNotification, value, func(s gatt.SubscriptionState) bool { return s.Notify })
}

func (c *characteristic) Indicate(value []byte) error {
	if !c.props.Has(ble.PropIndicate) {
		return ble.ErrNotIndicatable
	}
	return c.push(att.OpHandleValueIndication, value, func(s gatt.SubscriptionState) bool { return s.Indicate })
}

// push sends value to every connection whose CCCD selects it. A connection
// whose MTU is too small is skipped; the first such failure is returned
// after the others were served.
func (c *characteristic) push(op uint8, value []byte, selected func(gatt.SubscriptionState) bool) error {
	type target struct {
		conn *connection
		mtu  uint16
	}

	c.p.mu.RLock()
	var targets []target
	for _, conn := range c.p.conns {
		if selected(conn.cccds.Subscription(c.handles.Value)) {
			targets = append(targets, target{conn, conn.mtu})
		}
	}
	log := c.p.packets
	c.p.mu.RUnlock()

	var firstErr error
	pdu := (&att.HandleValue{Op: op, Handle: c.handles.Value, Value: value}).Marshal()
	for _, t := range targets {
		if len(value) > int(t.mtu)-ble.ATTHeaderSize {
			if firstErr == nil {
				firstErr = ble.ErrValueTooLong
			}
			continue
		}
		c.p.send(t.conn, log, pdu)
	}
	return firstErr
}

func (c *characteristic) SubscriberCount() int {
	c.p.mu.RLock()
	defer c.p.mu.RUnlock()

	n := 0
	for _, conn := range c.p.conns {
		s := conn.cccds.Subscription(c.handles.Value)
		if s.Notify || s.Indicate {
			n++
		}
	}
	return n
}
