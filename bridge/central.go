package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/wire/att"
	"github.com/user/ergo-blue/wire/gatt"
)

var ErrNoCCCD = errors.New("bridge: characteristic has no CCCD")

// Service is a discovered primary service
type Service struct {
	UUID  uuid.UUID
	Start uint16
	End   uint16
}

// Characteristic is a discovered characteristic. CCCD is zero when the
// characteristic has none.
type Characteristic struct {
	UUID        uuid.UUID
	Properties  ble.Property
	Declaration uint16
	Value       uint16
	CCCD        uint16
}

// Central is the client role of the ATT bridge. It speaks raw PDUs through
// send and receives the peripheral's PDUs through Deliver.
type Central struct {
	send    func(pdu []byte) error
	tracker att.Tracker

	mu       sync.Mutex
	mtu      uint16
	handlers map[uint16]func(value []byte)
}

// NewCentral creates a central that transmits with send
func NewCentral(send func(pdu []byte) error) *Central {
	return &Central{
		send:     send,
		mtu:      ble.DefaultMTU,
		handlers: make(map[uint16]func([]byte)),
	}
}

// MTU returns the MTU agreed with the peripheral
func (c *Central) MTU() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// Deliver hands one PDU from the peripheral to the central. Indications are
// confirmed from a separate goroutine because the peripheral may still be
// serving the request that caused them.
func (c *Central) Deliver(pdu []byte) {
	p, err := att.Parse(pdu)
	if err != nil {
		logger.Trace("CENTRAL", "dropping PDU: %v", err)
		return
	}

	if hv, ok := p.(*att.HandleValue); ok && (hv.Op == att.OpHandleValueNotification || hv.Op == att.OpHandleValueIndication) {
		c.mu.Lock()
		fn := c.handlers[hv.Handle]
		c.mu.Unlock()

		if fn != nil {
			fn(hv.Value)
		}
		if hv.Op == att.OpHandleValueIndication {
			go c.send((&att.Empty{Op: att.OpHandleValueConfirmation}).Marshal())
		}
		return
	}

	if err := c.tracker.Complete(p); err != nil {
		logger.Trace("CENTRAL", "%v", err)
	}
}

// Close fails an outstanding request
func (c *Central) Close() {
	c.tracker.Cancel(errors.New("connection closed"))
}

func (c *Central) request(ctx context.Context, req att.PDU, handle uint16) (att.PDU, error) {
	done, err := c.tracker.Start(req.Opcode(), handle)
	if err != nil {
		return nil, err
	}
	if err := c.send(req.Marshal()); err != nil {
		c.tracker.Cancel(err)
		return nil, fmt.Errorf("bridge: send %s: %w", att.OpcodeName(req.Opcode()), err)
	}
	return c.tracker.Wait(ctx, done)
}

// ExchangeMTU negotiates the MTU and returns the agreed value
func (c *Central) ExchangeMTU(ctx context.Context, mtu uint16) (uint16, error) {
	resp, err := c.request(ctx, &att.ExchangeMTU{Op: att.OpExchangeMTURequest, MTU: mtu}, 0)
	if err != nil {
		return 0, err
	}
	server := resp.(*att.ExchangeMTU).MTU
	agreed := mtu
	if server < agreed {
		agreed = server
	}
	if agreed < ble.DefaultMTU {
		agreed = ble.DefaultMTU
	}

	c.mu.Lock()
	c.mtu = agreed
	c.mu.Unlock()
	return agreed, nil
}

// Read returns the value at handle
func (c *Central) Read(ctx context.Context, handle uint16) ([]byte, error) {
	resp, err := c.request(ctx, &att.ReadRequest{Handle: handle}, handle)
	if err != nil {
		return nil, err
	}
	return resp.(*att.ReadResponse).Value, nil
}

// Write writes value with a write request, or with prepared writes when it
// does not fit the MTU
func (c *Central) Write(ctx context.Context, handle uint16, value []byte) error {
	mtu := int(c.MTU())
	if len(value) <= mtu-ble.ATTHeaderSize {
		_, err := c.request(ctx, &att.HandleValue{Op: att.OpWriteRequest, Handle: handle, Value: value}, handle)
		return err
	}

	parts, err := att.SplitWrite(handle, value, mtu)
	if err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := c.request(ctx, part, handle); err != nil {
			c.request(ctx, &att.ExecuteWriteRequest{Flags: att.ExecuteCancel}, handle)
			return err
		}
	}
	_, err = c.request(ctx, &att.ExecuteWriteRequest{Flags: att.ExecuteWrite}, handle)
	return err
}

// WriteCommand writes without waiting for a response
func (c *Central) WriteCommand(handle uint16, value []byte) error {
	return c.send((&att.HandleValue{Op: att.OpWriteCommand, Handle: handle, Value: value}).Marshal())
}

// Subscribe enables notifications (or indications) and routes the values to fn
func (c *Central) Subscribe(ctx context.Context, ch Characteristic, indicate bool, fn func(value []byte)) error {
	if ch.CCCD == 0 {
		return fmt.Errorf("%w: %s", ErrNoCCCD, ch.UUID)
	}

	c.mu.Lock()
	c.handlers[ch.Value] = fn
	c.mu.Unlock()

	return c.Write(ctx, ch.CCCD, gatt.EncodeCCCDValue(!indicate, indicate))
}

// Unsubscribe clears the CCCD and drops the handler
func (c *Central) Unsubscribe(ctx context.Context, ch Characteristic) error {
	if ch.CCCD == 0 {
		return fmt.Errorf("%w: %s", ErrNoCCCD, ch.UUID)
	}

	c.mu.Lock()
	delete(c.handlers, ch.Value)
	c.mu.Unlock()

	return c.Write(ctx, ch.CCCD, gatt.EncodeCCCDValue(false, false))
}

// DiscoverServices lists every primary service
func (c *Central) DiscoverServices(ctx context.Context) ([]Service, error) {
	var services []Service
	start := uint16(1)
	for {
		resp, err := c.request(ctx, &att.RangeRequest{
			Op:    att.OpReadByGroupTypeRequest,
			Start: start,
			End:   0xFFFF,
			Type:  ble.WireBytes(gatt.UUIDPrimaryService),
		}, start)
		if att.CodeOf(err) == att.ErrAttributeNotFound {
			return services, nil
		}
		if err != nil {
			return nil, err
		}

		entries := resp.(*att.ListResponse).Entries()
		if len(entries) == 0 {
			return services, nil
		}
		for _, e := range entries {
			u, err := ble.ParseWireBytes(e[4:])
			if err != nil {
				return nil, err
			}
			services = append(services, Service{
				UUID:  u,
				Start: binary.LittleEndian.Uint16(e[0:2]),
				End:   binary.LittleEndian.Uint16(e[2:4]),
			})
		}

		last := services[len(services)-1].End
		if last == 0xFFFF {
			return services, nil
		}
		start = last + 1
	}
}

// DiscoverCharacteristics lists the characteristics of svc with their CCCDs
func (c *Central) DiscoverCharacteristics(ctx context.Context, svc Service) ([]Characteristic, error) {
	var chars []Characteristic
	start := svc.Start
	for start <= svc.End {
		resp, err := c.request(ctx, &att.RangeRequest{
			Op:    att.OpReadByTypeRequest,
			Start: start,
			End:   svc.End,
			Type:  ble.WireBytes(gatt.UUIDCharacteristic),
		}, start)
		if att.CodeOf(err) == att.ErrAttributeNotFound {
			break
		}
		if err != nil {
			return nil, err
		}

		entries := resp.(*att.ListResponse).Entries()
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			u, err := ble.ParseWireBytes(e[5:])
			if err != nil {
				return nil, err
			}
			chars = append(chars, Characteristic{
				UUID:        u,
				Properties:  ble.Property(e[2]),
				Declaration: binary.LittleEndian.Uint16(e[0:2]),
				Value:       binary.LittleEndian.Uint16(e[3:5]),
			})
		}
		start = chars[len(chars)-1].Value + 1
	}

	for i := range chars {
		if !chars[i].Properties.Has(ble.PropNotify) && !chars[i].Properties.Has(ble.PropIndicate) {
			continue
		}
		end := svc.End
		if i+1 < len(chars) {
			end = chars[i+1].Declaration - 1
		}
		cccd, err := c.findCCCD(ctx, chars[i].Value+1, end)
		if err != nil {
			return nil, err
		}
		chars[i].CCCD = cccd
	}
	return chars, nil
}

func (c *Central) findCCCD(ctx context.Context, start, end uint16) (uint16, error) {
	if start > end {
		return 0, nil
	}
	resp, err := c.request(ctx, &att.RangeRequest{Op: att.OpFindInformationRequest, Start: start, End: end}, start)
	if att.CodeOf(err) == att.ErrAttributeNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	lr := resp.(*att.ListResponse)
	for _, e := range lr.Entries() {
		u, err := ble.ParseWireBytes(e[2:])
		if err == nil && u == gatt.UUIDClientCharacteristicConfig {
			return binary.LittleEndian.Uint16(e[0:2]), nil
		}
	}
	return 0, nil
}

// Discover walks the whole attribute table and indexes characteristics by UUID
func (c *Central) Discover(ctx context.Context) (map[uuid.UUID]Characteristic, []Service, error) {
	services, err := c.DiscoverServices(ctx)
	if err != nil {
		return nil, nil, err
	}

	chars := make(map[uuid.UUID]Characteristic)
	for _, svc := range services {
		list, err := c.DiscoverCharacteristics(ctx, svc)
		if err != nil {
			return nil, nil, fmt.Errorf("bridge: discover %s: %w", svc.UUID, err)
		}
		for _, ch := range list {
			chars[ch.UUID] = ch
		}
	}
	return chars, services, nil
}
