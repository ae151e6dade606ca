package wire

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/wire/att"
	"github.com/user/ergo-blue/wire/gatt"
)

// central records every PDU the peripheral sends to one connection
type central struct {
	mu   sync.Mutex
	pdus [][]byte
}

func (c *central) outbox(pdu []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pdus = append(c.pdus, append([]byte{}, pdu...))
}

func (c *central) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pdus
	c.pdus = nil
	return out
}

func (c *central) last(t *testing.T) att.PDU {
	t.Helper()
	pdus := c.take()
	if len(pdus) == 0 {
		t.Fatal("no PDU received")
	}
	p, err := att.Parse(pdus[len(pdus)-1])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

type fixture struct {
	p       *Peripheral
	battery ble.Characteristic
	control ble.Characteristic
	rx      ble.Characteristic

	mu         sync.Mutex
	writes     [][]byte
	subscribed []bool
	events     []bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{p: NewPeripheral(247)}

	chars, err := f.p.AddService(ble.ServiceConfig{
		UUID: ble.BatteryServiceUUID,
		Characteristics: []ble.CharacteristicConfig{
			{UUID: ble.BatteryLevelUUID, Properties: ble.PropRead | ble.PropNotify, Value: []byte{90}},
		},
	})
	if err != nil {
		t.Fatalf("AddService: %v", err)
	}
	f.battery = chars[0]

	chars, err = f.p.AddService(ble.ServiceConfig{
		UUID: ble.OTAServiceUUID,
		Characteristics: []ble.CharacteristicConfig{
			{
				UUID:       ble.SettingsControlPointUUID,
				Properties: ble.PropWrite | ble.PropIndicate,
				OnWrite: func(conn ble.ConnHandle, value []byte) {
					f.mu.Lock()
					f.writes = append(f.writes, value)
					f.mu.Unlock()
				},
				OnSubscribe: func(conn ble.ConnHandle, notify, indicate bool) {
					f.mu.Lock()
					f.subscribed = append(f.subscribed, indicate)
					f.mu.Unlock()
				},
			},
			{
				UUID:       ble.OTARxUUID,
				Properties: ble.PropWrite | ble.PropWriteNoResponse,
				OnWrite: func(conn ble.ConnHandle, value []byte) {
					f.mu.Lock()
					f.writes = append(f.writes, value)
					f.mu.Unlock()
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("AddService: %v", err)
	}
	f.control, f.rx = chars[0], chars[1]

	f.p.SetConnectHandler(func(conn ble.ConnHandle, connected bool) {
		f.mu.Lock()
		f.events = append(f.events, connected)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) connect(t *testing.T) (ble.ConnHandle, *central) {
	t.Helper()
	c := &central{}
	conn, err := f.p.Connect(c.outbox)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return conn, c
}

func handles(c ble.Characteristic) gatt.CharacteristicHandles {
	return c.(*characteristic).handles
}

func send(t *testing.T, p *Peripheral, conn ble.ConnHandle, pdu att.PDU) {
	t.Helper()
	if err := p.HandlePDU(conn, pdu.Marshal()); err != nil {
		t.Fatalf("HandlePDU: %v", err)
	}
}

func expectError(t *testing.T, got att.PDU, code uint8) {
	t.Helper()
	e, ok := got.(*att.ErrorResponse)
	if !ok {
		t.Fatalf("got %s, want ErrorResponse", att.OpcodeName(got.Opcode()))
	}
	if e.Code != code {
		t.Errorf("error code = 0x%02X, want 0x%02X", e.Code, code)
	}
}

func TestConnectHandsOutDistinctHandles(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect(t)
	b, _ := f.connect(t)

	if a == 0 || b == 0 || a == b {
		t.Errorf("handles = %d, %d", a, b)
	}
	if f.p.MTU(a) != ble.DefaultMTU {
		t.Errorf("initial MTU = %d, want %d", f.p.MTU(a), ble.DefaultMTU)
	}
	if f.p.MTU(99) != 0 {
		t.Error("unknown connection should report MTU 0")
	}
}

func TestExchangeMTUClamps(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	send(t, f.p, conn, &att.ExchangeMTU{Op: att.OpExchangeMTURequest, MTU: 517})
	resp, ok := c.last(t).(*att.ExchangeMTU)
	if !ok || resp.MTU != 247 {
		t.Fatalf("response = %#v, want server MTU 247", resp)
	}
	if f.p.MTU(conn) != 247 {
		t.Errorf("MTU = %d, want 247", f.p.MTU(conn))
	}

	send(t, f.p, conn, &att.ExchangeMTU{Op: att.OpExchangeMTURequest, MTU: 10})
	c.take()
	if f.p.MTU(conn) != ble.DefaultMTU {
		t.Errorf("MTU = %d, want %d", f.p.MTU(conn), ble.DefaultMTU)
	}
}

func TestPrimaryServiceDiscovery(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	send(t, f.p, conn, &att.RangeRequest{Op: att.OpReadByGroupTypeRequest, Start: 1, End: 0xFFFF, Type: []byte{0x00, 0x28}})
	resp, ok := c.last(t).(*att.ListResponse)
	if !ok {
		t.Fatal("expected ReadByGroupTypeResponse")
	}
	// 16-bit services come first and 128-bit entries have another length
	want := []byte{0x01, 0x00, 0x04, 0x00, 0x0F, 0x18}
	if resp.Format != 6 || !bytes.Equal(resp.Data, want) {
		t.Errorf("response = %d % X, want 6 % X", resp.Format, resp.Data, want)
	}

	send(t, f.p, conn, &att.RangeRequest{Op: att.OpReadByGroupTypeRequest, Start: 5, End: 0xFFFF, Type: []byte{0x00, 0x28}})
	resp = c.last(t).(*att.ListResponse)
	if resp.Format != 20 || resp.Data[0] != 5 || resp.Data[2] != 10 {
		t.Errorf("custom service entry = %d % X", resp.Format, resp.Data)
	}

	send(t, f.p, conn, &att.RangeRequest{Op: att.OpReadByGroupTypeRequest, Start: 11, End: 0xFFFF, Type: []byte{0x00, 0x28}})
	expectError(t, c.last(t), att.ErrAttributeNotFound)

	send(t, f.p, conn, &att.RangeRequest{Op: att.OpReadByGroupTypeRequest, Start: 1, End: 0xFFFF, Type: []byte{0x03, 0x28}})
	expectError(t, c.last(t), att.ErrUnsupportedGroupType)
}

func TestCharacteristicAndDescriptorDiscovery(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	send(t, f.p, conn, &att.RangeRequest{Op: att.OpReadByTypeRequest, Start: 1, End: 4, Type: []byte{0x03, 0x28}})
	resp := c.last(t).(*att.ListResponse)
	// handle 2: properties, value handle 3, uuid 0x2A19
	want := []byte{0x02, 0x00, 0x12, 0x03, 0x00, 0x19, 0x2A}
	if resp.Format != 7 || !bytes.Equal(resp.Data, want) {
		t.Errorf("declaration = %d % X, want 7 % X", resp.Format, resp.Data, want)
	}

	send(t, f.p, conn, &att.RangeRequest{Op: att.OpFindInformationRequest, Start: 4, End: 4})
	info := c.last(t).(*att.ListResponse)
	if info.Format != 1 || !bytes.Equal(info.Data, []byte{0x04, 0x00, 0x02, 0x29}) {
		t.Errorf("find information = %d % X", info.Format, info.Data)
	}

	send(t, f.p, conn, &att.RangeRequest{Op: att.OpFindInformationRequest, Start: 0, End: 4})
	expectError(t, c.last(t), att.ErrInvalidHandle)
}

func TestReadValue(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	send(t, f.p, conn, &att.ReadRequest{Handle: handles(f.battery).Value})
	if r, ok := c.last(t).(*att.ReadResponse); !ok || !bytes.Equal(r.Value, []byte{90}) {
		t.Errorf("read = %#v", r)
	}

	f.battery.SetValue([]byte{55})
	send(t, f.p, conn, &att.ReadRequest{Handle: handles(f.battery).Value})
	if r := c.last(t).(*att.ReadResponse); r.Value[0] != 55 {
		t.Errorf("read after SetValue = %d", r.Value[0])
	}

	send(t, f.p, conn, &att.ReadRequest{Handle: handles(f.rx).Value})
	expectError(t, c.last(t), att.ErrReadNotPermitted)

	send(t, f.p, conn, &att.ReadRequest{Handle: 0x0200})
	expectError(t, c.last(t), att.ErrInvalidHandle)
}

func TestSubscribeAndNotify(t *testing.T) {
	f := newFixture(t)
	a, ca := f.connect(t)
	_, cb := f.connect(t)

	if err := f.battery.Notify([]byte{1}); err != nil {
		t.Fatalf("Notify without subscribers: %v", err)
	}
	if len(ca.take())+len(cb.take()) != 0 {
		t.Fatal("notification sent without subscription")
	}

	cccd := handles(f.battery).CCCD
	send(t, f.p, a, &att.HandleValue{Op: att.OpWriteRequest, Handle: cccd, Value: []byte{0x01, 0x00}})
	if _, ok := ca.last(t).(*att.Empty); !ok {
		t.Fatal("CCCD write not acknowledged")
	}
	if f.battery.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", f.battery.SubscriberCount())
	}

	if err := f.battery.Notify([]byte{42}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	n, ok := ca.last(t).(*att.HandleValue)
	if !ok || n.Op != att.OpHandleValueNotification || n.Handle != handles(f.battery).Value || n.Value[0] != 42 {
		t.Errorf("notification = %#v", n)
	}
	if len(cb.take()) != 0 {
		t.Error("unsubscribed connection received the notification")
	}

	send(t, f.p, a, &att.ReadRequest{Handle: cccd})
	if r := ca.last(t).(*att.ReadResponse); !bytes.Equal(r.Value, []byte{0x01, 0x00}) {
		t.Errorf("CCCD read = % X", r.Value)
	}

	if err := f.battery.Indicate([]byte{1}); !errors.Is(err, ble.ErrNotIndicatable) {
		t.Errorf("Indicate on notify-only = %v", err)
	}
}

func TestNotifyRespectsMTU(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)
	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteRequest, Handle: handles(f.battery).CCCD, Value: []byte{0x01, 0x00}})
	c.take()

	if err := f.battery.Notify(make([]byte, 21)); !errors.Is(err, ble.ErrValueTooLong) {
		t.Errorf("Notify(21 bytes) at MTU 23 = %v, want ErrValueTooLong", err)
	}
	if len(c.take()) != 0 {
		t.Error("oversized notification was sent")
	}
	if err := f.battery.Notify(make([]byte, 20)); err != nil {
		t.Errorf("Notify(20 bytes) = %v", err)
	}
}

func TestWriteIndicateFlow(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteRequest, Handle: handles(f.control).CCCD, Value: []byte{0x02, 0x00}})
	c.take()
	if len(f.subscribed) != 1 || !f.subscribed[0] {
		t.Fatalf("OnSubscribe calls = %v", f.subscribed)
	}

	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteRequest, Handle: handles(f.control).Value, Value: []byte{0x11, 0x03}})
	if _, ok := c.last(t).(*att.Empty); !ok {
		t.Fatal("write not acknowledged")
	}
	if len(f.writes) != 1 || !bytes.Equal(f.writes[0], []byte{0x11, 0x03}) {
		t.Fatalf("writes = %v", f.writes)
	}

	if err := f.control.Indicate([]byte{0x20, 0x11, 0x01}); err != nil {
		t.Fatalf("Indicate: %v", err)
	}
	ind := c.last(t).(*att.HandleValue)
	if ind.Op != att.OpHandleValueIndication {
		t.Errorf("got %s, want indication", att.OpcodeName(ind.Op))
	}
	send(t, f.p, conn, &att.Empty{Op: att.OpHandleValueConfirmation})
	if len(c.take()) != 0 {
		t.Error("confirmation must not be answered")
	}
}

func TestWritePermissions(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteRequest, Handle: handles(f.battery).Value, Value: []byte{1}})
	expectError(t, c.last(t), att.ErrWriteNotPermitted)

	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteRequest, Handle: 0x0300, Value: []byte{1}})
	expectError(t, c.last(t), att.ErrInvalidHandle)

	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteRequest, Handle: handles(f.battery).CCCD, Value: []byte{1}})
	expectError(t, c.last(t), att.ErrInvalidAttributeValueLength)

	// Write commands are dropped silently when not permitted
	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteCommand, Handle: handles(f.control).Value, Value: []byte{1}})
	if len(c.take()) != 0 || len(f.writes) != 0 {
		t.Error("write command on a write-only characteristic was served")
	}

	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteCommand, Handle: handles(f.rx).Value, Value: []byte{2, 1}})
	if len(c.take()) != 0 {
		t.Error("write command answered")
	}
	if len(f.writes) != 1 {
		t.Errorf("write command not delivered: %v", f.writes)
	}
}

func TestPreparedWriteReassembles(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	value := make([]byte, 60)
	for i := range value {
		value[i] = byte(i)
	}
	reqs, err := att.SplitWrite(handles(f.rx).Value, value, ble.DefaultMTU)
	if err != nil {
		t.Fatalf("SplitWrite: %v", err)
	}
	for _, r := range reqs {
		send(t, f.p, conn, r)
		echo, ok := c.last(t).(*att.PrepareWrite)
		if !ok || echo.Offset != r.Offset || !bytes.Equal(echo.Value, r.Value) {
			t.Fatalf("prepare echo = %#v", echo)
		}
	}
	if len(f.writes) != 0 {
		t.Fatal("value delivered before execute")
	}

	send(t, f.p, conn, &att.ExecuteWriteRequest{Flags: att.ExecuteWrite})
	if _, ok := c.last(t).(*att.Empty); !ok {
		t.Fatal("execute not acknowledged")
	}
	if len(f.writes) != 1 || !bytes.Equal(f.writes[0], value) {
		t.Errorf("reassembled write = %v", f.writes)
	}
}

func TestPreparedWriteCancel(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	send(t, f.p, conn, &att.PrepareWrite{Op: att.OpPrepareWriteRequest, Handle: handles(f.rx).Value, Value: []byte{1, 2}})
	c.take()
	send(t, f.p, conn, &att.ExecuteWriteRequest{Flags: att.ExecuteCancel})
	c.take()
	send(t, f.p, conn, &att.ExecuteWriteRequest{Flags: att.ExecuteWrite})
	c.take()

	if len(f.writes) != 0 {
		t.Errorf("cancelled write delivered: %v", f.writes)
	}
}

func TestUnsupportedAndOversizedRequests(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)

	// Read Blob Request is not served
	f.p.HandlePDU(conn, []byte{0x0C, 0x03, 0x00, 0x00, 0x00})
	expectError(t, c.last(t), att.ErrRequestNotSupported)

	big := (&att.HandleValue{Op: att.OpWriteRequest, Handle: handles(f.control).Value, Value: make([]byte, 30)}).Marshal()
	f.p.HandlePDU(conn, big)
	expectError(t, c.last(t), att.ErrInvalidPDU)
	if len(f.writes) != 0 {
		t.Error("oversized write delivered")
	}

	if err := f.p.HandlePDU(77, []byte{0x0A, 0x01, 0x00}); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("HandlePDU(unknown) = %v", err)
	}
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	f := newFixture(t)
	conn, c := f.connect(t)
	send(t, f.p, conn, &att.HandleValue{Op: att.OpWriteRequest, Handle: handles(f.battery).CCCD, Value: []byte{0x01, 0x00}})
	c.take()

	if err := f.p.Disconnect(conn); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if f.battery.SubscriberCount() != 0 {
		t.Error("subscription survived disconnect")
	}
	if len(f.events) != 2 || !f.events[0] || f.events[1] {
		t.Errorf("connect events = %v, want [true false]", f.events)
	}
	if err := f.p.Disconnect(conn); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("second Disconnect = %v", err)
	}
}

func TestAdvertisingFreezesServices(t *testing.T) {
	f := newFixture(t)

	if _, ok := f.p.Advertisement(); ok {
		t.Fatal("advertising before StartAdvertising")
	}
	if err := f.p.StartAdvertising("ErgoBlue (CSC)", f.p.Services()); err != nil {
		t.Fatalf("StartAdvertising: %v", err)
	}
	adv, ok := f.p.Advertisement()
	if !ok || adv.Name != "ErgoBlue (CSC)" {
		t.Errorf("Advertisement = %+v", adv)
	}

	if err := f.p.StartAdvertising("again", nil); !errors.Is(err, ble.ErrAlreadyAdvertising) {
		t.Errorf("second StartAdvertising = %v", err)
	}
	if _, err := f.p.AddService(ble.ServiceConfig{UUID: ble.DeviceInfoServiceUUID}); !errors.Is(err, ErrServicesLocked) {
		t.Errorf("AddService after advertising = %v", err)
	}
}
