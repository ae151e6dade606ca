// Package ble describes the peripheral-side view of a BLE stack that the protocol
// engine is written against. The in-process simulated stack (package wire) and the
// TinyGo radio stack (package hw) both implement Stack.
package ble

import (
	"errors"

	"github.com/google/uuid"
)

// ConnHandle identifies one central connection. Stacks hand out 1-byte handles.
type ConnHandle uint8

// Property is the GATT characteristic properties bitmask.
type Property uint8

const (
	PropRead            Property = 0x02
	PropWriteNoResponse Property = 0x04
	PropWrite           Property = 0x08
	PropNotify          Property = 0x10
	PropIndicate        Property = 0x20
)

// Has reports whether all bits of q are set.
func (p Property) Has(q Property) bool {
	return p&q == q
}

const (
	// DefaultMTU is the ATT MTU before any exchange.
	DefaultMTU = 23
	// MaxMTU is the largest MTU the transport negotiates.
	MaxMTU = 512
	// ATTHeaderSize is the opcode + handle prefix of notifications and writes.
	ATTHeaderSize = 3
)

var (
	ErrNotNotifiable      = errors.New("ble: characteristic does not support notify")
	ErrNotIndicatable     = errors.New("ble: characteristic does not support indicate")
	ErrValueTooLong       = errors.New("ble: value exceeds negotiated MTU")
	ErrAlreadyAdvertising = errors.New("ble: already advertising")
)

// WriteHandler receives a client write on a characteristic value.
type WriteHandler func(conn ConnHandle, value []byte)

// SubscribeHandler receives CCCD changes for a characteristic.
type SubscribeHandler func(conn ConnHandle, notify, indicate bool)

// CharacteristicConfig declares one characteristic of a service.
type CharacteristicConfig struct {
	UUID        uuid.UUID
	Properties  Property
	Value       []byte
	OnWrite     WriteHandler
	OnSubscribe SubscribeHandler
}

// ServiceConfig declares a primary service.
type ServiceConfig struct {
	UUID            uuid.UUID
	Characteristics []CharacteristicConfig
}

// Characteristic is a registered characteristic value.
type Characteristic interface {
	UUID() uuid.UUID
	Value() []byte
	SetValue(value []byte)
	// Notify sends value to every connection that enabled notifications.
	Notify(value []byte) error
	// Indicate sends value to every connection that enabled indications.
	Indicate(value []byte) error
	SubscriberCount() int
}

// Stack is the peripheral role of a BLE host stack.
type Stack interface {
	// AddService registers a service and returns its characteristics in
	// declaration order.
	AddService(svc ServiceConfig) ([]Characteristic, error)
	StartAdvertising(name string, services []uuid.UUID) error
	// MTU returns the negotiated ATT MTU of a connection, or 0 if unknown.
	MTU(conn ConnHandle) uint16
	SetConnectHandler(fn func(conn ConnHandle, connected bool))
}
