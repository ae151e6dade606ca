package gatt

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/user/ergo-blue/ble"
)

// Declaration and descriptor types
var (
	UUIDPrimaryService             = ble.UUID16(0x2800)
	UUIDCharacteristic             = ble.UUID16(0x2803)
	UUIDClientCharacteristicConfig = ble.UUID16(0x2902) // CCCD
)

// Attribute permissions (not transmitted over the air, server-side only)
const (
	PermReadable = 0x01
	PermWritable = 0x02
)

// Attribute represents a single GATT attribute with a handle
type Attribute struct {
	Handle      uint16    // ATT handle (1-based, 0x0000 is reserved)
	Type        uuid.UUID // Attribute type
	Value       []byte
	Permissions uint8
}

// AttributeDatabase is the server's attribute table
type AttributeDatabase struct {
	mu         sync.RWMutex
	attributes map[uint16]*Attribute
	nextHandle uint16
}

// NewAttributeDatabase creates an empty attribute database
func NewAttributeDatabase() *AttributeDatabase {
	return &AttributeDatabase{
		attributes: make(map[uint16]*Attribute),
		nextHandle: 0x0001,
	}
}

// AddAttribute adds an attribute and assigns it the next handle
func (db *AttributeDatabase) AddAttribute(attrType uuid.UUID, value []byte, permissions uint8) uint16 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.addLocked(attrType, value, permissions)
}

func (db *AttributeDatabase) addLocked(attrType uuid.UUID, value []byte, permissions uint8) uint16 {
	handle := db.nextHandle
	db.nextHandle++

	db.attributes[handle] = &Attribute{
		Handle:      handle,
		Type:        attrType,
		Value:       append([]byte{}, value...),
		Permissions: permissions,
	}
	return handle
}

// GetAttribute returns a copy of the attribute at handle
func (db *AttributeDatabase) GetAttribute(handle uint16) (*Attribute, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	attr, ok := db.attributes[handle]
	if !ok {
		return nil, fmt.Errorf("gatt: invalid handle 0x%04X", handle)
	}

	return &Attribute{
		Handle:      attr.Handle,
		Type:        attr.Type,
		Value:       append([]byte{}, attr.Value...),
		Permissions: attr.Permissions,
	}, nil
}

// SetAttributeValue updates an attribute's value
func (db *AttributeDatabase) SetAttributeValue(handle uint16, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	attr, ok := db.attributes[handle]
	if !ok {
		return fmt.Errorf("gatt: invalid handle 0x%04X", handle)
	}

	attr.Value = append([]byte{}, value...)
	return nil
}

// FindAttributesByType returns all handles with matching type in a range
func (db *AttributeDatabase) FindAttributesByType(startHandle, endHandle uint16, attrType uuid.UUID) []uint16 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var handles []uint16
	for h := startHandle; h <= endHandle && h < db.nextHandle; h++ {
		if attr, ok := db.attributes[h]; ok && attr.Type == attrType {
			handles = append(handles, h)
		}
	}
	return handles
}

// Range returns copies of the attributes in [start, end], in handle order
func (db *AttributeDatabase) Range(start, end uint16) []Attribute {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var attrs []Attribute
	for h := start; h <= end && h < db.nextHandle; h++ {
		attr, ok := db.attributes[h]
		if !ok {
			continue
		}
		attrs = append(attrs, Attribute{
			Handle:      attr.Handle,
			Type:        attr.Type,
			Value:       append([]byte{}, attr.Value...),
			Permissions: attr.Permissions,
		})
	}
	return attrs
}

// Count returns the number of attributes in the database
func (db *AttributeDatabase) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.attributes)
}
