package gatt

import (
	"encoding/binary"
	"sync"
)

// CCCD (Client Characteristic Configuration Descriptor) values
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
)

// ErrInvalidAttributeValueLength is returned when CCCD value has incorrect length
var ErrInvalidAttributeValueLength = &Error{Code: 0x0D, Description: "Invalid Attribute Value Length"}

// Error represents a GATT error
type Error struct {
	Code        uint8
	Description string
}

func (e *Error) Error() string {
	return e.Description
}

// EncodeCCCDValue converts subscription state to CCCD value bytes (little-endian)
func EncodeCCCDValue(notify, indicate bool) []byte {
	var value uint16
	if notify {
		value |= CCCDNotificationsEnabled
	}
	if indicate {
		value |= CCCDIndicationsEnabled
	}

	cccd := make([]byte, 2)
	binary.LittleEndian.PutUint16(cccd, value)
	return cccd
}

// DecodeCCCDValue parses CCCD value bytes to notification/indication flags
func DecodeCCCDValue(cccd []byte) (notify, indicate bool, err error) {
	if len(cccd) != 2 {
		return false, false, ErrInvalidAttributeValueLength
	}

	value := binary.LittleEndian.Uint16(cccd)
	return value&CCCDNotificationsEnabled != 0, value&CCCDIndicationsEnabled != 0, nil
}

// SubscriptionState is the CCCD state of one characteristic on one connection
type SubscriptionState struct {
	Notify   bool
	Indicate bool
}

// CCCDManager tracks CCCD values of one connection. CCCD values are never
// shared across connections and are dropped when the connection closes.
type CCCDManager struct {
	mu            sync.RWMutex
	subscriptions map[uint16]SubscriptionState // value handle -> state
}

// NewCCCDManager creates a new CCCD manager for a connection
func NewCCCDManager() *CCCDManager {
	return &CCCDManager{
		subscriptions: make(map[uint16]SubscriptionState),
	}
}

// SetSubscription applies a CCCD write to the characteristic at valueHandle
func (cm *CCCDManager) SetSubscription(valueHandle uint16, cccd []byte) (SubscriptionState, error) {
	notify, indicate, err := DecodeCCCDValue(cccd)
	if err != nil {
		return SubscriptionState{}, err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	state := SubscriptionState{Notify: notify, Indicate: indicate}
	if !notify && !indicate {
		delete(cm.subscriptions, valueHandle)
	} else {
		cm.subscriptions[valueHandle] = state
	}
	return state, nil
}

// Subscription returns the CCCD state of a characteristic
func (cm *CCCDManager) Subscription(valueHandle uint16) SubscriptionState {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.subscriptions[valueHandle]
}

// Handles returns the value handles with notifications or indications enabled
func (cm *CCCDManager) Handles() []uint16 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	handles := make([]uint16, 0, len(cm.subscriptions))
	for h := range cm.subscriptions {
		handles = append(handles, h)
	}
	return handles
}

// Clear removes all subscriptions (called when connection is closed)
func (cm *CCCDManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.subscriptions = make(map[uint16]SubscriptionState)
}
