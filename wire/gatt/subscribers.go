package gatt

import (
	"sync"

	"github.com/user/ergo-blue/ble"
)

// SubscriberSet is the ordered list of connections subscribed to one
// characteristic. A handle appears at most once. BLE callbacks mutate it while
// broadcasts read it from the periodic loop, so all access goes through mu.
type SubscriberSet struct {
	mu      sync.Mutex
	handles []ble.ConnHandle
}

// Add appends conn if it is not already present
func (s *SubscriberSet) Add(conn ble.ConnHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.handles {
		if h == conn {
			return false
		}
	}
	s.handles = append(s.handles, conn)
	return true
}

// Remove deletes conn, preserving the order of the remaining handles
func (s *SubscriberSet) Remove(conn ble.ConnHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.handles {
		if h == conn {
			s.handles = append(s.handles[:i], s.handles[i+1:]...)
			return true
		}
	}
	return false
}

// Update applies a CCCD change for conn
func (s *SubscriberSet) Update(conn ble.ConnHandle, notify bool) {
	if notify {
		s.Add(conn)
		return
	}
	s.Remove(conn)
}

// Handles returns a copy of the subscribed connections in subscription order
func (s *SubscriberSet) Handles() []ble.ConnHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ble.ConnHandle(nil), s.handles...)
}

// Len returns the number of subscribers
func (s *SubscriberSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
