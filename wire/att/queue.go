package att

import "fmt"

// MaxPrepareQueue bounds the prepared fragments held for one connection
const MaxPrepareQueue = 64

// QueuedWrite is the reassembled value of one handle after ExecuteWrite
type QueuedWrite struct {
	Handle uint16
	Value  []byte
}

// PrepareQueue holds the prepared writes of one connection until they are
// executed or cancelled. The stack serializes PDUs per connection, so the
// queue has no lock of its own.
type PrepareQueue struct {
	entries []*PrepareWrite
}

// Add queues a fragment. Fragments of a handle must arrive at contiguous offsets.
func (q *PrepareQueue) Add(p *PrepareWrite) error {
	if len(q.entries) >= MaxPrepareQueue {
		return NewError(ErrPrepareQueueFull, OpPrepareWriteRequest, p.Handle)
	}

	expected := 0
	for _, e := range q.entries {
		if e.Handle == p.Handle {
			expected += len(e.Value)
		}
	}
	if int(p.Offset) != expected {
		return NewError(ErrInvalidOffset, OpPrepareWriteRequest, p.Handle)
	}

	q.entries = append(q.entries, &PrepareWrite{
		Op:     OpPrepareWriteRequest,
		Handle: p.Handle,
		Offset: p.Offset,
		Value:  append([]byte{}, p.Value...),
	})
	return nil
}

// Drain empties the queue and returns one write per handle, in the order the
// handles were first prepared.
func (q *PrepareQueue) Drain() []QueuedWrite {
	var writes []QueuedWrite
	index := make(map[uint16]int)

	for _, e := range q.entries {
		i, ok := index[e.Handle]
		if !ok {
			i = len(writes)
			index[e.Handle] = i
			writes = append(writes, QueuedWrite{Handle: e.Handle})
		}
		writes[i].Value = append(writes[i].Value, e.Value...)
	}

	q.entries = nil
	return writes
}

// Clear drops every queued fragment
func (q *PrepareQueue) Clear() {
	q.entries = nil
}

// Len returns the number of queued fragments
func (q *PrepareQueue) Len() int {
	return len(q.entries)
}

// SplitWrite cuts a long value into prepare write requests that each fit mtu.
// PrepareWriteRequest is [opcode:1][handle:2][offset:2][value:N].
func SplitWrite(handle uint16, value []byte, mtu int) ([]*PrepareWrite, error) {
	size := mtu - 5
	if size <= 0 {
		return nil, fmt.Errorf("att: mtu %d too small for prepare write", mtu)
	}

	var requests []*PrepareWrite
	for offset := 0; offset < len(value); offset += size {
		end := offset + size
		if end > len(value) {
			end = len(value)
		}
		requests = append(requests, &PrepareWrite{
			Op:     OpPrepareWriteRequest,
			Handle: handle,
			Offset: uint16(offset),
			Value:  append([]byte{}, value[offset:end]...),
		})
	}
	return requests, nil
}
