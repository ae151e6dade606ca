package att

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrRequestPending = errors.New("att: request already pending")
	ErrNoPending      = errors.New("att: no pending request")
	ErrCancelled      = errors.New("att: request cancelled")
)

// Result is the outcome of one request
type Result struct {
	PDU PDU
	Err error
}

type pendingRequest struct {
	op     uint8
	handle uint16
	done   chan Result
}

// Tracker enforces the single outstanding request per connection that ATT
// allows and matches incoming responses to it.
type Tracker struct {
	mu      sync.Mutex
	pending *pendingRequest
}

// Start registers a request and returns the channel its result arrives on
func (t *Tracker) Start(op uint8, handle uint16) (<-chan Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		return nil, fmt.Errorf("%w: %s on handle 0x%04X", ErrRequestPending, OpcodeName(t.pending.op), t.pending.handle)
	}
	t.pending = &pendingRequest{op: op, handle: handle, done: make(chan Result, 1)}
	return t.pending.done, nil
}

// Complete delivers a response. An ErrorResponse completes the request with
// an *Error; any other opcode must be the one the request expects.
func (t *Tracker) Complete(p PDU) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		return fmt.Errorf("%w for %s", ErrNoPending, OpcodeName(p.Opcode()))
	}

	res := Result{PDU: p}
	if e, ok := p.(*ErrorResponse); ok {
		res = Result{Err: e.Err()}
	} else if want := ResponseFor(t.pending.op); p.Opcode() != want {
		return fmt.Errorf("att: unexpected %s for %s", OpcodeName(p.Opcode()), OpcodeName(t.pending.op))
	}

	t.finishLocked(res)
	return nil
}

// Cancel fails the pending request, if any, with err wrapped in ErrCancelled
func (t *Tracker) Cancel(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		return
	}
	t.finishLocked(Result{Err: fmt.Errorf("%w: %v", ErrCancelled, err)})
}

func (t *Tracker) finishLocked(res Result) {
	t.pending.done <- res
	close(t.pending.done)
	t.pending = nil
}

// Pending reports whether a request is outstanding
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Wait blocks until the result arrives or ctx ends. A request abandoned by
// ctx is cancelled so the next one can start.
func (t *Tracker) Wait(ctx context.Context, done <-chan Result) (PDU, error) {
	select {
	case res := <-done:
		return res.PDU, res.Err
	case <-ctx.Done():
		t.Cancel(ctx.Err())
		if res, ok := <-done; ok {
			return res.PDU, res.Err
		}
		return nil, ctx.Err()
	}
}
