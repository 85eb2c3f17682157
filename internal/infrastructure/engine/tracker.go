package engine

import (
	"sync"

	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// ErrDuplicateCall is returned when a call ID is submitted while a call with
// the same ID is still tracked.
var ErrDuplicateCall = hostcall.ErrDuplicateCall

type callState uint8

const (
	callPending callState = iota
	callCompleted
)

// tracker enforces at-most-once completion per call ID. Entries live from
// submission until the completion has been drained.
type tracker struct {
	mu    sync.Mutex
	calls map[values.CallID]callState
}

func newTracker() *tracker {
	return &tracker{calls: make(map[values.CallID]callState)}
}

func (t *tracker) begin(id values.CallID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.calls[id]; ok {
		return ErrDuplicateCall
	}
	t.calls[id] = callPending
	return nil
}

func (t *tracker) complete(id values.CallID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.calls[id]
	if !ok || st == callCompleted {
		return hostcall.ErrAlreadyCompleted
	}
	t.calls[id] = callCompleted
	return nil
}

func (t *tracker) forget(id values.CallID) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

func (t *tracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, st := range t.calls {
		if st == callPending {
			n++
		}
	}
	return n
}
