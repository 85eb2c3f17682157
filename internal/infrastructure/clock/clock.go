// Package clock provides wall-clock and manually-driven time sources.
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Real reads the system clock.
type Real struct{}

// NewReal returns the system clock.
func NewReal() Real { return Real{} }

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// After waits for d on the system clock.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep blocks for d or until ctx is done.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// Manual is a deterministic clock that only moves when Advance is called.
// Timers created with After fire during the Advance that reaches them.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

// NewManual returns a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that receives once the clock reaches now+d.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	at := m.now.Add(d)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: at, ch: ch})
	return ch
}

// Sleep blocks until another goroutine advances the clock past d, or ctx is done.
func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-m.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance moves the clock forward and fires every timer that came due,
// earliest first.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)

	sort.SliceStable(m.waiters, func(i, j int) bool {
		return m.waiters[i].at.Before(m.waiters[j].at)
	})
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.at.After(m.now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- w.at
	}
	m.waiters = kept
}

// Set jumps the clock to t, which must not be before the current time.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	delta := t.Sub(m.now)
	m.mu.Unlock()
	if delta > 0 {
		m.Advance(delta)
	}
}

// Pending reports how many timers have not fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
