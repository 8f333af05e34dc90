// Package accumulator implements the per-session inbound message
// debounce spec.md describes: messages arriving within a sliding delay
// window are batched and delivered together once the window elapses
// with no further arrivals, rather than triggering one AI turn per
// message. Grounded on the teacher's pattern of a per-key timer
// registry guarded by a mutex (the same shape as the distributed lock's
// local bookkeeping in internal/agent), generalized into a standalone,
// reusable debouncer.
package accumulator

import (
	"sync"
	"time"
)

// FlushFunc is called with the batched messages once a session's delay
// window elapses with no further arrivals.
type FlushFunc func(sessionID string, messages []interface{})

type pending struct {
	messages []interface{}
	timer    *time.Timer
}

// Accumulator batches arrivals per session key behind a reset-on-
// arrival timer.
type Accumulator struct {
	mu      sync.Mutex
	pending map[string]*pending
}

func New() *Accumulator {
	return &Accumulator{pending: make(map[string]*pending)}
}

// Accumulate adds message to sessionID's pending batch and (re)starts a
// delay-duration timer; a prior unfired timer for the same session is
// reset, not stacked. When the timer fires, flush is called with the
// entire accumulated batch and the session's pending state is cleared.
//
// A delay of 0 flushes message immediately as a single-item batch and
// bypasses batching entirely — callers that want no debounce at all
// should pass delay=0 rather than calling Accumulate conditionally, so
// PendingCount stays accurate.
func (a *Accumulator) Accumulate(sessionID string, message interface{}, delay time.Duration, flush FlushFunc) {
	if delay <= 0 {
		flush(sessionID, []interface{}{message})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[sessionID]
	if !ok {
		p = &pending{}
		a.pending[sessionID] = p
	} else if p.timer != nil {
		p.timer.Stop()
	}
	p.messages = append(p.messages, message)

	p.timer = time.AfterFunc(delay, func() {
		a.mu.Lock()
		cur, ok := a.pending[sessionID]
		if !ok {
			a.mu.Unlock()
			return
		}
		batch := cur.messages
		delete(a.pending, sessionID)
		a.mu.Unlock()
		flush(sessionID, batch)
	})
}

// PendingCount returns the number of messages currently batched for
// sessionID (0 if none are pending).
func (a *Accumulator) PendingCount(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[sessionID]; ok {
		return len(p.messages)
	}
	return 0
}

// BufferCount is the global pendingCount observable spec.md §4.1
// describes: the number of session buffers currently holding
// outstanding, undelivered messages (not the total message count).
func (a *Accumulator) BufferCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// FlushAll immediately fires every session's pending batch, for orderly
// shutdown. Each session's timer is stopped before its flush runs so a
// racing natural fire cannot double-deliver the same batch.
func (a *Accumulator) FlushAll(flush FlushFunc) {
	a.mu.Lock()
	all := a.pending
	a.pending = make(map[string]*pending)
	a.mu.Unlock()

	for sessionID, p := range all {
		if p.timer != nil {
			p.timer.Stop()
		}
		flush(sessionID, p.messages)
	}
}
