// Package recorder implements the Recorder (C5): the single global
// capture mutex, timeout watchdog, and decode path that yields Audio
// Buffers from microphone-only capture streams (spec.md §4.2).
// Grounded on the teacher's malgo-based capture lifecycle
// (internal/myaudio/capture.go: context-scoped start/stop, a single
// active device guard) generalized from "one active capture device"
// to "one active capture operation, process-wide".
package recorder

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Surajmusicproductions/looper-new/internal/transport"
)

// Lease is the Recording Lease (spec.md §3): a process-wide mutex with
// a monotonic acquire timestamp and a hard expiration. A second Start
// while the lease is held fails with RecorderBusy unless the lease has
// exceeded its hard expiration, in which case it is reclaimed.
type Lease struct {
	mu         sync.Mutex
	clock      transport.Clock
	hardExpiry time.Duration

	held       bool
	token      string
	acquiredAt time.Time
}

// NewLease builds a Lease with the given hard expiration (spec.md §3:
// "hard expiration (≥ 120 s)"). A nil clock uses the real wall clock.
func NewLease(hardExpiry time.Duration, clock transport.Clock) *Lease {
	if clock == nil {
		clock = transport.RealClock{}
	}
	if hardExpiry < 120*time.Second {
		hardExpiry = 120 * time.Second
	}
	return &Lease{clock: clock, hardExpiry: hardExpiry}
}

// Acquire takes the lease, reclaiming it first if the prior holder has
// exceeded the hard expiration. ok is false if the lease is currently
// held by a non-expired holder.
func (l *Lease) Acquire() (token string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held && l.clock.Now().Sub(l.acquiredAt) <= l.hardExpiry {
		return "", false
	}

	l.token = uuid.NewString()
	l.acquiredAt = l.clock.Now()
	l.held = true
	return l.token, true
}

// Release gives up the lease if token matches the current holder. It
// is a no-op (and returns false) for a stale or unknown token, so a
// lagging goroutine from a reclaimed lease can never release a newer
// holder's lease.
func (l *Lease) Release(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held || l.token != token {
		return false
	}
	l.held = false
	l.token = ""
	return true
}

// Held reports whether the lease is currently held by a non-expired
// holder.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held && l.clock.Now().Sub(l.acquiredAt) <= l.hardExpiry
}
