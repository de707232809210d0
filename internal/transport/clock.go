// Package transport implements the Transport Clock (C4): a monotonic
// audio-domain time source and the phase-locked bar scheduler described
// in spec.md §4.1. Grounded on the teacher's Clock-interface pattern
// used for testability (internal/analysis/jobqueue.Clock: RealClock vs
// a fake clock callers can substitute).
package transport

import "time"

// Clock abstracts wall-clock access so tests can substitute a fake.
type Clock interface {
	Now() time.Time
}

// RealClock uses time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// State is the process-wide transport singleton (spec.md §3 "Transport
// State"): whether a master loop is set, its duration, derived BPM, and
// its loop start time. The zero value is the unset state.
type State struct {
	MasterIsSet      bool
	MasterDuration   float64 // seconds
	MasterBPM        int
	MasterLoopStart  float64 // audio-clock seconds
}

// Clear resets the transport to the unset state (Track 1 Clear, §4.4).
func (s *State) Clear() {
	*s = State{}
}

// SetMaster (re)initializes the transport on Track 1 recording completion
// (§4.4): a four-beat bar is assumed for BPM derivation.
func (s *State) SetMaster(duration float64, loopStart float64) {
	s.MasterIsSet = true
	s.MasterDuration = duration
	s.MasterLoopStart = loopStart
	if duration > 0 {
		s.MasterBPM = int(roundHalfAwayFromZero(60.0 / duration * 4))
	}
}

func roundHalfAwayFromZero(v float64) float64 {
	if v < 0 {
		return -roundHalfAwayFromZero(-v)
	}
	floor := float64(int64(v))
	if v-floor >= 0.5 {
		return floor + 1
	}
	return floor
}

// ClockSource reads audio-domain time and computes phase-locked bar
// schedules relative to the master track.
type ClockSource struct {
	clock   Clock
	epsilon float64 // seconds; elapsed offsets below this are treated as 0
}

// New returns a ClockSource using the given Clock and bar epsilon in
// seconds (spec.md §4.1: "e < ε treated as 0").
func New(clock Clock, epsilon float64) *ClockSource {
	if clock == nil {
		clock = RealClock{}
	}
	return &ClockSource{clock: clock, epsilon: epsilon}
}

// Now returns the current audio-clock time in seconds since the Unix epoch.
func (c *ClockSource) Now() float64 {
	return float64(c.clock.Now().UnixNano()) / 1e9
}

// ScheduleNextBar implements spec.md §4.1's schedule_next_bar contract:
// given the master's loop_start_time and duration, compute when a
// divider-d dependent recording should begin and how long the caller
// must wait, relative to the current time. If masterSet is false,
// start_at=now and wait=0.
func (c *ClockSource) ScheduleNextBar(masterSet bool, masterLoopStart, masterDuration float64, divider int) (startAt, wait float64) {
	now := c.Now()
	if !masterSet || masterDuration <= 0 {
		return now, 0
	}
	if divider < 1 {
		divider = 1
	}

	elapsed := mod(now-masterLoopStart, masterDuration)
	if elapsed < c.epsilon {
		elapsed = 0
	}
	waitToBar := masterDuration - elapsed
	if waitToBar >= masterDuration {
		waitToBar = 0
	}

	startAt = now + waitToBar*float64(divider)
	wait = startAt - now
	if wait < 0 {
		wait = 0
	}
	return startAt, wait
}

// RelativeOffset computes a dependent track's current phase offset into
// its own loop, used both for overdub arming (§4.4) and master
// re-alignment (§4.1).
func RelativeOffset(now, loopStart, loopDuration float64) float64 {
	if loopDuration <= 0 {
		return 0
	}
	return mod(now-loopStart, loopDuration)
}

// Realign recomputes a dependent track's loop_start_time so that its
// current relative offset is preserved after the master's duration or
// start time changes (§4.1: "stop playback, set loop_start_time = t -
// off, restart playback").
func Realign(now, loopStart, loopDuration float64) (newLoopStart float64) {
	off := RelativeOffset(now, loopStart, loopDuration)
	return now - off
}

// mod is floating-point modulo that always returns a non-negative result.
func mod(a, m float64) float64 {
	if m == 0 {
		return 0
	}
	r := a - m*float64(int64(a/m))
	if r < 0 {
		r += m
	}
	return r
}
