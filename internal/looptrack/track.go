// Package looptrack implements the Loop Track (C6): the per-track
// state machine, its bounded undo stack, and its effect chain
// descriptors (spec.md §3, §4.4). Grounded on the teacher's
// birdnet-go detection pipeline's state-holding structs (species
// tracker with a bounded recent-detections ring) for the "bounded
// history" shape, generalized here to a buffer/effect-chain undo
// stack instead of a detection log.
package looptrack

import (
	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/audio"
	"github.com/Surajmusicproductions/looper-new/internal/mixer"
)

// State is one of the six Loop Track states (spec.md §4.4).
type State string

const (
	StateReady     State = "ready"
	StateWaiting   State = "waiting"
	StateRecording State = "recording"
	StatePlaying   State = "playing"
	StateOverdub   State = "overdub"
	StateStopped   State = "stopped"
)

// PressAction tells the Session Coordinator what side effect a Press
// command requires; the Track itself only performs the pure state
// transition.
type PressAction string

const (
	ActionNone             PressAction = "none"
	ActionBeginRecording   PressAction = "begin_recording"
	ActionScheduleWaiting  PressAction = "schedule_waiting"
	ActionFinishRecording  PressAction = "finish_recording"
	ActionArmOverdub       PressAction = "arm_overdub"
	ActionFinishOverdub    PressAction = "finish_overdub"
)

// StopAction tells the Session Coordinator what side effect a Stop
// command requires.
type StopAction string

const (
	StopActionNone            StopAction = "none"
	StopActionAbortRecording  StopAction = "abort_recording"
	StopActionStopPlayback    StopAction = "stop_playback"
	StopActionResumePlayback  StopAction = "resume_playback"
)

const defaultUndoLimit = 6

// snapshot is an undo entry: a deep copy of the buffer and effect
// chain taken before a destructive mutation (spec.md §4.7).
type snapshot struct {
	buffer  *audio.Buffer
	effects []Effect
}

// Track is a single Loop Track (spec.md §3 "Loop Track").
type Track struct {
	Index          int
	State          State
	Buffer         *audio.Buffer
	LoopStartTime  float64
	LoopDuration   float64
	Divider        int
	PitchSemitones float64
	UIDisabled     bool
	Effects        []Effect

	undo      []snapshot
	undoLimit int
}

// New builds a Track at index i (1-4) in the Ready state.
func New(index int, undoLimit int) *Track {
	if undoLimit < 1 {
		undoLimit = defaultUndoLimit
	}
	return &Track{
		Index:     index,
		State:     StateReady,
		Divider:   1,
		undoLimit: undoLimit,
	}
}

func cloneEffects(effs []Effect) []Effect {
	if effs == nil {
		return nil
	}
	out := make([]Effect, len(effs))
	for i, e := range effs {
		out[i] = e.clone()
	}
	return out
}

func (t *Track) pushUndo() {
	var bufClone *audio.Buffer
	if t.Buffer != nil {
		bufClone = t.Buffer.Clone()
	}
	t.undo = append(t.undo, snapshot{buffer: bufClone, effects: cloneEffects(t.Effects)})
	if len(t.undo) > t.undoLimit {
		t.undo = t.undo[len(t.undo)-t.undoLimit:]
	}
}

func invalidState(track int, op string) error {
	return apperrors.New(nil).
		Component("looptrack").
		Category(apperrors.CategoryState).
		Kind(apperrors.KindInvalidState).
		Context("track", track).
		Context("operation", op).
		Build()
}

// Undo restores the most recent snapshot, if any, byte-for-byte
// (spec.md §8 "Undo idempotence").
func (t *Track) Undo() error {
	if len(t.undo) == 0 {
		return invalidState(t.Index, "undo")
	}
	last := t.undo[len(t.undo)-1]
	t.undo = t.undo[:len(t.undo)-1]
	t.Buffer = last.buffer
	t.Effects = last.effects
	if t.Buffer != nil {
		t.LoopDuration = t.Buffer.Duration()
	} else {
		t.LoopDuration = 0
	}
	return nil
}

// RequestPress implements the Press transitions of spec.md §4.4's state
// diagram. masterSet gates dependent tracks (index >= 2) out of Ready.
func (t *Track) RequestPress(masterSet bool) (PressAction, error) {
	switch t.State {
	case StateReady:
		if t.Index == 1 {
			t.State = StateRecording
			return ActionBeginRecording, nil
		}
		if !masterSet {
			return ActionNone, invalidState(t.Index, "press")
		}
		t.State = StateWaiting
		return ActionScheduleWaiting, nil
	case StateRecording:
		t.State = StatePlaying
		return ActionFinishRecording, nil
	case StatePlaying:
		t.State = StateOverdub
		return ActionArmOverdub, nil
	case StateOverdub:
		t.State = StatePlaying
		return ActionFinishOverdub, nil
	default:
		return ActionNone, invalidState(t.Index, "press")
	}
}

// BeginRecordingAfterWait transitions a dependent track from Waiting to
// Recording once the Transport Clock's scheduled bar boundary arrives.
func (t *Track) BeginRecordingAfterWait() error {
	if t.State != StateWaiting {
		return invalidState(t.Index, "begin_recording_after_wait")
	}
	t.State = StateRecording
	return nil
}

// RequestStop implements the Stop transitions of spec.md §4.4.
func (t *Track) RequestStop() (StopAction, error) {
	switch t.State {
	case StateRecording:
		t.State = StateReady
		return StopActionAbortRecording, nil
	case StatePlaying, StateOverdub:
		t.State = StateStopped
		return StopActionStopPlayback, nil
	case StateStopped:
		t.State = StatePlaying
		return StopActionResumePlayback, nil
	default:
		return StopActionNone, invalidState(t.Index, "stop")
	}
}

// RequestClear resets the track to Ready, discarding its buffer,
// effect chain, and undo stack (spec.md §4.4, "any --Clear--> Ready").
func (t *Track) RequestClear() {
	t.State = StateReady
	t.Buffer = nil
	t.LoopDuration = 0
	t.LoopStartTime = 0
	t.PitchSemitones = 0
	t.UIDisabled = false
	t.Effects = nil
	t.undo = nil
}

// CompleteRecording installs the decoded capture as the track's loop
// buffer (spec.md §4.4, record completion). It does not touch the
// master timing; for track 1 the caller (Session) derives Transport
// State from the buffer's duration.
func (t *Track) CompleteRecording(buf *audio.Buffer, loopStartTime float64) {
	t.pushUndo()
	t.Buffer = buf
	t.LoopDuration = buf.Duration()
	t.LoopStartTime = loopStartTime
	t.State = StatePlaying
}

// ApplyOverdub mixes overdubCapture into the current loop buffer under
// the Overdub Mixer policy (spec.md §4.5), snapshotting the pre-mix
// buffer first, and returns to Playing.
func (t *Track) ApplyOverdub(overdubCapture *audio.Buffer, allowWrapOverdub bool) error {
	if t.Buffer == nil {
		return invalidState(t.Index, "apply_overdub")
	}
	mixed, err := mixer.Mix(t.Buffer, overdubCapture, allowWrapOverdub)
	if err != nil {
		return err
	}
	t.pushUndo()
	t.Buffer = mixed
	t.State = StatePlaying
	return nil
}

// BeginPitchShift snapshots the current buffer/effects and marks the
// track UI-disabled while an offline pitch job runs (spec.md §4.3
// "Per-track policy").
func (t *Track) BeginPitchShift(semitones float64) {
	t.pushUndo()
	t.UIDisabled = true
	t.PitchSemitones = semitones
}

// CompletePitchShift installs the pitch-shifted buffer. Playback state
// (Playing/Overdub) is left as-is; the caller restarts audio playback.
func (t *Track) CompletePitchShift(shifted *audio.Buffer) {
	t.Buffer = shifted
	t.LoopDuration = shifted.Duration()
	t.UIDisabled = false
}

// CancelPitchShift pops the speculative undo snapshot (no mutation
// occurred) and clears UI-disabled (spec.md §4.7 "Pitch cancelled").
func (t *Track) CancelPitchShift() {
	t.UIDisabled = false
	if len(t.undo) > 0 {
		t.undo = t.undo[:len(t.undo)-1]
	}
}
