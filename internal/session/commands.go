package session

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/audio"
	"github.com/Surajmusicproductions/looper-new/internal/events"
	"github.com/Surajmusicproductions/looper-new/internal/looptrack"
	"github.com/Surajmusicproductions/looper-new/internal/recorder"
	"github.com/Surajmusicproductions/looper-new/internal/transport"
)

// Press dispatches a context-sensitive Press command to the given
// track (spec.md §6 "Press (context-sensitive: record/stop-record/
// arm-overdub/finish-overdub)").
func (s *Session) Press(track int) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}

	s.mu.Lock()
	masterSet := s.transportState.MasterIsSet
	action, err := tr.RequestPress(masterSet)
	state := tr.State
	s.mu.Unlock()

	if err != nil {
		s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
		return err
	}
	s.m.SetTrackState(track, string(state))
	s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: state})

	switch action {
	case looptrack.ActionBeginRecording:
		s.startRecording(track, int(s.cfg.Recorder.MasterMaxSeconds*1000))
	case looptrack.ActionScheduleWaiting:
		s.scheduleWaitingRecording(track)
	case looptrack.ActionFinishRecording, looptrack.ActionFinishOverdub:
		s.stopHandle(track)
	case looptrack.ActionArmOverdub:
		s.armOverdub(track)
	}
	return nil
}

// Stop dispatches Stop (stop/resume/abort, spec.md §6).
func (s *Session) Stop(track int) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}

	s.mu.Lock()
	action, err := tr.RequestStop()
	state := tr.State
	s.mu.Unlock()

	if err != nil {
		s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
		return err
	}
	s.m.SetTrackState(track, string(state))
	s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: state})

	if action == looptrack.StopActionAbortRecording {
		s.mu.Lock()
		h := s.handles[track]
		delete(s.handles, track)
		s.mu.Unlock()
		if h != nil {
			h.Abort()
		}
	}
	return nil
}

// Clear resets a track to Ready. On Track 1, this cascades: all
// dependents (and their undo stacks) are cleared and the Transport
// State is reset (spec.md §4.6).
func (s *Session) Clear(track int) error {
	if s.track(track) == nil {
		return invalidTrack(track)
	}
	if track != 1 {
		s.mu.Lock()
		s.tracks[track-1].RequestClear()
		s.mu.Unlock()
		s.m.SetTrackState(track, string(looptrack.StateReady))
		s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: looptrack.StateReady})
		return nil
	}

	g, _ := errgroup.WithContext(context.Background())
	for i := 2; i <= numTracks; i++ {
		idx := i
		g.Go(func() error {
			s.mu.Lock()
			s.tracks[idx-1].RequestClear()
			s.mu.Unlock()
			s.m.SetTrackState(idx, string(looptrack.StateReady))
			s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: idx, State: looptrack.StateReady})
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.tracks[0].RequestClear()
	s.transportState.Clear()
	s.mu.Unlock()

	s.m.SetTrackState(1, string(looptrack.StateReady))
	s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: 1, State: looptrack.StateReady})
	s.emit(events.Event{Kind: events.KindTransportChanged, Duration: 0, BPM: 0})
	return nil
}

// SetDivider sets a dependent track's divider (spec.md §6).
func (s *Session) SetDivider(track, d int) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}
	if d < 1 {
		d = 1
	}
	s.mu.Lock()
	tr.Divider = d
	s.mu.Unlock()
	return nil
}

// Undo pops the most recent snapshot on the given track.
func (s *Session) Undo(track int) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tr.Undo()
}

// AddEffect, RemoveEffect, MoveEffect, ToggleBypass, and SetParam
// forward directly to the target track (spec.md §6).

func (s *Session) AddEffect(track int, effType looptrack.EffectType, params map[string]float64) (looptrack.Effect, error) {
	tr := s.track(track)
	if tr == nil {
		return looptrack.Effect{}, invalidTrack(track)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tr.AddEffect(effType, params), nil
}

func (s *Session) RemoveEffect(track int, id string) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tr.RemoveEffect(id)
}

func (s *Session) MoveEffect(track int, id string, dir int) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tr.MoveEffect(id, dir)
}

func (s *Session) ToggleBypass(track int, id string) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tr.ToggleBypass(id)
}

func (s *Session) SetParam(track int, id, key string, value float64) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tr.SetParam(id, key, value)
}

// loopbackRejectedErr builds the error returned when an overdub arm
// request is rejected by the anti-feedback loopback probe gate
// (spec.md §4.4, §4.7: overdub refused until ConfirmLoopback).
func loopbackRejectedErr(track int) error {
	return apperrors.New(nil).
		Component("session").
		Category(apperrors.CategoryRecorder).
		Kind(apperrors.KindLoopbackDetected).
		Context("track", track).
		Build()
}

func (s *Session) stopHandle(track int) {
	s.mu.Lock()
	h := s.handles[track]
	s.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

func (s *Session) startRecording(track int, expectedMS int) *recorder.Handle {
	s.m.RecordingStarted()
	onStop := func(buf *audio.Buffer) {
		s.mu.Lock()
		tr := s.tracks[track-1]
		loopStart := s.clock.Now()
		tr.CompleteRecording(buf, loopStart)
		if track == 1 {
			s.transportState.SetMaster(buf.Duration(), loopStart)
			s.realignDependentsLocked()
		}
		delete(s.handles, track)
		duration := s.transportState.MasterDuration
		bpm := s.transportState.MasterBPM
		s.mu.Unlock()

		s.m.RecordingStopped()
		s.m.SetTrackState(track, string(looptrack.StatePlaying))
		s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: looptrack.StatePlaying})
		if track == 1 {
			s.emit(events.Event{Kind: events.KindTransportChanged, Duration: duration, BPM: bpm})
		}
	}
	onError := func(err error) {
		s.mu.Lock()
		delete(s.handles, track)
		s.mu.Unlock()
		s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
	}

	h, err := s.rec.Start(context.Background(), expectedMS, nil, onStop, onError)
	if err != nil {
		s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
		return nil
	}
	s.mu.Lock()
	s.handles[track] = h
	s.mu.Unlock()
	return h
}

// scheduleAutoStop ends track's capture after durationSeconds so a
// bar-aligned recording or overdub finishes on its own rather than
// running until the watchdog or a manual Stop (spec.md §4.4). h
// identifies the specific capture being scheduled: if the track has
// already moved on to a different handle by the time the timer fires
// (a manual stop, or a fresh recording already under way), the stale
// timer is a no-op.
func (s *Session) scheduleAutoStop(track int, durationSeconds float64, h *recorder.Handle) {
	if h == nil {
		return
	}
	time.AfterFunc(time.Duration(durationSeconds*float64(time.Second)), func() {
		s.mu.Lock()
		current := s.handles[track]
		s.mu.Unlock()
		if current == h {
			h.Stop()
		}
	})
}

// scheduleWaitingRecording computes the next bar boundary for a
// dependent track and begins recording once it arrives (spec.md §4.1,
// §4.4).
func (s *Session) scheduleWaitingRecording(track int) {
	s.mu.Lock()
	tr := s.tracks[track-1]
	_, wait := s.clock.ScheduleNextBar(s.transportState.MasterIsSet, s.transportState.MasterLoopStart, s.transportState.MasterDuration, tr.Divider)
	divider := tr.Divider
	masterDuration := s.transportState.MasterDuration
	s.mu.Unlock()

	go func() {
		if wait > 0 {
			time.Sleep(time.Duration(wait * float64(time.Second)))
		}
		s.mu.Lock()
		tr := s.tracks[track-1]
		if tr.State != looptrack.StateWaiting {
			s.mu.Unlock()
			return
		}
		_ = tr.BeginRecordingAfterWait()
		s.mu.Unlock()

		s.m.SetTrackState(track, string(looptrack.StateRecording))
		s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: looptrack.StateRecording})
		captureSeconds := masterDuration * float64(divider)
		h := s.startRecording(track, int(captureSeconds*1000))
		s.scheduleAutoStop(track, captureSeconds, h)
	}()
}

// armOverdub schedules an overdub capture at the next loop boundary
// (spec.md §4.4 "Overdub arming"), subject to the loopback-probe gate.
func (s *Session) armOverdub(track int) {
	s.mu.Lock()
	tr := s.tracks[track-1]
	if s.loopbackDetected && !s.loopbackConfirmed {
		tr.State = looptrack.StatePlaying
		s.mu.Unlock()
		err := loopbackRejectedErr(track)
		s.m.SetTrackState(track, string(looptrack.StatePlaying))
		s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: looptrack.StatePlaying})
		s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
		return
	}
	now := s.clock.Now()
	delay := tr.LoopDuration - transport.RelativeOffset(now, tr.LoopStartTime, tr.LoopDuration)
	duration := tr.LoopDuration
	s.mu.Unlock()

	s.muteMasterBus()
	go func() {
		if delay > 0 {
			time.Sleep(time.Duration(delay * float64(time.Second)))
		}
		h := s.startOverdubRecording(track, duration)
		s.scheduleAutoStop(track, duration, h)
	}()
}

// startOverdubRecording begins the mix-in capture. It is ended either by
// the auto-stop timer scheduled by the caller at loop_duration (spec.md
// §4.4 "Overdub --loop_end--> Playing") or by a manual finish-overdub
// Press, whichever comes first.
func (s *Session) startOverdubRecording(track int, durationSeconds float64) *recorder.Handle {
	s.m.RecordingStarted()
	onStop := func(capture *audio.Buffer) {
		s.mu.Lock()
		tr := s.tracks[track-1]
		err := tr.ApplyOverdub(capture, s.cfg.Overdub.AllowWrapOverdub)
		delete(s.handles, track)
		s.mu.Unlock()
		s.unmuteMasterBus()

		if err != nil {
			s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
			return
		}
		s.m.OverdubApplied()
		s.m.RecordingStopped()
		s.m.SetTrackState(track, string(looptrack.StatePlaying))
		s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: looptrack.StatePlaying})
	}
	onError := func(err error) {
		s.mu.Lock()
		delete(s.handles, track)
		s.mu.Unlock()
		s.unmuteMasterBus()
		s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
	}

	h, err := s.rec.Start(context.Background(), int(durationSeconds*1000), nil, onStop, onError)
	if err != nil {
		s.unmuteMasterBus()
		s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
		return nil
	}
	s.mu.Lock()
	s.handles[track] = h
	s.mu.Unlock()
	return h
}

// realignDependentsLocked re-aligns every Playing/Overdub dependent
// track's loop_start_time after the master is (re)set (spec.md §4.1).
// Caller must hold s.mu.
func (s *Session) realignDependentsLocked() {
	now := s.clock.Now()
	for i := 1; i < numTracks; i++ {
		tr := s.tracks[i]
		if tr.State == looptrack.StatePlaying || tr.State == looptrack.StateOverdub {
			tr.LoopStartTime = transport.Realign(now, tr.LoopStartTime, tr.LoopDuration)
		}
	}
}

func (s *Session) muteMasterBus() {
	if !s.cfg.Overdub.AutoMuteMonitorOnOverdub {
		return
	}
	s.mu.Lock()
	s.masterBusMuted = true
	s.monitorConnected = false
	s.mu.Unlock()
}

func (s *Session) unmuteMasterBus() {
	s.mu.Lock()
	s.masterBusMuted = false
	s.monitorConnected = true
	s.mu.Unlock()
}
