package session

import (
	"context"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/events"
)

// RequestPitchShift submits an offline granular pitch-shift job for
// the given track (spec.md §4.3, §6 "Pitch request"). It blocks until
// the job completes, is cancelled, or fails; progress is streamed as
// PitchProgress events while it runs. The semaphore bounds how many
// pitch jobs can run concurrently across all four tracks.
func (s *Session) RequestPitchShift(track int, semitones float64) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}

	s.mu.Lock()
	if tr.Buffer == nil {
		s.mu.Unlock()
		return apperrors.New(nil).
			Component("session").
			Category(apperrors.CategoryValidation).
			Kind(apperrors.KindInvalidState).
			Context("track", track).
			Build()
	}
	buf := tr.Buffer
	tr.BeginPitchShift(semitones)
	s.mu.Unlock()

	s.m.SetTrackState(track, string(tr.State))
	s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: tr.State})

	ctx := context.Background()
	if err := s.pitchSem.Acquire(ctx, 1); err != nil {
		s.mu.Lock()
		tr.CancelPitchShift()
		s.mu.Unlock()
		return err
	}
	defer s.pitchSem.Release(1)

	s.m.PitchJobSubmitted()
	job := s.pitch.Submit(ctx, track, buf, semitones)

	go func() {
		for p := range job.Progress() {
			s.emit(events.Event{Kind: events.KindPitchProgress, Track: track, Pct: p.Pct})
		}
	}()

	shifted, cancelled, err := job.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case cancelled:
		s.m.PitchJobCancelled()
		tr.CancelPitchShift()
		return nil
	case err != nil:
		tr.CancelPitchShift()
		s.emit(events.Event{Kind: events.KindError, Track: track, Err: err})
		return err
	default:
		tr.CompletePitchShift(shifted)
		s.m.SetTrackState(track, string(tr.State))
		s.emit(events.Event{Kind: events.KindTrackStateChanged, Track: track, State: tr.State})
		return nil
	}
}

// CancelPitchShift requests cancellation of any in-flight pitch job on
// the given track. It does not block for completion; RequestPitchShift's
// own goroutine observes the cancellation and restores the track.
func (s *Session) CancelPitchShift(track int) error {
	tr := s.track(track)
	if tr == nil {
		return invalidTrack(track)
	}
	s.mu.Lock()
	disabled := tr.UIDisabled
	s.mu.Unlock()
	if !disabled {
		return nil
	}
	s.pitch.CancelTrack(track)
	return nil
}
