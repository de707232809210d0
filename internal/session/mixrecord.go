package session

import (
	"context"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/audio"
)

// StartMixRecord begins a mix-down capture for export (spec.md §4.6
// "mix-down export"), using the dedicated mix Recorder so it competes
// for the same Recording Lease as track captures. It records whatever
// CaptureSource that Recorder was built on; the Session has no
// master-bus audio stream of its own to capture.
func (s *Session) StartMixRecord(expectedMS int) error {
	s.mu.Lock()
	if s.mixHandle != nil {
		s.mu.Unlock()
		return apperrors.New(nil).
			Component("session").
			Category(apperrors.CategoryRecorder).
			Kind(apperrors.KindRecorderBusy).
			Build()
	}
	s.mu.Unlock()

	onStop := func(buf *audio.Buffer) {
		s.mu.Lock()
		s.lastMixCapture = buf
		s.mixHandle = nil
		s.mu.Unlock()
	}
	onError := func(err error) {
		s.mu.Lock()
		s.mixHandle = nil
		s.mu.Unlock()
		s.log.Error("mix-down capture failed", "error", err)
	}

	h, err := s.mixRec.Start(context.Background(), expectedMS, nil, onStop, onError)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.mixHandle = h
	s.mu.Unlock()
	return nil
}

// StopMixRecord ends the in-flight mix-down capture, if any.
func (s *Session) StopMixRecord() {
	s.mu.Lock()
	h := s.mixHandle
	s.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// LastMixCapture returns the most recently completed mix-down export,
// or nil if none has completed yet.
func (s *Session) LastMixCapture() *audio.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMixCapture
}
