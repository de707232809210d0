// Package session implements the Session Coordinator (C8): it owns the
// four Loop Tracks and the Transport State, dispatches commands to the
// right track, reschedules dependents when the master changes, and
// routes effect chain changes into the master bus description
// (spec.md §4.6). Grounded on the teacher's audiocore.Manager, which
// owns a fixed set of sources and fans out lifecycle commands to them
// the same way this Session fans out to its four tracks.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/audio"
	"github.com/Surajmusicproductions/looper-new/internal/conf"
	"github.com/Surajmusicproductions/looper-new/internal/events"
	"github.com/Surajmusicproductions/looper-new/internal/looptrack"
	"github.com/Surajmusicproductions/looper-new/internal/metrics"
	"github.com/Surajmusicproductions/looper-new/internal/pitch"
	"github.com/Surajmusicproductions/looper-new/internal/recorder"
	"github.com/Surajmusicproductions/looper-new/internal/transport"
)

const numTracks = 4

// Session is the Session Coordinator (C8).
type Session struct {
	mu sync.Mutex

	cfg   *conf.Settings
	log   *slog.Logger
	m     *metrics.Collector
	bus   *events.Bus
	clock *transport.ClockSource

	rec       *recorder.Recorder
	mixRec    *recorder.Recorder
	micSource recorder.CaptureSource
	pitch     *pitch.Engine
	pitchSem  *semaphore.Weighted

	transportState *transport.State
	tracks         [numTracks]*looptrack.Track
	handles        map[int]*recorder.Handle

	mixHandle      *recorder.Handle
	lastMixCapture *audio.Buffer

	masterBusMuted    bool
	monitorConnected  bool
	loopbackDetected  bool
	loopbackConfirmed bool

	stopProgress chan struct{}
	closeOnce    sync.Once
}

// New builds a Session with 4 fresh tracks in the Ready state. rec
// captures mic-only tracks; mixRec is the Recorder used for mix-down
// export and records whatever CaptureSource it was built on (looperd
// serve builds it on the microphone source) (both must share the same *recorder.Lease so at-most-one
// capture is ever active, per spec.md §3).
func New(cfg *conf.Settings, rec, mixRec *recorder.Recorder, micSource recorder.CaptureSource, engine *pitch.Engine, clock *transport.ClockSource, log *slog.Logger, m *metrics.Collector) *Session {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New(false, nil)
	}

	poolHint := int64(cfg.Pitch.PoolSizeHint)
	if poolHint < 1 {
		poolHint = 4
	}

	s := &Session{
		cfg:              cfg,
		log:              log,
		m:                m,
		bus:              events.NewBus(128),
		clock:            clock,
		rec:              rec,
		mixRec:           mixRec,
		micSource:        micSource,
		pitch:            engine,
		pitchSem:         semaphore.NewWeighted(poolHint),
		transportState:   &transport.State{},
		handles:          make(map[int]*recorder.Handle),
		monitorConnected: true,
		stopProgress:     make(chan struct{}),
	}
	for i := 0; i < numTracks; i++ {
		s.tracks[i] = looptrack.New(i+1, cfg.Track.UndoStackLimit)
	}
	go s.runProgressLoop()
	return s
}

// progressTickInterval is how often KindTrackProgress events are
// emitted for tracks currently playing back or overdubbing (spec.md
// §6 "TrackProgress(i, ratio)").
const progressTickInterval = 100 * time.Millisecond

func (s *Session) runProgressLoop() {
	ticker := time.NewTicker(progressTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopProgress:
			return
		case <-ticker.C:
			s.emitTrackProgress()
		}
	}
}

func (s *Session) emitTrackProgress() {
	s.mu.Lock()
	now := s.clock.Now()
	type progress struct {
		track int
		ratio float64
	}
	var updates []progress
	for _, tr := range s.tracks {
		if tr.State != looptrack.StatePlaying && tr.State != looptrack.StateOverdub {
			continue
		}
		if tr.LoopDuration <= 0 {
			continue
		}
		ratio := transport.RelativeOffset(now, tr.LoopStartTime, tr.LoopDuration) / tr.LoopDuration
		updates = append(updates, progress{track: tr.Index, ratio: ratio})
	}
	s.mu.Unlock()

	for _, u := range updates {
		s.emit(events.Event{Kind: events.KindTrackProgress, Track: u.track, Ratio: u.ratio})
	}
}

// Close stops the Session's background progress ticker. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.stopProgress) })
}

// Events returns the Coordinator's event stream.
func (s *Session) Events() <-chan events.Event { return s.bus.Subscribe() }

func (s *Session) emit(e events.Event) { s.bus.Emit(e) }

func (s *Session) track(i int) *looptrack.Track {
	if i < 1 || i > numTracks {
		return nil
	}
	return s.tracks[i-1]
}

func invalidTrack(i int) error {
	return apperrors.New(nil).
		Component("session").
		Category(apperrors.CategoryValidation).
		Kind(apperrors.KindInvalidState).
		Context("track", i).
		Build()
}

// TrackSnapshot is a read-only view of a track's public state, used by
// the status query surface (looperd status).
type TrackSnapshot struct {
	Index          int
	State          looptrack.State
	LoopDuration   float64
	Divider        int
	PitchSemitones float64
	UIDisabled     bool
	EffectCount    int
}

// Snapshot returns a point-in-time view of every track and the
// transport, safe to call concurrently with command dispatch.
func (s *Session) Snapshot() (tracks [numTracks]TrackSnapshot, transportState transport.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tr := range s.tracks {
		tracks[i] = TrackSnapshot{
			Index:          tr.Index,
			State:          tr.State,
			LoopDuration:   tr.LoopDuration,
			Divider:        tr.Divider,
			PitchSemitones: tr.PitchSemitones,
			UIDisabled:     tr.UIDisabled,
			EffectCount:    len(tr.Effects),
		}
	}
	return tracks, *s.transportState
}

// RunLoopbackProbe runs the anti-feedback check (spec.md §4.4) when
// called; New does not run it. It plays a short burst via playBurst while
// capturing from the raw mic source, and gates overdub arming on the
// result until ConfirmLoopback is called.
func (s *Session) RunLoopbackProbe(ctx context.Context, playBurst func()) error {
	rms, detected, err := recorder.RunLoopbackProbe(ctx, s.micSource, playBurst, recorder.DefaultProbeBurst, s.cfg.Overdub.LoopbackRMSThreshold)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.loopbackDetected = detected
	s.mu.Unlock()
	s.log.Info("loopback probe complete", "rms", rms, "detected", detected)
	if detected {
		s.emit(events.Event{Kind: events.KindError, Err: apperrors.New(nil).
			Component("session").
			Category(apperrors.CategoryRecorder).
			Kind(apperrors.KindLoopbackDetected).
			Build()})
	}
	return nil
}

// ConfirmLoopback records the user's explicit confirmation to proceed
// despite a detected loopback path (spec.md §4.7).
func (s *Session) ConfirmLoopback() {
	s.mu.Lock()
	s.loopbackConfirmed = true
	s.mu.Unlock()
}

// ToggleMonitor flips the live mic monitor connection.
func (s *Session) ToggleMonitor() {
	s.mu.Lock()
	s.monitorConnected = !s.monitorConnected
	s.mu.Unlock()
}
