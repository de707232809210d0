package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Surajmusicproductions/looper-new/internal/audio"
	"github.com/Surajmusicproductions/looper-new/internal/conf"
	"github.com/Surajmusicproductions/looper-new/internal/events"
	"github.com/Surajmusicproductions/looper-new/internal/looptrack"
	"github.com/Surajmusicproductions/looper-new/internal/metrics"
	"github.com/Surajmusicproductions/looper-new/internal/pitch"
	"github.com/Surajmusicproductions/looper-new/internal/recorder"
	"github.com/Surajmusicproductions/looper-new/internal/transport"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func sineBuffer(t *testing.T, n, rate int) *audio.Buffer {
	t.Helper()
	ch := make([]float32, n)
	for i := range ch {
		ch[i] = 0.2
	}
	buf, err := audio.NewBuffer([][]float32{ch}, rate)
	require.NoError(t, err)
	return buf
}

func encodeWAV(t *testing.T, buf *audio.Buffer) []byte {
	t.Helper()
	mem := &audio.MemoryWriteSeeker{}
	require.NoError(t, audio.WAVEncoder().Encode(mem, buf))
	return mem.Bytes()
}

// fullBufferSource delivers data as a single chunk immediately, then
// blocks until ctx is cancelled, mirroring a capture stream that has
// already produced everything the test cares about.
func fullBufferSource(data []byte) recorder.CaptureSource {
	return recorder.MicSource{Open: func(ctx context.Context, out chan<- []byte, errs chan<- error) {
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}}
}

func newTestSession(t *testing.T) (*Session, *fakeClock) {
	t.Helper()
	cfg := conf.Default()
	cfg.Track.UndoStackLimit = 6
	cfg.Overdub.AutoMuteMonitorOnOverdub = false

	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	lease := recorder.NewLease(120*time.Second, clk)

	buf := sineBuffer(t, 4410, 44100)
	data := encodeWAV(t, buf)
	source := fullBufferSource(data)

	rec := recorder.New(source, lease, 120*time.Second)
	mixRec := recorder.New(source, lease, 120*time.Second)

	m := metrics.New(false, nil)
	engine := pitch.NewEngine(cfg.Pitch, m)
	t.Cleanup(engine.Close)

	transportClock := transport.New(clk, cfg.Transport.BarEpsilonMS/1000)

	s := New(cfg, rec, mixRec, source, engine, transportClock, slog.Default(), m)
	t.Cleanup(s.Close)
	return s, clk
}

func waitForTrackState(t *testing.T, s *Session, track int, want looptrack.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snaps, _ := s.Snapshot()
		if snaps[track-1].State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	snaps, _ := s.Snapshot()
	t.Fatalf("track %d never reached state %s, last seen %s", track, want, snaps[track-1].State)
}

func TestSession_Track1RecordCompletesAndSetsMaster(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.Press(1))
	snaps, _ := s.Snapshot()
	assert.Equal(t, looptrack.StateRecording, snaps[0].State)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Press(1))

	waitForTrackState(t, s, 1, looptrack.StatePlaying, 2*time.Second)

	_, transportState := s.Snapshot()
	assert.True(t, transportState.MasterIsSet)
	assert.Greater(t, transportState.MasterDuration, 0.0)
}

func TestSession_DependentTrackRejectedBeforeMasterSet(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.Press(2)
	assert.Error(t, err)
}

func TestSession_DependentTrackWaitsThenRecords(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.Press(1))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Press(1))
	waitForTrackState(t, s, 1, looptrack.StatePlaying, 2*time.Second)

	require.NoError(t, s.Press(2))
	snaps, _ := s.Snapshot()
	assert.Contains(t, []looptrack.State{looptrack.StateWaiting, looptrack.StateRecording}, snaps[1].State)

	waitForTrackState(t, s, 2, looptrack.StateRecording, 2*time.Second)
	require.NoError(t, s.Press(2))
	waitForTrackState(t, s, 2, looptrack.StatePlaying, 2*time.Second)
}

func TestSession_DependentTrackAutoStopsAtBarAlignedLength(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.Press(1))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Press(1))
	waitForTrackState(t, s, 1, looptrack.StatePlaying, 2*time.Second)

	_, transportState := s.Snapshot()
	require.NoError(t, s.Press(2))
	waitForTrackState(t, s, 2, looptrack.StateRecording, 2*time.Second)

	// No second Press here: the capture must finish on its own at
	// master_duration x divider rather than run until the watchdog.
	autoStopDeadline := time.Duration(transportState.MasterDuration*float64(time.Second)) + 500*time.Millisecond
	waitForTrackState(t, s, 2, looptrack.StatePlaying, autoStopDeadline)
}

func TestSession_OverdubAutoFinishesAtLoopBoundary(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.Press(1))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Press(1))
	waitForTrackState(t, s, 1, looptrack.StatePlaying, 2*time.Second)

	require.NoError(t, s.Press(2))
	waitForTrackState(t, s, 2, looptrack.StateRecording, 2*time.Second)
	require.NoError(t, s.Press(2))
	waitForTrackState(t, s, 2, looptrack.StatePlaying, 2*time.Second)

	_, transportState := s.Snapshot()
	require.NoError(t, s.Press(2))
	waitForTrackState(t, s, 2, looptrack.StateOverdub, 2*time.Second)

	// No second Press here: the mix-in capture must finish on its own
	// at loop_duration rather than require a manual finish-overdub.
	autoStopDeadline := time.Duration(transportState.MasterDuration*float64(time.Second)) + 500*time.Millisecond
	waitForTrackState(t, s, 2, looptrack.StatePlaying, autoStopDeadline)
}

func TestSession_EmitsTrackProgressWhilePlaying(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.Press(1))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Press(1))
	waitForTrackState(t, s, 1, looptrack.StatePlaying, 2*time.Second)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-s.Events():
			if e.Kind == events.KindTrackProgress && e.Track == 1 {
				assert.GreaterOrEqual(t, e.Ratio, 0.0)
				return
			}
		case <-deadline:
			t.Fatal("no TrackProgress event observed for track 1")
		}
	}
}

func TestSession_ClearCascadesToAllDependents(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.Press(1))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Press(1))
	waitForTrackState(t, s, 1, looptrack.StatePlaying, 2*time.Second)

	require.NoError(t, s.Press(2))
	waitForTrackState(t, s, 2, looptrack.StateRecording, 2*time.Second)
	require.NoError(t, s.Press(2))
	waitForTrackState(t, s, 2, looptrack.StatePlaying, 2*time.Second)

	require.NoError(t, s.Clear(1))

	snaps, transportState := s.Snapshot()
	for i, snap := range snaps {
		assert.Equal(t, looptrack.StateReady, snap.State, "track %d", i+1)
	}
	assert.False(t, transportState.MasterIsSet)
}

func TestSession_SetDividerRejectsInvalidTrack(t *testing.T) {
	s, _ := newTestSession(t)
	assert.Error(t, s.SetDivider(0, 2))
	assert.NoError(t, s.SetDivider(2, 2))
	snaps, _ := s.Snapshot()
	assert.Equal(t, 2, snaps[1].Divider)
}

func TestSession_EffectForwardingRoundTrip(t *testing.T) {
	s, _ := newTestSession(t)

	eff, err := s.AddEffect(1, looptrack.EffectLowPass, map[string]float64{"cutoff": 800})
	require.NoError(t, err)
	require.NoError(t, s.SetParam(1, eff.ID, "cutoff", 1200))
	require.NoError(t, s.ToggleBypass(1, eff.ID))
	require.NoError(t, s.MoveEffect(1, eff.ID, 0))
	require.NoError(t, s.RemoveEffect(1, eff.ID))

	assert.Error(t, s.RemoveEffect(1, eff.ID), "removing twice must fail")
}

func TestSession_RequestPitchShiftOnEmptyTrackFails(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.RequestPitchShift(1, 3)
	assert.Error(t, err)
}

func TestSession_RequestPitchShiftCompletes(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.Press(1))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Press(1))
	waitForTrackState(t, s, 1, looptrack.StatePlaying, 2*time.Second)

	err := s.RequestPitchShift(1, 3)
	require.NoError(t, err)

	snaps, _ := s.Snapshot()
	assert.False(t, snaps[0].UIDisabled)
	assert.Equal(t, looptrack.StatePlaying, snaps[0].State)
}

func TestSession_MixRecordLifecycle(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.StartMixRecord(20))
	assert.Error(t, s.StartMixRecord(20), "second start while one is in flight must fail")

	s.StopMixRecord()

	deadline := time.Now().Add(2 * time.Second)
	for s.LastMixCapture() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, s.LastMixCapture())
}
