package pitch

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Surajmusicproductions/looper-new/internal/audio"
	"github.com/Surajmusicproductions/looper-new/internal/conf"
	"github.com/Surajmusicproductions/looper-new/internal/metrics"
)

func noopMetrics() *metrics.Collector { return metrics.New(false, nil) }

func sineBuffer(n, sampleRate int, freq float64) *audio.Buffer {
	ch := make([]float32, n)
	for i := range ch {
		ch[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	b, _ := audio.NewBuffer([][]float32{ch}, sampleRate)
	return b
}

func testSettings() conf.PitchSettings {
	return conf.PitchSettings{
		GrainSize:    2048,
		HopRatio:     0.25,
		JobTimeoutMS: 45000,
		MaxSemitones: 12,
		PoolSizeHint: 2,
	}
}

func TestChooseGrainSize(t *testing.T) {
	assert.Equal(t, 1024, ChooseGrainSize(2048, 10000, 0))
	assert.Equal(t, 4096, ChooseGrainSize(2048, 48000, 9))
	assert.Equal(t, 2048, ChooseGrainSize(2048, 48000, 3))
}

func TestEngine_DurationInvariance(t *testing.T) {
	engine := NewEngine(testSettings(), noopMetrics())
	defer engine.Close()
	buf := sineBuffer(48000, 48000, 220)

	job := engine.Submit(context.Background(), 0, buf, 5)
	out, cancelled, err := job.Wait()

	require.NoError(t, err)
	require.False(t, cancelled)
	assert.Equal(t, buf.Len(), out.Len())
}

func TestEngine_ZeroSemitonesIsNearIdentity(t *testing.T) {
	engine := NewEngine(testSettings(), noopMetrics())
	defer engine.Close()
	buf := sineBuffer(48000, 48000, 220)

	job := engine.Submit(context.Background(), 0, buf, 0)
	out, cancelled, err := job.Wait()
	require.NoError(t, err)
	require.False(t, cancelled)

	var sumSq float64
	in := buf.Channel(0)
	og := out.Channel(0)
	for i := range in {
		d := float64(in[i] - og[i])
		sumSq += d * d
	}
	rms := math.Sqrt(sumSq / float64(len(in)))
	assert.Less(t, rms, 0.05)
}

func TestEngine_Cancel(t *testing.T) {
	engine := NewEngine(testSettings(), noopMetrics())
	defer engine.Close()
	buf := sineBuffer(480000, 48000, 220)

	job := engine.Submit(context.Background(), 0, buf, 5)
	job.Cancel()
	_, cancelled, err := job.Wait()

	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestEngine_SubmitCancelsPriorJobOnSameTrack(t *testing.T) {
	engine := NewEngine(testSettings(), noopMetrics())
	defer engine.Close()
	buf := sineBuffer(480000, 48000, 220)

	first := engine.Submit(context.Background(), 0, buf, 5)
	second := engine.Submit(context.Background(), 0, buf, -5)

	_, firstCancelled, _ := first.Wait()
	_, secondCancelled, err := second.Wait()

	assert.True(t, firstCancelled)
	require.NoError(t, err)
	assert.False(t, secondCancelled)
}

func TestEngine_ProgressReachesCompletion(t *testing.T) {
	engine := NewEngine(testSettings(), noopMetrics())
	defer engine.Close()
	buf := sineBuffer(96000, 48000, 220)

	job := engine.Submit(context.Background(), 0, buf, 3)

	var last float64
	for p := range job.Progress() {
		last = p.Pct
	}
	_, cancelled, err := job.Wait()
	require.NoError(t, err)
	require.False(t, cancelled)
	assert.GreaterOrEqual(t, last, 0.0)
}

func TestEngine_TimeoutFallsBackInline(t *testing.T) {
	cfg := testSettings()
	cfg.JobTimeoutMS = 1 // force the fallback path almost immediately
	reg := prometheus.NewRegistry()
	engine := NewEngine(cfg, metrics.New(true, reg))
	defer engine.Close()
	buf := sineBuffer(48000, 48000, 220)

	job := engine.Submit(context.Background(), 0, buf, 2)
	out, cancelled, err := job.Wait()

	require.NoError(t, err)
	require.False(t, cancelled)
	assert.Equal(t, buf.Len(), out.Len())

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	var timedOut float64
	for _, mf := range metricFamilies {
		if mf.GetName() == "looper_pitch_jobs_timed_out_total" {
			timedOut = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), timedOut)
}

func TestEngine_ContextCancelledBeforeRun(t *testing.T) {
	engine := NewEngine(testSettings(), noopMetrics())
	defer engine.Close()
	buf := sineBuffer(48000, 48000, 220)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := engine.Submit(ctx, 0, buf, 5)
	_, cancelled, err := job.Wait()
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestEngine_MultiChannel(t *testing.T) {
	engine := NewEngine(testSettings(), noopMetrics())
	defer engine.Close()
	l := make([]float32, 24000)
	r := make([]float32, 24000)
	for i := range l {
		l[i] = float32(math.Sin(2 * math.Pi * 220 * float64(i) / 48000))
		r[i] = float32(math.Sin(2 * math.Pi * 330 * float64(i) / 48000))
	}
	buf, err := audio.NewBuffer([][]float32{l, r}, 48000)
	require.NoError(t, err)

	job := engine.Submit(context.Background(), 0, buf, -3)
	out, cancelled, err := job.Wait()
	require.NoError(t, err)
	require.False(t, cancelled)
	assert.Equal(t, 2, out.NumChannels())
	assert.Equal(t, buf.Len(), out.Len())
}

func TestJob_ProgressChannelClosesEventually(t *testing.T) {
	engine := NewEngine(testSettings(), noopMetrics())
	defer engine.Close()
	buf := sineBuffer(24000, 48000, 220)
	job := engine.Submit(context.Background(), 0, buf, 1)

	done := make(chan struct{})
	go func() {
		for range job.Progress() {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("progress channel never closed")
	}
}
