// Package metrics wraps github.com/prometheus/client_golang counters
// and gauges for the loop engine behind an enabled/no-op guard,
// modeled on the teacher's audiocore.MetricsCollector /
// internal/observability/metrics pattern: a small struct of
// pre-registered collectors, safe to call even when metrics are
// disabled (every method becomes a no-op).
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes the counters and gauges spec.md's domain calls
// for: recordings, overdubs, pitch job outcomes, and per-track state.
type Collector struct {
	enabled bool

	recordingsStarted  prometheus.Counter
	recordingsStopped  prometheus.Counter
	overdubsApplied    prometheus.Counter
	pitchJobsSubmitted prometheus.Counter
	pitchJobsCancelled prometheus.Counter
	pitchJobsTimedOut  prometheus.Counter
	trackState         *prometheus.GaugeVec
}

// New builds a Collector. When enabled is false every method is a
// no-op and no collectors are registered. registry is the
// prometheus.Registerer collectors are registered against; pass a
// fresh *prometheus.Registry per Collector in tests to avoid
// duplicate-registration panics against the global default registry.
func New(enabled bool, registry prometheus.Registerer) *Collector {
	if !enabled {
		return &Collector{enabled: false}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Collector{
		enabled: true,
		recordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "looper", Name: "recordings_started_total",
			Help: "Recorder.Start calls that acquired the lease.",
		}),
		recordingsStopped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "looper", Name: "recordings_stopped_total",
			Help: "Recordings that decoded successfully.",
		}),
		overdubsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "looper", Name: "overdubs_applied_total",
			Help: "Overdub mixes applied to a track's loop buffer.",
		}),
		pitchJobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "looper", Name: "pitch_jobs_submitted_total",
		}),
		pitchJobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "looper", Name: "pitch_jobs_cancelled_total",
		}),
		pitchJobsTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "looper", Name: "pitch_jobs_timed_out_total",
		}),
		trackState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "looper", Name: "track_state",
			Help: "Numeric state code of each track (see looptrack.State ordering).",
		}, []string{"track"}),
	}
}

func (c *Collector) RecordingStarted() {
	if c.enabled {
		c.recordingsStarted.Inc()
	}
}

func (c *Collector) RecordingStopped() {
	if c.enabled {
		c.recordingsStopped.Inc()
	}
}

func (c *Collector) OverdubApplied() {
	if c.enabled {
		c.overdubsApplied.Inc()
	}
}

func (c *Collector) PitchJobSubmitted() {
	if c.enabled {
		c.pitchJobsSubmitted.Inc()
	}
}

func (c *Collector) PitchJobCancelled() {
	if c.enabled {
		c.pitchJobsCancelled.Inc()
	}
}

func (c *Collector) PitchJobTimedOut() {
	if c.enabled {
		c.pitchJobsTimedOut.Inc()
	}
}

// stateCode maps a looptrack.State string to a stable numeric code for
// the track_state gauge.
var stateCode = map[string]float64{
	"ready":     0,
	"waiting":   1,
	"recording": 2,
	"playing":   3,
	"overdub":   4,
	"stopped":   5,
}

func (c *Collector) SetTrackState(track int, state string) {
	if !c.enabled {
		return
	}
	code, ok := stateCode[state]
	if !ok {
		code = -1
	}
	c.trackState.WithLabelValues(strconv.Itoa(track)).Set(code)
}
