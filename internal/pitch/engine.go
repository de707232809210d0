package pitch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/audio"
	"github.com/Surajmusicproductions/looper-new/internal/conf"
	"github.com/Surajmusicproductions/looper-new/internal/metrics"
)

// ProgressMsg reports fractional completion (0..1) of a pitch job.
type ProgressMsg struct {
	JobID string
	Pct   float64
}

type jobResult struct {
	buf       *audio.Buffer
	cancelled bool
	err       error
}

// Job is a handle to an in-flight or completed pitch-shift operation.
// At most one Job is ever in flight per track (Engine.Submit cancels
// any predecessor on the same track before starting a new one).
type Job struct {
	ID string

	ctx      context.Context
	cancelFn context.CancelFunc

	progressCh chan ProgressMsg
	resultCh   chan jobResult
	once       sync.Once
}

// Cancel requests cooperative cancellation. The job's worker checks
// for cancellation between channels and every 32 hops.
func (j *Job) Cancel() { j.cancelFn() }

// Progress streams fractional completion updates. It is closed once
// the job finishes, is cancelled, or falls back to inline execution.
func (j *Job) Progress() <-chan ProgressMsg { return j.progressCh }

// Wait blocks until the job completes, returning the shifted buffer,
// whether it was cancelled, and any error encountered.
func (j *Job) Wait() (*audio.Buffer, bool, error) {
	res := <-j.resultCh
	return res.buf, res.cancelled, res.err
}

func (j *Job) finish(res jobResult) {
	j.once.Do(func() {
		close(j.progressCh)
		j.resultCh <- res
	})
}

// Engine is the Granular Pitch Engine (C3). It runs pitch-shift jobs on
// a fixed worker pool sized to the host's logical cores, enforcing a
// per-job timeout beyond which it falls back to running the shift
// inline so a stuck pool never blocks a caller forever.
type Engine struct {
	cfg  conf.PitchSettings
	pool *pool
	m    *metrics.Collector

	mu          sync.Mutex
	jobsByTrack map[int]*Job
}

// NewEngine builds an Engine. Pool size follows cfg.PoolSizeHint when
// positive, otherwise max(1, logical_cores-1) via cpuid, matching the
// teacher's internal/cpuspec worker sizing. m may be a disabled
// Collector (metrics.New(false, nil)); its methods are no-ops then.
func NewEngine(cfg conf.PitchSettings, m *metrics.Collector) *Engine {
	size := cfg.PoolSizeHint
	if size <= 0 {
		size = cpuid.CPU.LogicalCores - 1
		if size < 1 {
			size = 1
		}
	}
	return &Engine{
		cfg:         cfg,
		pool:        newPool(size),
		m:           m,
		jobsByTrack: make(map[int]*Job),
	}
}

// Close shuts down the worker pool. It must be called once, after all
// in-flight jobs have been waited on.
func (e *Engine) Close() { e.pool.close() }

// CancelTrack cancels the in-flight job for trackIndex, if any. It is
// a no-op if no job is currently running for that track.
func (e *Engine) CancelTrack(trackIndex int) {
	e.mu.Lock()
	job, ok := e.jobsByTrack[trackIndex]
	e.mu.Unlock()
	if ok {
		job.Cancel()
	}
}

// Submit pitch-shifts buf by semitones for the given track index. Any
// job already in flight for that track is cancelled first (spec.md
// §4.3: "at most one in-flight job per track").
func (e *Engine) Submit(parent context.Context, trackIndex int, buf *audio.Buffer, semitones float64) *Job {
	ctx, cancel := context.WithCancel(parent)
	job := &Job{
		ID:         uuid.NewString(),
		ctx:        ctx,
		cancelFn:   cancel,
		progressCh: make(chan ProgressMsg, 8),
		resultCh:   make(chan jobResult, 1),
	}

	e.mu.Lock()
	if prev, ok := e.jobsByTrack[trackIndex]; ok {
		prev.Cancel()
	}
	e.jobsByTrack[trackIndex] = job
	e.mu.Unlock()

	go e.run(job, trackIndex, buf, semitones)
	return job
}

func (e *Engine) run(job *Job, trackIndex int, buf *audio.Buffer, semitones float64) {
	defer func() {
		e.mu.Lock()
		if e.jobsByTrack[trackIndex] == job {
			delete(e.jobsByTrack, trackIndex)
		}
		e.mu.Unlock()
	}()

	timeoutMS := e.cfg.JobTimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = 45000
	}
	timeout := time.Duration(timeoutMS) * time.Millisecond

	pooled := make(chan jobResult, 1)
	e.pool.submit(func() {
		pooled <- e.shiftBuffer(job, buf, semitones)
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pooled:
		job.finish(res)
	case <-job.ctx.Done():
		job.finish(<-pooled)
	case <-timer.C:
		// Pool job is stuck behind other work; run the shift inline so
		// the caller is never blocked indefinitely, then let the
		// original pool goroutine finish in the background.
		e.m.PitchJobTimedOut()
		res := e.shiftBuffer(job, buf, semitones)
		job.finish(res)
		go func() { <-pooled }()
	}
}

func (e *Engine) shiftBuffer(job *Job, buf *audio.Buffer, semitones float64) jobResult {
	grain := ChooseGrainSize(e.cfg.GrainSize, buf.Len(), semitones)
	hopRatio := e.cfg.HopRatio
	if hopRatio <= 0 || hopRatio >= 1 {
		hopRatio = 0.25
	}

	n := buf.NumChannels()
	out := make([][]float32, n)
	for c := 0; c < n; c++ {
		select {
		case <-job.ctx.Done():
			return jobResult{cancelled: true}
		default:
		}

		res := shiftChannel(job.ctx, buf.Channel(c), semitones, grain, hopRatio, func(frac float64) {
			pct := (float64(c) + frac) / float64(n)
			select {
			case job.progressCh <- ProgressMsg{JobID: job.ID, Pct: pct}:
			default:
			}
		})
		if res.cancelled {
			return jobResult{cancelled: true}
		}
		out[c] = res.samples
	}

	shifted, err := audio.NewBuffer(out, buf.SampleRate())
	if err != nil {
		return jobResult{err: apperrors.New(err).Component("pitch").Category(apperrors.CategoryPitch).Kind(apperrors.KindPitchFailed).Build()}
	}
	return jobResult{buf: shifted}
}
