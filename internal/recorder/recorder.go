package recorder

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/audio"
)

// Handle is the caller-visible reference to an in-flight recording
// (spec.md §4.2: start(...) -> handle).
type Handle struct {
	ID string

	cancel  context.CancelFunc
	aborted atomic.Bool
	done    chan struct{}
}

// Stop requests a normal stop: the recorder decodes whatever has been
// captured so far and reports it via onStop.
func (h *Handle) Stop() { h.cancel() }

// Abort discards the in-flight capture; neither onStop nor onError is
// invoked, matching the Recording --Stop--> Ready transition that
// throws away the buffer (spec.md §4.4).
func (h *Handle) Abort() {
	h.aborted.Store(true)
	h.cancel()
}

// Wait blocks until the recording's goroutine has fully unwound and
// the lease has been released.
func (h *Handle) Wait() { <-h.done }

// Recorder is the Recorder (C5): enforces the process-wide Recording
// Lease, a watchdog timeout, and microphone-only source selection.
type Recorder struct {
	source        CaptureSource
	lease         *Lease
	globalTimeout time.Duration // ceiling applied to every watchdog (spec.md §4.2, §6)
}

// New builds a Recorder. globalTimeout is RECORDER_GLOBAL_TIMEOUT_MS
// from configuration (default 120s), the hard ceiling on any single
// capture's watchdog.
func New(source CaptureSource, lease *Lease, globalTimeout time.Duration) *Recorder {
	if globalTimeout <= 0 {
		globalTimeout = 120 * time.Second
	}
	return &Recorder{source: source, lease: lease, globalTimeout: globalTimeout}
}

// Start begins a capture expected to last expectedMS milliseconds. It
// fails immediately with RecorderBusy if the lease is already held by
// a non-expired holder. onData streams raw captured chunks as they
// arrive; onStop receives the decoded Audio Buffer on a normal stop;
// onError receives MicUnavailable or DecodeError.
func (r *Recorder) Start(parent context.Context, expectedMS int, onData func([]byte), onStop func(*audio.Buffer), onError func(error)) (*Handle, error) {
	token, ok := r.lease.Acquire()
	if !ok {
		return nil, apperrors.New(nil).
			Component("recorder").
			Category(apperrors.CategoryRecorder).
			Kind(apperrors.KindRecorderBusy).
			Build()
	}

	watchdog := time.Duration(expectedMS+2000) * time.Millisecond
	if watchdog > r.globalTimeout {
		watchdog = r.globalTimeout
	}

	ctx, cancel := context.WithTimeout(parent, watchdog)
	handle := &Handle{ID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	go r.run(ctx, handle, token, onData, onStop, onError)

	return handle, nil
}

func (r *Recorder) run(ctx context.Context, handle *Handle, token string, onData func([]byte), onStop func(*audio.Buffer), onError func(error)) {
	defer close(handle.done)
	defer handle.cancel()
	defer r.lease.Release(token)

	dataCh, errCh := r.source.Start(ctx)
	var raw []byte

loop:
	for {
		select {
		case chunk, open := <-dataCh:
			if !open {
				dataCh = nil
				continue
			}
			raw = append(raw, chunk...)
			if onData != nil {
				onData(chunk)
			}
		case err := <-errCh:
			if err == nil {
				continue
			}
			if onError != nil {
				onError(apperrors.New(err).
					Component("recorder").
					Category(apperrors.CategoryRecorder).
					Kind(apperrors.KindMicUnavailable).
					Build())
			}
			return
		case <-ctx.Done():
			break loop
		}
	}

	if handle.aborted.Load() {
		return
	}

	buf, err := audio.DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		if onError != nil {
			onError(apperrors.New(err).
				Component("recorder").
				Category(apperrors.CategoryDecode).
				Kind(apperrors.KindDecodeError).
				Build())
		}
		return
	}
	if onStop != nil {
		onStop(buf)
	}
}
