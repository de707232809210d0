package recorder

import (
	"bytes"
	"context"
	"time"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/audio"
)

// DefaultProbeBurst is the loopback probe's burst duration (spec.md
// §4.4: "play a 120 ms sine burst through the master bus").
const DefaultProbeBurst = 120 * time.Millisecond

// RunLoopbackProbe plays a short burst through playBurst while
// capturing from source, then measures the captured RMS against
// threshold. Session.RunLoopbackProbe calls it; nothing runs it
// automatically at session start (looperd serve does not call it).
// detected=true means the caller must require user confirmation before
// arming any overdub.
func RunLoopbackProbe(parent context.Context, source CaptureSource, playBurst func(), burstDuration time.Duration, threshold float64) (rms float64, detected bool, err error) {
	if burstDuration <= 0 {
		burstDuration = DefaultProbeBurst
	}

	ctx, cancel := context.WithTimeout(parent, burstDuration)
	defer cancel()

	dataCh, errCh := source.Start(ctx)
	ring := newMonitorRing(1 << 20)

	if playBurst != nil {
		playBurst()
	}

loop:
	for {
		select {
		case chunk, open := <-dataCh:
			if !open {
				dataCh = nil
				continue
			}
			ring.Write(chunk)
		case e := <-errCh:
			if e == nil {
				continue
			}
			return 0, false, apperrors.New(e).
				Component("recorder").
				Category(apperrors.CategoryRecorder).
				Kind(apperrors.KindMicUnavailable).
				Build()
		case <-ctx.Done():
			break loop
		}
	}

	buf, decErr := audio.DecodeWAV(bytes.NewReader(ring.Bytes()))
	if decErr != nil {
		return 0, false, apperrors.New(decErr).
			Component("recorder").
			Category(apperrors.CategoryDecode).
			Kind(apperrors.KindDecodeError).
			Build()
	}

	var all []float32
	for c := 0; c < buf.NumChannels(); c++ {
		all = append(all, buf.Channel(c)...)
	}
	rms = rmsOf(all)
	detected = rms > threshold
	return rms, detected, nil
}
