// Package mixer implements the Overdub Mixer (C7): spec.md §4.5's fixed
// policy for summing a freshly captured overdub into an existing loop
// buffer. Grounded on the teacher's buffer-arithmetic helpers in
// internal/myaudio (channel-wise accumulation with hard clipping)
// generalized from its fixed-format analysis buffers to arbitrary
// channel counts and sample rates.
package mixer

import (
	"github.com/Surajmusicproductions/looper-new/internal/audio"
)

// Mix sums overdub o into existing loop buffer l under spec.md §4.5's
// policy: resample mismatch reconciliation, length-fit (truncate or,
// if allowWrapOverdub, wrap), channel-count union, and hard clipping
// to [-1, 1]. loop_duration (governed by l's length) is unchanged: the
// result always has l's length and sample rate.
func Mix(l, o *audio.Buffer, allowWrapOverdub bool) (*audio.Buffer, error) {
	if o.SampleRate() != l.SampleRate() {
		resampled, err := audio.ResampleBuffer(o, l.SampleRate())
		if err != nil {
			return nil, err
		}
		o = resampled
	}

	n := l.Len()
	numChans := l.NumChannels()
	if o.NumChannels() > numChans {
		numChans = o.NumChannels()
	}

	out := make([][]float32, numChans)
	for c := 0; c < numChans; c++ {
		var lch, och []float32
		if c < l.NumChannels() {
			lch = l.Channel(c)
		}
		if c < o.NumChannels() {
			och = o.Channel(c)
		}

		row := make([]float32, n)
		for i := 0; i < n; i++ {
			var lv float32
			if i < len(lch) {
				lv = lch[i]
			}

			var ov float32
			if len(och) > 0 {
				switch {
				case allowWrapOverdub:
					ov = och[i%len(och)]
				case i < len(och):
					ov = och[i]
				}
			}

			sum := lv + ov
			switch {
			case sum > 1:
				sum = 1
			case sum < -1:
				sum = -1
			}
			row[i] = sum
		}
		out[c] = row
	}

	return audio.NewBuffer(out, l.SampleRate())
}
