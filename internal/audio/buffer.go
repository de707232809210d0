// Package audio implements the Audio Buffer (C1) and Resampler (C2)
// components of the loop engine: owned multichannel PCM storage and
// offline sample-rate conversion. Grounded on the teacher's
// internal/audiocore buffer/pool conventions (error builder, slog) and
// on internal/myaudio's documented cubic-interpolation resampler
// contract (resample_test.go) — the resample.go implementation itself
// was not present in the retrieval pack, so ResampleAudio here is a
// from-scratch cubic Hermite (Catmull-Rom) implementation built to
// satisfy that documented contract.
package audio

import (
	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
)

// Buffer is an owned, immutable-once-built multichannel PCM sample
// sequence at a fixed sample rate. Channel data is stored as separate
// float32 slices so per-channel reads are allocation-free.
type Buffer struct {
	channels   [][]float32
	sampleRate int
}

// NewBuffer constructs a Buffer from channel data, validating that all
// channels share a length and the sample rate is positive (spec.md §3).
func NewBuffer(channels [][]float32, sampleRate int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, apperrors.New(nil).
			Category(apperrors.CategoryValidation).
			Context("sample_rate", sampleRate).
			Build()
	}
	if len(channels) == 0 {
		return &Buffer{channels: nil, sampleRate: sampleRate}, nil
	}
	n := len(channels[0])
	for i, ch := range channels {
		if len(ch) != n {
			return nil, apperrors.Newf("channel %d has length %d, expected %d", i, len(ch), n).
				Category(apperrors.CategoryValidation).
				Build()
		}
	}
	return &Buffer{channels: channels, sampleRate: sampleRate}, nil
}

// SilentBuffer allocates an all-zero buffer with the given shape.
func SilentBuffer(numChannels, length, sampleRate int) *Buffer {
	channels := make([][]float32, numChannels)
	for i := range channels {
		channels[i] = make([]float32, length)
	}
	return &Buffer{channels: channels, sampleRate: sampleRate}
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int { return len(b.channels) }

// Len returns the sample count per channel (N in spec.md §3).
func (b *Buffer) Len() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

// SampleRate returns R.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Duration returns N/R seconds.
func (b *Buffer) Duration() float64 {
	if b.sampleRate == 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.sampleRate)
}

// Channel returns a read-only view of channel c's samples. Callers must
// not mutate the returned slice; use Clone to get a mutable copy.
func (b *Buffer) Channel(c int) []float32 {
	if c < 0 || c >= len(b.channels) {
		return nil
	}
	return b.channels[c]
}

// Clone performs a deep copy, used for undo snapshots (spec.md §4.5, §9).
func (b *Buffer) Clone() *Buffer {
	channels := make([][]float32, len(b.channels))
	for i, ch := range b.channels {
		cp := make([]float32, len(ch))
		copy(cp, ch)
		channels[i] = cp
	}
	return &Buffer{channels: channels, sampleRate: b.sampleRate}
}

// WithChannels returns a new Buffer that takes the given channel slices
// as its storage at sampleRate, without copying or validating them. Used by
// components (pitch engine, mixer) that produce a replacement buffer.
func WithChannels(channels [][]float32, sampleRate int) *Buffer {
	return &Buffer{channels: channels, sampleRate: sampleRate}
}
