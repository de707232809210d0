package audio

import (
	"math"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
)

// ResampleAudio converts a single channel of samples from originalRate to
// targetRate using cubic Hermite (Catmull-Rom) interpolation, offline.
// When originalRate == targetRate the input slice is returned unmodified
// (no allocation) — this fast path matters because §4.5 of the spec calls
// resampling only "if R_O != R".
func ResampleAudio(input []float32, originalRate, targetRate int) ([]float32, error) {
	if originalRate <= 0 || targetRate <= 0 {
		return nil, apperrors.Newf("resample: rates must be positive (orig=%d target=%d)", originalRate, targetRate).
			Category(apperrors.CategoryValidation).
			Build()
	}
	if originalRate == targetRate {
		return input, nil
	}
	if len(input) == 0 {
		return []float32{}, nil
	}

	outLen := int(math.Round(float64(len(input)) * float64(targetRate) / float64(originalRate)))
	if outLen < 0 {
		outLen = 0
	}
	out := make([]float32, outLen)

	ratio := float64(originalRate) / float64(targetRate)
	last := len(input) - 1

	clampAt := func(i int) float32 {
		if i < 0 {
			i = 0
		} else if i > last {
			i = last
		}
		return input[i]
	}

	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(math.Floor(srcPos))
		t := float32(srcPos - float64(idx))

		p0 := clampAt(idx - 1)
		p1 := clampAt(idx)
		p2 := clampAt(idx + 1)
		p3 := clampAt(idx + 2)

		a0 := -0.5*p0 + 1.5*p1 - 1.5*p2 + 0.5*p3
		a1 := p0 - 2.5*p1 + 2*p2 - 0.5*p3
		a2 := -0.5*p0 + 0.5*p2
		a3 := p1

		out[i] = ((a0*t+a1)*t+a2)*t + a3
	}

	return out, nil
}

// ResampleBuffer resamples every channel of b to targetRate, returning a
// new Buffer. If b is already at targetRate, b itself is returned.
func ResampleBuffer(b *Buffer, targetRate int) (*Buffer, error) {
	if b.SampleRate() == targetRate {
		return b, nil
	}
	channels := make([][]float32, b.NumChannels())
	for i := 0; i < b.NumChannels(); i++ {
		resampled, err := ResampleAudio(b.Channel(i), b.SampleRate(), targetRate)
		if err != nil {
			return nil, err
		}
		channels[i] = resampled
	}
	return WithChannels(channels, targetRate), nil
}
