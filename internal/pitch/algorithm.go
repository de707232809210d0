// Package pitch implements the Granular Pitch Engine (C3): an offline,
// duration-preserving overlap-add pitch shifter running on a cancellable
// worker pool (spec.md §4.3). The worker-pool shape is grounded on the
// teacher's analysis/processor worker-queue pattern (workers.go) and its
// hardware-aware sizing on internal/cpuspec (klauspost/cpuid).
package pitch

import (
	"context"
	"math"
)

// ChooseGrainSize implements spec.md §4.3 step 1: grain size depends on
// buffer length and shift magnitude, falling back to the configured
// default otherwise.
func ChooseGrainSize(defaultGrain, bufferLen int, semitones float64) int {
	switch {
	case bufferLen < 22050:
		return 1024
	case math.Abs(semitones) > 8:
		return 4096
	default:
		return defaultGrain
	}
}

// hannWindow computes W[i] = 0.5*(1 - cos(2*pi*i/(G-1))) for i in [0,G).
func hannWindow(g int) []float32 {
	w := make([]float32, g)
	if g == 1 {
		w[0] = 1
		return w
	}
	denom := float64(g - 1)
	for i := 0; i < g; i++ {
		w[i] = float32(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/denom)))
	}
	return w
}

// shiftResult is the outcome of a single-channel shift.
type shiftResult struct {
	samples   []float32
	cancelled bool
}

// shiftChannel runs the overlap-add resynthesis described in spec.md
// §4.3 steps 2-5 on a single channel. onHop is invoked every 32 hops
// with the fraction of hops completed so far within this channel; it
// also doubles as the cooperative cancellation check point via ctx.
func shiftChannel(ctx context.Context, input []float32, semitones float64, grain int, hopRatio float64, onHop func(frac float64)) shiftResult {
	n := len(input)
	if n == 0 {
		return shiftResult{samples: []float32{}}
	}
	if grain < 1 {
		grain = 1
	}

	hop := int(float64(grain) * hopRatio)
	if hop < 1 {
		hop = 1
	}

	window := hannWindow(grain)
	output := make([]float32, n)
	envelope := make([]float32, n)

	r := math.Pow(2, semitones/12)
	halfGrain := grain / 2

	// Pre-compute the total hop count so progress fractions are stable.
	totalHops := 0
	for k := 0; k < n+hop; k += hop {
		totalHops++
	}
	if totalHops == 0 {
		totalHops = 1
	}

	p := 0.0
	hopIdx := 0
	for k := 0; k < n+hop; k += hop {
		base := int(math.Floor(p-float64(halfGrain))) + 0
		for i := 0; i < grain; i++ {
			srcIdx := base + i
			var x float32
			if srcIdx >= 0 && srcIdx < n {
				x = input[srcIdx]
			}
			target := k + i - halfGrain
			if target >= 0 && target < n {
				output[target] += x * window[i]
				envelope[target] += window[i]
			}
		}

		p += r * float64(hop)
		if p > float64(n+grain) {
			p = math.Mod(p, float64(n))
		}

		hopIdx++
		if hopIdx%32 == 0 {
			select {
			case <-ctx.Done():
				return shiftResult{cancelled: true}
			default:
			}
			if onHop != nil {
				onHop(float64(hopIdx) / float64(totalHops))
			}
		}
	}

	for i := 0; i < n; i++ {
		e := envelope[i]
		if e < 1e-8 {
			e = 1e-8
		}
		output[i] /= e
	}

	return shiftResult{samples: output}
}
