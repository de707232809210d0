package recorder

import (
	"math"

	"github.com/smallnest/ringbuffer"
)

// monitorRing is a small fixed-capacity byte ring used to buffer the
// loopback probe's capture bytes, without growing unbounded the way a plain append-slice would
// across a long-running session. Grounded on the teacher's
// myaudio ring buffers (analysis/save pre-roll buffers) built on the
// same library.
type monitorRing struct {
	rb *ringbuffer.RingBuffer
}

func newMonitorRing(capacityBytes int) *monitorRing {
	return &monitorRing{rb: ringbuffer.New(capacityBytes)}
}

func (m *monitorRing) Write(p []byte) {
	_, _ = m.rb.Write(p)
}

func (m *monitorRing) Bytes() []byte {
	return m.rb.Bytes()
}

func (m *monitorRing) Reset() {
	m.rb.Reset()
}

// rmsOf computes the root-mean-square level of a float32 PCM signal,
// used by the loopback probe (spec.md §4.4) to compare captured mic
// energy against LOOPBACK_RMS_THRESHOLD.
func rmsOf(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
