package audio

import (
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
)

// Encoder is the minimal export surface spec.md §6 requires: a WAV
// encoder (canonical RIFF/PCM16 header, the "preferred path") plus room
// for a compressed fallback encoder. No compressed codec library is
// present anywhere in the retrieval pack, so Encoder has a single real
// implementation (wavEncoder); see SPEC_FULL.md.
type Encoder interface {
	Encode(w io.WriteSeeker, b *Buffer) error
}

type wavEncoder struct{}

// WAVEncoder returns the canonical PCM16 WAV encoder backed by go-audio/wav.
func WAVEncoder() Encoder { return wavEncoder{} }

// Encode writes b to w as a canonical RIFF/WAVE PCM16LE file:
// "RIFF|size|WAVE|fmt |16|1|channels|rate|byterate|blockalign|16|data|size".
func (wavEncoder) Encode(w io.WriteSeeker, b *Buffer) error {
	numChans := b.NumChannels()
	if numChans == 0 {
		numChans = 1
	}
	enc := wav.NewEncoder(w, b.SampleRate(), 16, numChans, 1)

	n := b.Len()
	interleaved := make([]int, n*numChans)
	for c := 0; c < numChans; c++ {
		ch := b.Channel(c)
		for i := 0; i < n; i++ {
			interleaved[i*numChans+c] = floatToPCM16(sampleAt(ch, i))
		}
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChans, SampleRate: b.SampleRate()},
		Data:           interleaved,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return apperrors.New(err).Category(apperrors.CategoryResource).Context("operation", "wav_encode").Build()
	}
	if err := enc.Close(); err != nil {
		return apperrors.New(err).Category(apperrors.CategoryResource).Context("operation", "wav_close").Build()
	}
	return nil
}

// DecodeWAV decodes raw WAV bytes (as produced by a capture stream, per
// spec.md §4.2 "on stop, concatenated raw frames are decoded") into a
// Buffer normalized to [-1, 1] float32 samples.
func DecodeWAV(r io.Reader) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, apperrors.Newf("wav: not a valid WAV stream").
			Kind(apperrors.KindDecodeError).
			Category(apperrors.CategoryDecode).
			Build()
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, apperrors.New(err).
			Kind(apperrors.KindDecodeError).
			Category(apperrors.CategoryDecode).
			Context("operation", "decode_pcm").
			Build()
	}

	numChans := pcm.Format.NumChannels
	if numChans <= 0 {
		numChans = 1
	}
	n := len(pcm.Data) / numChans
	channels := make([][]float32, numChans)
	for c := 0; c < numChans; c++ {
		channels[c] = make([]float32, n)
	}

	maxAmplitude := float64(int64(1) << uint(pcm.SourceBitDepth-1))
	if pcm.SourceBitDepth <= 0 {
		maxAmplitude = 32768
	}
	for i := 0; i < n; i++ {
		for c := 0; c < numChans; c++ {
			sample := pcm.Data[i*numChans+c]
			channels[c][i] = float32(float64(sample) / maxAmplitude)
		}
	}

	return WithChannels(channels, pcm.Format.SampleRate), nil
}

func sampleAt(ch []float32, i int) float32 {
	if i < 0 || i >= len(ch) {
		return 0
	}
	return ch[i]
}

func floatToPCM16(v float32) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(math.Round(float64(v) * 32767))
}

// MemoryWriteSeeker is an in-memory io.WriteSeeker, useful for
// encoding a WAV export before it is handed to a destination (a file,
// an upload, a test assertion) without touching the filesystem.
type MemoryWriteSeeker struct {
	buf []byte
	pos int64
}

func (m *MemoryWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *MemoryWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.buf)) + offset
	}
	m.pos = newPos
	return newPos, nil
}

// Bytes returns the encoded contents accumulated so far.
func (m *MemoryWriteSeeker) Bytes() []byte { return m.buf }

