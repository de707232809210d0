package recorder

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
	"github.com/Surajmusicproductions/looper-new/internal/audio"
)

// MalgoMicSource is a CaptureSource backed by the host's default
// capture device via malgo, grounded on the teacher's
// internal/audiocore/sources/malgo package (backend selection per
// platform, DeviceCallbacks.Data feeding a buffer). Unlike the
// teacher's streaming AudioSource, this CaptureSource buffers raw
// int16 frames for the lifetime of ctx and hands back a single
// WAV-framed chunk once capture stops, matching the
// accumulate-then-decode contract every Recorder caller expects.
type MalgoMicSource struct {
	SampleRate int
	Channels   int
}

func (m MalgoMicSource) Start(ctx context.Context) (<-chan []byte, <-chan error) {
	data := make(chan []byte, 1)
	errs := make(chan error, 1)

	sampleRate := m.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	channels := m.Channels
	if channels <= 0 {
		channels = 1
	}

	go m.run(ctx, sampleRate, channels, data, errs)
	return data, errs
}

func (m MalgoMicSource) run(ctx context.Context, sampleRate, channels int, data chan<- []byte, errs chan<- error) {
	defer close(data)

	backend, err := backendForPlatform()
	if err != nil {
		errs <- err
		return
	}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		errs <- wrapMalgoErr(err, "init_context")
		return
	}
	defer func() { _ = malgoCtx.Uninit() }()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	var mu sync.Mutex
	var frames []int16

	onData := func(_, pSamples []byte, frameCount uint32) {
		n := int(frameCount) * channels
		mu.Lock()
		defer mu.Unlock()
		for i := 0; i < n && i*2+1 < len(pSamples); i++ {
			frames = append(frames, int16(binary.LittleEndian.Uint16(pSamples[i*2:i*2+2])))
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		errs <- wrapMalgoErr(err, "init_device")
		return
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		errs <- wrapMalgoErr(err, "start_device")
		return
	}

	<-ctx.Done()
	_ = device.Stop()

	mu.Lock()
	captured := make([]int16, len(frames))
	copy(captured, frames)
	mu.Unlock()

	frameTotal := len(captured) / channels
	chans := make([][]float32, channels)
	for c := 0; c < channels; c++ {
		chans[c] = make([]float32, frameTotal)
	}
	for i := 0; i < frameTotal; i++ {
		for c := 0; c < channels; c++ {
			chans[c][i] = float32(captured[i*channels+c]) / 32768
		}
	}

	buf, err := audio.NewBuffer(chans, sampleRate)
	if err != nil {
		return
	}
	mem := &audio.MemoryWriteSeeker{}
	if err := audio.WAVEncoder().Encode(mem, buf); err != nil {
		return
	}
	data <- mem.Bytes()
}

func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, apperrors.New(nil).
			Component("recorder").
			Category(apperrors.CategoryRecorder).
			Kind(apperrors.KindMicUnavailable).
			Context("os", runtime.GOOS).
			Build()
	}
}

func wrapMalgoErr(err error, op string) error {
	return apperrors.New(err).
		Component("recorder").
		Category(apperrors.CategoryRecorder).
		Kind(apperrors.KindMicUnavailable).
		Context("operation", op).
		Build()
}
