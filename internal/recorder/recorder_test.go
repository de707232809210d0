package recorder

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Surajmusicproductions/looper-new/internal/audio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func encodeWAV(t *testing.T, buf *audio.Buffer) []byte {
	t.Helper()
	mem := &audio.MemoryWriteSeeker{}
	require.NoError(t, audio.WAVEncoder().Encode(mem, buf))
	return mem.Bytes()
}

func chunkedSource(data []byte, chunkSize int) CaptureSource {
	return MicSource{Open: func(ctx context.Context, out chan<- []byte, errs chan<- error) {
		for i := 0; i < len(data); i += chunkSize {
			end := i + chunkSize
			if end > len(data) {
				end = len(data)
			}
			select {
			case <-ctx.Done():
				return
			case out <- data[i:end]:
			}
		}
	}}
}

func blockingSource() CaptureSource {
	return MicSource{Open: func(ctx context.Context, out chan<- []byte, errs chan<- error) {
		<-ctx.Done()
	}}
}

func erroringSource(err error) CaptureSource {
	return MicSource{Open: func(ctx context.Context, out chan<- []byte, errs chan<- error) {
		errs <- err
	}}
}

func sineBuffer(t *testing.T, n, rate int) *audio.Buffer {
	t.Helper()
	ch := make([]float32, n)
	for i := range ch {
		ch[i] = 0.25
	}
	buf, err := audio.NewBuffer([][]float32{ch}, rate)
	require.NoError(t, err)
	return buf
}

func TestLease_Uniqueness(t *testing.T) {
	lease := NewLease(120*time.Second, nil)
	rec := New(blockingSource(), lease, 120*time.Second)

	h1, err := rec.Start(context.Background(), 100, nil, nil, nil)
	require.NoError(t, err)

	_, err = rec.Start(context.Background(), 100, nil, nil, nil)
	require.Error(t, err)

	h1.Abort()
	h1.Wait()

	h2, err := rec.Start(context.Background(), 100, nil, nil, nil)
	require.NoError(t, err)
	h2.Abort()
	h2.Wait()
}

func TestRecorder_NormalStopDecodes(t *testing.T) {
	buf := sineBuffer(t, 4410, 44100)
	data := encodeWAV(t, buf)

	lease := NewLease(120*time.Second, nil)
	rec := New(chunkedSource(data, len(data)), lease, 120*time.Second)

	stopped := make(chan *audio.Buffer, 1)
	h, err := rec.Start(context.Background(), 100, nil, func(b *audio.Buffer) { stopped <- b }, func(error) {
		t.Fatal("unexpected error callback")
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	h.Stop()
	h.Wait()

	select {
	case b := <-stopped:
		assert.Equal(t, 44100, b.SampleRate())
	case <-time.After(2 * time.Second):
		t.Fatal("onStop never called")
	}

	assert.False(t, lease.Held())
}

func TestRecorder_AbortDiscardsBuffer(t *testing.T) {
	buf := sineBuffer(t, 4410, 44100)
	data := encodeWAV(t, buf)

	lease := NewLease(120*time.Second, nil)
	rec := New(chunkedSource(data, 256), lease, 120*time.Second)

	h, err := rec.Start(context.Background(), 100, nil,
		func(*audio.Buffer) { t.Fatal("onStop must not fire on abort") },
		func(error) { t.Fatal("onError must not fire on abort") },
	)
	require.NoError(t, err)

	h.Abort()
	h.Wait()

	assert.False(t, lease.Held())
}

func TestRecorder_DecodeErrorSurfaces(t *testing.T) {
	garbage := []byte("not a wav stream at all")
	lease := NewLease(120*time.Second, nil)
	rec := New(chunkedSource(garbage, len(garbage)), lease, 120*time.Second)

	errs := make(chan error, 1)
	h, err := rec.Start(context.Background(), 50, nil, func(*audio.Buffer) {
		t.Fatal("onStop must not fire on decode failure")
	}, func(e error) { errs <- e })
	require.NoError(t, err)

	h.Stop()
	h.Wait()

	select {
	case e := <-errs:
		require.Error(t, e)
	case <-time.After(2 * time.Second):
		t.Fatal("onError never called")
	}
}

func TestRecorder_MicUnavailable(t *testing.T) {
	lease := NewLease(120*time.Second, nil)
	rec := New(erroringSource(assertErr{}), lease, 120*time.Second)

	errs := make(chan error, 1)
	h, err := rec.Start(context.Background(), 100, nil, nil, func(e error) { errs <- e })
	require.NoError(t, err)
	h.Wait()

	select {
	case e := <-errs:
		require.Error(t, e)
	case <-time.After(2 * time.Second):
		t.Fatal("onError never called")
	}

	assert.False(t, lease.Held())
}

func TestRecorder_WatchdogForcesStop(t *testing.T) {
	lease := NewLease(120*time.Second, nil)
	rec := New(blockingSource(), lease, 120*time.Second)

	h, err := rec.Start(context.Background(), 10, nil, func(*audio.Buffer) {}, func(error) {})
	require.NoError(t, err)

	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatal("watchdog never forced completion")
	}

	assert.False(t, lease.Held())
}

func TestLoopbackProbe_DetectsAboveThreshold(t *testing.T) {
	buf := sineBuffer(t, 1200, 44100) // 0.25 RMS constant signal
	data := encodeWAV(t, buf)

	rms, detected, err := RunLoopbackProbe(context.Background(), chunkedSource(data, len(data)), func() {}, 20*time.Millisecond, 0.02)
	require.NoError(t, err)
	assert.Greater(t, rms, 0.02)
	assert.True(t, detected)
}

func TestLoopbackProbe_BelowThreshold(t *testing.T) {
	silence, err := audio.NewBuffer([][]float32{make([]float32, 1200)}, 44100)
	require.NoError(t, err)
	data := encodeWAV(t, silence)

	rms, detected, err := RunLoopbackProbe(context.Background(), chunkedSource(data, len(data)), func() {}, 20*time.Millisecond, 0.02)
	require.NoError(t, err)
	assert.Less(t, rms, 0.02)
	assert.False(t, detected)
}

type assertErr struct{}

func (assertErr) Error() string { return "mic disconnected" }

func TestEncodeDecodeHelperSanity(t *testing.T) {
	buf := sineBuffer(t, 10, 8000)
	data := encodeWAV(t, buf)
	decoded, err := audio.DecodeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8000, decoded.SampleRate())
}
