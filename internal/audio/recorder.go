// Package audio captures microphone audio with malgo.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

var (
	// ErrDeviceUnavailable is returned when the capture device cannot be opened.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
	// ErrBusy is returned when a capture is already running on the recorder.
	ErrBusy = errors.New("audio: already recording")
)

// Capturer records a bounded number of mono samples. Capture blocks until
// frames samples have been recorded or ctx is done, and returns whatever was
// captured up to that point.
type Capturer interface {
	Capture(ctx context.Context, frames int) ([]float32, error)
}

// Recorder captures audio from the default microphone into a float32 buffer.
type Recorder struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	channels   uint32

	mu        sync.Mutex
	buf       []float32
	want      int
	full      chan struct{}
	recording bool
}

var _ Capturer = (*Recorder)(nil)

// NewRecorder creates a new audio recorder. Call Close() when done.
func NewRecorder(sampleRate, channels uint32) (*Recorder, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing audio context: %v", ErrDeviceUnavailable, err)
	}

	return &Recorder{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// SampleRate returns the capture rate in Hz.
func (r *Recorder) SampleRate() uint32 { return r.sampleRate }

// Capture records up to frames mono frames from the default microphone.
// Cancelling ctx stops the device early; the partial recording is returned
// without error. Multi-channel input is downmixed to mono.
func (r *Recorder) Capture(ctx context.Context, frames int) ([]float32, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("audio: frames must be > 0, got %d", frames)
	}

	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.buf = make([]float32, 0, frames*int(r.channels))
	r.want = frames * int(r.channels)
	r.full = make(chan struct{})
	r.recording = true
	full := r.full
	r.mu.Unlock()

	device, err := r.startDevice()
	if err != nil {
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		return nil, err
	}

	select {
	case <-full:
	case <-ctx.Done():
	}
	device.Uninit()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	n := min(len(r.buf), r.want)
	return downmix(r.buf[:n], int(r.channels)), nil
}

func (r *Recorder) startDevice() (*malgo.Device, error) {
	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = r.channels
	deviceCfg.SampleRate = r.sampleRate

	device, err := malgo.InitDevice(r.ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: r.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing capture device: %v", ErrDeviceUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: starting capture device: %v", ErrDeviceUnavailable, err)
	}
	return device, nil
}

// IsRecording returns whether the recorder is currently capturing audio.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Close releases the audio context. Any running Capture must have returned.
func (r *Recorder) Close() error {
	if r.ctx != nil {
		if err := r.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		r.ctx.Free()
		r.ctx = nil
	}
	return nil
}

// onData is the malgo callback invoked when audio data is available.
// pSample contains the captured audio frames as raw bytes (float32 format).
func (r *Recorder) onData(_, pSample []byte, frameCount uint32) {
	samples := bytesToFloat32(pSample, frameCount*r.channels)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || len(r.buf) >= r.want {
		return
	}
	r.buf = append(r.buf, samples...)
	if len(r.buf) >= r.want {
		close(r.full)
	}
}

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

// downmix averages interleaved frames into a mono signal. Trailing partial
// frames are dropped.
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
