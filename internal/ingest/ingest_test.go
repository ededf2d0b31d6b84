package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaz8081/jvstt/internal/audio"
	"github.com/chaz8081/jvstt/internal/tempaudio"
)

// fakeCapturer produces rate samples per second of wall clock until it has
// enough or ctx is done.
type fakeCapturer struct {
	rate int
	err  error
}

func (f *fakeCapturer) Capture(ctx context.Context, frames int) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float32, 0, frames)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for len(out) < frames {
		select {
		case <-ctx.Done():
			return out, nil
		case <-tick.C:
			n := min(f.rate/100, frames-len(out))
			for i := 0; i < n; i++ {
				out = append(out, 0.25)
			}
		}
	}
	return out, nil
}

// errReader fails on the first read.
type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func newTestAdapter(t *testing.T, capture audio.Capturer) (*Adapter, *tempaudio.Manager) {
	t.Helper()
	m, err := tempaudio.NewManager(t.TempDir(), "ingest-")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return New(m, capture), m
}

func assertNoLeak(t *testing.T, m *tempaudio.Manager) {
	t.Helper()
	if m.Live() != 0 {
		t.Errorf("Live() = %d, want 0", m.Live())
	}
	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir has %d leftover files", len(entries))
	}
}

func TestCheckProvided(t *testing.T) {
	if err := CheckProvided(false, false); !errors.Is(err, ErrNoAudioProvided) {
		t.Errorf("CheckProvided(false, false) = %v, want ErrNoAudioProvided", err)
	}
	if err := CheckProvided(true, false); err != nil {
		t.Errorf("CheckProvided(true, false) = %v, want nil", err)
	}
	if err := CheckProvided(false, true); err != nil {
		t.Errorf("CheckProvided(false, true) = %v, want nil", err)
	}
}

func TestFromUploadedBytes(t *testing.T) {
	a, m := newTestAdapter(t, nil)

	h, err := a.FromUploadedBytes(bytes.NewReader([]byte("RIFF....WAVE")))
	if err != nil {
		t.Fatalf("FromUploadedBytes() error = %v", err)
	}
	if h.State() != tempaudio.Populated {
		t.Errorf("State() = %s, want populated", h.State())
	}
	if h.Origin() != tempaudio.UploadedFile {
		t.Errorf("Origin() = %s, want uploaded_file", h.Origin())
	}
	got, err := os.ReadFile(h.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "RIFF....WAVE" {
		t.Errorf("content = %q", got)
	}

	h.Release()
	assertNoLeak(t, m)
}

func TestFromUploadedBytesEmpty(t *testing.T) {
	a, m := newTestAdapter(t, nil)

	_, err := a.FromUploadedBytes(bytes.NewReader(nil))
	if !errors.Is(err, ErrEmptyOrUnreadableStream) {
		t.Errorf("error = %v, want ErrEmptyOrUnreadableStream", err)
	}
	assertNoLeak(t, m)
}

func TestFromUploadedBytesUnreadable(t *testing.T) {
	a, m := newTestAdapter(t, nil)

	_, err := a.FromUploadedBytes(errReader{})
	if !errors.Is(err, ErrEmptyOrUnreadableStream) {
		t.Errorf("error = %v, want ErrEmptyOrUnreadableStream", err)
	}
	var ie *IngestionError
	if !errors.As(err, &ie) || ie.Err == nil {
		t.Errorf("error should carry the read failure, got %v", err)
	}
	assertNoLeak(t, m)
}

func TestFromFile(t *testing.T) {
	a, m := newTestAdapter(t, nil)

	src := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(src, []byte("ID3"), 0o600); err != nil {
		t.Fatal(err)
	}

	h, err := a.FromFile(src)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	if filepath.Ext(h.Path()) != ".mp3" {
		t.Errorf("Path() = %q, want .mp3 extension", h.Path())
	}
	h.Release()

	if _, err := os.Stat(src); err != nil {
		t.Error("source file must not be touched")
	}
	assertNoLeak(t, m)

	if _, err := a.FromFile(filepath.Join(t.TempDir(), "missing.wav")); !errors.Is(err, ErrEmptyOrUnreadableStream) {
		t.Errorf("FromFile(missing) error = %v, want ErrEmptyOrUnreadableStream", err)
	}
	assertNoLeak(t, m)
}

func TestDecodePayloadPrefix(t *testing.T) {
	raw := []byte("RIFF\x00\x01\x02WAVEfmt data")
	enc := base64.StdEncoding.EncodeToString(raw)

	plain, err := DecodePayload(enc)
	if err != nil {
		t.Fatalf("DecodePayload(plain) error = %v", err)
	}
	prefixed, err := DecodePayload("data:audio/wav;base64," + enc)
	if err != nil {
		t.Fatalf("DecodePayload(prefixed) error = %v", err)
	}
	if !bytes.Equal(plain, prefixed) || !bytes.Equal(plain, raw) {
		t.Errorf("prefixed and plain payloads decode differently: %q vs %q", prefixed, plain)
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "aGVsbG8=", "hello", nil},
		{"missing padding", "aGVsbG8", "hello", nil},
		{"whitespace", "aGVs\nbG8=", "hello", nil},
		{"only first comma stripped", "a,b,aGVsbG8=", "", ErrBadEncoding},
		{"garbage", "!!!not base64!!!", "", ErrBadEncoding},
		{"empty after prefix", "data:audio/wav;base64,", "", ErrBadEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("DecodePayload(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePayload(%q) error = %v", tt.input, err)
			}
			if string(got) != tt.want {
				t.Errorf("DecodePayload(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFromEncodedPayload(t *testing.T) {
	a, m := newTestAdapter(t, nil)

	h, err := a.FromEncodedPayload("data:audio/wav;base64," + base64.StdEncoding.EncodeToString([]byte("wavbytes")))
	if err != nil {
		t.Fatalf("FromEncodedPayload() error = %v", err)
	}
	if h.Origin() != tempaudio.DecodedPayload {
		t.Errorf("Origin() = %s, want decoded_payload", h.Origin())
	}
	got, _ := os.ReadFile(h.Path())
	if string(got) != "wavbytes" {
		t.Errorf("content = %q, want %q", got, "wavbytes")
	}
	h.Release()

	if _, err := a.FromEncodedPayload("%%%"); !errors.Is(err, ErrBadEncoding) {
		t.Errorf("bad payload error = %v, want ErrBadEncoding", err)
	}
	assertNoLeak(t, m)
}

func TestFromLiveCaptureFull(t *testing.T) {
	a, m := newTestAdapter(t, &fakeCapturer{rate: 16000})

	h, err := a.FromLiveCapture(context.Background(), 200*time.Millisecond, 16000)
	if err != nil {
		t.Fatalf("FromLiveCapture() error = %v", err)
	}
	defer func() {
		h.Release()
		assertNoLeak(t, m)
	}()

	if h.Origin() != tempaudio.LiveCapture {
		t.Errorf("Origin() = %s, want live_capture", h.Origin())
	}
	d, err := WAVDuration(h.Path())
	if err != nil {
		t.Fatalf("WAVDuration() error = %v", err)
	}
	if d != 200*time.Millisecond {
		t.Errorf("duration = %s, want 200ms", d)
	}
}

func TestFromLiveCaptureEarlyStop(t *testing.T) {
	a, m := newTestAdapter(t, &fakeCapturer{rate: 16000})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	h, err := a.FromLiveCapture(ctx, 3*time.Second, 16000)
	if err != nil {
		t.Fatalf("FromLiveCapture() error = %v", err)
	}
	defer func() {
		h.Release()
		assertNoLeak(t, m)
	}()

	d, err := WAVDuration(h.Path())
	if err != nil {
		t.Fatalf("WAVDuration() error = %v", err)
	}
	if d <= 0 || d >= time.Second {
		t.Errorf("early-stopped duration = %s, want between 0 and 1s", d)
	}
}

func TestFromLiveCaptureStoppedBeforeAnySample(t *testing.T) {
	a, m := newTestAdapter(t, &fakeCapturer{rate: 16000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.FromLiveCapture(ctx, time.Second, 16000)
	if !errors.Is(err, ErrEmptyOrUnreadableStream) {
		t.Errorf("error = %v, want ErrEmptyOrUnreadableStream", err)
	}
	assertNoLeak(t, m)
}

func TestFromLiveCaptureDeviceUnavailable(t *testing.T) {
	a, m := newTestAdapter(t, &fakeCapturer{err: audio.ErrDeviceUnavailable})

	_, err := a.FromLiveCapture(context.Background(), time.Second, 16000)
	if !errors.Is(err, ErrCaptureDeviceUnavailable) {
		t.Errorf("error = %v, want ErrCaptureDeviceUnavailable", err)
	}
	assertNoLeak(t, m)

	none := New(m, nil)
	if _, err := none.FromLiveCapture(context.Background(), time.Second, 16000); !errors.Is(err, ErrCaptureDeviceUnavailable) {
		t.Errorf("nil capturer error = %v, want ErrCaptureDeviceUnavailable", err)
	}
}

func TestWriteWAVRoundTripDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = 2 // clamped
	}
	if err := WriteWAV(path, samples, 16000); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	d, err := WAVDuration(path)
	if err != nil {
		t.Fatalf("WAVDuration() error = %v", err)
	}
	if d != 500*time.Millisecond {
		t.Errorf("WAVDuration() = %s, want 500ms", d)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		t.Fatal(err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		t.Errorf("header = %q, want RIFF....WAVE", header)
	}
}
