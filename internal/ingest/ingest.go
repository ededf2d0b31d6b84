// Package ingest turns uploads, base64 payloads and live microphone captures
// into populated temp audio handles ready for transcription.
//
// A successful call returns a Populated handle the caller must Release. A
// failed call never leaves a handle behind.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/jvstt/internal/audio"
	"github.com/chaz8081/jvstt/internal/tempaudio"
)

// Adapter normalizes audio sources into temp handles.
type Adapter struct {
	temp    *tempaudio.Manager
	capture audio.Capturer
}

// New creates an Adapter. capture may be nil for surfaces without a
// microphone; FromLiveCapture then fails with ErrCaptureDeviceUnavailable.
func New(temp *tempaudio.Manager, capture audio.Capturer) *Adapter {
	return &Adapter{temp: temp, capture: capture}
}

// CheckProvided rejects a request that carries neither an upload nor an
// encoded payload. It runs before any handle is acquired.
func CheckProvided(hasUpload, hasPayload bool) error {
	if !hasUpload && !hasPayload {
		return failure(ErrNoAudioProvided, nil)
	}
	return nil
}

// FromUploadedBytes writes r verbatim into a new handle.
func (a *Adapter) FromUploadedBytes(r io.Reader) (*tempaudio.Handle, error) {
	return a.fromReader(r, tempaudio.UploadedFile, ".wav")
}

// FromFile copies the file at path into a new handle, keeping its extension
// so the backend can recognize the container.
func (a *Adapter) FromFile(path string) (*tempaudio.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure(ErrEmptyOrUnreadableStream, err)
	}
	defer f.Close()

	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".wav"
	}
	return a.fromReader(f, tempaudio.UploadedFile, ext)
}

// FromEncodedPayload decodes a base64 payload, optionally prefixed with a
// scheme marker such as "data:audio/wav;base64,", into a new handle.
func (a *Adapter) FromEncodedPayload(text string) (*tempaudio.Handle, error) {
	data, err := DecodePayload(text)
	if err != nil {
		return nil, err
	}
	return a.fromReader(bytes.NewReader(data), tempaudio.DecodedPayload, ".wav")
}

// FromLiveCapture records duration worth of mono samples at sampleRate and
// stores them as a 16-bit PCM WAV file. Cancelling ctx ends the capture
// early; the samples recorded so far are kept.
func (a *Adapter) FromLiveCapture(ctx context.Context, duration time.Duration, sampleRate uint32) (*tempaudio.Handle, error) {
	if a.capture == nil {
		return nil, failure(ErrCaptureDeviceUnavailable, errors.New("no capture device configured"))
	}

	frames := int(duration.Seconds() * float64(sampleRate))
	if frames <= 0 {
		return nil, fmt.Errorf("ingest: capture length must be > 0 (duration %s, rate %d)", duration, sampleRate)
	}

	start := time.Now()
	samples, err := a.capture.Capture(ctx, frames)
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return nil, failure(ErrCaptureDeviceUnavailable, err)
		}
		return nil, fmt.Errorf("ingest: capture: %w", err)
	}
	if len(samples) == 0 {
		return nil, failure(ErrEmptyOrUnreadableStream, errors.New("capture produced no samples"))
	}
	slog.Debug("[ingest] captured", "samples", len(samples), "requested", frames, "elapsed", time.Since(start).Round(time.Millisecond))

	h, err := a.temp.Acquire(tempaudio.LiveCapture, ".wav")
	if err != nil {
		return nil, err
	}
	if err := WriteWAV(h.Path(), samples, int(sampleRate)); err != nil {
		h.Release()
		return nil, fmt.Errorf("ingest: write capture: %w", err)
	}
	if err := h.MarkPopulated(); err != nil {
		h.Release()
		return nil, err
	}
	return h, nil
}

func (a *Adapter) fromReader(r io.Reader, origin tempaudio.Origin, suffix string) (*tempaudio.Handle, error) {
	h, err := a.temp.Acquire(origin, suffix)
	if err != nil {
		return nil, err
	}

	n, err := writeTo(h.Path(), r)
	if err != nil {
		h.Release()
		return nil, failure(ErrEmptyOrUnreadableStream, err)
	}
	if n == 0 {
		h.Release()
		return nil, failure(ErrEmptyOrUnreadableStream, errors.New("stream yielded zero bytes"))
	}
	if err := h.MarkPopulated(); err != nil {
		h.Release()
		return nil, err
	}

	slog.Debug("[ingest] populated", "origin", origin, "bytes", n, "path", h.Path())
	return h, nil
}

func writeTo(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// DecodePayload strips an optional scheme prefix (everything up to and
// including the first comma) and decodes the base64 remainder. Whitespace is
// ignored and missing padding is tolerated.
func DecodePayload(text string) ([]byte, error) {
	if i := strings.IndexByte(text, ','); i >= 0 {
		text = text[i+1:]
	}
	text = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, text)

	if text == "" {
		return nil, failure(ErrBadEncoding, errors.New("empty payload"))
	}

	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "="))
		if rawErr != nil {
			return nil, failure(ErrBadEncoding, err)
		}
		data = raw
	}
	return data, nil
}
