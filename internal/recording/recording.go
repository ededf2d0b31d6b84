// Package recording implements the record, stop and transcribe lifecycle
// behind the live recorder.
//
// All transitions happen under the session mutex; capture and inference run
// on background goroutines and report back through Events. Interactive
// surfaces render only from Snapshot.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/jvstt/internal/ingest"
	"github.com/chaz8081/jvstt/internal/tempaudio"
	"github.com/chaz8081/jvstt/internal/transcribe"
)

// Status is the position of a Session in its lifecycle.
type Status int

const (
	Idle Status = iota
	Recording
	Stopped
	TranscribeInProgress
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	case TranscribeInProgress:
		return "transcribing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	ErrInvalidDuration     = errors.New("recording: duration must be positive")
	ErrNothingToTranscribe = errors.New("recording: no recording available")
	ErrBusy                = errors.New("recording: busy")
	ErrNotRecording        = errors.New("recording: not recording")
	ErrClosed              = errors.New("recording: session closed")
)

// Capturer produces a populated LiveCapture handle. *ingest.Adapter
// satisfies it.
type Capturer interface {
	FromLiveCapture(ctx context.Context, duration time.Duration, sampleRate uint32) (*tempaudio.Handle, error)
}

// Transcriber runs inference over a handle. *transcribe.Orchestrator
// satisfies it.
type Transcriber interface {
	Ready() bool
	Transcribe(h *tempaudio.Handle) (*transcribe.Request, error)
}

// EventKind identifies a background completion.
type EventKind int

const (
	CaptureFinished EventKind = iota
	CaptureFailed
	TranscribeFinished
	TranscribeFailed
)

func (k EventKind) String() string {
	switch k {
	case CaptureFinished:
		return "capture_finished"
	case CaptureFailed:
		return "capture_failed"
	case TranscribeFinished:
		return "transcribe_finished"
	case TranscribeFailed:
		return "transcribe_failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event signals that background work finished. Consumers should re-read
// Snapshot rather than rely on the event payload alone.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Snapshot is a consistent copy of the session state for display.
type Snapshot struct {
	Status     Status
	Message    string
	HasCapture bool
	Captured   time.Duration
	Text       string
	Err        error
}

const eventBuffer = 16

// Session is one recorder's state machine.
type Session struct {
	capture     Capturer
	transcriber Transcriber
	temp        *tempaudio.Manager
	sampleRate  uint32
	events      chan Event

	mu       sync.Mutex
	status   Status
	message  string
	handle   *tempaudio.Handle
	captured time.Duration
	text     string
	lastErr  error
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// New creates an Idle session. temp must be the manager that owns the
// capture handles, since transcriptions run against clones.
func New(capture Capturer, transcriber Transcriber, temp *tempaudio.Manager, sampleRate uint32) *Session {
	return &Session{
		capture:     capture,
		transcriber: transcriber,
		temp:        temp,
		sampleRate:  sampleRate,
		events:      make(chan Event, eventBuffer),
		message:     "Ready to record",
	}
}

// Events delivers completion signals. The channel is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:     s.status,
		Message:    s.message,
		HasCapture: s.handle != nil,
		Captured:   s.captured,
		Text:       s.text,
		Err:        s.lastErr,
	}
}

// SetMessage replaces the status line while the session is idle, e.g. to
// report model loading progress.
func (s *Session) SetMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Idle {
		s.message = msg
	}
}

// Start begins a capture of the given length. Any previous capture is
// discarded. The capture ends when the device delivers all samples or Stop
// is called.
func (s *Session) Start(seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if seconds <= 0 {
		s.message = "Duration must be positive"
		return ErrInvalidDuration
	}
	if s.status == Recording || s.status == TranscribeInProgress {
		return fmt.Errorf("%w: %s", ErrBusy, s.status)
	}

	if s.handle != nil {
		s.handle.Release()
		s.handle = nil
		s.captured = 0
	}
	s.text = ""
	s.lastErr = nil

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.status = Recording
	s.message = fmt.Sprintf("Recording for %d seconds...", seconds)

	duration := time.Duration(seconds) * time.Second
	slog.Info("[recording] started", "seconds", seconds)

	s.wg.Add(1)
	go s.runCapture(ctx, cancel, duration)
	return nil
}

func (s *Session) runCapture(ctx context.Context, cancel context.CancelFunc, duration time.Duration) {
	defer s.wg.Done()
	defer cancel()

	h, err := s.capture.FromLiveCapture(ctx, duration, s.sampleRate)

	var length time.Duration
	if err == nil {
		if length, err = ingest.WAVDuration(h.Path()); err != nil {
			h.Release()
			h = nil
			err = fmt.Errorf("recording: read capture: %w", err)
		}
	}

	s.mu.Lock()
	s.cancel = nil
	var ev Event
	if err != nil {
		s.status = Idle
		s.lastErr = err
		s.message = "Error during recording: " + err.Error()
		ev = Event{Kind: CaptureFailed, Err: err}
		slog.Warn("[recording] capture failed", "error", err)
	} else {
		s.status = Stopped
		s.handle = h
		s.captured = length
		s.message = fmt.Sprintf("Recording finished (%.1fs)", length.Seconds())
		ev = Event{Kind: CaptureFinished}
		slog.Info("[recording] finished", "length", length.Round(time.Millisecond))
	}
	s.mu.Unlock()

	s.emit(ev)
}

// Stop ends the running capture early. The samples recorded so far become
// the capture once the background goroutine has finalized them.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != Recording {
		return ErrNotRecording
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.message = "Stopping..."
	}
	return nil
}

// Transcribe runs inference over a copy of the current capture. The capture
// stays available so it can be transcribed again. The copy is made on the
// background goroutine; the capture cannot be replaced or released while
// the session is TranscribeInProgress.
func (s *Session) Transcribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.status == Recording || s.status == TranscribeInProgress {
		return fmt.Errorf("%w: %s", ErrBusy, s.status)
	}
	if s.handle == nil {
		s.message = "No recording available"
		return ErrNothingToTranscribe
	}
	if !s.transcriber.Ready() {
		s.message = "Model not loaded yet"
		return transcribe.ErrModelNotReady
	}

	s.status = TranscribeInProgress
	s.lastErr = nil
	s.message = "Transcribing... Please wait."

	s.wg.Add(1)
	go s.runTranscribe(s.handle)
	return nil
}

func (s *Session) runTranscribe(capture *tempaudio.Handle) {
	defer s.wg.Done()

	var req *transcribe.Request
	h, err := s.temp.Clone(capture)
	if err != nil {
		err = fmt.Errorf("recording: %w", err)
	} else {
		req, err = s.transcriber.Transcribe(h)
		// released before the outcome is published
		h.Release()
	}

	s.mu.Lock()
	s.status = Stopped
	var ev Event
	if err != nil {
		s.text = ""
		s.lastErr = err
		s.message = "Error during transcription: " + err.Error()
		ev = Event{Kind: TranscribeFailed, Err: err}
	} else {
		s.text = req.Text
		s.lastErr = nil
		s.message = "Transcription complete"
		ev = Event{Kind: TranscribeFinished, Text: req.Text}
	}
	s.mu.Unlock()

	s.emit(ev)
}

// emit never blocks; a full buffer drops the event since Snapshot already
// carries the outcome.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Debug("[recording] event dropped", "kind", ev.Kind)
	}
}

// Close stops any capture, waits for background work and releases the
// capture. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	if s.handle != nil {
		s.handle.Release()
		s.handle = nil
	}
	s.status = Idle
	s.mu.Unlock()
	close(s.events)
}
