package transcribe

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/jvstt/internal/tempaudio"
)

// Status is the outcome of a Request.
type Status int

const (
	Pending Status = iota
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// InferenceError carries a backend failure message verbatim.
type InferenceError struct {
	Reason string
}

func (e *InferenceError) Error() string { return e.Reason }

// Request is one transcription attempt over one handle.
type Request struct {
	ID       string
	Language string
	Origin   tempaudio.Origin
	Status   Status
	Text     string
	Reason   string
	Started  time.Time
	Elapsed  time.Duration
}

// Err returns the failure as *InferenceError, or nil.
func (r *Request) Err() error {
	if r.Status != Failure {
		return nil
	}
	return &InferenceError{Reason: r.Reason}
}

// Orchestrator runs transcriptions against a shared Session with a fixed
// language hint.
type Orchestrator struct {
	session  *Session
	language string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(session *Session, language string) *Orchestrator {
	return &Orchestrator{session: session, language: language}
}

// Session returns the model session the orchestrator uses.
func (o *Orchestrator) Session() *Session { return o.session }

// Language returns the language hint passed to the backend.
func (o *Orchestrator) Language() string { return o.language }

// Ready reports whether the session has a loaded backend.
func (o *Orchestrator) Ready() bool { return o.session.State() == Ready }

// Transcribe consumes h and returns the finished Request. It fails with
// ErrModelNotReady, without touching h, unless the session is Ready. A
// backend failure yields a Failure request and its *InferenceError. Failures
// are never retried. The caller still owns h and must Release it.
func (o *Orchestrator) Transcribe(h *tempaudio.Handle) (*Request, error) {
	backend, release, err := o.session.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	req := &Request{
		ID:       uuid.NewString(),
		Language: o.language,
		Origin:   h.Origin(),
		Status:   Pending,
		Started:  time.Now(),
	}

	ran := false
	var text string
	err = h.Consume(func(path string) error {
		ran = true
		var terr error
		text, terr = backend.TranscribeFile(path, o.language)
		return terr
	})
	if !ran {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	req.Elapsed = time.Since(req.Started)

	if err != nil {
		req.Status = Failure
		req.Reason = err.Error()
		slog.Warn("[transcribe] failed", "id", req.ID, "origin", req.Origin, "elapsed", req.Elapsed.Round(time.Millisecond), "error", err)
		return req, req.Err()
	}

	req.Status = Success
	req.Text = text
	slog.Info("[transcribe] done", "id", req.ID, "origin", req.Origin, "elapsed", req.Elapsed.Round(time.Millisecond), "chars", len(text))
	return req, nil
}
