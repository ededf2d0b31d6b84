package transcribe

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/chaz8081/jvstt/internal/tempaudio"
)

func populatedHandle(t *testing.T, m *tempaudio.Manager) *tempaudio.Handle {
	t.Helper()
	h, err := m.Acquire(tempaudio.UploadedFile, ".wav")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := os.WriteFile(h.Path(), []byte("RIFF"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := h.MarkPopulated(); err != nil {
		t.Fatal(err)
	}
	return h
}

func readyOrchestrator(t *testing.T, fb *fakeBackend) *Orchestrator {
	t.Helper()
	s := NewSession(func() (Backend, error) { return fb, nil })
	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady() error = %v", err)
	}
	return NewOrchestrator(s, "jw")
}

func newManager(t *testing.T) *tempaudio.Manager {
	t.Helper()
	m, err := tempaudio.NewManager(t.TempDir(), "orch-")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestTranscribeSuccess(t *testing.T) {
	m := newManager(t)
	fb := &fakeBackend{text: "kula arep tuku sega"}
	o := readyOrchestrator(t, fb)

	h := populatedHandle(t, m)
	defer h.Release()

	req, err := o.Transcribe(h)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if req.Status != Success {
		t.Errorf("Status = %s, want success", req.Status)
	}
	if req.Text != "kula arep tuku sega" {
		t.Errorf("Text = %q", req.Text)
	}
	if req.Language != "jw" || fb.gotLang != "jw" {
		t.Errorf("language hint = %q / %q, want jw", req.Language, fb.gotLang)
	}
	if req.ID == "" {
		t.Error("Request.ID should be set")
	}
	if req.Err() != nil {
		t.Errorf("Err() = %v, want nil", req.Err())
	}
	if h.State() != tempaudio.ConsumedOk {
		t.Errorf("handle State() = %s, want consumed_ok", h.State())
	}
}

func TestTranscribeFailureVerbatim(t *testing.T) {
	m := newManager(t)
	fb := &fakeBackend{err: errors.New("invalid data found when processing input")}
	o := readyOrchestrator(t, fb)

	h := populatedHandle(t, m)
	req, err := o.Transcribe(h)
	h.Release()

	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("Transcribe() error = %v, want *InferenceError", err)
	}
	if ie.Reason != "invalid data found when processing input" {
		t.Errorf("Reason = %q, want backend message verbatim", ie.Reason)
	}
	if req == nil || req.Status != Failure {
		t.Fatalf("request = %+v, want Failure", req)
	}
	if h.State() != tempaudio.Released {
		t.Errorf("handle State() = %s, want released", h.State())
	}
	if m.Live() != 0 {
		t.Errorf("Live() = %d, want 0", m.Live())
	}
	if fb.calls.Load() != 1 {
		t.Errorf("backend called %d times, want 1 (no retry)", fb.calls.Load())
	}
}

func TestTranscribeModelNotReady(t *testing.T) {
	m := newManager(t)
	fb := &fakeBackend{}
	o := NewOrchestrator(NewSession(func() (Backend, error) { return fb, nil }), "jw")

	h := populatedHandle(t, m)
	defer h.Release()

	req, err := o.Transcribe(h)
	if !errors.Is(err, ErrModelNotReady) {
		t.Errorf("Transcribe() error = %v, want ErrModelNotReady", err)
	}
	if req != nil {
		t.Errorf("request = %+v, want nil", req)
	}
	if h.State() != tempaudio.Populated {
		t.Errorf("handle State() = %s, want populated (untouched)", h.State())
	}
	if fb.calls.Load() != 0 {
		t.Error("backend must not be called before the model is ready")
	}
}

func TestTranscribeConsumedTwice(t *testing.T) {
	m := newManager(t)
	fb := &fakeBackend{text: "ok"}
	o := readyOrchestrator(t, fb)

	h := populatedHandle(t, m)
	defer h.Release()

	if _, err := o.Transcribe(h); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Transcribe(h); !errors.Is(err, tempaudio.ErrNotPopulated) {
		t.Errorf("second Transcribe() error = %v, want ErrNotPopulated", err)
	}
	if fb.calls.Load() != 1 {
		t.Errorf("backend called %d times, want 1", fb.calls.Load())
	}
}
