package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the load state of a Session.
type State int

const (
	Unloaded State = iota
	Loading
	Ready
	LoadFailed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case LoadFailed:
		return "load_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrModelNotReady is returned when a transcription is requested before the
// session has finished loading.
var ErrModelNotReady = errors.New("transcribe: model not ready")

// LoadError carries the reason a model load failed.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "transcribe: model load failed: " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

// loadAttempt is one in-flight or finished load. done is closed when the
// load returns; err is written before done is closed.
type loadAttempt struct {
	done chan struct{}
	err  error
}

// Session is the process-wide, lazily loaded backend. At most one load is
// in flight at any time; once Ready the backend is shared by every caller
// and never reloaded. A failed load is retried by the next EnsureReady.
type Session struct {
	load Loader

	mu      sync.Mutex
	state   State
	backend Backend
	attempt *loadAttempt
	loads   int

	inflight sync.WaitGroup
}

// NewSession creates an Unloaded session that loads with load.
func NewSession(load Loader) *Session {
	return &Session{load: load}
}

// State returns the current load state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loads returns how many times the loader has been invoked.
func (s *Session) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// EnsureReady loads the backend if it is not loaded yet. Callers arriving
// while a load is in flight wait for that load instead of starting another
// one. ctx only bounds the wait; the load itself always runs to completion.
// A failed load is reported as *LoadError.
func (s *Session) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Ready:
		s.mu.Unlock()
		return nil
	case Loading:
		attempt := s.attempt
		s.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	attempt := &loadAttempt{done: make(chan struct{})}
	s.attempt = attempt
	s.state = Loading
	s.loads++
	s.mu.Unlock()

	slog.Info("[session] loading model")
	start := time.Now()
	backend, err := s.runLoad()

	s.mu.Lock()
	if err != nil {
		s.state = LoadFailed
		attempt.err = &LoadError{Err: err}
		slog.Error("[session] model load failed", "error", err)
	} else {
		s.state = Ready
		s.backend = backend
		slog.Info("[session] model loaded", "elapsed", time.Since(start).Round(time.Millisecond))
	}
	close(attempt.done)
	s.mu.Unlock()

	return attempt.err
}

// runLoad invokes the loader, turning a panic into a load failure so that
// waiters are always released and the next EnsureReady can retry.
func (s *Session) runLoad() (backend Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("loader panicked: %v", r)
		}
	}()
	return s.load()
}

// Backend returns the loaded backend, or ErrModelNotReady.
func (s *Session) Backend() (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return nil, ErrModelNotReady
	}
	return s.backend, nil
}

// Err returns the last load failure, if the session is in LoadFailed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != LoadFailed || s.attempt == nil {
		return nil
	}
	return s.attempt.err
}

// acquire returns the backend and marks one inference as in flight. The
// caller must call release when it is done with the backend.
func (s *Session) acquire() (backend Backend, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return nil, nil, ErrModelNotReady
	}
	s.inflight.Add(1)
	return s.backend, s.inflight.Done, nil
}

// Close releases the backend once every in-flight inference has returned.
// New transcriptions fail with ErrModelNotReady from the moment Close is
// called. It is meant for process shutdown.
func (s *Session) Close() error {
	s.mu.Lock()
	backend := s.backend
	s.backend = nil
	if backend != nil {
		s.state = Unloaded
	}
	s.mu.Unlock()

	if backend == nil {
		return nil
	}
	s.inflight.Wait()
	return backend.Close()
}
