// Package tempaudio manages the ephemeral on-disk audio files that carry
// audio from ingestion to transcription.
//
// Every Acquire must be paired with a Release on all exit paths, normally
// with defer directly after the Acquire succeeds. Release is idempotent.
package tempaudio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Origin tags where a handle's audio came from.
type Origin int

const (
	UploadedFile Origin = iota
	DecodedPayload
	LiveCapture
)

func (o Origin) String() string {
	switch o {
	case UploadedFile:
		return "uploaded_file"
	case DecodedPayload:
		return "decoded_payload"
	case LiveCapture:
		return "live_capture"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// State is the lifecycle position of a handle.
type State int

const (
	Created State = iota
	Populated
	ConsumedOk
	ConsumedFailed
	Released
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Populated:
		return "populated"
	case ConsumedOk:
		return "consumed_ok"
	case ConsumedFailed:
		return "consumed_failed"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotPopulated is returned when consuming a handle that has not been
	// populated, or that was already consumed.
	ErrNotPopulated = errors.New("tempaudio: handle is not populated")
	// ErrReleased is returned when operating on a released handle.
	ErrReleased = errors.New("tempaudio: handle already released")
)

// Manager creates handles in one directory with a common file prefix.
type Manager struct {
	dir    string
	prefix string
	live   atomic.Int64
}

// NewManager creates a Manager. An empty dir uses the OS temp directory.
func NewManager(dir, prefix string) (*Manager, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if prefix == "" {
		prefix = "jvstt-"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("tempaudio: create dir %q: %w", dir, err)
	}
	return &Manager{dir: dir, prefix: prefix}, nil
}

// Dir returns the directory handles are created in.
func (m *Manager) Dir() string { return m.dir }

// Live returns the number of acquired handles not yet released.
func (m *Manager) Live() int64 { return m.live.Load() }

// Acquire creates a uniquely named empty file and returns a Created handle.
func (m *Manager) Acquire(origin Origin, suffix string) (*Handle, error) {
	f, err := os.CreateTemp(m.dir, m.prefix+"*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("tempaudio: acquire: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("tempaudio: acquire: %w", err)
	}

	m.live.Add(1)
	slog.Debug("[tempaudio] acquired", "path", path, "origin", origin)
	return &Handle{path: path, origin: origin, mgr: m}, nil
}

// Clone copies a populated handle into a new Populated handle with the
// same origin. The source handle is left untouched.
func (m *Manager) Clone(src *Handle) (*Handle, error) {
	if s := src.State(); s == Created || s == Released {
		return nil, fmt.Errorf("tempaudio: clone %s handle: %w", s, ErrNotPopulated)
	}

	dst, err := m.Acquire(src.Origin(), filepath.Ext(src.Path()))
	if err != nil {
		return nil, err
	}
	if err := copyFile(src.Path(), dst.Path()); err != nil {
		dst.Release()
		return nil, fmt.Errorf("tempaudio: clone: %w", err)
	}
	if err := dst.MarkPopulated(); err != nil {
		dst.Release()
		return nil, err
	}
	return dst, nil
}

// Sweep removes files carrying the manager's prefix that a previous process
// left behind. It returns the number of files removed.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("tempaudio: sweep: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), m.prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("[tempaudio] sweep failed", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Handle is one ephemeral audio file.
type Handle struct {
	path   string
	origin Origin
	mgr    *Manager

	mu        sync.Mutex
	state     State
	consuming bool
}

// Path returns the backing file path.
func (h *Handle) Path() string { return h.path }

// Origin returns where the audio came from.
func (h *Handle) Origin() Origin { return h.origin }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Size returns the size in bytes of the backing file.
func (h *Handle) Size() (int64, error) {
	if h.State() == Released {
		return 0, ErrReleased
	}
	info, err := os.Stat(h.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MarkPopulated records that the backing file now holds audio.
func (h *Handle) MarkPopulated() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Created {
		return fmt.Errorf("tempaudio: populate %s handle", h.state)
	}
	h.state = Populated
	return nil
}

// Consume runs fn against the backing file and records the outcome:
// ConsumedOk when fn returns nil, ConsumedFailed otherwise. A handle is
// consumed at most once; a second call, or a call on a handle that was
// never populated, fails with ErrNotPopulated without running fn.
func (h *Handle) Consume(fn func(path string) error) error {
	h.mu.Lock()
	if h.state != Populated || h.consuming {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotPopulated, state)
	}
	h.consuming = true
	h.mu.Unlock()

	err := fn(h.path)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.consuming = false
	if err == nil {
		h.state = ConsumedOk
	} else {
		h.state = ConsumedFailed
	}
	return err
}

// Release removes the backing file. Calling it more than once is a no-op.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Released {
		return
	}
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("[tempaudio] release failed", "path", h.path, "error", err)
	}
	h.state = Released
	h.mgr.live.Add(-1)
	slog.Debug("[tempaudio] released", "path", h.path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
