package tempaudio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "test-")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t)

	h, err := m.Acquire(UploadedFile, ".wav")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if h.State() != Created {
		t.Errorf("State() = %s, want created", h.State())
	}
	if !strings.HasSuffix(h.Path(), ".wav") {
		t.Errorf("Path() = %q, want .wav suffix", h.Path())
	}
	if !strings.HasPrefix(filepath.Base(h.Path()), "test-") {
		t.Errorf("Path() = %q, want test- prefix", h.Path())
	}
	if _, err := os.Stat(h.Path()); err != nil {
		t.Errorf("backing file missing after Acquire: %v", err)
	}
	if m.Live() != 1 {
		t.Errorf("Live() = %d, want 1", m.Live())
	}

	h.Release()
	if h.State() != Released {
		t.Errorf("State() = %s, want released", h.State())
	}
	if _, err := os.Stat(h.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("backing file should be removed, stat err = %v", err)
	}
	if m.Live() != 0 {
		t.Errorf("Live() = %d, want 0", m.Live())
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Acquire(LiveCapture, ".wav")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	h.Release()
	h.Release()

	if m.Live() != 0 {
		t.Errorf("Live() = %d after double release, want 0", m.Live())
	}
}

func TestUniquePaths(t *testing.T) {
	m := newTestManager(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		h, err := m.Acquire(DecodedPayload, ".wav")
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		defer h.Release()
		if seen[h.Path()] {
			t.Fatalf("duplicate path %q", h.Path())
		}
		seen[h.Path()] = true
	}
}

func TestConsumeOnce(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Acquire(UploadedFile, ".wav")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	calls := 0
	run := func(path string) error {
		calls++
		if path != h.Path() {
			t.Errorf("fn path = %q, want %q", path, h.Path())
		}
		return errors.New("unsupported codec")
	}

	if err := h.Consume(run); !errors.Is(err, ErrNotPopulated) {
		t.Errorf("Consume() on created handle error = %v, want ErrNotPopulated", err)
	}
	if calls != 0 {
		t.Fatalf("fn ran %d times on created handle", calls)
	}

	if err := h.MarkPopulated(); err != nil {
		t.Fatalf("MarkPopulated() error = %v", err)
	}
	if err := h.Consume(run); err == nil || err.Error() != "unsupported codec" {
		t.Fatalf("Consume() error = %v, want fn error verbatim", err)
	}
	if h.State() != ConsumedFailed {
		t.Errorf("State() = %s, want consumed_failed", h.State())
	}
	if err := h.Consume(run); !errors.Is(err, ErrNotPopulated) {
		t.Errorf("second Consume() error = %v, want ErrNotPopulated", err)
	}
	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}
}

func TestConsumeConcurrent(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Acquire(UploadedFile, ".wav")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()
	if err := h.MarkPopulated(); err != nil {
		t.Fatal(err)
	}

	var ran atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Consume(func(string) error {
				ran.Add(1)
				<-release
				return nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if ran.Load() != 1 {
		t.Errorf("fn ran %d times, want 1", ran.Load())
	}
	if h.State() != ConsumedOk {
		t.Errorf("State() = %s, want consumed_ok", h.State())
	}
}

func TestMarkPopulatedTwice(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Acquire(UploadedFile, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	if err := h.MarkPopulated(); err != nil {
		t.Fatalf("MarkPopulated() error = %v", err)
	}
	if err := h.MarkPopulated(); err == nil {
		t.Error("second MarkPopulated() should fail")
	}
}

func TestClone(t *testing.T) {
	m := newTestManager(t)
	src, err := m.Acquire(LiveCapture, ".wav")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer src.Release()

	if _, err := m.Clone(src); err == nil {
		t.Error("Clone() of created handle should fail")
	}

	if err := os.WriteFile(src.Path(), []byte("RIFFdata"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := src.MarkPopulated(); err != nil {
		t.Fatal(err)
	}

	dst, err := m.Clone(src)
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	defer dst.Release()

	if dst.Path() == src.Path() {
		t.Error("Clone() should use a new path")
	}
	if dst.Origin() != LiveCapture {
		t.Errorf("Origin() = %s, want live_capture", dst.Origin())
	}
	if dst.State() != Populated {
		t.Errorf("State() = %s, want populated", dst.State())
	}
	got, err := os.ReadFile(dst.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "RIFFdata" {
		t.Errorf("clone content = %q, want %q", got, "RIFFdata")
	}
	if src.State() != Populated {
		t.Errorf("source State() = %s, want populated", src.State())
	}
	if m.Live() != 2 {
		t.Errorf("Live() = %d, want 2", m.Live())
	}
}

func TestSweep(t *testing.T) {
	m := newTestManager(t)

	stale := filepath.Join(m.Dir(), "test-stale.wav")
	other := filepath.Join(m.Dir(), "keep.wav")
	for _, p := range []string{stale, other} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	n, err := m.Sweep()
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale file should be removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("unrelated file should be kept")
	}
}
