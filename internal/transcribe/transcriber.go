// Package transcribe runs speech-to-text over audio files.
//
// A Backend is the inference collaborator. A Session owns the lazily loaded
// backend and guarantees that at most one load is ever in flight. The
// Orchestrator turns a populated temp handle into a Request using the
// session's backend and a fixed language hint.
package transcribe

import (
	"fmt"

	"github.com/chaz8081/jvstt/internal/config"
)

// Backend converts an audio file to text.
type Backend interface {
	// TranscribeFile transcribes the audio at path using the language hint.
	TranscribeFile(path, language string) (string, error)
	// Close releases backend resources.
	Close() error
}

// Loader performs the slow backend load. It is called by Session, never
// directly by surfaces.
type Loader func() (Backend, error)

// NewLoader returns a Loader for the configured backend.
func NewLoader(cfg *config.TranscribeConfig) (Loader, error) {
	switch cfg.Backend {
	case "whisper", "":
		opts := WhisperOptions{
			Threads: cfg.Threads,
			Decoder: &SampleDecoder{FFmpegPath: cfg.FFmpegPath, SampleRate: whisperSampleRate},
		}
		return func() (Backend, error) {
			return NewWhisperBackend(cfg.ModelPath, opts)
		}, nil
	default:
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: whisper)", cfg.Backend)
	}
}
