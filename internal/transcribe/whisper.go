package transcribe

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperSampleRate is the only input rate whisper.cpp accepts.
const whisperSampleRate = 16000

// WhisperOptions tunes the whisper backend.
type WhisperOptions struct {
	Threads uint           // 0 keeps the whisper.cpp default
	Decoder *SampleDecoder // nil decodes 16 kHz WAV only
}

// WhisperBackend wraps a whisper.cpp model for speech-to-text.
type WhisperBackend struct {
	model   whisper.Model
	threads uint
	decoder *SampleDecoder

	// whisper.cpp contexts share backend state; one inference at a time
	mu sync.Mutex
}

var _ Backend = (*WhisperBackend)(nil)

// NewWhisperBackend loads a whisper model from the given path.
// The caller must call Close() when done.
func NewWhisperBackend(modelPath string, opts WhisperOptions) (*WhisperBackend, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", modelPath, err)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", modelPath, err)
	}

	decoder := opts.Decoder
	if decoder == nil {
		decoder = &SampleDecoder{SampleRate: whisperSampleRate}
	}

	slog.Debug("[whisper] model loaded", "path", modelPath, "multilingual", model.IsMultilingual())
	return &WhisperBackend{model: model, threads: opts.Threads, decoder: decoder}, nil
}

// Close releases the whisper model resources.
func (t *WhisperBackend) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}

// TranscribeFile decodes the audio at path and transcribes it with the
// given language hint.
func (t *WhisperBackend) TranscribeFile(path, language string) (string, error) {
	samples, err := t.decoder.Load(path)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return "", ErrModelNotReady
	}

	ctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcribe: create context: %w", err)
	}
	if err := ctx.SetLanguage(language); err != nil {
		return "", fmt.Errorf("transcribe: set language %q: %w", language, err)
	}
	ctx.SetTranslate(false)
	if t.threads > 0 {
		ctx.SetThreads(t.threads)
	}

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcribe: process: %w", err)
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcribe: next segment: %w", err)
		}
		segments = append(segments, strings.TrimSpace(seg.Text))
	}

	return strings.TrimSpace(strings.Join(segments, " ")), nil
}
