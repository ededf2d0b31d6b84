package transcribe

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
)

var errNotWAV = errors.New("not a wav file")

// SampleDecoder loads an audio file as mono float32 samples in [-1, 1] at
// SampleRate. WAV files at the target rate are decoded in-process; anything
// else goes through ffmpeg when FFmpegPath is set.
type SampleDecoder struct {
	FFmpegPath string
	SampleRate int
}

// Load decodes the audio at path.
func (d *SampleDecoder) Load(path string) ([]float32, error) {
	samples, rate, err := readWAV(path)
	if err == nil && rate == d.SampleRate {
		if len(samples) == 0 {
			return nil, fmt.Errorf("transcribe: %s contains no audio samples", path)
		}
		return samples, nil
	}

	if d.FFmpegPath == "" {
		if err != nil {
			return nil, fmt.Errorf("transcribe: decode %s: %w", path, err)
		}
		return nil, fmt.Errorf("transcribe: %s is %d Hz, need %d Hz", path, rate, d.SampleRate)
	}
	return d.viaFFmpeg(path)
}

// readWAV decodes a PCM WAV file and downmixes it to mono.
func readWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, errNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, errors.New("wav: missing format chunk")
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, 0, fmt.Errorf("wav: unsupported bit depth %d", bitDepth)
	}
	scale := float32(int64(1) << (bitDepth - 1))
	// 8-bit WAV is unsigned
	var offset float32
	if bitDepth == 8 {
		offset = 128
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += (float32(buf.Data[i*channels+c]) - offset) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out, buf.Format.SampleRate, nil
}

// viaFFmpeg converts any input ffmpeg understands into 16-bit mono PCM on
// stdout, so no intermediate file is written.
func (d *SampleDecoder) viaFFmpeg(path string) ([]float32, error) {
	cmd := exec.Command(d.FFmpegPath,
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-ar", strconv.Itoa(d.SampleRate),
		"-ac", "1",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("transcribe: ffmpeg: %w", err)
		}
		return nil, fmt.Errorf("transcribe: ffmpeg: %w: %s", err, msg)
	}

	samples := pcm16ToFloat32(stdout.Bytes())
	if len(samples) == 0 {
		return nil, fmt.Errorf("transcribe: %s contains no audio samples", path)
	}
	return samples, nil
}

// pcm16ToFloat32 converts little-endian signed 16-bit PCM to float32.
// A trailing odd byte is ignored.
func pcm16ToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		s := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		out[i] = float32(s) / 32768.0
	}
	return out
}
