package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Audio      AudioConfig      `yaml:"audio"`
	Server     ServerConfig     `yaml:"server"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Inject     InjectConfig     `yaml:"inject"`
	TempDir    string           `yaml:"temp_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// TranscribeConfig holds speech-to-text backend settings.
type TranscribeConfig struct {
	Backend    string `yaml:"backend"` // "whisper"
	ModelPath  string `yaml:"model_path"`
	ModelURL   string `yaml:"model_url"`
	Language   string `yaml:"language"`
	Threads    uint   `yaml:"threads"`
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
}

// ServerConfig holds HTTP surface settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	MaxUploadMB  int           `yaml:"max_upload_mb"`
	AllowOrigins []string      `yaml:"allow_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RecorderConfig holds live recorder settings.
type RecorderConfig struct {
	DefaultSeconds int      `yaml:"default_seconds"`
	HotkeyKeys     []string `yaml:"hotkey_keys"` // empty disables the global hotkey
	HotkeyMode     string   `yaml:"hotkey_mode"` // "toggle" or "hold"
}

// InjectConfig holds transcript injection settings for the recorder.
type InjectConfig struct {
	Method string `yaml:"method"` // "none", "type" or "paste"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "jvstt")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the directory downloaded models are stored in.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".local", "share", "jvstt", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Transcribe: TranscribeConfig{
			Backend:    "whisper",
			ModelPath:  filepath.Join(DefaultModelsDir(), "ggml-small.bin"),
			ModelURL:   "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
			Language:   "jw",
			FFmpegPath: "ffmpeg",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		Server: ServerConfig{
			Addr:         "0.0.0.0:5000",
			MaxUploadMB:  25,
			AllowOrigins: []string{"*"},
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Recorder: RecorderConfig{
			DefaultSeconds: 5,
			HotkeyMode:     "toggle",
		},
		Inject: InjectConfig{
			Method: "none",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Transcribe.ModelPath = expandTilde(cfg.Transcribe.ModelPath)
	cfg.TempDir = expandTilde(cfg.TempDir)

	return cfg, nil
}

// Resolve loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. The PORT environment
// variable, when set, overrides the port of server.addr.
func Resolve(path string) (*Config, error) {
	var cfg *Config
	switch {
	case path != "":
		c, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		defaultPath := DefaultConfigPath()
		if _, err := os.Stat(defaultPath); err == nil {
			c, err := Load(defaultPath)
			if err != nil {
				return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
			}
			slog.Debug("config loaded", "path", defaultPath)
			cfg = c
		} else {
			cfg = Default()
		}
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		host, _, err := net.SplitHostPort(cfg.Server.Addr)
		if err != nil {
			host = ""
		}
		cfg.Server.Addr = net.JoinHostPort(host, port)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Transcribe.Backend {
	case "whisper":
		if c.Transcribe.ModelPath == "" {
			return fmt.Errorf("transcribe.model_path must not be empty for whisper backend")
		}
	default:
		return fmt.Errorf("transcribe.backend must be \"whisper\", got %q", c.Transcribe.Backend)
	}

	if strings.TrimSpace(c.Transcribe.Language) == "" {
		return fmt.Errorf("transcribe.language must not be empty")
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}

	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be > 0")
	}

	if c.Recorder.DefaultSeconds <= 0 {
		return fmt.Errorf("recorder.default_seconds must be > 0")
	}

	switch c.Recorder.HotkeyMode {
	case "toggle", "hold":
	default:
		return fmt.Errorf("recorder.hotkey_mode must be \"toggle\" or \"hold\", got %q", c.Recorder.HotkeyMode)
	}

	switch c.Inject.Method {
	case "none", "type", "paste":
	default:
		return fmt.Errorf("inject.method must be \"none\", \"type\" or \"paste\", got %q", c.Inject.Method)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog level. Unknown values
// default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogging installs a text slog handler on stderr at the configured level.
func SetupLogging(level string) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLogLevel(level)})
	slog.SetDefault(slog.New(h))
}

const defaultHeader = "# jvstt configuration\n# Generated with default values. Edit as needed.\n\n"

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" when a config file
// was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
