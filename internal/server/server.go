// Package server exposes transcription over HTTP with echo.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chaz8081/jvstt/internal/config"
	"github.com/chaz8081/jvstt/internal/ingest"
	"github.com/chaz8081/jvstt/internal/tempaudio"
	"github.com/chaz8081/jvstt/internal/transcribe"
)

const (
	healthMessage  = "Javanese Speech-to-Text API is running"
	noAudioMessage = "No audio data provided. Send either 'audio_file' or 'audio_base64'"
	badJSONMessage = "Invalid JSON body"

	shutdownTimeout = 10 * time.Second
)

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Model   string `json:"model"`
}

type transcribeResponse struct {
	Success       bool   `json:"success"`
	Transcription string `json:"transcription"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type jsonPayload struct {
	AudioBase64 string `json:"audio_base64"`
}

// errBadJSON marks a request body that could not be parsed.
var errBadJSON = errors.New("server: invalid json body")

// Server serves /health and /transcribe.
type Server struct {
	cfg    config.ServerConfig
	ingest *ingest.Adapter
	orch   *transcribe.Orchestrator
	e      *echo.Echo
}

// New creates a Server and registers its routes and middleware.
func New(cfg config.ServerConfig, adapter *ingest.Adapter, orch *transcribe.Orchestrator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{cfg: cfg, ingest: adapter, orch: orch, e: e}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency.Round(time.Millisecond)),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "[http] request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))

	e.GET("/health", s.handleHealth)
	e.POST("/transcribe", s.handleTranscribe)
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully, letting in-flight transcriptions finish.
func (s *Server) Run(ctx context.Context) error {
	s.e.Server.ReadTimeout = s.cfg.ReadTimeout
	s.e.Server.WriteTimeout = s.cfg.WriteTimeout

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[http] listening", "addr", s.cfg.Addr)
		errCh <- s.e.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("[http] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// handleError renders every error that escapes a handler or middleware,
// including body limit rejections, unknown routes and recovered panics, in
// the same envelope as handler failures. Only *echo.HTTPError messages are
// passed through; anything else is reported as a plain 500.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	} else {
		slog.Error("[http] unhandled error", "uri", c.Request().RequestURI, "error", err)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, errorResponse{Error: msg})
	}
	if werr != nil {
		slog.Warn("[http] write error response", "error", werr)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Message: healthMessage,
		Model:   s.orch.Session().State().String(),
	})
}

func (s *Server) handleTranscribe(c echo.Context) error {
	h, err := s.ingestRequest(c)
	switch {
	case errors.Is(err, ingest.ErrNoAudioProvided):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: noAudioMessage})
	case errors.Is(err, errBadJSON):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: badJSONMessage})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	defer h.Release()

	// the request context only bounds the wait for a load in flight
	if err := s.orch.Session().EnsureReady(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	req, err := s.orch.Transcribe(h)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	c.Response().Header().Set("X-Transcription-Id", req.ID)
	return c.JSON(http.StatusOK, transcribeResponse{Success: true, Transcription: req.Text})
}

// ingestRequest turns the request into a populated handle. A multipart
// upload wins over an encoded payload, matching the field precedence
// clients already rely on.
func (s *Server) ingestRequest(c echo.Context) (*tempaudio.Handle, error) {
	ctype := c.Request().Header.Get(echo.HeaderContentType)

	if strings.HasPrefix(ctype, echo.MIMEApplicationJSON) {
		var body jsonPayload
		if err := c.Bind(&body); err != nil {
			slog.Debug("[http] bind failed", "error", err)
			return nil, errBadJSON
		}
		if err := ingest.CheckProvided(false, body.AudioBase64 != ""); err != nil {
			return nil, err
		}
		return s.ingest.FromEncodedPayload(body.AudioBase64)
	}

	fh, err := c.FormFile("audio_file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		slog.Debug("[http] form parse failed", "error", err)
	}
	payload := c.FormValue("audio_base64")

	if err := ingest.CheckProvided(fh != nil, payload != ""); err != nil {
		return nil, err
	}

	if fh != nil {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("server: open upload: %w", err)
		}
		defer f.Close()
		return s.ingest.FromUploadedBytes(f)
	}
	return s.ingest.FromEncodedPayload(payload)
}
