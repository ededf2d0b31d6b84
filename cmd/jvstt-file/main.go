package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/jvstt/internal/config"
	"github.com/chaz8081/jvstt/internal/ingest"
	"github.com/chaz8081/jvstt/internal/models"
	"github.com/chaz8081/jvstt/internal/tempaudio"
	"github.com/chaz8081/jvstt/internal/transcribe"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/jvstt/config.yaml)")
	download := flag.Bool("download", false, "download the model first if it is missing")
	initConfig := flag.Bool("init", false, "write a default config file and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] audio-file...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		fmt.Printf("Config at %s\n", path)
		return
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	config.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *download {
		if err := models.Download(ctx, cfg.Transcribe.ModelURL, cfg.Transcribe.ModelPath, os.Stdout); err != nil {
			log.Fatalf("model download: %v", err)
		}
	}

	files := flag.Args()
	if len(files) == 0 {
		if *download {
			return
		}
		flag.Usage()
		os.Exit(2)
	}

	temp, err := tempaudio.NewManager(cfg.TempDir, "jvstt-")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	if _, err := temp.Sweep(); err != nil {
		slog.Warn("[main] sweep failed", "error", err)
	}

	load, err := transcribe.NewLoader(&cfg.Transcribe)
	if err != nil {
		log.Fatalf("transcribe: %v", err)
	}
	session := transcribe.NewSession(load)
	orch := transcribe.NewOrchestrator(session, cfg.Transcribe.Language)
	adapter := ingest.New(temp, nil)

	failed := 0
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		text, err := transcribeFile(ctx, adapter, orch, path)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", path, err)
			continue
		}
		fmt.Printf("%s: %s\n", path, text)
	}

	if err := session.Close(); err != nil {
		slog.Warn("[main] closing model", "error", err)
	}
	if failed > 0 || ctx.Err() != nil {
		os.Exit(1)
	}
}

// transcribeFile copies path into a temp handle and transcribes it. The
// model is loaded on the first call.
func transcribeFile(ctx context.Context, adapter *ingest.Adapter, orch *transcribe.Orchestrator, path string) (string, error) {
	h, err := adapter.FromFile(path)
	if err != nil {
		return "", err
	}
	defer h.Release()

	if err := orch.Session().EnsureReady(ctx); err != nil {
		return "", err
	}
	req, err := orch.Transcribe(h)
	if err != nil {
		return "", err
	}
	return req.Text, nil
}
