package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/jvstt/internal/config"
	"github.com/chaz8081/jvstt/internal/ingest"
	"github.com/chaz8081/jvstt/internal/models"
	"github.com/chaz8081/jvstt/internal/server"
	"github.com/chaz8081/jvstt/internal/tempaudio"
	"github.com/chaz8081/jvstt/internal/transcribe"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/jvstt/config.yaml)")
	download := flag.Bool("download", false, "download the model before serving if it is missing")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	config.SetupLogging(cfg.LogLevel)

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *download {
		if err := models.Download(ctx, cfg.Transcribe.ModelURL, cfg.Transcribe.ModelPath, os.Stdout); err != nil {
			log.Fatalf("model download: %v", err)
		}
	}

	temp, err := tempaudio.NewManager(cfg.TempDir, "jvstt-")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	if n, err := temp.Sweep(); err != nil {
		slog.Warn("[main] sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("[main] removed stale temp files", "count", n)
	}

	load, err := transcribe.NewLoader(&cfg.Transcribe)
	if err != nil {
		log.Fatalf("transcribe: %v", err)
	}
	session := transcribe.NewSession(load)
	orch := transcribe.NewOrchestrator(session, cfg.Transcribe.Language)
	srv := server.New(cfg.Server, ingest.New(temp, nil), orch)

	// Warm the model so the first request does not pay for the load.
	// Requests that arrive earlier wait on the same load.
	go func() {
		if err := session.EnsureReady(ctx); err != nil {
			slog.Error("[main] model warm-up failed; requests will retry the load", "error", err)
		}
	}()

	runErr := srv.Run(ctx)

	if err := session.Close(); err != nil {
		slog.Warn("[main] closing model", "error", err)
	}
	slog.Info("[main] stopped", "live_handles", temp.Live())

	if runErr != nil {
		log.Fatalf("server: %v", runErr)
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== jvstt-server ===")
	fmt.Printf("  Model:    %s\n", cfg.Transcribe.ModelPath)
	fmt.Printf("  Language: %s\n", cfg.Transcribe.Language)
	fmt.Printf("  Listen:   %s\n", cfg.Server.Addr)
	fmt.Printf("  Origins:  %s\n", strings.Join(cfg.Server.AllowOrigins, ", "))
	fmt.Printf("  Upload:   %d MB max\n", cfg.Server.MaxUploadMB)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
