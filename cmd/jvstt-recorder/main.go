package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/jvstt/internal/audio"
	"github.com/chaz8081/jvstt/internal/config"
	"github.com/chaz8081/jvstt/internal/hotkey"
	"github.com/chaz8081/jvstt/internal/ingest"
	"github.com/chaz8081/jvstt/internal/inject"
	"github.com/chaz8081/jvstt/internal/models"
	"github.com/chaz8081/jvstt/internal/recording"
	"github.com/chaz8081/jvstt/internal/tempaudio"
	"github.com/chaz8081/jvstt/internal/transcribe"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/jvstt/config.yaml)")
	download := flag.Bool("download", false, "download the model first if it is missing")
	once := flag.Int("once", 0, "record this many seconds, transcribe, print and exit")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	config.SetupLogging(cfg.LogLevel)

	if *download {
		if err := models.Download(context.Background(), cfg.Transcribe.ModelURL, cfg.Transcribe.ModelPath, os.Stdout); err != nil {
			log.Fatalf("model download: %v", err)
		}
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

	injector, err := inject.New(cfg.Inject.Method)
	if err != nil {
		log.Fatalf("inject: %v", err)
	}

	// A missing microphone is reported per recording attempt, so the
	// recorder can still start and explain the problem.
	var capturer audio.Capturer
	recorder, err := audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		slog.Warn("[main] audio recorder unavailable", "error", err)
	} else {
		capturer = recorder
	}
	adapter := ingest.New(temp, capturer)

	if *once > 0 {
		err := runOnce(adapter, orch, injector, *once, cfg.Audio.SampleRate)
		if recorder != nil {
			recorder.Close()
		}
		_ = session.Close()
		if err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	rs := recording.New(adapter, orch, temp, cfg.Audio.SampleRate)
	app := &app{cfg: cfg, rs: rs, injector: injector}
	app.run(session)

	rs.Close()
	if recorder != nil {
		recorder.Close()
	}
	_ = session.Close()
	slog.Debug("[main] stopped", "live_handles", temp.Live())
	fmt.Println("Goodbye!")
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

// runOnce records for the given number of seconds, transcribes and prints
// the result. Ctrl+C ends the recording early.
func runOnce(adapter *ingest.Adapter, orch *transcribe.Orchestrator, injector inject.TextInjector, seconds int, rate uint32) error {
	fmt.Println("Loading model...")
	if err := orch.Session().EnsureReady(context.Background()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Recording for %d seconds... (Ctrl+C to stop early)\n", seconds)
	h, err := adapter.FromLiveCapture(ctx, time.Duration(seconds)*time.Second, rate)
	if err != nil {
		return err
	}
	defer h.Release()

	fmt.Println("Transcribing... Please wait.")
	req, err := orch.Transcribe(h)
	if err != nil {
		return err
	}

	fmt.Println("Transcription Result:")
	fmt.Println(req.Text)
	if err := injector.Inject(req.Text); err != nil {
		return err
	}
	return nil
}

// app is the interactive recorder. Everything it prints happens on the
// goroutine running run.
type app struct {
	cfg      *config.Config
	rs       *recording.Session
	injector inject.TextInjector
}

func (a *app) run(session *transcribe.Session) {
	a.rs.SetMessage("Loading model...")
	a.printStatus()

	loaded := make(chan error, 1)
	go func() { loaded <- session.EnsureReady(context.Background()) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	var hkEvents <-chan hotkey.Event
	var hkMode hotkey.Mode
	if len(a.cfg.Recorder.HotkeyKeys) > 0 {
		mode, err := hotkey.ParseMode(a.cfg.Recorder.HotkeyMode)
		if err != nil {
			slog.Warn("[main] hotkey disabled", "error", err)
		} else if listener, err := hotkey.NewListener(a.cfg.Recorder.HotkeyKeys, mode); err != nil {
			slog.Warn("[main] hotkey disabled", "error", err)
		} else {
			hkMode = mode
			hkEvents = listener.Events()
			go listener.Run()
			defer listener.Stop()
			fmt.Printf("Hotkey: %s (%s mode)\n", strings.Join(a.cfg.Recorder.HotkeyKeys, "+"), mode)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	printHelp()
	for {
		select {
		case err := <-loaded:
			loaded = nil
			if err != nil {
				var le *transcribe.LoadError
				if errors.As(err, &le) {
					err = le.Err
				}
				a.rs.SetMessage("Error loading model: " + err.Error())
			} else {
				a.rs.SetMessage("Ready to record")
			}
			a.printStatus()

		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := a.handle(parseCommand(line, a.cfg.Recorder.DefaultSeconds)); quit {
				return
			}

		case ev, ok := <-hkEvents:
			if !ok {
				hkEvents = nil
				continue
			}
			recordingNow := a.rs.Snapshot().Status == recording.Recording
			switch hkMode.Decide(ev, recordingNow) {
			case hotkey.Start:
				a.handle(command{name: "record", seconds: a.cfg.Recorder.DefaultSeconds})
			case hotkey.Stop:
				a.handle(command{name: "stop"})
			}

		case ev := <-a.rs.Events():
			a.printStatus()
			if ev.Kind == recording.TranscribeFinished {
				a.printResult(ev.Text)
			}

		case sig := <-sigCh:
			fmt.Printf("Received %s, shutting down...\n", sig)
			return
		}
	}
}

// handle executes one command and reports whether the loop should exit.
func (a *app) handle(c command) bool {
	var err error
	switch c.name {
	case "":
		return false
	case "record":
		err = a.rs.Start(c.seconds)
	case "stop":
		err = a.rs.Stop()
	case "transcribe":
		err = a.rs.Transcribe()
	case "status":
	case "help":
		printHelp()
		return false
	case "quit":
		return true
	default:
		if c.err == nil {
			c.err = fmt.Errorf("unknown command %q", c.name)
		}
	}
	if c.err != nil {
		fmt.Println(c.err)
		printHelp()
		return false
	}
	if err != nil {
		fmt.Println(describe(err))
	}
	a.printStatus()
	return false
}

func (a *app) printStatus() {
	snap := a.rs.Snapshot()
	fmt.Printf("[%s] %s\n", snap.Status, snap.Message)
}

func (a *app) printResult(text string) {
	fmt.Println("Transcription Result:")
	if text == "" {
		fmt.Println("(no speech detected)")
		return
	}
	fmt.Println(text)
	if err := a.injector.Inject(text); err != nil {
		slog.Error("[main] text injection failed", "error", err)
	}
}

// describe maps session errors to the line shown to the user.
func describe(err error) string {
	switch {
	case errors.Is(err, recording.ErrBusy):
		return "Busy: wait for the current recording or transcription to finish"
	case errors.Is(err, recording.ErrNotRecording):
		return "Not recording"
	case errors.Is(err, recording.ErrInvalidDuration):
		return "Duration must be positive"
	case errors.Is(err, recording.ErrNothingToTranscribe):
		return "No recording available"
	case errors.Is(err, transcribe.ErrModelNotReady):
		return "Model not loaded yet"
	default:
		return err.Error()
	}
}

func printHelp() {
	fmt.Println("Commands: record [seconds] | stop | transcribe | status | help | quit")
}
