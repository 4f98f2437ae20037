// Command echoline is the main entry point for the Echoline voice session
// manager. It captures microphone audio, streams it to a conversational
// speech provider, plays the model's replies through the speaker, and prints
// the turn-segmented transcript on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echoline-ai/echoline/internal/config"
	"github.com/echoline-ai/echoline/internal/health"
	"github.com/echoline-ai/echoline/internal/observe"
	"github.com/echoline-ai/echoline/internal/session"
	"github.com/echoline-ai/echoline/internal/transcript"
	pgstore "github.com/echoline-ai/echoline/internal/transcript/postgres"
	"github.com/echoline-ai/echoline/pkg/audio"
	"github.com/echoline-ai/echoline/pkg/audio/device"
	"github.com/echoline-ai/echoline/pkg/provider/live"
	"github.com/echoline-ai/echoline/pkg/provider/live/gemini"
	"github.com/echoline-ai/echoline/pkg/provider/live/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echoline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echoline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("echoline starting",
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "echoline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.Create(cfg.Provider)
	if err != nil {
		slog.Error("failed to create provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}
	caps := provider.Capabilities()
	slog.Info("provider created",
		"name", cfg.Provider.Name,
		"input_rate", caps.InputSampleRate,
		"output_rate", caps.OutputSampleRate,
	)

	// ── Audio devices ─────────────────────────────────────────────────────────
	capture, err := device.NewMalgoCapture()
	if err != nil {
		slog.Error("failed to initialise audio backend", "err", err)
		return 1
	}
	defer func() {
		if err := capture.Close(); err != nil {
			slog.Warn("audio backend close error", "err", err)
		}
	}()

	captureRate := cfg.Audio.CaptureSampleRate
	if captureRate == 0 {
		captureRate = caps.InputSampleRate
	}

	// ── Transcript store ──────────────────────────────────────────────────────
	var store transcript.Store
	var pg *pgstore.Store
	if dsn := cfg.Transcript.PostgresDSN; dsn != "" {
		sessionID := cfg.Transcript.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		pg, err = pgstore.NewStore(ctx, dsn, sessionID)
		if err != nil {
			slog.Error("failed to connect transcript store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		slog.Info("transcript store connected", "session_id", sessionID)
	} else {
		store = transcript.NewMemoryStore()
	}

	// ── Session ───────────────────────────────────────────────────────────────
	sess, err := session.New(session.Config{
		Provider:     provider,
		ProviderName: cfg.Provider.Name,
		Session: live.SessionConfig{
			Model:           cfg.Provider.Model,
			Voice:           cfg.Provider.Voice,
			Instructions:    cfg.Provider.Instructions,
			InputSampleRate: captureRate,
		},
		Capture:       capture,
		Output:        &device.OtoOpener{},
		Store:         store,
		Logger:        logger,
		CaptureFormat: audio.Format{SampleRate: captureRate, Channels: 1},
		FrameSize:     cfg.Audio.FrameSize,
		OutputFormat:  audio.Format{SampleRate: caps.OutputSampleRate, Channels: 1},
	})
	if err != nil {
		slog.Error("failed to build session", "err", err)
		return 1
	}

	// ── Admin server (health + metrics) ───────────────────────────────────────
	var admin *http.Server
	if cfg.Server.AdminAddr != "" {
		admin = newAdminServer(cfg.Server.AdminAddr, sess, pg)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server error", "err", err)
			}
		}()
		slog.Info("admin endpoints up", "addr", cfg.Server.AdminAddr)
	}

	printStartupSummary(cfg, caps)

	if err := sess.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		return 1
	}
	slog.Info("session connected — press Ctrl+C to hang up")

	waitUntilDone(ctx, sess)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := sess.Close(shutdownCtx); err != nil {
		slog.Warn("session close error", "err", err)
	}
	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown error", "err", err)
		}
	}

	printTranscript(shutdownCtx, sess)
	slog.Info("goodbye")
	return 0
}

// waitUntilDone blocks until the shutdown signal fires or the session leaves
// the connected state (remote hang-up or provider failure).
func waitUntilDone(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch sess.State() {
			case session.StateConnected, session.StateConnecting:
				continue
			default:
				if err := sess.LastError(); err != nil {
					slog.Error("session ended", "err", err)
				} else {
					slog.Info("session ended by remote")
				}
				return
			}
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the conversational provider factories that
// ship with Echoline into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("gemini-live", func(entry config.ProviderConfig) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.Register("openai-realtime", func(entry config.ProviderConfig) (live.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
}

// ── Admin endpoints ───────────────────────────────────────────────────────────

// newAdminServer builds the health and metrics endpoint server. The database
// checker is only registered when a postgres transcript store is in use.
func newAdminServer(addr string, sess *session.Session, pg *pgstore.Store) *http.Server {
	checkers := []health.Checker{
		{
			Name: "session",
			Check: func(context.Context) error {
				if st := sess.State(); st != session.StateConnected {
					return fmt.Errorf("session is %s", st)
				}
				return nil
			},
		},
	}
	if pg != nil {
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: pg.Ping,
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, caps live.Capabilities) {
	model := cfg.Provider.Model
	if model == "" {
		model = "(provider default)"
	}
	voice := cfg.Provider.Voice
	if voice == "" {
		voice = "(provider default)"
	}
	persistence := "memory"
	if cfg.Transcript.PostgresDSN != "" {
		persistence = "postgres"
	}

	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║          Echoline — session summary       ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Provider", cfg.Provider.Name)
	printRow("Model", model)
	printRow("Voice", voice)
	printRow("Mic rate", fmt.Sprintf("%d Hz", caps.InputSampleRate))
	printRow("Speaker rate", fmt.Sprintf("%d Hz", caps.OutputSampleRate))
	printRow("Transcript", persistence)
	if cfg.Server.AdminAddr != "" {
		printRow("Admin addr", cfg.Server.AdminAddr)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 25 {
		value = value[:22] + "…"
	}
	fmt.Printf("║  %-13s : %-25s ║\n", label, value)
}

// printTranscript writes the recorded conversation to stdout, one line per
// turn side.
func printTranscript(ctx context.Context, sess *session.Session) {
	entries, err := sess.Transcript(ctx)
	if err != nil {
		slog.Warn("could not read transcript", "err", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	fmt.Println()
	fmt.Println("── transcript ──")
	for _, e := range entries {
		fmt.Printf("[%s] %s: %s\n", e.CreatedAt.Format("15:04:05"), e.Role, e.Text)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
