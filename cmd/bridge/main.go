// Command bridge is the main entry point for the voice assistant server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/bridge/internal/app"
	"github.com/MrWong99/bridge/internal/config"
	"github.com/MrWong99/bridge/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("bridge starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"fast_model", cfg.LLM.FastModel,
		"deep_model", cfg.LLM.DeepModel,
	)

	// ── Observability ─────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "bridge"})
	if err != nil {
		slog.Error("failed to init observability providers", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("observability shutdown error", "error", err)
		}
	}()

	// ── Provider registry + application wiring ───────────────────────────
	registry := config.DefaultRegistry()

	printStartupSummary(cfg)

	application, err := app.New(cfg, registry, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         bridge — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Listen addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	printField("Store", cfg.DBPath)
	printField("Fast model", cfg.LLM.FastModel)
	printField("Deep model", cfg.LLM.DeepModel)
	printField("LLM concurrency", fmt.Sprintf("%d", cfg.LLM.Concurrency))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s: %-19s ║\n", label, value)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
