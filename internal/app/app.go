// Package app wires every bridge subsystem into a running server.
//
// App owns the full lifecycle: New constructs and connects all subsystems
// from a loaded [config.Config], Run serves WebSocket and HTTP traffic until
// its context is cancelled, and Shutdown tears everything down in order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/bridge/internal/config"
	"github.com/MrWong99/bridge/internal/contextbuilder"
	"github.com/MrWong99/bridge/internal/httpapi"
	"github.com/MrWong99/bridge/internal/llm"
	"github.com/MrWong99/bridge/internal/observe"
	"github.com/MrWong99/bridge/internal/session"
	"github.com/MrWong99/bridge/internal/stt"
	"github.com/MrWong99/bridge/internal/store"
	"github.com/MrWong99/bridge/internal/tools"
	"github.com/MrWong99/bridge/internal/tts"
	"github.com/MrWong99/bridge/internal/vad"
)

// App owns all subsystem lifetimes and serves the voice assistant over
// WebSocket and HTTP.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	db          *store.Store
	toolCatalog *tools.Registry
	ctxBuilder  *contextbuilder.Builder
	models      llm.ModelSet
	sem         *semaphore.Weighted
	transcriber session.Transcriber
	synthesizer session.Synthesizer
	metrics     *observe.Metrics
	tracker     *httpapi.StatusTracker

	srv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithTranscriber injects a Transcriber instead of loading the whisper.cpp
// model named by cfg.STTModelPath.
func WithTranscriber(t session.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithSynthesizer injects a Synthesizer instead of dialing cfg.TTSServerURL.
func WithSynthesizer(s session.Synthesizer) Option {
	return func(a *App) { a.synthesizer = s }
}

// WithMetrics attaches a metrics recorder instead of using the package
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithStore injects a Store instead of opening cfg.DBPath.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.db = s }
}

// New wires every subsystem together from cfg. Use Option functions to
// inject test doubles for any subsystem; when an option is not provided,
// New builds the real implementation from cfg.
func New(cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(cfg); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.toolCatalog = tools.Catalog(a.db)
	a.ctxBuilder = contextbuilder.New(a.db, a.logger)

	if err := a.initSTT(cfg); err != nil {
		return nil, fmt.Errorf("app: init stt: %w", err)
	}
	if err := a.initTTS(cfg); err != nil {
		return nil, fmt.Errorf("app: init tts: %w", err)
	}
	if err := a.initModels(cfg, registry); err != nil {
		return nil, fmt.Errorf("app: init llm models: %w", err)
	}

	a.sem = llm.NewSemaphore(cfg.LLM.Concurrency)
	a.tracker = httpapi.NewStatusTracker()

	a.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: a.buildMux(),
	}

	return a, nil
}

func (a *App) initStore(cfg *config.Config) error {
	if a.db != nil {
		return nil
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	return nil
}

func (a *App) initSTT(cfg *config.Config) error {
	if a.transcriber != nil {
		return nil
	}
	p, err := stt.New(cfg.STTModelPath,
		stt.WithSampleRate(cfg.SampleRate),
		stt.WithChannels(cfg.Channels),
	)
	if err != nil {
		return err
	}
	a.transcriber = p
	a.closers = append(a.closers, p.Close)
	return nil
}

func (a *App) initTTS(cfg *config.Config) error {
	if a.synthesizer != nil {
		return nil
	}
	p, err := tts.New(cfg.TTSServerURL, tts.WithOutputSampleRate(cfg.SampleRate))
	if err != nil {
		return err
	}
	a.synthesizer = p
	return nil
}

// initModels builds the fast/deep provider pair through registry, keyed by
// the "provider:model" references in cfg.LLM.
func (a *App) initModels(cfg *config.Config, registry *config.Registry) error {
	fast, err := registry.CreateFromRef(cfg.LLM.FastModel, cfg.LLM.APIKey)
	if err != nil {
		return fmt.Errorf("build fast model: %w", err)
	}
	deep, err := registry.CreateFromRef(cfg.LLM.DeepModel, cfg.LLM.APIKey)
	if err != nil {
		return fmt.Errorf("build deep model: %w", err)
	}
	_, fastName, _ := config.ParseModelRef(cfg.LLM.FastModel)
	_, deepName, _ := config.ParseModelRef(cfg.LLM.DeepModel)
	a.models = llm.ModelSet{Fast: fast, Deep: deep, FastName: fastName, DeepName: deepName}
	return nil
}

// buildMux assembles the HTTP handler: the /ws/audio upgrade endpoint plus
// the ambient /health and /api/status routes.
func (a *App) buildMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/audio", a.handleWSAudio)
	mux.Handle("GET /metrics", promhttp.Handler())
	httpapi.New(a.tracker).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// handleWSAudio upgrades one HTTP connection to a WebSocket and runs a
// dedicated Session Pipeline for its lifetime.
func (a *App) handleWSAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket accept failed", "error", err)
		return
	}

	chat := llm.NewClient(a.models, a.toolCatalog, a.ctxBuilder, a.db, a.sem, a.logger,
		llm.WithMaxToolRounds(a.cfg.LLM.MaxToolRounds),
		llm.WithHistoryMax(a.cfg.LLM.HistoryMax),
		llm.WithMetrics(a.metrics),
	)
	segmenter := vad.New(&vad.RMSClassifier{}, vad.Config{
		SampleRate:     a.cfg.SampleRate,
		Channels:       a.cfg.Channels,
		SilenceMs:      a.cfg.SilenceMs,
		MaxRecordingMs: a.cfg.MaxRecordingMs,
	})

	sess := session.New(conn, a.transcriber, a.synthesizer, segmenter, chat,
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
		session.WithStatusRecorder(a.tracker),
		session.WithAudioFormat(a.cfg.SampleRate, a.cfg.Channels),
	)

	if err := sess.Run(r.Context()); err != nil {
		a.logger.Info("session ended", "error", err)
	}
}

// Run starts the HTTP/WebSocket listener and blocks until ctx is cancelled
// or the server fails to serve.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("bridge listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown tears down all subsystems, running closers in the order they
// were registered during init. It respects
// ctx's deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Warn("http server shutdown error", "error", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// Addr returns the bound listen address, for callers that need to log or
// test against it.
func (a *App) Addr() string { return a.srv.Addr }
