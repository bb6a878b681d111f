// Package app wires all call intake subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and the call channel until its context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithCaseStore,
// WithPublisher, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callintake/internal/analyzer"
	"github.com/MrWong99/callintake/internal/archive"
	"github.com/MrWong99/callintake/internal/config"
	"github.com/MrWong99/callintake/internal/dispatcher"
	"github.com/MrWong99/callintake/internal/events"
	"github.com/MrWong99/callintake/internal/events/amqp"
	"github.com/MrWong99/callintake/internal/events/kafka"
	"github.com/MrWong99/callintake/internal/finalize"
	"github.com/MrWong99/callintake/internal/gazetteer"
	"github.com/MrWong99/callintake/internal/health"
	"github.com/MrWong99/callintake/internal/incident"
	"github.com/MrWong99/callintake/internal/observe"
	"github.com/MrWong99/callintake/internal/resilience"
	"github.com/MrWong99/callintake/internal/segment"
	"github.com/MrWong99/callintake/internal/session"
	"github.com/MrWong99/callintake/internal/transport"
	"github.com/MrWong99/callintake/pkg/cases"
	"github.com/MrWong99/callintake/pkg/cases/postgres"
	"github.com/MrWong99/callintake/pkg/provider/tts"
	"github.com/MrWong99/callintake/pkg/provider/vad"
)

// retryBackoff is the pause before the single retry of a pipeline stage.
const retryBackoff = 250 * time.Millisecond

// App owns all subsystem lifetimes.
type App struct {
	providers Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	cfgMu sync.Mutex
	cfg   *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	cases      cases.Store
	publisher  events.Publisher
	incidents  *incident.Store
	dispatcher *dispatcher.Dispatcher
	sessions   *session.Manager
	transport  *transport.Server
	health     *health.Handler
	handler    http.Handler
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCaseStore injects a case store instead of creating one from config.
func WithCaseStore(s cases.Store) Option {
	return func(a *App) { a.cases = s }
}

// WithPublisher injects an event publisher instead of creating one from
// config. The App takes ownership and closes it on Shutdown.
func WithPublisher(p events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics sets the metric instruments. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar hands the App the level of the installed log handler so a
// config reload can change verbosity.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); empty slots are
// tolerated and reported by /readyz.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers.withDefaults(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Case store ────────────────────────────────────────────────────
	if err := a.initCases(ctx); err != nil {
		return nil, fmt.Errorf("app: init cases: %w", err)
	}

	// ── 2. Event publisher ───────────────────────────────────────────────
	if err := a.initPublisher(); err != nil {
		return nil, fmt.Errorf("app: init events: %w", err)
	}

	// ── 3. Finalizer ─────────────────────────────────────────────────────
	fin, err := a.newFinalizer()
	if err != nil {
		return nil, fmt.Errorf("app: init finalizer: %w", err)
	}

	// ── 4. Analysis and response ─────────────────────────────────────────
	a.incidents = incident.NewStore()
	az := analyzer.New(a.providers.AnalyzerLLM, analyzer.Config{
		Prompt:          cfg.Analyzer.Prompt,
		DefaultDistrict: cfg.Analyzer.DefaultDistrict,
		Temperature:     cfg.Analyzer.Temperature,
		MaxTokens:       cfg.Analyzer.MaxTokens,
	}, analyzer.WithLogger(a.log))
	a.dispatcher = dispatcher.New(a.providers.LLM, dispatcherConfig(cfg), dispatcher.WithLogger(a.log))

	// ── 5. Session manager ───────────────────────────────────────────────
	a.sessions = session.New(session.Config{
		STT:        a.providers.STT,
		TTS:        a.providers.TTS,
		VAD:        a.providers.VAD,
		Analyzer:   az,
		Dispatcher: a.dispatcher,
		Incidents:  a.incidents,
		Finalizer:  fin,
		Archive:    archive.New(cfg.Archive.Dir),
		Publisher:  a.publisher,
		Metrics:    a.metrics,
		Settings:   sessionSettings(cfg),
		Logger:     a.log,
	})

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.transport = transport.New(a.sessions,
		transport.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		transport.WithLogger(a.log),
		transport.WithEndTimeout(cfg.Pipeline.FinalizeTimeout+cfg.Pipeline.IdleTimeout),
	)
	a.health = health.New(
		health.Ping("cases", a.cases),
		health.Configured("providers", providers.present()),
	)

	mux := http.NewServeMux()
	a.transport.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.HandleFunc("GET /api/cases", a.handleListCases)
	mux.HandleFunc("GET /api/cases/{id}", a.handleGetCase)
	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCases connects PostgreSQL when a DSN is configured and keeps cases in
// memory otherwise.
func (a *App) initCases(ctx context.Context) error {
	if a.cases != nil {
		return nil
	}
	dsn := a.cfg.Cases.PostgresDSN
	if dsn == "" {
		a.log.Warn("cases.postgres_dsn not set, cases are kept in memory")
		a.cases = cases.NewMemStore()
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.cases = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initPublisher creates the configured lifecycle event backend.
func (a *App) initPublisher() error {
	if a.publisher != nil {
		a.closers = append(a.closers, a.publisher.Close)
		return nil
	}
	ec := a.cfg.Events
	switch ec.Backend {
	case config.EventsKafka:
		p, err := kafka.New(kafka.Config{Brokers: ec.Kafka.Brokers, Topic: ec.Kafka.Topic})
		if err != nil {
			return err
		}
		a.publisher = p
	case config.EventsAMQP:
		p, err := amqp.Dial(ec.AMQP.URL, ec.AMQP.Queue)
		if err != nil {
			return err
		}
		a.publisher = p
	default:
		a.publisher = events.NewLogPublisher(a.log)
	}
	a.closers = append(a.closers, a.publisher.Close)
	a.log.Info("event publisher ready", "backend", ec.Backend)
	return nil
}

func (a *App) newFinalizer() (*finalize.Finalizer, error) {
	opts := []finalize.Option{
		finalize.WithPublisher(a.publisher),
		finalize.WithDefaultDistrict(a.cfg.Analyzer.DefaultDistrict),
		finalize.WithTimeout(a.cfg.Pipeline.FinalizeTimeout),
		finalize.WithLogger(a.log),
	}
	if names := a.cfg.Analyzer.Districts; len(names) > 0 {
		opts = append(opts, finalize.WithDistricts(gazetteer.New(append([]string{a.cfg.Analyzer.DefaultDistrict}, names...))))
	}
	if rc := a.cfg.Registrar; rc.BaseURL != "" {
		reg, err := finalize.NewRegistrar(finalize.RegistrarConfig{
			BaseURL:             rc.BaseURL,
			OrganizationID:      rc.OrganizationID,
			ClassificationCodes: rc.ClassificationCodes,
			ReferencePrefix:     rc.ReferencePrefix,
			Timeout:             rc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, finalize.WithRegistrar(reg))
	} else {
		a.log.Info("registrar.base_url not set, incidents are not registered externally")
	}
	return finalize.New(a.cases, opts...), nil
}

// dispatcherConfig maps the dispatcher section onto the responder.
func dispatcherConfig(cfg *config.Config) dispatcher.Config {
	persona := dispatcher.DefaultPersona()
	if cfg.Dispatcher.SystemPrompt != "" {
		persona.SystemPrompt = cfg.Dispatcher.SystemPrompt
	}
	if cfg.Dispatcher.FallbackReply != "" {
		persona.FallbackReply = cfg.Dispatcher.FallbackReply
	}
	return dispatcher.Config{
		Persona:      persona,
		HistoryLimit: cfg.Dispatcher.HistoryLimit,
		Temperature:  cfg.Dispatcher.Temperature,
		MaxTokens:    cfg.Dispatcher.MaxTokens,
		Policy:       policy("responder", cfg.Pipeline.ResponderTimeout, cfg.Pipeline),
	}
}

// sessionSettings maps the pipeline, segmenter and voice sections onto the
// session manager.
func sessionSettings(cfg *config.Config) session.Settings {
	p, sg, v := cfg.Pipeline, cfg.Segmenter, cfg.Dispatcher.Voice
	return session.Settings{
		SampleRate:         p.TargetSampleRate,
		STT:                policy("stt", p.STTTimeout, p),
		TTS:                policy("tts", p.TTSTimeout, p),
		Analyzer:           policy("analyzer", p.AnalyzerTimeout, p),
		MinTranscriptChars: p.MinTranscriptChars,
		IdleTimeout:        p.IdleTimeout,
		SweepInterval:      p.SweepInterval,
		QueueDepth:         p.QueueDepth,
		Segmenter: segment.Config{
			Window:       sg.Window,
			SilenceGrace: sg.SilenceGrace,
			MaxSpeech:    sg.MaxSpeech,
			MinUtterance: sg.MinUtterance,
		},
		VAD: vad.Config{
			CalibrationWindow: sg.CalibrationWindow,
			Margin:            sg.Margin,
			Floor:             sg.Floor,
		},
		Voice: tts.Voice{ID: v.ID, Language: v.Language, Speed: v.Speed},
	}
}

func policy(name string, timeout time.Duration, p config.PipelineConfig) resilience.Policy {
	return resilience.Policy{
		Name:    name,
		Timeout: timeout,
		Retries: p.RetryBudget(),
		Backoff: retryBackoff,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Run listens on server.listen_addr and serves until ctx is cancelled, then
// shuts down within server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	addr := a.config().Server.ListenAddr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.config()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
		var err error
		if tc := cfg.Server.TLS; tc != nil {
			err = a.server.ServeTLS(ln, tc.CertFile, tc.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		_ = a.sessions.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// Sections that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
	if !d.Changed() {
		return
	}

	a.cfgMu.Lock()
	next := *a.cfg
	next.Server.LogLevel = new.Server.LogLevel
	next.Pipeline = new.Pipeline
	next.Dispatcher = new.Dispatcher
	a.cfg = &next
	a.cfgMu.Unlock()

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DispatcherChanged || d.PipelineChanged {
		a.dispatcher.Reconfigure(dispatcherConfig(&next))
		a.sessions.Reconfigure(sessionSettings(&next))
		a.log.Info("pipeline settings reloaded",
			"dispatcher", d.DispatcherChanged, "pipeline", d.PipelineChanged)
	}
}

func (a *App) config() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, ends every open call and waits for its
// finalization, then closes stores and publishers. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned. Later calls return the first call's result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "active_calls", a.sessions.Len())
		a.health.SetDraining()

		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown", "err", err)
		}
		if err := a.sessions.Shutdown(ctx); err != nil {
			a.log.Warn("calls not finalized before deadline", "err", err)
			a.stopErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				a.stopErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return a.stopErr
}
