// Package app wires all tutorcall subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP (and watches the config file when asked to)
// until its context ends, and Shutdown tears everything down in order.
//
// For testing, inject in-memory implementations via functional options
// (WithDocumentStore, WithHistoryStore, etc.). When an option is not
// provided, New creates real implementations from the config.
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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tutorcall/internal/api"
	"github.com/MrWong99/tutorcall/internal/assistant"
	"github.com/MrWong99/tutorcall/internal/completion"
	"github.com/MrWong99/tutorcall/internal/config"
	"github.com/MrWong99/tutorcall/internal/document"
	livecall "github.com/MrWong99/tutorcall/internal/engine/live"
	"github.com/MrWong99/tutorcall/internal/health"
	"github.com/MrWong99/tutorcall/internal/history"
	"github.com/MrWong99/tutorcall/internal/history/postgres"
	"github.com/MrWong99/tutorcall/internal/observe"
	"github.com/MrWong99/tutorcall/internal/resilience"
	"github.com/MrWong99/tutorcall/pkg/provider/live"
	"github.com/MrWong99/tutorcall/pkg/provider/llm"
)

// httpShutdownGrace bounds how long in-flight requests may finish once Run's
// context ends.
const httpShutdownGrace = 10 * time.Second

// NamedProvider is a completion backend with the name it was configured
// under.
type NamedProvider struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the configured backends. Populated by main.go via the
// config registry.
type Providers struct {
	// Completion is the primary completion backend. Required.
	Completion NamedProvider

	// CompletionFallbacks are tried in order when the primary fails.
	CompletionFallbacks []NamedProvider

	// Live opens live speech sessions. Required.
	Live live.Provider
}

// HistoryStore is what the application needs from a history backend.
type HistoryStore interface {
	history.Recorder
	history.ChatStore
}

// App owns all subsystem lifetimes and serves the tutoring API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics    *observe.Metrics
	logLevel   *slog.LevelVar
	docs       document.Store
	hist       HistoryStore
	completer  llm.Provider
	sessions   *SessionManager
	health     *health.Handler
	handler    http.Handler
	server     *http.Server
	watchPath  string
	watchOpts  []config.WatcherOption
	callOpts   []livecall.Option
	checkers   []health.Checker
	listenAddr chan net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDocumentStore injects a document store instead of creating one from
// config.
func WithDocumentStore(s document.Store) Option {
	return func(a *App) { a.docs = s }
}

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s HistoryStore) Option {
	return func(a *App) { a.hist = s }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets hot reloads adjust the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithConfigWatch makes Run poll path and apply hot-reloadable changes.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchOpts = opts
	}
}

// WithCallOptions configures every session's live call.
func WithCallOptions(opts ...livecall.Option) Option {
	return func(a *App) { a.callOpts = opts }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connections, schema
// migration, the completion fallback chain and the HTTP router.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:        cfg,
		providers:  providers,
		listenAddr: make(chan net.Addr, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil || providers.Completion.Provider == nil {
		return nil, errors.New("app: a completion provider is required")
	}
	if providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}

	// ── 1. Document store ────────────────────────────────────────────────
	if err := a.initDocuments(ctx); err != nil {
		return nil, fmt.Errorf("app: init documents: %w", err)
	}

	// ── 2. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Completion chain ──────────────────────────────────────────────
	a.initCompletion()

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Live:        providers.Live,
		Documents:   a.docs,
		Recorder:    a.hist,
		Metrics:     a.metrics,
		CallOptions: a.callOpts,
		Settings:    a.settingsFor(cfg, assistant.NewBuilder(cfg.Voices.AssistantCatalogue(), builderOptions(cfg)...)),
	})
	a.closers = append([]func() error{a.sessions.CloseAll}, a.closers...)

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.health = health.New(a.checkers...)
	srv, err := api.New(api.Config{
		Sessions:       a.sessions,
		Extractor:      document.NewExtractor(document.WithMaxBytes(cfg.Documents.MaxUploadBytes)),
		Completer:      a.sessions,
		Chats:          a.hist,
		Health:         a.health,
		Metrics:        a.metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init api: %w", err)
	}
	a.handler = srv.Routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDocuments connects to Redis when configured and falls back to an
// in-process store otherwise.
func (a *App) initDocuments(ctx context.Context) error {
	if a.docs == nil {
		dc := a.cfg.Documents
		if dc.RedisAddr == "" {
			slog.Warn("documents.redis_addr not set, keeping notes in memory")
			a.docs = document.NewMemoryStore()
		} else {
			client := redis.NewClient(&redis.Options{
				Addr:     dc.RedisAddr,
				Password: dc.RedisPassword,
				DB:       dc.RedisDB,
			})
			rs := document.NewRedisStore(client, dc.TTL)
			if err := rs.Ping(ctx); err != nil {
				_ = rs.Close()
				return fmt.Errorf("redis %s: %w", dc.RedisAddr, err)
			}
			slog.Info("document store connected", "backend", "redis", "addr", dc.RedisAddr)
			a.docs = rs
		}
	}
	if p, ok := a.docs.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("documents", p))
	}
	a.closers = append(a.closers, a.docs.Close)
	return nil
}

// initHistory connects to PostgreSQL when configured and falls back to an
// in-process store otherwise.
func (a *App) initHistory(ctx context.Context) error {
	if a.hist == nil {
		dsn := a.cfg.History.PostgresDSN
		if dsn == "" {
			slog.Warn("history.postgres_dsn not set, keeping history in memory")
			a.hist = history.NewMemoryStore()
		} else {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			slog.Info("history store connected", "backend", "postgres")
			a.hist = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		}
	}
	if p, ok := a.hist.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("history", p))
	}
	return nil
}

// initCompletion puts the configured fallbacks behind the primary.
func (a *App) initCompletion() {
	primary := a.providers.Completion
	if len(a.providers.CompletionFallbacks) == 0 {
		a.completer = primary.Provider
		return
	}
	fb := resilience.NewLLMFallback(primary.Provider, primary.Name, resilience.FallbackConfig{})
	for _, p := range a.providers.CompletionFallbacks {
		fb.AddFallback(p.Name, p.Provider)
	}
	slog.Info("completion fallback chain", "backends", fb.Backends())
	a.completer = fb
}

// settingsFor builds the session settings for cfg around builder.
func (a *App) settingsFor(cfg *config.Config, builder *assistant.Builder) Settings {
	opts := []completion.Option{
		completion.WithProviderName(a.providers.Completion.Name),
		completion.WithTimeout(cfg.Session.CompletionTimeout),
		completion.WithMetrics(a.metrics),
	}
	if cfg.Session.SystemPrompt != "" {
		opts = append(opts, completion.WithSystemPrompt(cfg.Session.SystemPrompt))
	}
	return Settings{
		Builder:   builder,
		Completer: completion.New(a.completer, opts...),
		Session:   cfg.Session,
	}
}

func builderOptions(cfg *config.Config) []assistant.BuilderOption {
	var opts []assistant.BuilderOption
	if cfg.Session.AssistantName != "" {
		opts = append(opts, assistant.WithName(cfg.Session.AssistantName))
	}
	return opts
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session registry.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Addr blocks until Run is listening and returns the bound address.
func (a *App) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case addr := <-a.listenAddr:
		a.listenAddr <- addr
		return addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then stops accepting requests and
// waits up to ten seconds for in-flight ones. With [WithConfigWatch] it also
// polls the config file. Run returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.listenAddr <- ln.Addr()
	slog.Info("http server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.applyConfig, a.watchOpts...)
		if err != nil {
			slog.Warn("config watcher disabled", "path", a.watchPath, "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// applyConfig applies the hot-reloadable parts of a config change.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	current := a.sessions.Settings()
	builder := current.Builder
	if d.VoicesChanged {
		builder.SetCatalogue(new.Voices.AssistantCatalogue())
		slog.Info("voice catalogue reloaded")
	}
	if d.SessionChanged {
		next := assistant.NewBuilder(builder.Catalogue(), builderOptions(new)...)
		a.sessions.Update(a.settingsFor(new, next))
		slog.Info("session settings reloaded")
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every session, then the stores, in order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
