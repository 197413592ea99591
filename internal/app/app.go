// Package app wires the kittymode subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the noise corpus, builds
// the index and connects the keyboard, the controller, the notifier and the
// optional control API. Run blocks while the controller listens, and Shutdown
// tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithListener,
// WithInjector, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kittymode/internal/config"
	"github.com/MrWong99/kittymode/internal/control"
	"github.com/MrWong99/kittymode/internal/controller"
	"github.com/MrWong99/kittymode/internal/health"
	"github.com/MrWong99/kittymode/internal/notify"
	"github.com/MrWong99/kittymode/internal/observe"
	"github.com/MrWong99/kittymode/internal/resilience"
	"github.com/MrWong99/kittymode/pkg/keyboard"
	"github.com/MrWong99/kittymode/pkg/keyboard/native"
	"github.com/MrWong99/kittymode/pkg/noise"
	"github.com/MrWong99/kittymode/pkg/noise/postgres"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injected or built in New.
	listener       keyboard.Listener
	injector       keyboard.Injector
	reporter       controller.Reporter
	clock          clock.Clock
	metrics        *observe.Metrics
	metricsHandler http.Handler
	notifier       *notify.Notifier
	logLevel       *slog.LevelVar
	seed           bool

	index *noise.Index
	ctrl  *controller.Controller
	api   *control.Server
	ln    net.Listener

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithListener injects a keyboard listener instead of the native hook.
func WithListener(l keyboard.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithInjector injects a keystroke injector instead of the native one. The
// injector is still wrapped in a circuit breaker.
func WithInjector(i keyboard.Injector) Option {
	return func(a *App) { a.injector = i }
}

// WithReporter sends controller events to r instead of the notifier.
func WithReporter(r controller.Reporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithClock injects a clock into the controller and the injector breaker.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on the control API's /metrics route.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithNotifier injects the desktop notifier.
func WithNotifier(n *notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithLogLevel lets [App.ApplyConfig] change the level of the process
// logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithSeed writes the file corpus (with computed vectors) into the
// postgres store before loading from it. It has no effect without
// corpus.postgres_dsn.
func WithSeed(seed bool) Option {
	return func(a *App) { a.seed = seed }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles.
//
// New performs all initialisation synchronously: corpus loading, index
// building (which may call the embedding provider), keyboard setup,
// controller construction and binding the control API listener. An index
// that cannot be built is returned as an error matching [noise.ErrIndexLoad]
// or [embeddings.ErrUnavailable].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Embeddings == nil {
		return nil, errors.New("app: an embeddings provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Noise corpus ───────────────────────────────────────────────────
	corpus, err := a.loadCorpus(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	// ── 2. Noise index ────────────────────────────────────────────────────
	idx, err := noise.Build(ctx, corpus, providers.Embeddings, cfg.CustomNoises, noise.BuildOptions{})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: build noise index: %w", err)
	}
	a.index = idx
	slog.Info("noise index ready",
		"entries", idx.Len(),
		"custom", len(idx.Custom()),
		"dimensions", idx.Dimensions(),
		"model", idx.Model(),
	)

	// ── 3. Keyboard ───────────────────────────────────────────────────────
	if err := a.initKeyboard(); err != nil {
		a.closeAll()
		return nil, err
	}

	// ── 4. Notifier ───────────────────────────────────────────────────────
	if a.notifier == nil {
		a.notifier = notify.New(cfg.Notifications.Enabled, cfg.Notifications.RateLimit)
	}
	if a.reporter == nil {
		a.reporter = a.notifier
	}

	// ── 5. Controller ─────────────────────────────────────────────────────
	ctrl, err := controller.New(controller.Deps{
		Listener: a.listener,
		Injector: a.injector,
		Provider: providers.Embeddings,
		Index:    idx,
	}, cfg.ControllerSettings(),
		controller.WithReporter(a.reporter),
		controller.WithClock(a.clock),
		controller.WithMetrics(a.metrics),
	)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: create controller: %w", err)
	}
	a.ctrl = ctrl
	a.closers = append(a.closers, ctrl.Close)

	// ── 6. Control API ────────────────────────────────────────────────────
	if err := a.initControlAPI(); err != nil {
		a.closeAll()
		return nil, err
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// loadCorpus reads the corpus from postgres when a DSN is configured and from
// the JSON file otherwise.
func (a *App) loadCorpus(ctx context.Context) (*noise.Corpus, error) {
	if a.cfg.Corpus.PostgresDSN == "" {
		c, err := noise.LoadFile(a.cfg.Corpus.Path)
		if err != nil {
			return nil, fmt.Errorf("app: load corpus: %w", err)
		}
		return c, nil
	}

	store, err := postgres.Open(ctx, a.cfg.Corpus.PostgresDSN, a.providers.Embeddings.Dimensions())
	if err != nil {
		return nil, &noise.LoadError{Path: "postgres", Err: err}
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	if a.seed {
		if err := a.seedStore(ctx, store); err != nil {
			return nil, err
		}
	}

	c, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load corpus: %w", err)
	}
	return c, nil
}

// seedStore embeds the file corpus and replaces the table contents with it.
// Custom noises are not stored; they are appended on every start.
func (a *App) seedStore(ctx context.Context, store *postgres.Store) error {
	if a.cfg.Corpus.Path == "" {
		return errors.New("app: seeding requires corpus.path")
	}
	c, err := noise.LoadFile(a.cfg.Corpus.Path)
	if err != nil {
		return fmt.Errorf("app: seed corpus: %w", err)
	}
	idx, err := noise.Build(ctx, c, a.providers.Embeddings, nil, noise.BuildOptions{})
	if err != nil {
		return fmt.Errorf("app: seed corpus: %w", err)
	}
	if err := store.Store(ctx, idx.Model(), idx.Entries()); err != nil {
		return fmt.Errorf("app: seed corpus: %w", err)
	}
	slog.Info("noise corpus seeded", "entries", idx.Len(), "source", c.Source, "model", idx.Model())
	return nil
}

// initKeyboard builds the native listener and injector unless injected and
// puts the injector behind a circuit breaker.
func (a *App) initKeyboard() error {
	if a.listener == nil {
		a.listener = native.NewListener()
		if ok, reason := a.listener.Available(); !ok {
			slog.Warn("keyboard listener reports unavailable", "reason", reason)
		}
	}
	if a.injector == nil {
		inj, err := native.NewInjector()
		if err != nil {
			return fmt.Errorf("app: create injector: %w", err)
		}
		a.injector = inj
	}
	a.injector = resilience.NewInjector(a.injector, resilience.CircuitBreakerConfig{
		Clock: a.clock,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("injector circuit breaker state changed", "name", name, "from", from, "to", to)
		},
	})
	return nil
}

// initControlAPI binds the control API listener when server.listen_addr is
// set. Binding happens here so that an address in use fails startup.
func (a *App) initControlAPI() error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		return nil
	}

	checks := health.New(
		health.Condition("index", func() bool { return a.ctrl.Status().IndexSize > 0 }, "noise index is empty"),
		health.Condition("listener", a.ctrl.Listening, "keyboard listener is not running"),
	)
	opts := []control.Option{
		control.WithHealth(checks),
		control.WithMetrics(a.metrics),
	}
	if a.metricsHandler != nil {
		opts = append(opts, control.WithMetricsHandler(a.metricsHandler))
	}
	a.api = control.New(a.ctrl, opts...)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: control API listen on %q: %w", addr, err)
	}
	a.ln = ln
	a.closers = append(a.closers, func() error {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the controller for the tray and the hotkey.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Notifier returns the desktop notifier.
func (a *App) Notifier() *notify.Notifier { return a.notifier }

// Addr returns the control API address, or nil when the API is disabled.
func (a *App) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the keyboard listener, the match workers and the control API and
// blocks until ctx is cancelled or the listener fails. With
// enabled_by_default set, replacement starts immediately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.ctrl.Run(gctx)
		if err != nil && (errors.Is(err, keyboard.ErrUnavailable) || errors.Is(err, keyboard.ErrPermissionDenied)) {
			a.reporter.Error(controller.KindListener, err)
		}
		return err
	})
	if a.api != nil {
		var certFile, keyFile string
		if tls := a.cfg.Server.TLS; tls != nil {
			certFile, keyFile = tls.CertFile, tls.KeyFile
		}
		g.Go(func() error {
			return a.api.Serve(gctx, a.ln, certFile, keyFile)
		})
	}

	if a.cfg.EnabledByDefault {
		if err := a.ctrl.Enable(); err != nil {
			slog.Warn("enable at startup failed", "err", err)
		}
	}

	slog.Info("kittymode running", "enabled", a.ctrl.IsEnabled(), "control_api", a.Addr() != nil)
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the parts of next that can change at runtime and
// returns the diff against prev. Hotkey changes are left to the caller,
// which owns the main thread.
func (a *App) ApplyConfig(ctx context.Context, prev, next *config.Config) config.ConfigDiff {
	d := config.Diff(prev, next)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(next.Server.LogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SettingsChanged {
		if err := a.ctrl.Reconfigure(ctx, next.ControllerSettings()); err != nil {
			slog.Error("reconfigure failed, keeping previous settings", "err", err)
		} else {
			slog.Info("settings reloaded")
		}
	}
	if d.NotificationsChanged {
		a.notifier.SetEnabled(next.Notifications.Enabled)
		a.notifier.SetRateLimit(next.Notifications.RateLimit)
	}
	if d.EnabledChanged {
		slog.Info("enabled_by_default changed, takes effect on next start", "enabled_by_default", next.EnabledByDefault)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	a.cfg = next
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
