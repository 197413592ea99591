// Command kittymode replaces whatever you type with cat noises.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/kittymode/internal/app"
	"github.com/MrWong99/kittymode/internal/config"
	"github.com/MrWong99/kittymode/internal/controller"
	"github.com/MrWong99/kittymode/internal/hotkey"
	"github.com/MrWong99/kittymode/internal/notify"
	"github.com/MrWong99/kittymode/internal/observe"
	"github.com/MrWong99/kittymode/internal/tray"
	"github.com/MrWong99/kittymode/pkg/keyboard"
	"github.com/MrWong99/kittymode/pkg/noise"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type flags struct {
	configPath string
	headless   bool
	seed       bool
}

func main() {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var f flags
	flag.StringVar(&f.configPath, "config", "config.yaml", "path to the YAML configuration file")
	flag.BoolVar(&f.headless, "headless", false, "run without tray icon and global hotkey")
	flag.BoolVar(&f.seed, "seed", false, "write the file corpus into postgres before loading (requires corpus.postgres_dsn)")
	flag.Parse()

	if f.headless {
		os.Exit(run(f))
	}
	code := 0
	hotkey.RunOnMainThread(func() { code = run(f) })
	os.Exit(code)
}

func run(f flags) int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(f.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kittymode: config file %q not found, copy configs/example.yaml to get started\n", f.configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kittymode: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))

	slog.Info("kittymode starting",
		"version", version,
		"config", f.configPath,
		"headless", f.headless,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Desktop integration ───────────────────────────────────────────────────
	notifier := notify.New(cfg.Notifications.Enabled, cfg.Notifications.RateLimit)
	rep := &desktopReporter{notifier: notifier}

	printStartupSummary(cfg, f.headless)

	application, err := app.New(ctx, cfg, providers,
		app.WithNotifier(notifier),
		app.WithReporter(rep),
		app.WithMetricsHandler(tel.MetricsHandler),
		app.WithLogLevel(level),
		app.WithSeed(f.seed),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		if msg := startupAlert(err); msg != "" {
			alert(f, notifier, msg)
		}
		return 1
	}
	ctrl := application.Controller()

	var toggle *hotkey.Toggle
	if !f.headless {
		toggle = hotkey.New(func() {
			if _, err := ctrl.Toggle(); err != nil {
				slog.Warn("hotkey toggle failed", "err", err)
				notifier.Info(fmt.Sprintf("Cannot enable: %v", err))
			}
		}, cfg.HotkeyCooldown)
		if err := toggle.Register(cfg.Hotkey); err != nil {
			slog.Warn("global hotkey unavailable, use the tray menu instead", "hotkey", cfg.Hotkey, "err", err)
		}
		defer func() {
			if err := toggle.Unregister(); err != nil {
				slog.Warn("hotkey unregister error", "err", err)
			}
		}()
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	onChange := func(prev, next *config.Config) {
		d := application.ApplyConfig(ctx, prev, next)
		if d.HotkeyChanged && toggle != nil {
			toggle.SetCooldown(next.HotkeyCooldown)
			if next.Hotkey != prev.Hotkey {
				if err := toggle.Register(next.Hotkey); err != nil {
					slog.Error("hotkey re-register failed", "hotkey", next.Hotkey, "err", err)
				}
			}
		}
	}
	watcher, err := config.NewWatcher(f.configPath, onChange)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		// The file may have changed between Load and the watcher's first read.
		if cur := watcher.Current(); config.Diff(cfg, cur).Changed() {
			onChange(cfg, cur)
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	var runErr error
	done := make(chan struct{})
	go func() {
		runErr = application.Run(ctx)
		close(done)
	}()

	if f.headless {
		slog.Info("running headless, press Ctrl+C to shut down")
	} else {
		t := tray.New(tray.Callbacks{
			OnToggle:              ctrl.Toggle,
			OnNotificationsToggle: notifier.ToggleEnabled,
			OnQuit:                stop,
		}, ctrl.Status, notifier.IsEnabled())
		rep.setTray(t)

		go func() {
			<-done
			t.Quit()
		}()
		t.Run(func() { slog.Info("tray ready", "hotkey", cfg.Hotkey) })
		stop()
	}
	<-done

	exit := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		if errors.Is(runErr, keyboard.ErrUnavailable) || errors.Is(runErr, keyboard.ErrPermissionDenied) {
			const hint = "Keyboard capture is not available. On Linux add your user to the input group."
			fmt.Fprintln(os.Stderr, "kittymode:", hint)
			alert(f, notifier, hint)
		}
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Startup summary ───────────────────────────────────────────────────────────

// startupAlert returns the dialog text for a failed app.New, or "" when the
// log is enough.
func startupAlert(err error) string {
	switch {
	case errors.Is(err, embeddings.ErrUnavailable):
		return "The embedding provider is unreachable, so the cat noise index could not be built. Check that the model server is running."
	case errors.Is(err, noise.ErrIndexLoad):
		return "Could not load the cat noise index. See the log for details."
	default:
		return ""
	}
}

// alert shows a blocking error dialog unless running headless.
func alert(f flags, n *notify.Notifier, msg string) {
	if f.headless {
		return
	}
	if err := n.Alert(msg); err != nil {
		slog.Debug("error dialog failed", "err", err)
	}
}

func printStartupSummary(cfg *config.Config, headless bool) {
	corpus := cfg.Corpus.Path
	if cfg.Corpus.PostgresDSN != "" {
		corpus = "postgres"
	}
	api := "(disabled)"
	if cfg.Server.ListenAddr != "" {
		api = cfg.Server.ListenAddr
	}
	mode := "tray + hotkey"
	if headless {
		mode = "headless"
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        kittymode startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Embeddings", providerLabel(cfg.Providers.Embeddings))
	printRow("Fallbacks", fmt.Sprint(len(cfg.Providers.EmbeddingsFallbacks)))
	printRow("Corpus", corpus)
	printRow("Custom noises", fmt.Sprint(len(cfg.CustomNoises)))
	printRow("Hotkey", cfg.Hotkey)
	printRow("Mode", mode)
	printRow("Control API", api)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Reporter ──────────────────────────────────────────────────────────────────

// desktopReporter forwards controller events to the notifier and keeps the
// tray icon in sync with toggles made through the hotkey or the control API.
type desktopReporter struct {
	notifier *notify.Notifier

	tr atomic.Pointer[tray.Tray]
}

var _ controller.Reporter = (*desktopReporter)(nil)

func (r *desktopReporter) setTray(t *tray.Tray) { r.tr.Store(t) }

func (r *desktopReporter) Enabled(on bool) {
	if t := r.tr.Load(); t != nil {
		t.SetEnabled(on)
	}
	r.notifier.Enabled(on)
}

func (r *desktopReporter) Error(kind string, err error) {
	if t := r.tr.Load(); t != nil {
		t.Refresh()
	}
	r.notifier.Error(kind, err)
}
