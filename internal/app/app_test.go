package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/kittymode/internal/app"
	"github.com/MrWong99/kittymode/internal/config"
	"github.com/MrWong99/kittymode/internal/controller"
	"github.com/MrWong99/kittymode/internal/notify"
	"github.com/MrWong99/kittymode/pkg/keyboard"
	"github.com/MrWong99/kittymode/pkg/keyboard/mock"
	"github.com/MrWong99/kittymode/pkg/noise"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings/ngram"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// writeCorpus writes a small corpus without vectors and returns its path.
func writeCorpus(t *testing.T) string {
	t.Helper()
	c := noise.Corpus{Noises: []noise.Entry{
		{Text: "meow", Category: "meow", BaseNoise: "meow"},
		{Text: "mrrp", Category: "trill", BaseNoise: "mrrp"},
		{Text: "purrrr", Category: "purr", BaseNoise: "purr"},
		{Text: "hiss!", Category: "hiss", BaseNoise: "hiss"},
	}}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal corpus: %v", err)
	}
	path := filepath.Join(t.TempDir(), "noises.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

// testConfig returns the default config pointing at a temporary corpus.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Corpus.Path = writeCorpus(t)
	cfg.Notifications.Enabled = false
	return cfg
}

func testProviders(t *testing.T) *app.Providers {
	t.Helper()
	p, err := ngram.New(ngram.WithDimensions(64))
	if err != nil {
		t.Fatalf("ngram.New: %v", err)
	}
	return &app.Providers{Embeddings: p}
}

type reportedError struct {
	kind string
	err  error
}

type recordingReporter struct {
	mu      sync.Mutex
	enabled []bool
	errs    []reportedError
}

func (r *recordingReporter) Enabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = append(r.enabled, on)
}

func (r *recordingReporter) Error(kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, reportedError{kind: kind, err: err})
}

func (r *recordingReporter) errors() []reportedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reportedError(nil), r.errs...)
}

func silentNotifier() *notify.Notifier {
	return notify.New(false, 0, notify.WithSender(func(string, string) error { return nil }))
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *mock.Listener, *mock.Injector) {
	t.Helper()
	l := &mock.Listener{AvailableValue: true}
	inj := &mock.Injector{}
	base := []app.Option{
		app.WithListener(l),
		app.WithInjector(inj),
		app.WithNotifier(silentNotifier()),
	}
	a, err := app.New(context.Background(), cfg, testProviders(t), append(base, opts...)...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, l, inj
}

// runApp starts a.Run and returns a stop function that cancels it and
// returns its error.
func runApp(t *testing.T, a *app.App) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return within 5s after cancel")
			return nil
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.CustomNoises = []string{"nya~", "meow"}
	a, _, _ := newTestApp(t, cfg)

	idx := a.Controller().Index()
	if idx == nil {
		t.Fatal("controller has no index")
	}
	// "meow" is already in the corpus.
	if idx.Len() != 5 {
		t.Errorf("index size = %d, want 5", idx.Len())
	}
	if got := idx.Custom(); len(got) != 1 || got[0] != "nya~" {
		t.Errorf("custom = %v, want [nya~]", got)
	}
	if idx.Dimensions() != 64 {
		t.Errorf("dimensions = %d, want 64", idx.Dimensions())
	}
	if a.Addr() != nil {
		t.Errorf("Addr() = %v, want nil without listen_addr", a.Addr())
	}
	if a.Notifier() == nil {
		t.Error("Notifier() = nil")
	}
	if a.Controller().IsEnabled() {
		t.Error("controller enabled before Run")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing corpus", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Corpus.Path = filepath.Join(t.TempDir(), "absent.json")
		_, err := app.New(context.Background(), cfg, testProviders(t),
			app.WithListener(&mock.Listener{}),
			app.WithInjector(&mock.Injector{}),
			app.WithNotifier(silentNotifier()),
		)
		if !errors.Is(err, noise.ErrIndexLoad) {
			t.Fatalf("err = %v, want ErrIndexLoad", err)
		}
	})

	t.Run("no provider", func(t *testing.T) {
		t.Parallel()
		_, err := app.New(context.Background(), testConfig(t), &app.Providers{})
		if err == nil {
			t.Fatal("expected error without embeddings provider")
		}
	})

	t.Run("listen address in use", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Server.ListenAddr = "127.0.0.1:0"
		first, _, _ := newTestApp(t, cfg)

		cfg2 := testConfig(t)
		cfg2.Server.ListenAddr = first.Addr().String()
		_, err := app.New(context.Background(), cfg2, testProviders(t),
			app.WithListener(&mock.Listener{}),
			app.WithInjector(&mock.Injector{}),
			app.WithNotifier(silentNotifier()),
		)
		if err == nil {
			t.Fatal("expected error for address in use")
		}
	})
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.EnabledByDefault = true
	a, l, _ := newTestApp(t, cfg)

	stop := runApp(t, a)
	waitFor(t, "listener start", a.Controller().Listening)

	if !a.Controller().IsEnabled() {
		t.Error("enabled_by_default did not enable the controller")
	}
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if l.Running() {
		t.Error("listener still running after Run returned")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if err := a.Controller().Enable(); !errors.Is(err, controller.ErrClosed) {
		t.Errorf("Enable after Shutdown = %v, want ErrClosed", err)
	}
}

func TestApp_Shutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() = %v, want context.Canceled", err)
	}
}

func TestApp_ListenerUnavailable(t *testing.T) {
	t.Parallel()

	rep := &recordingReporter{}
	l := &mock.Listener{StartErr: keyboard.ErrPermissionDenied}
	a, err := app.New(context.Background(), testConfig(t), testProviders(t),
		app.WithListener(l),
		app.WithInjector(&mock.Injector{}),
		app.WithReporter(rep),
		app.WithNotifier(silentNotifier()),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	err = a.Run(context.Background())
	if !errors.Is(err, keyboard.ErrPermissionDenied) {
		t.Fatalf("Run() = %v, want ErrPermissionDenied", err)
	}
	errs := rep.errors()
	if len(errs) != 1 || errs[0].kind != controller.KindListener {
		t.Fatalf("reported = %+v, want one listener error", errs)
	}
}

func TestApp_ControlAPI(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a, _, _ := newTestApp(t, cfg)

	stop := runApp(t, a)
	defer func() { _ = stop() }()
	waitFor(t, "listener start", a.Controller().Listening)

	base := "http://" + a.Addr().String()

	resp, err := http.Post(base+"/v1/enable", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /v1/enable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/enable status = %d, want 200", resp.StatusCode)
	}
	if !a.Controller().IsEnabled() {
		t.Error("controller not enabled via API")
	}

	resp, err = http.Get(base + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status: %v", err)
	}
	var st controller.Status
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Enabled || !st.Listening || st.IndexSize != 4 {
		t.Errorf("status = %+v, want enabled, listening, 4 entries", st)
	}

	resp, err = http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /readyz status = %d, want 200", resp.StatusCode)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	prev := testConfig(t)
	level := new(slog.LevelVar)
	a, _, _ := newTestApp(t, prev, app.WithLogLevel(level))

	next := *prev
	next.Server.LogLevel = config.LogDebug
	next.Suppression.MinInterval = 400 * time.Millisecond
	next.Notifications.Enabled = true
	next.Hotkey = "ctrl+alt+m"
	next.Corpus.Path = "elsewhere.json"

	d := a.ApplyConfig(context.Background(), prev, &next)

	if !d.HotkeyChanged {
		t.Error("HotkeyChanged = false, want true")
	}
	if len(d.RestartRequired) != 1 || d.RestartRequired[0] != "corpus" {
		t.Errorf("RestartRequired = %v, want [corpus]", d.RestartRequired)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if got := a.Controller().Snapshot().Suppression.MinInterval; got != 400*time.Millisecond {
		t.Errorf("min_interval = %v, want 400ms", got)
	}
	if !a.Notifier().IsEnabled() {
		t.Error("notifications not enabled after reload")
	}
}

func TestApp_ApplyConfig_InvalidSettingsKeepsPrevious(t *testing.T) {
	t.Parallel()

	prev := testConfig(t)
	a, _, _ := newTestApp(t, prev)

	next := *prev
	next.Capture.Window = -time.Second

	d := a.ApplyConfig(context.Background(), prev, &next)
	if !d.SettingsChanged {
		t.Fatal("SettingsChanged = false, want true")
	}
	if got := a.Controller().Snapshot().Capture.Window; got != prev.Capture.Window {
		t.Errorf("window = %v, want unchanged %v", got, prev.Capture.Window)
	}
}
