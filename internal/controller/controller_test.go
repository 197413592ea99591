package controller_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/kittymode/internal/capture"
	"github.com/MrWong99/kittymode/internal/controller"
	"github.com/MrWong99/kittymode/internal/emit"
	"github.com/MrWong99/kittymode/internal/match"
	"github.com/MrWong99/kittymode/internal/observe"
	"github.com/MrWong99/kittymode/internal/suppress"
	"github.com/MrWong99/kittymode/pkg/keyboard"
	kbmock "github.com/MrWong99/kittymode/pkg/keyboard/mock"
	"github.com/MrWong99/kittymode/pkg/noise"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
	embmock "github.com/MrWong99/kittymode/pkg/provider/embeddings/mock"
)

type reporter struct {
	mu      sync.Mutex
	enabled []bool
	errs    []string
}

func (r *reporter) Enabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = append(r.enabled, on)
}

func (r *reporter) Error(kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, kind+": "+err.Error())
}

func (r *reporter) snapshot() ([]bool, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.enabled), slices.Clone(r.errs)
}

func testSettings() controller.Settings {
	return controller.Settings{
		Capture:     capture.Timing{Window: 60 * time.Millisecond, ExtensionThreshold: 10 * time.Millisecond, MaxDuration: 500 * time.Millisecond},
		Output:      emit.Options{PressEnterAfter: true, MinSettle: 40 * time.Millisecond},
		Suppression: suppress.Config{MinSettle: 40 * time.Millisecond, MinInterval: time.Millisecond, Failsafe: 2 * time.Second},
		Workers:     2,
	}
}

// catVector maps anything containing a "p" to purr and everything else to
// meow.
func catVector(text string) ([]float32, error) {
	if strings.Contains(text, "p") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

type harness struct {
	t        *testing.T
	listener *kbmock.Listener
	injector *kbmock.Injector
	provider *embmock.Provider
	reporter *reporter
	c        *controller.Controller
}

func newHarness(t *testing.T, configure ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		listener: &kbmock.Listener{},
		injector: &kbmock.Injector{},
		provider: &embmock.Provider{EmbedFunc: catVector, DimensionsValue: 2, ModelIDValue: "test"},
		reporter: &reporter{},
	}
	for _, fn := range configure {
		fn(h)
	}

	idx, err := noise.NewIndex([]noise.Entry{
		{Text: "meow", Embedding: []float32{1, 0}},
		{Text: "purr", Embedding: []float32{0, 1}},
	}, 2, "test")
	if err != nil {
		t.Fatal(err)
	}
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}

	h.c, err = controller.New(controller.Deps{
		Listener: h.listener,
		Injector: h.injector,
		Provider: h.provider,
		Index:    idx,
	}, testSettings(), controller.WithReporter(h.reporter), controller.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

func (h *harness) run() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		<-done
	})
	h.waitFor("listener", h.c.Listening)
	if err := h.c.Enable(); err != nil {
		h.t.Fatalf("Enable: %v", err)
	}
}

func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitCalls(n int) []kbmock.Call {
	h.t.Helper()
	h.waitFor("injector calls", func() bool { return len(h.injector.Calls()) >= n })
	h.waitFor("gate to clear", func() bool { return !h.c.Status().GateActive })
	time.Sleep(150 * time.Millisecond)
	calls := h.injector.Calls()
	if len(calls) != n {
		h.t.Fatalf("injector calls = %d, want %d: %v", len(calls), n, calls)
	}
	return calls
}

func (h *harness) typeText(s string) {
	for _, r := range s {
		h.listener.Emit(keyboard.KeyEvent{Key: keyboard.KeyChar, Char: r, Pressed: true, Time: time.Now()})
		h.listener.Emit(keyboard.KeyEvent{Key: keyboard.KeyChar, Char: r, Pressed: false, Time: time.Now()})
	}
}

func expectedCalls(deletes int, phrase string) []kbmock.Call {
	var out []kbmock.Call
	for range deletes {
		out = append(out, kbmock.Call{Op: kbmock.OpBackspace})
	}
	for _, r := range phrase {
		out = append(out, kbmock.Call{Op: kbmock.OpRune, Rune: r})
	}
	return append(out, kbmock.Call{Op: kbmock.OpEnter})
}

func TestController_ReplacesBurst(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run()

	h.typeText("asdkjfhaksdjfh")
	calls := h.waitCalls(14 + 4 + 1)

	if want := expectedCalls(14, "meow"); !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if _, errs := h.reporter.snapshot(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestController_TwoBurstsInOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run()

	h.typeText("hello")
	h.waitCalls(5 + 4 + 1)

	h.typeText("pp")
	calls := h.waitCalls(10 + 2 + 4 + 1)

	want := append(expectedCalls(5, "meow"), expectedCalls(2, "purr")...)
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestController_DisableMidSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run()

	h.typeText("secret")
	h.c.Disable()

	time.Sleep(200 * time.Millisecond)
	if n := len(h.injector.Calls()); n != 0 {
		t.Fatalf("injector calls = %d after disable, want 0", n)
	}
	st := h.c.Status()
	if st.Enabled || st.CaptureState != "idle" || st.GateActive {
		t.Errorf("status = %+v", st)
	}
	if enabled, _ := h.reporter.snapshot(); !slices.Equal(enabled, []bool{true, false}) {
		t.Errorf("reported states = %v, want [true false]", enabled)
	}

	if err := h.c.Enable(); err != nil {
		t.Fatal(err)
	}
	h.typeText("back")
	if calls := h.waitCalls(4 + 4 + 1); !slices.Equal(calls, expectedCalls(4, "meow")) {
		t.Errorf("calls after re-enable = %v", calls)
	}
}

func TestController_NothingCapturedWhileSuppressed(t *testing.T) {
	t.Parallel()
	var echoed atomic.Int32
	h := newHarness(t, func(h0 *harness) {
		h0.injector.OnCall = func(c kbmock.Call) {
			ev := keyboard.KeyEvent{Key: keyboard.KeyChar, Char: 'x', Pressed: true}
			if c.Op == kbmock.OpRune {
				ev.Char = c.Rune
			}
			h0.listener.Emit(ev)
			ev.Source = keyboard.SourceSynthetic
			h0.listener.Emit(ev)
			echoed.Add(2)
		}
	})
	h.run()

	h.typeText("abc")
	calls := h.waitCalls(3 + 4 + 1)

	if !slices.Equal(calls, expectedCalls(3, "meow")) {
		t.Errorf("calls = %v", calls)
	}
	if echoed.Load() != 16 {
		t.Errorf("echoed %d events, want 16", echoed.Load())
	}
	if st := h.c.Status(); st.CaptureState != "idle" {
		t.Errorf("capture state = %s, want idle", st.CaptureState)
	}
}

func TestController_SyntheticEventsNeverCaptured(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run()

	for _, r := range "meow" {
		h.listener.Emit(keyboard.KeyEvent{Key: keyboard.KeyChar, Char: r, Pressed: true, Source: keyboard.SourceSynthetic})
	}
	time.Sleep(200 * time.Millisecond)
	if n := len(h.injector.Calls()); n != 0 {
		t.Fatalf("synthetic input triggered %d injector calls", n)
	}
}

func TestController_MatchFailureIsReportedAndSkipped(t *testing.T) {
	t.Parallel()
	var fail atomic.Bool
	fail.Store(true)
	h := newHarness(t, func(h *harness) {
		h.provider.EmbedFunc = func(text string) ([]float32, error) {
			if fail.Load() {
				return nil, errors.New("connection refused")
			}
			return catVector(text)
		}
	})
	h.run()

	h.typeText("oops")
	h.waitFor("match error", func() bool {
		_, errs := h.reporter.snapshot()
		return len(errs) == 1
	})
	_, errs := h.reporter.snapshot()
	if !strings.HasPrefix(errs[0], controller.KindMatch+": ") || !strings.Contains(errs[0], embeddings.ErrUnavailable.Error()) {
		t.Errorf("error = %q", errs[0])
	}
	if n := len(h.injector.Calls()); n != 0 {
		t.Fatalf("injector calls = %d after failed match", n)
	}

	fail.Store(false)
	h.typeText("ok")
	if calls := h.waitCalls(2 + 4 + 1); !slices.Equal(calls, expectedCalls(2, "meow")) {
		t.Errorf("calls = %v", calls)
	}
}

func TestController_DispatchFailureReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) { h.injector.FailAt = 2 })
	h.run()

	h.typeText("abc")
	h.waitFor("dispatch error", func() bool {
		_, errs := h.reporter.snapshot()
		return len(errs) == 1
	})
	_, errs := h.reporter.snapshot()
	if !strings.HasPrefix(errs[0], controller.KindDispatch+": ") {
		t.Errorf("error = %q", errs[0])
	}
	if !h.c.IsEnabled() {
		t.Error("dispatch failure must not disable the controller")
	}
	h.waitFor("gate to clear", func() bool { return !h.c.Status().GateActive })
}

func TestController_IgnoresKeysWhileDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run()
	h.c.Disable()

	h.typeText("hello")
	if st := h.c.Status(); st.CaptureState != "idle" {
		t.Fatalf("capture state = %s while disabled", st.CaptureState)
	}
	time.Sleep(150 * time.Millisecond)
	if n := len(h.injector.Calls()); n != 0 {
		t.Fatalf("injector calls = %d while disabled", n)
	}
}

func TestController_Reconfigure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	s := h.c.Snapshot()
	s.CustomNoises = []string{"nyaa~", "meow"}
	s.Output.PressEnterAfter = false
	if err := h.c.Reconfigure(context.Background(), s); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if got := h.c.Index().Len(); got != 3 {
		t.Errorf("index size = %d, want 3 (duplicate custom skipped)", got)
	}
	if got := h.c.Snapshot(); got.Output.PressEnterAfter || len(got.CustomNoises) != 2 {
		t.Errorf("snapshot = %+v", got)
	}

	bad := h.c.Snapshot()
	bad.Workers = 0
	bad.Capture.Window = 0
	if err := h.c.Reconfigure(context.Background(), bad); err == nil {
		t.Fatal("invalid settings accepted")
	}
	if h.c.Snapshot().Workers != 2 {
		t.Error("invalid settings were applied")
	}
}

func TestController_ReconfigureOutputAppliesToNextJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run()

	s := h.c.Snapshot()
	s.Output.PressEnterAfter = false
	if err := h.c.Reconfigure(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	h.typeText("ab")
	calls := h.waitCalls(2 + 4)
	if slices.Contains(calls, kbmock.Call{Op: kbmock.OpEnter}) {
		t.Errorf("enter pressed after disabling it: %v", calls)
	}
}

func TestController_EnableWithoutIndex(t *testing.T) {
	t.Parallel()
	c, err := controller.New(controller.Deps{
		Listener: &kbmock.Listener{},
		Injector: &kbmock.Injector{},
		Provider: &embmock.Provider{},
	}, testSettings())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Enable(); !errors.Is(err, controller.ErrNoIndex) {
		t.Fatalf("Enable = %v, want ErrNoIndex", err)
	}
}

func TestController_RunListenerFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) { h.listener.StartErr = keyboard.ErrPermissionDenied })

	err := h.c.Run(context.Background())
	if !errors.Is(err, keyboard.ErrPermissionDenied) {
		t.Fatalf("Run = %v, want ErrPermissionDenied", err)
	}
	if h.c.Listening() {
		t.Error("Listening after failed start")
	}
}

func TestController_ToggleAndClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if on, err := h.c.Toggle(); err != nil || !on {
		t.Fatalf("Toggle = %v, %v", on, err)
	}
	if on, _ := h.c.Toggle(); on {
		t.Fatal("second Toggle should disable")
	}
	if err := h.c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := h.c.Enable(); !errors.Is(err, controller.ErrClosed) {
		t.Fatalf("Enable after Close = %v, want ErrClosed", err)
	}
	if err := h.c.Run(context.Background()); !errors.Is(err, controller.ErrClosed) {
		t.Fatalf("Run after Close = %v, want ErrClosed", err)
	}
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*controller.Settings)
		wantErr bool
	}{
		{"defaults", func(*controller.Settings) {}, false},
		{"no workers", func(s *controller.Settings) { s.Workers = 0 }, true},
		{"negative delay", func(s *controller.Settings) { s.Output.TypingDelay = -1 }, true},
		{"negative failsafe", func(s *controller.Settings) { s.Suppression.Failsafe = -time.Second }, true},
		{"empty custom noise", func(s *controller.Settings) { s.CustomNoises = []string{"mew", ""} }, true},
		{"bad capture", func(s *controller.Settings) { s.Capture.MaxDuration = time.Millisecond }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := controller.DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, controller.ErrInvalidSettings) {
				t.Errorf("Validate = %v, want ErrInvalidSettings", err)
			}
		})
	}
}

func TestController_PreviewFilter(t *testing.T) {
	t.Parallel()

	idx, err := noise.NewIndex([]noise.Entry{
		{Text: "meow", Category: "base", Embedding: []float32{1, 0}},
		{Text: "purrrrrrr", Category: "elongation", Embedding: []float32{0, 1}},
		{Text: "prr", Category: "base", Embedding: []float32{0, 1}},
	}, 2, "test")
	if err != nil {
		t.Fatal(err)
	}
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	c, err := controller.New(controller.Deps{
		Listener: &kbmock.Listener{},
		Injector: &kbmock.Injector{},
		Provider: &embmock.Provider{EmbedFunc: catVector, DimensionsValue: 2, ModelIDValue: "test"},
		Index:    idx,
	}, testSettings(), controller.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	tests := []struct {
		name    string
		filter  controller.PreviewFilter
		want    []string
		wantErr error
	}{
		{"no filter", controller.PreviewFilter{}, []string{"purrrrrrr", "prr", "meow"}, nil},
		{"category", controller.PreviewFilter{Category: "base"}, []string{"prr", "meow"}, nil},
		{"short", controller.PreviewFilter{MaxRunes: 4}, []string{"prr", "meow"}, nil},
		{"category and short", controller.PreviewFilter{Category: "elongation", MaxRunes: 9}, []string{"purrrrrrr"}, nil},
		{"nothing left", controller.PreviewFilter{Category: "elongation", MaxRunes: 3}, nil, match.ErrEmptyIndex},
		{"unknown category", controller.PreviewFilter{Category: "custom"}, nil, match.ErrEmptyIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := c.Preview(context.Background(), "purr", 3, tt.filter)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Preview: %v", err)
			}
			got := make([]string, len(res))
			for i, r := range res {
				got[i] = r.Phrase
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("phrases = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestController_ReconfigureIsSerialized(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h := newHarness(t, func(h *harness) {
		h.provider.EmbedFunc = func(text string) ([]float32, error) {
			if text == "slow nya" {
				once.Do(func() { close(started) })
				<-release
			}
			return catVector(text)
		}
	})

	slow := h.c.Snapshot()
	slow.CustomNoises = []string{"slow nya"}
	fast := h.c.Snapshot()
	fast.CustomNoises = []string{"mrrp"}

	slowDone := make(chan error, 1)
	go func() { slowDone <- h.c.Reconfigure(context.Background(), slow) }()
	<-started

	fastDone := make(chan error, 1)
	go func() { fastDone <- h.c.Reconfigure(context.Background(), fast) }()

	select {
	case err := <-fastDone:
		t.Fatalf("second Reconfigure finished (err %v) while the first was still rebuilding", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-slowDone; err != nil {
		t.Fatalf("slow Reconfigure: %v", err)
	}
	if err := <-fastDone; err != nil {
		t.Fatalf("fast Reconfigure: %v", err)
	}

	settings, index := h.c.Snapshot().CustomNoises, h.c.Index().Custom()
	if !slices.Equal(settings, []string{"mrrp"}) || !slices.Equal(index, settings) {
		t.Errorf("custom noises: settings %v, index %v; want both [mrrp]", settings, index)
	}
}
