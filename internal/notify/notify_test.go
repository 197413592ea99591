package notify_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/kittymode/internal/controller"
	"github.com/MrWong99/kittymode/internal/notify"
)

type sent struct {
	title, message string
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recorder) send(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{title, message})
	return r.err
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

func newNotifier(enabled bool, rate time.Duration) (*notify.Notifier, *recorder, *clock.Mock) {
	rec := &recorder{}
	clk := clock.NewMock()
	n := notify.New(enabled, rate, notify.WithSender(rec.send), notify.WithClock(clk))
	return n, rec, clk
}

func TestEnabledToasts(t *testing.T) {
	t.Parallel()
	n, rec, _ := newNotifier(true, time.Second)

	n.Enabled(true)
	n.Enabled(false)

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("sent %d, want 2", len(got))
	}
	if got[0].title != "kittymode: enabled" || got[1].title != "kittymode: disabled" {
		t.Errorf("titles = %q, %q", got[0].title, got[1].title)
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind string
		err  error
		want string
	}{
		{controller.KindMatch, errors.New("secret typed text"), "left as typed"},
		{controller.KindDispatch, errors.New("xdotool: exit 1"), "input permissions"},
		{controller.KindOverflow, errors.New("queue full"), "faster than the matcher"},
		{controller.KindListener, errors.New("permission denied"), "permission denied"},
		{"other", errors.New("something odd"), "something odd"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			t.Parallel()
			n, rec, _ := newNotifier(true, 0)
			n.Error(tt.kind, tt.err)
			got := rec.all()
			if len(got) != 1 {
				t.Fatalf("sent %d, want 1", len(got))
			}
			if got[0].title != "kittymode: error" || !strings.Contains(got[0].message, tt.want) {
				t.Errorf("sent %+v, want message containing %q", got[0], tt.want)
			}
			if tt.kind == controller.KindMatch && strings.Contains(got[0].message, "secret") {
				t.Error("match error leaked the underlying error text")
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	n, rec, clk := newNotifier(true, 10*time.Second)

	n.Error(controller.KindMatch, errors.New("x"))
	n.Error(controller.KindMatch, errors.New("x"))
	n.Error(controller.KindDispatch, errors.New("y"))
	if got := len(rec.all()); got != 2 {
		t.Fatalf("after burst sent %d, want 2 (duplicate dropped)", got)
	}

	clk.Add(9 * time.Second)
	n.Error(controller.KindMatch, errors.New("x"))
	if got := len(rec.all()); got != 2 {
		t.Fatalf("inside window sent %d, want 2", got)
	}

	clk.Add(2 * time.Second)
	n.Error(controller.KindMatch, errors.New("x"))
	if got := len(rec.all()); got != 3 {
		t.Fatalf("after window sent %d, want 3", got)
	}
}

func TestMute(t *testing.T) {
	t.Parallel()
	n, rec, _ := newNotifier(false, 0)

	n.Info("hidden")
	if len(rec.all()) != 0 {
		t.Fatal("muted notifier sent a message")
	}
	if !n.ToggleEnabled() || !n.IsEnabled() {
		t.Fatal("ToggleEnabled did not unmute")
	}
	n.Info("shown")
	got := rec.all()
	if len(got) != 1 || got[0].title != "kittymode" || got[0].message != "shown" {
		t.Errorf("sent %+v", got)
	}

	n.SetEnabled(false)
	n.Info("hidden again")
	if len(rec.all()) != 1 {
		t.Error("SetEnabled(false) did not mute")
	}
}

func TestSendFailureIsIgnored(t *testing.T) {
	t.Parallel()
	n, rec, _ := newNotifier(true, 0)
	rec.err = errors.New("no notification daemon")

	n.Info("a")
	n.Info("b")
	if got := len(rec.all()); got != 2 {
		t.Errorf("sent %d, want 2", got)
	}
}

func TestAlert_IgnoresMuteAndRateLimit(t *testing.T) {
	t.Parallel()
	toasts, dialogs := &recorder{}, &recorder{}
	n := notify.New(false, time.Hour,
		notify.WithSender(toasts.send),
		notify.WithAlerter(dialogs.send),
		notify.WithClock(clock.NewMock()),
	)

	for range 2 {
		if err := n.Alert("corpus missing"); err != nil {
			t.Fatalf("Alert: %v", err)
		}
	}

	got := dialogs.all()
	if len(got) != 2 {
		t.Fatalf("dialogs = %d, want 2", len(got))
	}
	if got[0].title != "kittymode" || got[0].message != "corpus missing" {
		t.Errorf("dialog = %+v", got[0])
	}
	if len(toasts.all()) != 0 {
		t.Error("Alert must not send a toast")
	}
}

func TestAlert_WrapsError(t *testing.T) {
	t.Parallel()
	dialogs := &recorder{err: errors.New("no display")}
	n := notify.New(true, 0, notify.WithAlerter(dialogs.send))

	err := n.Alert("boom")
	if err == nil || !strings.Contains(err.Error(), "no display") {
		t.Fatalf("err = %v, want wrapped dialog error", err)
	}
}
