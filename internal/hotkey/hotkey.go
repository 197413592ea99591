// Package hotkey registers the global toggle shortcut.
//
// Registration goes through golang.design/x/hotkey, which on macOS must run
// on the main thread; wrap the program in [RunOnMainThread]. Key repeat and
// quick double presses are absorbed by a cooldown.
package hotkey

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.design/x/hotkey"
	"golang.design/x/hotkey/mainthread"
)

const unregisterTimeout = 500 * time.Millisecond

// Toggle calls a function each time the registered combination is pressed,
// at most once per cooldown.
type Toggle struct {
	onToggle func()
	clock    clock.Clock

	mu       sync.Mutex
	hk       *hotkey.Hotkey
	combo    Combo
	cooldown time.Duration
	last     time.Time
	stopCh   chan struct{}
}

// Option configures a Toggle.
type Option func(*Toggle)

// WithClock sets the clock used for the cooldown.
func WithClock(c clock.Clock) Option {
	return func(t *Toggle) { t.clock = c }
}

// New creates an unregistered Toggle.
func New(onToggle func(), cooldown time.Duration, opts ...Option) *Toggle {
	t := &Toggle{onToggle: onToggle, cooldown: cooldown, clock: clock.New()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Register parses combo and registers it, replacing any previous
// registration.
func (t *Toggle) Register(combo string) error {
	c, err := Parse(combo)
	if err != nil {
		return err
	}
	mods := make([]hotkey.Modifier, 0, len(c.Mods))
	for _, m := range c.Mods {
		mods = append(mods, modifierMap[m])
	}
	key, ok := keyMap[c.Key]
	if !ok {
		return fmt.Errorf("%w: key %q has no binding", ErrInvalidCombo, c.Key)
	}

	if err := t.Unregister(); err != nil {
		slog.Warn("hotkey: unregister previous", "err", err)
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("hotkey: register %s: %w", c, err)
	}

	stop := make(chan struct{})
	t.mu.Lock()
	t.hk = hk
	t.combo = c
	t.stopCh = stop
	t.mu.Unlock()

	go t.listen(hk, stop)
	slog.Info("hotkey registered", "combo", c.String())
	return nil
}

// Unregister releases the current registration, if any.
func (t *Toggle) Unregister() error {
	t.mu.Lock()
	hk, stop := t.hk, t.stopCh
	t.hk, t.stopCh = nil, nil
	t.combo = Combo{}
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if hk == nil {
		return nil
	}

	// Unregister can hang on some X servers.
	done := make(chan error, 1)
	go func() { done <- hk.Unregister() }()
	select {
	case err := <-done:
		return err
	case <-time.After(unregisterTimeout):
		return fmt.Errorf("hotkey: unregister timed out after %s", unregisterTimeout)
	}
}

// Current returns the registered combination, or the zero Combo.
func (t *Toggle) Current() Combo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.combo
}

// SetCooldown changes the minimum gap between toggles.
func (t *Toggle) SetCooldown(d time.Duration) {
	t.mu.Lock()
	t.cooldown = d
	t.mu.Unlock()
}

func (t *Toggle) listen(hk *hotkey.Hotkey, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case _, ok := <-hk.Keydown():
			if !ok {
				return
			}
			t.press()
		}
	}
}

// press applies the cooldown and reports whether onToggle ran.
func (t *Toggle) press() bool {
	t.mu.Lock()
	now := t.clock.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.cooldown {
		t.mu.Unlock()
		return false
	}
	t.last = now
	t.mu.Unlock()

	if t.onToggle != nil {
		t.onToggle()
	}
	return true
}

// RunOnMainThread runs fn with the main OS thread available to hotkey and
// tray code. It returns when fn returns.
func RunOnMainThread(fn func()) {
	mainthread.Init(fn)
}
