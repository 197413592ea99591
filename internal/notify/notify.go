// Package notify shows desktop notifications for state changes and
// per-flush failures. A [Notifier] is the controller's reporter.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gen2brain/beeep"
	"github.com/ncruces/zenity"

	"github.com/MrWong99/kittymode/internal/controller"
)

const appName = "kittymode"

// SendFunc delivers one notification.
type SendFunc func(title, message string) error

func beeepSend(title, message string) error {
	return beeep.Notify(title, message, "")
}

func zenityAlert(title, message string) error {
	return zenity.Error(message, zenity.Title(title), zenity.ErrorIcon)
}

// Notifier sends toasts through beeep. Identical messages within the rate
// limit are dropped. It is safe for concurrent use.
type Notifier struct {
	send  SendFunc
	alert SendFunc
	clock clock.Clock

	mu        sync.Mutex
	enabled   bool
	rateLimit time.Duration
	lastSent  map[string]time.Time
}

var _ controller.Reporter = (*Notifier)(nil)

// Option configures a Notifier.
type Option func(*Notifier)

// WithSender replaces beeep, for tests.
func WithSender(f SendFunc) Option {
	return func(n *Notifier) { n.send = f }
}

// WithAlerter replaces the zenity dialog used by [Notifier.Alert].
func WithAlerter(f SendFunc) Option {
	return func(n *Notifier) { n.alert = f }
}

// WithClock sets the clock used for rate limiting.
func WithClock(c clock.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

// New creates a Notifier.
func New(enabled bool, rateLimit time.Duration, opts ...Option) *Notifier {
	n := &Notifier{
		send:      beeepSend,
		alert:     zenityAlert,
		clock:     clock.New(),
		enabled:   enabled,
		rateLimit: rateLimit,
		lastSent:  make(map[string]time.Time),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// SetEnabled mutes or unmutes notifications.
func (n *Notifier) SetEnabled(on bool) {
	n.mu.Lock()
	n.enabled = on
	n.mu.Unlock()
}

// ToggleEnabled flips muting and returns the new state.
func (n *Notifier) ToggleEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = !n.enabled
	return n.enabled
}

// IsEnabled reports whether notifications are shown.
func (n *Notifier) IsEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// SetRateLimit changes the duplicate suppression window.
func (n *Notifier) SetRateLimit(d time.Duration) {
	n.mu.Lock()
	n.rateLimit = d
	n.mu.Unlock()
}

// Enabled implements [controller.Reporter].
func (n *Notifier) Enabled(on bool) {
	if on {
		n.notify("enabled", "Your keyboard now speaks cat. Meow.")
		return
	}
	n.notify("disabled", "Back to human typing.")
}

// Error implements [controller.Reporter]. Captured text is never included.
func (n *Notifier) Error(kind string, err error) {
	var msg string
	switch kind {
	case controller.KindMatch:
		msg = "Could not pick a noise; the text was left as typed."
	case controller.KindDispatch:
		msg = "Typing the replacement failed; check input permissions."
	case controller.KindOverflow:
		msg = "Typing faster than the matcher; some text was left as typed."
	case controller.KindListener:
		msg = fmt.Sprintf("Keyboard capture stopped: %v", err)
	default:
		msg = err.Error()
	}
	n.notify("error", msg)
}

// Info shows a plain message.
func (n *Notifier) Info(msg string) {
	n.notify("", msg)
}

// Alert shows a blocking error dialog. It ignores muting and the rate limit
// and is meant for failures that stop the program.
func (n *Notifier) Alert(message string) error {
	if err := n.alert(appName, message); err != nil {
		return fmt.Errorf("notify: alert: %w", err)
	}
	return nil
}

func (n *Notifier) notify(title, message string) {
	n.mu.Lock()
	if !n.enabled {
		n.mu.Unlock()
		return
	}
	now := n.clock.Now()
	key := title + "\x00" + message
	if last, ok := n.lastSent[key]; ok && n.rateLimit > 0 && now.Sub(last) < n.rateLimit {
		n.mu.Unlock()
		return
	}
	n.lastSent[key] = now
	n.mu.Unlock()

	full := appName
	if title != "" {
		full += ": " + title
	}
	// Notification failures are not fatal.
	if err := n.send(full, message); err != nil {
		slog.Debug("notification failed", "err", err)
	}
}
