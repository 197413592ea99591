// Package suppress implements the gate that keeps kittymode from capturing
// its own output.
//
// While the emitter replays a substitute phrase the gate is active and every
// key event is dropped, whatever the OS says about its origin. The gate stays
// active for a settle period after the last synthetic keystroke so that late
// deliveries of injected events are still discarded. A failsafe deadline
// clears an activation that is never scheduled to end.
package suppress

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

// ErrTooSoon is returned by [Gate.Activate] when the previous deactivation
// was less than MinInterval ago.
var ErrTooSoon = errors.New("suppress: activation too soon after previous deactivation")

// Config holds the gate timings.
type Config struct {
	// MinSettle is the default hold time after the last synthetic keystroke.
	MinSettle time.Duration

	// MinInterval is the minimum gap between a deactivation and the next
	// activation.
	MinInterval time.Duration

	// Failsafe clears an activation that sees no synthetic activity for this
	// long and was never scheduled to deactivate.
	Failsafe time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		MinSettle:   150 * time.Millisecond,
		MinInterval: 200 * time.Millisecond,
		Failsafe:    5 * time.Second,
	}
}

// Gate is the suppression state shared by the listener path and the emitter.
// The zero value is not usable; create one with [New].
type Gate struct {
	active atomic.Bool

	clock  clock.Clock
	onDrop func(keyboard.KeyEvent)

	mu            sync.Mutex
	cfg           Config
	activatedAt   time.Time
	deactivatedAt time.Time
	draining      bool
	deadline      time.Time
	timer         *clock.Timer
	token         uint64
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithDropHandler registers fn to be called for every event [Gate.Admit]
// rejects. fn runs on the listener path and must not block.
func WithDropHandler(fn func(keyboard.KeyEvent)) Option {
	return func(g *Gate) { g.onDrop = fn }
}

// New returns an inactive gate. Zero durations in cfg take their defaults.
func New(cfg Config, opts ...Option) *Gate {
	g := &Gate{cfg: withDefaults(cfg)}
	for _, o := range opts {
		o(g)
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	return g
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MinSettle <= 0 {
		cfg.MinSettle = def.MinSettle
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.Failsafe <= 0 {
		cfg.Failsafe = def.Failsafe
	}
	return cfg
}

// SetConfig replaces the timings. Deadlines already armed are kept.
func (g *Gate) SetConfig(cfg Config) {
	g.mu.Lock()
	g.cfg = withDefaults(cfg)
	g.mu.Unlock()
}

// Config returns the current timings.
func (g *Gate) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Active reports whether the gate currently suppresses input. It never
// blocks.
func (g *Gate) Active() bool {
	return g.active.Load()
}

// Admit reports whether ev may reach the capture machine. Synthetic events
// are always rejected; physical events are rejected while the gate is
// active.
func (g *Gate) Admit(ev keyboard.KeyEvent) bool {
	if ev.Source == keyboard.SourceSynthetic || g.active.Load() {
		if g.onDrop != nil {
			g.onDrop(ev)
		}
		return false
	}
	return true
}

// Activate turns the gate on and arms the failsafe deadline. Calling it while
// already active only re-arms the deadline.
func (g *Gate) Activate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if !g.active.Load() {
		if !g.deactivatedAt.IsZero() && now.Sub(g.deactivatedAt) < g.cfg.MinInterval {
			return ErrTooSoon
		}
		g.activatedAt = now
		g.active.Store(true)
	}
	g.draining = false
	g.armLocked(g.cfg.Failsafe)
	return nil
}

// ActivatedAt returns when the current activation began, or the zero time
// when inactive.
func (g *Gate) ActivatedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active.Load() {
		return time.Time{}
	}
	return g.activatedAt
}

// Touch records synthetic activity. The deadline moves to now+MinSettle when
// draining and to now+Failsafe otherwise. It is a no-op while inactive.
func (g *Gate) Touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active.Load() {
		return
	}
	if g.draining {
		g.armLocked(g.cfg.MinSettle)
		return
	}
	g.armLocked(g.cfg.Failsafe)
}

// ScheduleDeactivate switches the gate to draining and arms the deadline at
// now+after. A non-positive after uses MinSettle.
func (g *Gate) ScheduleDeactivate(after time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active.Load() {
		return
	}
	if after <= 0 {
		after = g.cfg.MinSettle
	}
	g.draining = true
	g.armLocked(after)
}

// ForceDeactivate clears the gate immediately and cancels any deadline.
func (g *Gate) ForceDeactivate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token++
	if g.active.Load() {
		g.deactivateLocked(g.clock.Now())
	}
}

// ReadyIn returns how long until [Gate.Activate] would succeed. It is zero
// while the gate is active.
func (g *Gate) ReadyIn() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active.Load() || g.deactivatedAt.IsZero() {
		return 0
	}
	return max(0, g.cfg.MinInterval-g.clock.Since(g.deactivatedAt))
}

// armLocked replaces the pending deadline. Must be called with g.mu held.
func (g *Gate) armLocked(d time.Duration) {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.token++
	token := g.token
	g.deadline = g.clock.Now().Add(d)
	g.timer = g.clock.AfterFunc(d, func() { g.expire(token) })
}

func (g *Gate) expire(token uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if token != g.token || !g.active.Load() {
		return
	}
	g.deactivateLocked(g.deadline)
}

// Deadline returns when the gate will clear on its own, or the zero time
// when inactive.
func (g *Gate) Deadline() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active.Load() {
		return time.Time{}
	}
	return g.deadline
}

// deactivateLocked must be called with g.mu held.
func (g *Gate) deactivateLocked(at time.Time) {
	g.active.Store(false)
	g.deactivatedAt = at
	g.draining = false
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
