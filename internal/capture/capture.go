// Package capture buffers physical keystrokes into utterances.
//
// A [Machine] opens a session on the first printable key and closes it when
// typing pauses for the capture window. Keys landing just before the window
// closes extend it once each, and no session outlives the maximum duration.
// The closed session is handed to the flush callback as a [Flush].
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

// Flush reasons.
const (
	ReasonWindow      = "window"
	ReasonMaxDuration = "max_duration"
)

// State is the machine state.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Timing controls session boundaries.
type Timing struct {
	// Window is the quiet period that ends a session.
	Window time.Duration

	// ExtensionThreshold: a key arriving less than this before the window
	// closes pushes the close to last key + Window.
	ExtensionThreshold time.Duration

	// MaxDuration caps a session measured from its first key.
	MaxDuration time.Duration
}

// DefaultTiming returns the stock timings.
func DefaultTiming() Timing {
	return Timing{
		Window:             800 * time.Millisecond,
		ExtensionThreshold: 200 * time.Millisecond,
		MaxDuration:        3 * time.Second,
	}
}

// Validate reports every invalid field.
func (t Timing) Validate() error {
	var errs []error
	if t.Window <= 0 {
		errs = append(errs, fmt.Errorf("capture: window must be positive, got %s", t.Window))
	}
	if t.ExtensionThreshold < 0 {
		errs = append(errs, fmt.Errorf("capture: extension threshold must not be negative, got %s", t.ExtensionThreshold))
	}
	if t.ExtensionThreshold >= t.Window && t.Window > 0 {
		errs = append(errs, fmt.Errorf("capture: extension threshold %s must be below window %s", t.ExtensionThreshold, t.Window))
	}
	if t.MaxDuration < t.Window {
		errs = append(errs, fmt.Errorf("capture: max duration %s must be at least window %s", t.MaxDuration, t.Window))
	}
	return errors.Join(errs...)
}

// Flush is a closed session.
type Flush struct {
	Generation uint64
	Text       string
	// Count is the number of runes in Text, which is the number of
	// characters on screen to delete.
	Count   int
	Reason  string
	Started time.Time
	Ended   time.Time
}

// Machine is the capture state machine. All methods are safe for concurrent
// use; HandleKey never blocks on anything but the machine's own lock.
type Machine struct {
	clock   clock.Clock
	onFlush func(Flush)

	mu          sync.Mutex
	next        Timing // applies to the next session
	session     Timing // frozen at session start
	state       State
	buf         []rune
	start       time.Time
	last        time.Time
	keySeq      uint64
	extendedSeq uint64
	deadline    time.Time
	gen         uint64
	timer       *clock.Timer
	token       uint64
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// New returns an idle machine. onFlush is called from a timer goroutine,
// outside the machine's lock, once per non-empty session.
func New(t Timing, onFlush func(Flush), opts ...Option) *Machine {
	m := &Machine{next: t, onFlush: onFlush}
	for _, o := range opts {
		o(m)
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	return m
}

// HandleKey feeds one admitted key event. Releases and keys without a
// printable projection are ignored, except Backspace, which removes the last
// buffered rune without extending the session.
func (m *Machine) HandleKey(ev keyboard.KeyEvent) {
	if !ev.Pressed {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Key == keyboard.KeyBackspace {
		if m.state == StateAccumulating && len(m.buf) > 0 {
			m.buf = m.buf[:len(m.buf)-1]
		}
		return
	}
	if !ev.Printable() {
		return
	}

	now := m.clock.Now()
	if m.state != StateAccumulating {
		m.session = m.next
		m.state = StateAccumulating
		m.start = now
		m.buf = m.buf[:0]
		m.extendedSeq = 0
		m.armLocked(earliest(now.Add(m.session.Window), m.capLocked()))
	}
	m.buf = append(m.buf, ev.Char)
	m.last = now
	m.keySeq++
}

// Cancel discards the open session, if any, and bumps the generation. No
// flush is delivered.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.buf = m.buf[:0]
	m.state = StateIdle
	m.gen++
}

// SetTiming replaces the timings from the next session on.
func (m *Machine) SetTiming(t Timing) {
	m.mu.Lock()
	m.next = t
	m.mu.Unlock()
}

// Timing returns the timings the next session will use.
func (m *Machine) Timing() Timing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Generation returns the generation of the open or next session.
func (m *Machine) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Buffered returns the number of runes in the open session.
func (m *Machine) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func (m *Machine) capLocked() time.Time {
	return m.start.Add(m.session.MaxDuration)
}

// armLocked schedules fire at the given deadline. Must be called with m.mu
// held.
func (m *Machine) armLocked(at time.Time) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.token++
	token := m.token
	m.deadline = at
	m.timer = m.clock.AfterFunc(at.Sub(m.clock.Now()), func() { m.fire(token) })
}

func (m *Machine) stopLocked() {
	m.token++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) fire(token uint64) {
	m.mu.Lock()
	if token != m.token || m.state != StateAccumulating {
		m.mu.Unlock()
		return
	}

	limit := m.capLocked()
	reason := ReasonMaxDuration
	if m.deadline.Before(limit) {
		reason = ReasonWindow
		if m.deadline.Sub(m.last) < m.session.ExtensionThreshold && m.keySeq != m.extendedSeq {
			m.extendedSeq = m.keySeq
			if next := earliest(m.last.Add(m.session.Window), limit); next.After(m.deadline) {
				m.armLocked(next)
				m.mu.Unlock()
				return
			}
		}
	}

	m.timer = nil
	if len(m.buf) == 0 {
		m.state = StateIdle
		m.gen++
		m.mu.Unlock()
		return
	}

	f := Flush{
		Generation: m.gen,
		Text:       string(m.buf),
		Count:      len(m.buf),
		Reason:     reason,
		Started:    m.start,
		Ended:      m.deadline,
	}
	m.buf = m.buf[:0]
	m.gen++
	m.state = StateFlushing
	m.mu.Unlock()

	if m.onFlush != nil {
		m.onFlush(f)
	}

	m.mu.Lock()
	if m.state == StateFlushing {
		m.state = StateIdle
	}
	m.mu.Unlock()
}
