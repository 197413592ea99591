// Package mock provides test doubles for the keyboard.Listener and
// keyboard.Injector interfaces.
//
// Listener lets a test push events as if they came from the OS:
//
//	l := &mock.Listener{}
//	_ = l.Start(ctx, handler)
//	l.Emit(keyboard.KeyEvent{Key: keyboard.KeyChar, Char: 'a', Pressed: true})
//
// Injector records every synthetic keystroke in order and can be told to fail
// on a given call.
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

// Listener is a mock implementation of keyboard.Listener.
type Listener struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// AvailableValue and AvailableReason are returned by Available.
	AvailableValue  bool
	AvailableReason string

	handler    func(keyboard.KeyEvent)
	StartCalls int
	StopCalls  int
}

// Start records the handler and returns StartErr.
func (l *Listener) Start(_ context.Context, handler func(keyboard.KeyEvent)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.StartCalls++
	if l.StartErr != nil {
		return l.StartErr
	}
	l.handler = handler
	return nil
}

// Stop drops the handler.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.StopCalls++
	l.handler = nil
	return nil
}

// Available returns AvailableValue, AvailableReason.
func (l *Listener) Available() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.AvailableValue, l.AvailableReason
}

// Running reports whether a handler is installed.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler != nil
}

// Emit delivers ev synchronously to the installed handler. It is a no-op
// when the listener is not started.
func (l *Listener) Emit(ev keyboard.KeyEvent) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Op identifies a recorded injector call.
type Op int

const (
	OpBackspace Op = iota
	OpRune
	OpEnter
)

// Call is one recorded injector call.
type Call struct {
	Op   Op
	Rune rune
}

// ErrInjected is the default error returned when FailAt triggers.
var ErrInjected = errors.New("mock injector: injected failure")

// Injector is a mock implementation of keyboard.Injector.
type Injector struct {
	mu sync.Mutex

	// FailAt, when > 0, makes the FailAt-th call (1-based, counted across all
	// methods) and every later call return FailErr.
	FailAt int

	// FailErr is returned once FailAt triggers. Defaults to ErrInjected.
	FailErr error

	// OnCall, if set, is invoked before each call is recorded. Tests use it
	// to observe gate state during dispatch.
	OnCall func(Call)

	calls []Call
}

func (i *Injector) record(c Call) error {
	i.mu.Lock()
	hook := i.OnCall
	i.mu.Unlock()
	if hook != nil {
		hook(c)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	n := len(i.calls) + 1
	if i.FailAt > 0 && n >= i.FailAt {
		if i.FailErr != nil {
			return i.FailErr
		}
		return ErrInjected
	}
	i.calls = append(i.calls, c)
	return nil
}

// Backspace records a backspace.
func (i *Injector) Backspace() error { return i.record(Call{Op: OpBackspace}) }

// TypeRune records r.
func (i *Injector) TypeRune(r rune) error { return i.record(Call{Op: OpRune, Rune: r}) }

// Enter records an enter.
func (i *Injector) Enter() error { return i.record(Call{Op: OpEnter}) }

// Calls returns a copy of all successful calls in order.
func (i *Injector) Calls() []Call {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Call, len(i.calls))
	copy(out, i.calls)
	return out
}

// Count returns how many successful calls of op were recorded.
func (i *Injector) Count(op Op) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, c := range i.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Typed returns the runes typed so far as a string.
func (i *Injector) Typed() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var b strings.Builder
	for _, c := range i.calls {
		if c.Op == OpRune {
			b.WriteRune(c.Rune)
		}
	}
	return b.String()
}

// Reset clears the recorded calls.
func (i *Injector) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = nil
}

// Compile-time interface assertions.
var (
	_ keyboard.Listener = (*Listener)(nil)
	_ keyboard.Injector = (*Injector)(nil)
)
