// Package keyboard defines the raw input abstraction used by kittymode: the
// [KeyEvent] value delivered by a [Listener] and the [Injector] used to replay
// synthetic keystrokes.
//
// Platform implementations live in the native sub-package; test doubles live
// in the mock sub-package.
package keyboard

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned when the platform has no usable keyboard
	// hook or injection mechanism.
	ErrUnavailable = errors.New("keyboard: input subsystem unavailable")

	// ErrPermissionDenied is returned when the input subsystem exists but the
	// process lacks the rights to use it (e.g. not in the "input" group, or
	// accessibility access not granted).
	ErrPermissionDenied = errors.New("keyboard: permission denied")

	// ErrDispatch wraps failures to deliver a synthetic keystroke.
	ErrDispatch = errors.New("keyboard: synthetic dispatch failed")
)

// Source tells where a [KeyEvent] came from.
type Source int

const (
	// SourcePhysical marks events produced by a real keyboard.
	SourcePhysical Source = iota

	// SourceSynthetic marks events the OS reports as injected.
	SourceSynthetic
)

// String returns the lower-case name of the source.
func (s Source) String() string {
	switch s {
	case SourcePhysical:
		return "physical"
	case SourceSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Key is the logical identity of a key, independent of layout.
type Key int

const (
	KeyUnknown Key = iota
	KeyChar        // any key whose projection is a printable rune
	KeySpace
	KeyTab
	KeyEnter
	KeyBackspace
	KeyDelete
	KeyEscape
	KeyShift
	KeyCtrl
	KeyAlt
	KeyMeta
	KeyCapsLock
	KeyLeft
	KeyRight
	KeyUp
	KeyDown
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyFunction // F1..F24
)

var keyNames = map[Key]string{
	KeyUnknown:   "unknown",
	KeyChar:      "char",
	KeySpace:     "space",
	KeyTab:       "tab",
	KeyEnter:     "enter",
	KeyBackspace: "backspace",
	KeyDelete:    "delete",
	KeyEscape:    "escape",
	KeyShift:     "shift",
	KeyCtrl:      "ctrl",
	KeyAlt:       "alt",
	KeyMeta:      "meta",
	KeyCapsLock:  "capslock",
	KeyLeft:      "left",
	KeyRight:     "right",
	KeyUp:        "up",
	KeyDown:      "down",
	KeyHome:      "home",
	KeyEnd:       "end",
	KeyPageUp:    "pageup",
	KeyPageDown:  "pagedown",
	KeyFunction:  "function",
}

// String returns a short lower-case name for k.
func (k Key) String() string {
	if n, ok := keyNames[k]; ok {
		return n
	}
	return "unknown"
}

// IsModifier reports whether k is a modifier key.
func (k Key) IsModifier() bool {
	switch k {
	case KeyShift, KeyCtrl, KeyAlt, KeyMeta, KeyCapsLock:
		return true
	}
	return false
}

// KeyEvent is a single key press or release. It is a value type and must not
// be mutated after creation.
type KeyEvent struct {
	// Key is the logical key identity.
	Key Key

	// Char is the printable projection of the key under the current layout
	// and modifier state. Zero when the key produces no text.
	Char rune

	// Pressed is true for key-down (including auto-repeat) and false for
	// key-up.
	Pressed bool

	// Time is when the OS delivered the event.
	Time time.Time

	// Source reports whether the OS flagged the event as injected.
	Source Source
}

// Printable reports whether the event carries a printable character.
func (e KeyEvent) Printable() bool {
	return e.Char != 0
}

// Listener delivers raw keyboard events from the OS.
//
// Start must return promptly; events are delivered to handler from a
// platform goroutine. The handler must not block.
type Listener interface {
	// Start installs the hook and begins delivering events. It returns
	// [ErrUnavailable] or [ErrPermissionDenied] when the hook cannot be
	// installed.
	Start(ctx context.Context, handler func(KeyEvent)) error

	// Stop removes the hook. Safe to call more than once.
	Stop() error

	// Available reports whether Start is expected to succeed, with a
	// human-readable reason.
	Available() (bool, string)
}

// Injector replays synthetic keystrokes into the focused window. Each call
// dispatches exactly one logical keystroke (press and release).
type Injector interface {
	Backspace() error
	TypeRune(r rune) error
	Enter() error
}
