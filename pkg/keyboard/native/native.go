// Package native provides the platform keyboard hook and keystroke injector.
//
// Linux reads evdev devices under /dev/input (membership in the "input" group
// or root is required) and injects with xdotool on X11 or wtype on Wayland.
// Windows installs a WH_KEYBOARD_LL hook and injects with SendInput. Other
// platforms report [keyboard.ErrUnavailable].
package native

import "github.com/MrWong99/kittymode/pkg/keyboard"

// NewListener returns the platform [keyboard.Listener].
func NewListener() keyboard.Listener {
	return newListener()
}

// NewInjector returns the platform [keyboard.Injector], or an error wrapping
// [keyboard.ErrUnavailable] when no injection backend is present.
func NewInjector() (keyboard.Injector, error) {
	return newInjector()
}
