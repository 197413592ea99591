//go:build !linux && !windows

package native

import (
	"context"
	"fmt"
	"runtime"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

type unsupportedListener struct{}

func newListener() keyboard.Listener { return unsupportedListener{} }

func (unsupportedListener) Start(context.Context, func(keyboard.KeyEvent)) error {
	return fmt.Errorf("%w: no keyboard hook for %s", keyboard.ErrUnavailable, runtime.GOOS)
}

func (unsupportedListener) Stop() error { return nil }

func (unsupportedListener) Available() (bool, string) {
	return false, "keyboard capture is not supported on " + runtime.GOOS
}

func newInjector() (keyboard.Injector, error) {
	return nil, fmt.Errorf("%w: no keystroke injector for %s", keyboard.ErrUnavailable, runtime.GOOS)
}
