//go:build linux

package native

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

// commandInjector drives xdotool (X11) or wtype (Wayland). Each call spawns a
// single short-lived process so the caller can pace keystrokes itself.
type commandInjector struct {
	tool string
	run  func(name string, args ...string) error
}

func newInjector() (keyboard.Injector, error) {
	tool := "xdotool"
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		tool = "wtype"
	}
	if _, err := exec.LookPath(tool); err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", keyboard.ErrUnavailable, tool)
	}
	return &commandInjector{tool: tool, run: runCommand}, nil
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

func (c *commandInjector) Backspace() error {
	return c.key("BackSpace")
}

func (c *commandInjector) Enter() error {
	return c.key("Return")
}

func (c *commandInjector) TypeRune(r rune) error {
	var err error
	if c.tool == "wtype" {
		err = c.run("wtype", "--", string(r))
	} else {
		err = c.run("xdotool", "type", "--clearmodifiers", "--", string(r))
	}
	if err != nil {
		return fmt.Errorf("%w: type %q: %v", keyboard.ErrDispatch, r, err)
	}
	return nil
}

func (c *commandInjector) key(name string) error {
	var err error
	if c.tool == "wtype" {
		err = c.run("wtype", "-k", name)
	} else {
		err = c.run("xdotool", "key", "--clearmodifiers", name)
	}
	if err != nil {
		return fmt.Errorf("%w: key %s: %v", keyboard.ErrDispatch, name, err)
	}
	return nil
}
