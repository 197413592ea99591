//go:build linux

package native

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

func TestCommandInjector_Commands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tool string
		want []string
	}{
		{"xdotool", []string{
			"xdotool key --clearmodifiers BackSpace",
			"xdotool type --clearmodifiers -- é",
			"xdotool key --clearmodifiers Return",
		}},
		{"wtype", []string{
			"wtype -k BackSpace",
			"wtype -- é",
			"wtype -k Return",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			t.Parallel()
			var got []string
			inj := &commandInjector{tool: tt.tool, run: func(name string, args ...string) error {
				got = append(got, strings.Join(append([]string{name}, args...), " "))
				return nil
			}}
			if err := inj.Backspace(); err != nil {
				t.Fatal(err)
			}
			if err := inj.TypeRune('é'); err != nil {
				t.Fatal(err)
			}
			if err := inj.Enter(); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("commands:\n got %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestCommandInjector_WrapsDispatchError(t *testing.T) {
	t.Parallel()

	inj := &commandInjector{tool: "xdotool", run: func(string, ...string) error {
		return errors.New("no display")
	}}
	err := inj.TypeRune('x')
	if !errors.Is(err, keyboard.ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
}
