package hotkey

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestPress_Cooldown(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	clk := clock.NewMock()
	tg := New(func() { calls.Add(1) }, 300*time.Millisecond, WithClock(clk))

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, true},
		{100 * time.Millisecond, false},
		{150 * time.Millisecond, false},
		{60 * time.Millisecond, true},
		{300 * time.Millisecond, true},
	}
	for i, s := range steps {
		clk.Add(s.advance)
		if got := tg.press(); got != s.want {
			t.Errorf("step %d: press = %v, want %v", i, got, s.want)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("onToggle ran %d times, want 3", calls.Load())
	}
}

func TestPress_SetCooldown(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	tg := New(nil, time.Second, WithClock(clk))
	tg.press()

	tg.SetCooldown(0)
	if !tg.press() {
		t.Error("zero cooldown should allow back-to-back presses")
	}
}

func TestUnregister_WithoutRegister(t *testing.T) {
	t.Parallel()

	tg := New(nil, 0)
	if err := tg.Unregister(); err != nil {
		t.Fatalf("Unregister = %v", err)
	}
	if c := tg.Current(); c.Key != "" {
		t.Errorf("Current = %v, want zero", c)
	}
}

func TestKeyMapCoversParse(t *testing.T) {
	t.Parallel()

	for _, k := range []string{"a", "z", "0", "9", "f1", "f12", "space", "enter", "tab", "escape"} {
		if !validKey(k) {
			t.Errorf("validKey(%q) = false", k)
		}
		if _, ok := keyMap[k]; !ok {
			t.Errorf("keyMap missing %q", k)
		}
	}
	for _, m := range []string{ModCtrl, ModShift, ModAlt, ModSuper} {
		if _, ok := modifierMap[m]; !ok {
			t.Errorf("modifierMap missing %q", m)
		}
	}
}
