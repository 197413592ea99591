package hotkey

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// ErrInvalidCombo is returned by [Parse] for unusable combinations.
var ErrInvalidCombo = errors.New("hotkey: invalid combination")

// Modifier names accepted by [Parse]. "cmd", "win" and "meta" are aliases
// for "super"; "control" for "ctrl"; "option" for "alt".
const (
	ModCtrl  = "ctrl"
	ModShift = "shift"
	ModAlt   = "alt"
	ModSuper = "super"
)

var modAliases = map[string]string{
	"ctrl": ModCtrl, "control": ModCtrl,
	"shift": ModShift,
	"alt": ModAlt, "option": ModAlt,
	"super": ModSuper, "cmd": ModSuper, "win": ModSuper, "meta": ModSuper,
}

// Combo is a parsed hotkey such as ctrl+shift+k.
type Combo struct {
	// Mods is sorted and free of duplicates.
	Mods []string
	// Key is a lower-case key name: a-z, 0-9, f1-f12, space, enter, tab or
	// escape.
	Key string
}

// Parse reads a "+"-separated combination. Case and surrounding spaces are
// ignored. At least one modifier is required so the combo cannot swallow
// ordinary typing.
func Parse(s string) (Combo, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) < 2 {
		return Combo{}, fmt.Errorf("%w: %q needs at least one modifier and a key", ErrInvalidCombo, s)
	}

	var c Combo
	for _, p := range parts[:len(parts)-1] {
		p = strings.TrimSpace(p)
		m, ok := modAliases[p]
		if !ok {
			return Combo{}, fmt.Errorf("%w: unknown modifier %q in %q%s", ErrInvalidCombo, p, s, didYouMean(p))
		}
		if !slices.Contains(c.Mods, m) {
			c.Mods = append(c.Mods, m)
		}
	}
	slices.Sort(c.Mods)

	key := strings.TrimSpace(parts[len(parts)-1])
	if key == "return" {
		key = "enter"
	}
	if key == "esc" {
		key = "escape"
	}
	if !validKey(key) {
		return Combo{}, fmt.Errorf("%w: unknown key %q in %q", ErrInvalidCombo, key, s)
	}
	c.Key = key
	return c, nil
}

func validKey(k string) bool {
	if len(k) == 1 {
		return (k[0] >= 'a' && k[0] <= 'z') || (k[0] >= '0' && k[0] <= '9')
	}
	switch k {
	case "space", "enter", "tab", "escape":
		return true
	}
	var n int
	if _, err := fmt.Sscanf(k, "f%d", &n); err == nil && n >= 1 && n <= 12 && k == fmt.Sprintf("f%d", n) {
		return true
	}
	return false
}

// didYouMean suggests the closest modifier name for a typo like "ctlr".
func didYouMean(p string) string {
	best, score := "", 0.0
	for name := range modAliases {
		if s := matchr.JaroWinkler(p, name, false); s > score {
			best, score = name, s
		}
	}
	if score < 0.8 {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

// String returns the canonical form, e.g. "ctrl+shift+k".
func (c Combo) String() string {
	return strings.Join(append(slices.Clone(c.Mods), c.Key), "+")
}
