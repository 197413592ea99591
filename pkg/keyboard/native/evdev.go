package native

import "github.com/MrWong99/kittymode/pkg/keyboard"

// Linux input-event-codes.h values used by the evdev listener.
const (
	evKey = 0x01

	keyValueRelease = 0
	keyValuePress   = 1
	keyValueRepeat  = 2
)

const (
	codeEsc        = 1
	codeBackspace  = 14
	codeTab        = 15
	codeEnter      = 28
	codeLeftCtrl   = 29
	codeLeftShift  = 42
	codeRightShift = 54
	codeLeftAlt    = 56
	codeSpace      = 57
	codeCapsLock   = 58
	codeF1         = 59
	codeF10        = 68
	codeF11        = 87
	codeF12        = 88
	codeKPEnter    = 96
	codeRightCtrl  = 97
	codeRightAlt   = 100
	codeHome       = 102
	codeUp         = 103
	codePageUp     = 104
	codeLeft       = 105
	codeRight      = 106
	codeEnd        = 107
	codeDown       = 108
	codePageDown   = 109
	codeDelete     = 111
	codeLeftMeta   = 125
	codeRightMeta  = 126
)

// usLayout maps evdev key codes to the unshifted and shifted rune of a US
// QWERTY layout.
var usLayout = map[uint16][2]rune{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	39: {';', ':'}, 40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},
	// keypad
	55: {'*', '*'}, 74: {'-', '-'}, 78: {'+', '+'}, 98: {'/', '/'},
}

// modState is the modifier state tracked across evdev events.
type modState struct {
	shift, ctrl, alt, meta int // held count (left + right)
	caps                   bool
}

// update applies a modifier key transition. It reports whether code was a
// modifier.
func (m *modState) update(code uint16, value int32) bool {
	delta := 0
	switch value {
	case keyValuePress:
		delta = 1
	case keyValueRelease:
		delta = -1
	}
	adj := func(p *int) {
		*p += delta
		if *p < 0 {
			*p = 0
		}
	}
	switch code {
	case codeLeftShift, codeRightShift:
		adj(&m.shift)
	case codeLeftCtrl, codeRightCtrl:
		adj(&m.ctrl)
	case codeLeftAlt, codeRightAlt:
		adj(&m.alt)
	case codeLeftMeta, codeRightMeta:
		adj(&m.meta)
	case codeCapsLock:
		if value == keyValuePress {
			m.caps = !m.caps
		}
	default:
		return false
	}
	return true
}

// translateEvdev maps an evdev key code to a logical key and its printable
// projection under mods. Chords with ctrl, alt or meta held produce no text.
func translateEvdev(code uint16, mods modState) (keyboard.Key, rune) {
	switch code {
	case codeEsc:
		return keyboard.KeyEscape, 0
	case codeBackspace:
		return keyboard.KeyBackspace, 0
	case codeTab:
		return keyboard.KeyTab, 0
	case codeEnter, codeKPEnter:
		return keyboard.KeyEnter, 0
	case codeLeftShift, codeRightShift:
		return keyboard.KeyShift, 0
	case codeLeftCtrl, codeRightCtrl:
		return keyboard.KeyCtrl, 0
	case codeLeftAlt, codeRightAlt:
		return keyboard.KeyAlt, 0
	case codeLeftMeta, codeRightMeta:
		return keyboard.KeyMeta, 0
	case codeCapsLock:
		return keyboard.KeyCapsLock, 0
	case codeHome:
		return keyboard.KeyHome, 0
	case codeEnd:
		return keyboard.KeyEnd, 0
	case codeUp:
		return keyboard.KeyUp, 0
	case codeDown:
		return keyboard.KeyDown, 0
	case codeLeft:
		return keyboard.KeyLeft, 0
	case codeRight:
		return keyboard.KeyRight, 0
	case codePageUp:
		return keyboard.KeyPageUp, 0
	case codePageDown:
		return keyboard.KeyPageDown, 0
	case codeDelete:
		return keyboard.KeyDelete, 0
	}
	if (code >= codeF1 && code <= codeF10) || code == codeF11 || code == codeF12 {
		return keyboard.KeyFunction, 0
	}

	chord := mods.ctrl > 0 || mods.alt > 0 || mods.meta > 0

	if code == codeSpace {
		if chord {
			return keyboard.KeySpace, 0
		}
		return keyboard.KeySpace, ' '
	}

	pair, ok := usLayout[code]
	if !ok {
		return keyboard.KeyUnknown, 0
	}
	if chord {
		return keyboard.KeyChar, 0
	}

	shifted := mods.shift > 0
	if isLetter(pair[0]) && mods.caps {
		shifted = !shifted
	}
	if shifted {
		return keyboard.KeyChar, pair[1]
	}
	return keyboard.KeyChar, pair[0]
}

func isLetter(r rune) bool {
	return r >= 'a' && r <= 'z'
}
