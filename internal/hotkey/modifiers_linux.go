//go:build linux

package hotkey

import "golang.design/x/hotkey"

// Alt is Mod1 and Super is Mod4 on X11.
var modifierMap = map[string]hotkey.Modifier{
	ModCtrl:  hotkey.ModCtrl,
	ModShift: hotkey.ModShift,
	ModAlt:   hotkey.Mod1,
	ModSuper: hotkey.Mod4,
}
