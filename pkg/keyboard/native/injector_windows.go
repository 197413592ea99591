//go:build windows

package native

import (
	"fmt"
	"unicode/utf16"
	"unsafe"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

const (
	inputKeyboard    = 1
	keyEventFKeyUp   = 0x0002
	keyEventFUnicode = 0x0004
)

type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// input mirrors the Win32 INPUT struct; padding covers the larger
// MOUSEINPUT member of the union.
type input struct {
	inputType uint32
	ki        keybdInput
	padding   uint64
}

type sendInputInjector struct{}

func newInjector() (keyboard.Injector, error) {
	if err := procSendInput.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", keyboard.ErrUnavailable, err)
	}
	return sendInputInjector{}, nil
}

func (sendInputInjector) Backspace() error {
	return sendVK(vkBack)
}

func (sendInputInjector) Enter() error {
	return sendVK(vkReturn)
}

func (sendInputInjector) TypeRune(r rune) error {
	units := utf16.Encode([]rune{r})
	inputs := make([]input, 0, len(units)*2)
	for _, u := range units {
		inputs = append(inputs,
			input{inputType: inputKeyboard, ki: keybdInput{wScan: u, dwFlags: keyEventFUnicode}},
			input{inputType: inputKeyboard, ki: keybdInput{wScan: u, dwFlags: keyEventFUnicode | keyEventFKeyUp}},
		)
	}
	return send(inputs)
}

func sendVK(vk uint16) error {
	return send([]input{
		{inputType: inputKeyboard, ki: keybdInput{wVk: vk}},
		{inputType: inputKeyboard, ki: keybdInput{wVk: vk, dwFlags: keyEventFKeyUp}},
	})
}

func send(inputs []input) error {
	n, _, err := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if int(n) != len(inputs) {
		// SendInput is blocked by UIPI when the target runs elevated.
		return fmt.Errorf("%w: SendInput inserted %d of %d events: %v", keyboard.ErrDispatch, n, len(inputs), err)
	}
	return nil
}
