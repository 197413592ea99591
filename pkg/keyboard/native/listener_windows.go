//go:build windows

package native

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
	procGetAsyncKeyState    = user32.NewProc("GetAsyncKeyState")
	procGetKeyState         = user32.NewProc("GetKeyState")
	procToUnicodeEx         = user32.NewProc("ToUnicodeEx")
	procGetKeyboardLayout   = user32.NewProc("GetKeyboardLayout")
	procSendInput           = user32.NewProc("SendInput")
)

const (
	whKeyboardLL  = 13
	wmKeyDown     = 0x0100
	wmKeyUp       = 0x0101
	wmSysKeyDown  = 0x0104
	wmSysKeyUp    = 0x0105
	wmQuit        = 0x0012
	llkhfInjected = 0x10

	vkBack     = 0x08
	vkTab      = 0x09
	vkReturn   = 0x0D
	vkShift    = 0x10
	vkControl  = 0x11
	vkMenu     = 0x12
	vkCapital  = 0x14
	vkEscape   = 0x1B
	vkSpace    = 0x20
	vkPrior    = 0x21
	vkNext     = 0x22
	vkEnd      = 0x23
	vkHome     = 0x24
	vkLeft     = 0x25
	vkUp       = 0x26
	vkRight    = 0x27
	vkDown     = 0x28
	vkDelete   = 0x2E
	vkLWin     = 0x5B
	vkRWin     = 0x5C
	vkF1       = 0x70
	vkF24      = 0x87
	vkLShift   = 0xA0
	vkRShift   = 0xA1
	vkLControl = 0xA2
	vkRControl = 0xA3
	vkLMenu    = 0xA4
	vkRMenu    = 0xA5
)

type kbdllHookStruct struct {
	vkCode      uint32
	scanCode    uint32
	flags       uint32
	time        uint32
	dwExtraInfo uintptr
}

type winMsg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	ptX     int32
	ptY     int32
}

// The hook callback is created once per process; NewCallback slots are never
// released.
var (
	hookCallbackOnce sync.Once
	hookCallback     uintptr

	activeMu      sync.RWMutex
	activeHandler func(keyboard.KeyEvent)
)

func hookProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) >= 0 {
		activeMu.RLock()
		h := activeHandler
		activeMu.RUnlock()
		if h != nil {
			k := (*kbdllHookStruct)(unsafe.Pointer(lParam))
			h(translateHook(uint32(wParam), k))
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return ret
}

// hookListener runs a WH_KEYBOARD_LL hook on a dedicated, locked OS thread
// with its own message loop.
type hookListener struct {
	mu       sync.Mutex
	threadID uint32
	done     chan struct{}
	running  bool
}

func newListener() keyboard.Listener {
	return &hookListener{}
}

func (l *hookListener) Available() (bool, string) {
	if err := procSetWindowsHookExW.Find(); err != nil {
		return false, "user32.dll SetWindowsHookExW not available: " + err.Error()
	}
	return true, "low-level keyboard hook available"
}

func (l *hookListener) Start(ctx context.Context, handler func(keyboard.KeyEvent)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	if err := procSetWindowsHookExW.Find(); err != nil {
		return fmt.Errorf("%w: %v", keyboard.ErrUnavailable, err)
	}

	hookCallbackOnce.Do(func() {
		hookCallback = windows.NewCallback(hookProc)
	})

	activeMu.Lock()
	activeHandler = handler
	activeMu.Unlock()

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		tid := windows.GetCurrentThreadId()
		hook, _, callErr := procSetWindowsHookExW.Call(whKeyboardLL, hookCallback, 0, 0)
		if hook == 0 {
			errCh <- fmt.Errorf("%w: SetWindowsHookExW: %v", keyboard.ErrPermissionDenied, callErr)
			return
		}
		l.mu.Lock()
		l.threadID = tid
		l.mu.Unlock()
		errCh <- nil

		var msg winMsg
		for {
			ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
			if int32(ret) <= 0 {
				break
			}
		}
		procUnhookWindowsHookEx.Call(hook)
	}()

	// The hook goroutine needs l.mu to record its thread id, so wait for it
	// with the lock released.
	l.mu.Unlock()
	var err error
	select {
	case err = <-errCh:
	case <-time.After(2 * time.Second):
		err = fmt.Errorf("%w: timeout installing keyboard hook", keyboard.ErrUnavailable)
	}
	l.mu.Lock()
	if err != nil {
		activeMu.Lock()
		activeHandler = nil
		activeMu.Unlock()
		return err
	}

	l.running = true
	l.done = done
	go func() {
		<-ctx.Done()
		_ = l.Stop()
	}()
	slog.Info("windows keyboard hook installed")
	return nil
}

func (l *hookListener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	tid, done := l.threadID, l.done
	l.mu.Unlock()

	activeMu.Lock()
	activeHandler = nil
	activeMu.Unlock()

	procPostThreadMessageW.Call(uintptr(tid), wmQuit, 0, 0)
	<-done
	return nil
}

func keyDown(vk int) bool {
	st, _, _ := procGetAsyncKeyState.Call(uintptr(vk))
	return st&0x8000 != 0
}

func translateHook(msg uint32, k *kbdllHookStruct) keyboard.KeyEvent {
	ev := keyboard.KeyEvent{
		Pressed: msg == wmKeyDown || msg == wmSysKeyDown,
		Time:    time.Now(),
		Source:  keyboard.SourcePhysical,
	}
	if k.flags&llkhfInjected != 0 {
		ev.Source = keyboard.SourceSynthetic
	}

	switch vk := k.vkCode; {
	case vk == vkBack:
		ev.Key = keyboard.KeyBackspace
	case vk == vkTab:
		ev.Key = keyboard.KeyTab
	case vk == vkReturn:
		ev.Key = keyboard.KeyEnter
	case vk == vkEscape:
		ev.Key = keyboard.KeyEscape
	case vk == vkShift || vk == vkLShift || vk == vkRShift:
		ev.Key = keyboard.KeyShift
	case vk == vkControl || vk == vkLControl || vk == vkRControl:
		ev.Key = keyboard.KeyCtrl
	case vk == vkMenu || vk == vkLMenu || vk == vkRMenu:
		ev.Key = keyboard.KeyAlt
	case vk == vkLWin || vk == vkRWin:
		ev.Key = keyboard.KeyMeta
	case vk == vkCapital:
		ev.Key = keyboard.KeyCapsLock
	case vk == vkPrior:
		ev.Key = keyboard.KeyPageUp
	case vk == vkNext:
		ev.Key = keyboard.KeyPageDown
	case vk == vkEnd:
		ev.Key = keyboard.KeyEnd
	case vk == vkHome:
		ev.Key = keyboard.KeyHome
	case vk == vkLeft:
		ev.Key = keyboard.KeyLeft
	case vk == vkUp:
		ev.Key = keyboard.KeyUp
	case vk == vkRight:
		ev.Key = keyboard.KeyRight
	case vk == vkDown:
		ev.Key = keyboard.KeyDown
	case vk == vkDelete:
		ev.Key = keyboard.KeyDelete
	case vk >= vkF1 && vk <= vkF24:
		ev.Key = keyboard.KeyFunction
	case vk == vkSpace:
		ev.Key = keyboard.KeySpace
		ev.Char = charFor(k)
	default:
		ev.Key = keyboard.KeyChar
		ev.Char = charFor(k)
	}
	return ev
}

// charFor projects the key through the active layout. Ctrl/Alt chords yield
// no text except AltGr.
func charFor(k *kbdllHookStruct) rune {
	altGr := keyDown(vkRMenu)
	if !altGr && (keyDown(vkControl) || keyDown(vkMenu) || keyDown(vkLWin) || keyDown(vkRWin)) {
		return 0
	}

	var state [256]byte
	if keyDown(vkShift) {
		state[vkShift] = 0x80
	}
	if caps, _, _ := procGetKeyState.Call(vkCapital); caps&1 != 0 {
		state[vkCapital] = 0x01
	}
	if altGr {
		state[vkControl] = 0x80
		state[vkMenu] = 0x80
	}

	layout, _, _ := procGetKeyboardLayout.Call(0)
	var buf [4]uint16
	// Flag 0x4 keeps ToUnicodeEx from mutating the dead-key state.
	n, _, _ := procToUnicodeEx.Call(
		uintptr(k.vkCode),
		uintptr(k.scanCode),
		uintptr(unsafe.Pointer(&state[0])),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0x4,
		layout,
	)
	if int32(n) != 1 {
		return 0
	}
	r := rune(buf[0])
	if r < 0x20 || r == 0x7f {
		return 0
	}
	return r
}
