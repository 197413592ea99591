// Package tray shows the system tray icon and menu: an enable checkbox, a
// status line, a notifications checkbox and quit.
package tray

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/MrWong99/kittymode/internal/controller"
)

//go:embed icons/enabled.png
var iconEnabled []byte

//go:embed icons/disabled.png
var iconDisabled []byte

// Callbacks are invoked from the menu goroutine.
type Callbacks struct {
	// OnToggle flips the controller and returns the new state.
	OnToggle func() (bool, error)
	// OnNotificationsToggle flips notifications and returns the new state.
	OnNotificationsToggle func() bool
	OnQuit                func()
}

// Tray owns the systray menu.
type Tray struct {
	callbacks     Callbacks
	status        func() controller.Status
	notifications bool

	mu       sync.Mutex
	ready    bool
	enable   *systray.MenuItem
	statusMI *systray.MenuItem
	notifyMI *systray.MenuItem
	quitMI   *systray.MenuItem
	done     chan struct{}
}

// New creates a Tray. status is polled by [Tray.Refresh].
func New(cb Callbacks, status func() controller.Status, notificationsOn bool) *Tray {
	return &Tray{
		callbacks:     cb,
		status:        status,
		notifications: notificationsOn,
		done:          make(chan struct{}),
	}
}

// Run shows the tray and blocks until [Tray.Quit]. onReady runs once the
// menu exists.
func (t *Tray) Run(onReady func()) {
	systray.Run(func() {
		t.build()
		if onReady != nil {
			onReady()
		}
	}, func() { close(t.done) })
}

func (t *Tray) build() {
	st := t.status()
	systray.SetTitle("kittymode")

	t.mu.Lock()
	t.enable = systray.AddMenuItemCheckbox("Enabled", "Replace typing with cat noises", st.Enabled)
	t.statusMI = systray.AddMenuItem(statusLine(st), "")
	t.statusMI.Disable()
	systray.AddSeparator()
	t.notifyMI = systray.AddMenuItemCheckbox("Notifications", "Show desktop notifications", t.notifications)
	systray.AddSeparator()
	t.quitMI = systray.AddMenuItem("Quit", "Quit kittymode")
	t.ready = true
	t.mu.Unlock()

	t.applyEnabled(st.Enabled)
	go t.handleMenuEvents()
}

func (t *Tray) handleMenuEvents() {
	for {
		select {
		case <-t.done:
			return

		case <-t.enable.ClickedCh:
			if t.callbacks.OnToggle == nil {
				continue
			}
			on, err := t.callbacks.OnToggle()
			if err != nil {
				slog.Warn("tray: toggle failed", "err", err)
			}
			t.SetEnabled(on)

		case <-t.notifyMI.ClickedCh:
			if t.callbacks.OnNotificationsToggle == nil {
				continue
			}
			if t.callbacks.OnNotificationsToggle() {
				t.notifyMI.Check()
			} else {
				t.notifyMI.Uncheck()
			}

		case <-t.quitMI.ClickedCh:
			if t.callbacks.OnQuit != nil {
				t.callbacks.OnQuit()
			}
			systray.Quit()
			return
		}
	}
}

// SetEnabled updates the icon, checkbox and status line. It may be called
// from any goroutine, also before the menu exists.
func (t *Tray) SetEnabled(on bool) {
	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()
	if ready {
		t.applyEnabled(on)
		t.Refresh()
	}
}

func (t *Tray) applyEnabled(on bool) {
	if on {
		systray.SetIcon(platformIcon(iconEnabled))
		systray.SetTooltip("kittymode: meowing")
		t.enable.Check()
		return
	}
	systray.SetIcon(platformIcon(iconDisabled))
	systray.SetTooltip("kittymode: off")
	t.enable.Uncheck()
}

// Refresh redraws the status line.
func (t *Tray) Refresh() {
	t.mu.Lock()
	mi := t.statusMI
	t.mu.Unlock()
	if mi != nil {
		mi.SetTitle(statusLine(t.status()))
	}
}

// Quit closes the tray, which makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func statusLine(s controller.Status) string {
	switch {
	case s.IndexSize == 0:
		return "No noise index loaded"
	case !s.Listening:
		return "Keyboard capture unavailable"
	case !s.Enabled:
		return fmt.Sprintf("Off (%d noises)", s.IndexSize)
	case s.EmitterBusy || s.PendingJobs > 0:
		return "Meowing..."
	default:
		return fmt.Sprintf("Listening (%d noises)", s.IndexSize)
	}
}
