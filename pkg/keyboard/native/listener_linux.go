//go:build linux

package native

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/MrWong99/kittymode/pkg/keyboard"
)

// inputEvent mirrors struct input_event from linux/input.h.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// evdevListener reads every keyboard-capable evdev device and merges them
// into a single event stream with shared modifier state.
type evdevListener struct {
	mu      sync.Mutex
	files   []*os.File
	wg      sync.WaitGroup
	mods    modState
	running bool
}

func newListener() keyboard.Listener {
	return &evdevListener{}
}

// Available reports whether at least one keyboard device can be opened.
func (l *evdevListener) Available() (bool, string) {
	devices, err := findKeyboardDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot enumerate input devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}
	for _, dev := range devices {
		if unix.Access(dev, unix.R_OK) == nil {
			return true, "found keyboard device: " + dev
		}
	}
	return false, "cannot read keyboard devices (join the 'input' group or run as root)"
}

// Start opens every keyboard device and begins reading.
func (l *evdevListener) Start(ctx context.Context, handler func(keyboard.KeyEvent)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	devices, err := findKeyboardDevices()
	if err != nil {
		return fmt.Errorf("%w: enumerate devices: %v", keyboard.ErrUnavailable, err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no keyboard devices found", keyboard.ErrUnavailable)
	}

	var permErr error
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				permErr = err
			}
			slog.Debug("evdev: skipping device", "path", dev, "err", err)
			continue
		}
		l.files = append(l.files, f)
	}
	if len(l.files) == 0 {
		if permErr != nil {
			return fmt.Errorf("%w: %v", keyboard.ErrPermissionDenied, permErr)
		}
		return fmt.Errorf("%w: no readable keyboard device", keyboard.ErrUnavailable)
	}

	l.running = true
	for _, f := range l.files {
		l.wg.Add(1)
		go l.readLoop(f, handler)
	}
	go func() {
		<-ctx.Done()
		_ = l.Stop()
	}()

	slog.Info("evdev listener started", "devices", len(l.files))
	return nil
}

// Stop closes all devices, which unblocks the read loops, and waits for them
// to exit.
func (l *evdevListener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	files := l.files
	l.files = nil
	l.mu.Unlock()

	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.wg.Wait()
	return errors.Join(errs...)
}

func (l *evdevListener) readLoop(f *os.File, handler func(keyboard.KeyEvent)) {
	defer l.wg.Done()

	r := bufio.NewReader(f)
	for {
		var ev inputEvent
		if err := binary.Read(r, binary.NativeEndian, &ev); err != nil {
			if !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
				slog.Warn("evdev: read failed", "path", f.Name(), "err", err)
			}
			return
		}
		if ev.Type != evKey {
			continue
		}

		l.mu.Lock()
		isMod := l.mods.update(ev.Code, ev.Value)
		mods := l.mods
		l.mu.Unlock()

		key, ch := translateEvdev(ev.Code, mods)
		if isMod {
			ch = 0
		}
		sec, nsec := ev.Time.Unix()
		handler(keyboard.KeyEvent{
			Key:     key,
			Char:    ch,
			Pressed: ev.Value == keyValuePress || ev.Value == keyValueRepeat,
			Time:    time.Unix(sec, nsec),
			// evdev only sees hardware devices; xdotool/wtype inject above it.
			Source: keyboard.SourcePhysical,
		})
	}
}

// findKeyboardDevices parses /proc/bus/input/devices for handlers that expose
// an EV_KEY bitmap with letter keys, and falls back to the by-id symlinks.
func findKeyboardDevices() ([]string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var devices []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			devices = append(devices, p)
		}
	}

	var handler string
	var keyboardLike bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "H: Handlers="):
			handler = ""
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(part, "event") {
					handler = "/dev/input/" + part
				}
				if part == "kbd" {
					keyboardLike = true
				}
			}
		case strings.HasPrefix(line, "B: EV="):
			// EV_KEY (bit 1) plus EV_REP (bit 20) is the usual keyboard mask.
			keyboardLike = keyboardLike && strings.HasSuffix(strings.TrimPrefix(line, "B: EV="), "3")
		case line == "":
			if keyboardLike {
				add(handler)
			}
			handler, keyboardLike = "", false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if keyboardLike {
		add(handler)
	}

	matches, _ := filepath.Glob("/dev/input/by-id/*-event-kbd")
	for _, m := range matches {
		if target, err := filepath.EvalSymlinks(m); err == nil {
			add(target)
		}
	}
	return devices, nil
}
