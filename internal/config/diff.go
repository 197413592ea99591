package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SettingsChanged is true when [Config.ControllerSettings] differs and
	// the controller should be reconfigured.
	SettingsChanged bool

	HotkeyChanged        bool
	NotificationsChanged bool
	EnabledChanged       bool

	// RestartRequired lists changed keys that only take effect on restart.
	RestartRequired []string
}

// Changed reports whether anything at all differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SettingsChanged || d.HotkeyChanged ||
		d.NotificationsChanged || d.EnabledChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Capture != new.Capture || old.Output != new.Output ||
		old.Suppression != new.Suppression || old.Match != new.Match ||
		!slices.Equal(old.CustomNoises, new.CustomNoises) {
		d.SettingsChanged = true
	}

	d.HotkeyChanged = old.Hotkey != new.Hotkey || old.HotkeyCooldown != new.HotkeyCooldown
	d.NotificationsChanged = old.Notifications != new.Notifications
	d.EnabledChanged = old.EnabledByDefault != new.EnabledByDefault

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Corpus != new.Corpus {
		d.RestartRequired = append(d.RestartRequired, "corpus")
	}

	return d
}
