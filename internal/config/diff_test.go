package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/kittymode/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, config.Default())
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(*testing.T, config.ConfigDiff)
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
				}
				if d.SettingsChanged {
					t.Error("SettingsChanged should be false")
				}
			},
		},
		{
			name:   "capture window",
			mutate: func(c *config.Config) { c.Capture.Window = time.Second },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.SettingsChanged {
					t.Error("expected SettingsChanged")
				}
			},
		},
		{
			name:   "output pacing",
			mutate: func(c *config.Config) { c.Output.PressEnterAfter = false },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.SettingsChanged {
					t.Error("expected SettingsChanged")
				}
			},
		},
		{
			name:   "custom noises",
			mutate: func(c *config.Config) { c.CustomNoises = []string{"mrrp"} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.SettingsChanged {
					t.Error("expected SettingsChanged")
				}
			},
		},
		{
			name:   "hotkey cooldown",
			mutate: func(c *config.Config) { c.HotkeyCooldown = time.Second },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.HotkeyChanged || d.SettingsChanged {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "notifications",
			mutate: func(c *config.Config) { c.Notifications.Enabled = false },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.NotificationsChanged {
					t.Error("expected NotificationsChanged")
				}
			},
		},
		{
			name:   "enabled by default",
			mutate: func(c *config.Config) { c.EnabledByDefault = true },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.EnabledChanged {
					t.Error("expected EnabledChanged")
				}
			},
		},
		{
			name: "restart-only keys",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9000"
				c.Providers.Embeddings.Model = "other"
				c.Corpus.Path = "other.json"
			},
			check: func(t *testing.T, d config.ConfigDiff) {
				want := []string{"server", "providers", "corpus"}
				if !slices.Equal(d.RestartRequired, want) {
					t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
				}
				if !d.Changed() || d.SettingsChanged {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "tls added",
			mutate: func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Contains(d.RestartRequired, "server") {
					t.Errorf("RestartRequired = %v", d.RestartRequired)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(new)
			tt.check(t, config.Diff(old, new))
		})
	}
}
