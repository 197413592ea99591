// Package config provides the configuration schema, loader, watcher and
// provider registry for kittymode.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/kittymode/internal/capture"
	"github.com/MrWong99/kittymode/internal/controller"
	"github.com/MrWong99/kittymode/internal/emit"
	"github.com/MrWong99/kittymode/internal/suppress"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown or empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Providers     ProvidersConfig     `yaml:"providers" toml:"providers"`
	Corpus        CorpusConfig        `yaml:"corpus" toml:"corpus"`
	Capture       CaptureConfig       `yaml:"capture" toml:"capture"`
	Output        OutputConfig        `yaml:"output" toml:"output"`
	Suppression   SuppressionConfig   `yaml:"suppression" toml:"suppression"`
	Match         MatchConfig         `yaml:"match" toml:"match"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`

	// EnabledByDefault starts the controller enabled once the index is
	// loaded.
	EnabledByDefault bool `yaml:"enabled_by_default" toml:"enabled_by_default"`

	// Hotkey is the global toggle combination, e.g. "ctrl+shift+k".
	Hotkey string `yaml:"hotkey" toml:"hotkey"`

	// HotkeyCooldown ignores toggles closer together than this.
	HotkeyCooldown time.Duration `yaml:"hotkey_cooldown" toml:"hotkey_cooldown"`

	// CustomNoises are appended to the corpus with category "custom".
	CustomNoises []string `yaml:"custom_noises" toml:"custom_noises"`
}

// ServerConfig holds the local control API and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g. "127.0.0.1:7737").
	// Empty disables the API.
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level" toml:"log_level"`

	// TLS configures TLS for the control API. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// ProvidersConfig selects the embedding backend and its fallbacks. Each entry
// names a provider registered in the [Registry].
type ProvidersConfig struct {
	Embeddings ProviderEntry `yaml:"embeddings" toml:"embeddings"`

	// EmbeddingsFallbacks are tried in order when the primary fails. They
	// must produce vectors of the same dimension.
	EmbeddingsFallbacks []ProviderEntry `yaml:"embeddings_fallbacks" toml:"embeddings_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "ollama").
	Name string `yaml:"name" toml:"name"`

	APIKey string `yaml:"api_key" toml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	Model string `yaml:"model" toml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options" toml:"options"`
}

// CorpusConfig locates the noise corpus. When PostgresDSN is set it takes
// precedence over Path.
type CorpusConfig struct {
	Path        string `yaml:"path" toml:"path"`
	PostgresDSN string `yaml:"postgres_dsn" toml:"postgres_dsn"`
}

// CaptureConfig holds the capture window timings.
type CaptureConfig struct {
	Window             time.Duration `yaml:"window" toml:"window"`
	ExtensionThreshold time.Duration `yaml:"extension_threshold" toml:"extension_threshold"`
	MaxDuration        time.Duration `yaml:"max_duration" toml:"max_duration"`
}

// OutputConfig holds the replacement pacing.
type OutputConfig struct {
	TypingDelay     time.Duration `yaml:"typing_delay" toml:"typing_delay"`
	DeleteDelay     time.Duration `yaml:"delete_delay" toml:"delete_delay"`
	PhasePause      time.Duration `yaml:"phase_pause" toml:"phase_pause"`
	PressEnterAfter bool          `yaml:"press_enter_after" toml:"press_enter_after"`
	EnterPause      time.Duration `yaml:"enter_pause" toml:"enter_pause"`
}

// SuppressionConfig holds the self-capture gate timings.
type SuppressionConfig struct {
	MinSettle   time.Duration `yaml:"min_settle" toml:"min_settle"`
	MinInterval time.Duration `yaml:"min_interval" toml:"min_interval"`
	Failsafe    time.Duration `yaml:"failsafe" toml:"failsafe"`
}

// MatchConfig sizes the matcher.
type MatchConfig struct {
	Workers int `yaml:"workers" toml:"workers"`
}

// NotificationsConfig controls desktop toasts.
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// RateLimit suppresses repeats of an identical message within this
	// window.
	RateLimit time.Duration `yaml:"rate_limit" toml:"rate_limit"`
}

// Default returns a config holding every default value.
func Default() *Config {
	s := controller.DefaultSettings()
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Providers: ProvidersConfig{
			Embeddings: ProviderEntry{Name: "ngram"},
		},
		Corpus: CorpusConfig{Path: "configs/noises.json"},
		Capture: CaptureConfig{
			Window:             s.Capture.Window,
			ExtensionThreshold: s.Capture.ExtensionThreshold,
			MaxDuration:        s.Capture.MaxDuration,
		},
		Output: OutputConfig{
			TypingDelay:     s.Output.TypingDelay,
			DeleteDelay:     s.Output.DeleteDelay,
			PhasePause:      s.Output.PhasePause,
			PressEnterAfter: s.Output.PressEnterAfter,
			EnterPause:      s.Output.EnterPause,
		},
		Suppression: SuppressionConfig{
			MinSettle:   s.Suppression.MinSettle,
			MinInterval: s.Suppression.MinInterval,
			Failsafe:    s.Suppression.Failsafe,
		},
		Match:          MatchConfig{Workers: s.Workers},
		Notifications:  NotificationsConfig{Enabled: true, RateLimit: 10 * time.Second},
		Hotkey:         "ctrl+shift+k",
		HotkeyCooldown: 300 * time.Millisecond,
	}
}

// ApplyDefaults fills fields that have no meaningful zero value. Configs
// decoded by [LoadFromReader] already start from [Default]; this is for
// configs built in code.
func ApplyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Providers.Embeddings.Name == "" {
		cfg.Providers.Embeddings.Name = def.Providers.Embeddings.Name
	}
	if cfg.Capture.Window <= 0 {
		cfg.Capture.Window = def.Capture.Window
	}
	if cfg.Capture.ExtensionThreshold <= 0 {
		cfg.Capture.ExtensionThreshold = def.Capture.ExtensionThreshold
	}
	if cfg.Capture.MaxDuration <= 0 {
		cfg.Capture.MaxDuration = def.Capture.MaxDuration
	}
	if cfg.Suppression.MinSettle <= 0 {
		cfg.Suppression.MinSettle = def.Suppression.MinSettle
	}
	if cfg.Suppression.MinInterval <= 0 {
		cfg.Suppression.MinInterval = def.Suppression.MinInterval
	}
	if cfg.Suppression.Failsafe <= 0 {
		cfg.Suppression.Failsafe = def.Suppression.Failsafe
	}
	if cfg.Match.Workers <= 0 {
		cfg.Match.Workers = def.Match.Workers
	}
	if cfg.Hotkey == "" {
		cfg.Hotkey = def.Hotkey
	}
	if cfg.HotkeyCooldown <= 0 {
		cfg.HotkeyCooldown = def.HotkeyCooldown
	}
}

// ControllerSettings projects the runtime-tunable part of cfg onto
// [controller.Settings]. The emitter's settle time follows the suppression
// settle time.
func (cfg *Config) ControllerSettings() controller.Settings {
	return controller.Settings{
		Capture: capture.Timing{
			Window:             cfg.Capture.Window,
			ExtensionThreshold: cfg.Capture.ExtensionThreshold,
			MaxDuration:        cfg.Capture.MaxDuration,
		},
		Output: emit.Options{
			TypingDelay:     cfg.Output.TypingDelay,
			DeleteDelay:     cfg.Output.DeleteDelay,
			PhasePause:      cfg.Output.PhasePause,
			PressEnterAfter: cfg.Output.PressEnterAfter,
			EnterPause:      cfg.Output.EnterPause,
			MinSettle:       cfg.Suppression.MinSettle,
		},
		Suppression: suppress.Config{
			MinSettle:   cfg.Suppression.MinSettle,
			MinInterval: cfg.Suppression.MinInterval,
			Failsafe:    cfg.Suppression.Failsafe,
		},
		Workers:      cfg.Match.Workers,
		CustomNoises: append([]string(nil), cfg.CustomNoises...),
	}
}
