package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embeddings": {"ngram", "ollama", "openai"},
}

// Format is a config file syntax.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

func (f Format) String() string {
	if f == FormatTOML {
		return "toml"
	}
	return "yaml"
}

// FormatFor picks the syntax from the file extension. Anything other than
// .toml is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads the configuration file at path and returns a validated [Config].
// Files ending in .toml are read as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Keys missing from the document keep their defaults.
// An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	return Decode(r, FormatYAML)
}

// Decode reads a config in the given format on top of [Default] and
// validates it. Unknown keys are an error in both formats.
func Decode(r io.Reader, format Format) (*Config, error) {
	cfg := Default()
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: decode toml: unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.TLS != nil && cfg.Server.ListenAddr == "" {
		slog.Warn("server.tls is set but server.listen_addr is empty; the control API is disabled")
	}

	// Providers
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Providers.EmbeddingsFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embeddings_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("embeddings", fb.Name)
	}

	// Corpus
	if cfg.Corpus.Path == "" && cfg.Corpus.PostgresDSN == "" {
		errs = append(errs, errors.New("corpus: one of path or postgres_dsn is required"))
	}
	if cfg.Corpus.Path != "" && cfg.Corpus.PostgresDSN != "" {
		slog.Warn("corpus.postgres_dsn and corpus.path are both set; path is only used for seeding")
	}

	// Hotkey
	if strings.TrimSpace(cfg.Hotkey) == "" {
		errs = append(errs, errors.New("hotkey is required"))
	}
	if cfg.HotkeyCooldown < 0 {
		errs = append(errs, fmt.Errorf("hotkey_cooldown must not be negative, got %s", cfg.HotkeyCooldown))
	}

	// Notifications
	if cfg.Notifications.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("notifications.rate_limit must not be negative, got %s", cfg.Notifications.RateLimit))
	}

	// Capture, output, suppression, match and custom noises.
	if err := cfg.ControllerSettings().Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Output.TypingDelay == 0 && cfg.Output.DeleteDelay == 0 {
		slog.Warn("output.typing_delay and output.delete_delay are both zero; some applications drop keystrokes sent without pacing")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	attrs := []any{"kind", kind, "name", name, "known", known}
	if s := closestName(name, known); s != "" {
		attrs = append(attrs, "did_you_mean", s)
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider", attrs...)
}

// closestName returns the candidate most similar to name, or "" when none
// is close enough to be a likely typo.
func closestName(name string, candidates []string) string {
	best, score := "", 0.0
	for _, c := range candidates {
		if s := matchr.JaroWinkler(strings.ToLower(name), c, false); s > score {
			best, score = c, s
		}
	}
	if score < 0.8 {
		return ""
	}
	return best
}
