package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/kittymode/internal/app"
	"github.com/MrWong99/kittymode/internal/config"
	"github.com/MrWong99/kittymode/internal/resilience"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings/ngram"
	ollamaembed "github.com/MrWong99/kittymode/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/kittymode/pkg/provider/embeddings/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in embedding factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterEmbeddings("ngram", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ngram.Option
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ngram.WithDimensions(n))
		}
		if lo, hi := optInt(entry.Options, "min_n"), optInt(entry.Options, "max_n"); lo > 0 || hi > 0 {
			if lo == 0 {
				lo = ngram.DefaultMinN
			}
			if hi == 0 {
				hi = ngram.DefaultMaxN
			}
			opts = append(opts, ngram.WithRange(lo, hi))
		}
		return ngram.New(opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		if d := optDuration(entry.Options, "keep_alive"); d > 0 {
			opts = append(opts, ollamaembed.WithKeepAlive(d))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		if n := optInt(entry.Options, "max_retries"); n > 0 {
			opts = append(opts, oaembed.WithMaxRetries(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range reg.EmbeddingsNames() {
		slog.Debug("registered provider", "kind", "embeddings", "name", name)
	}
}

// buildProviders instantiates the configured embeddings provider and its
// fallbacks. With fallbacks configured the result is a
// [resilience.EmbeddingsFallback] trying them in order.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	entry := cfg.Providers.Embeddings
	primary, err := reg.CreateEmbeddings(entry)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", primary.ModelID(), "dimensions", primary.Dimensions())

	if len(cfg.Providers.EmbeddingsFallbacks) == 0 {
		return &app.Providers{Embeddings: primary}, nil
	}

	group := resilience.NewEmbeddingsFallback(primary, entry.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("embeddings circuit breaker state changed", "provider", name, "from", from, "to", to)
			},
		},
	})
	for i, fb := range cfg.Providers.EmbeddingsFallbacks {
		p, err := reg.CreateEmbeddings(fb)
		if err != nil {
			return nil, fmt.Errorf("embeddings fallback %d: %w", i, err)
		}
		if err := group.AddFallback(fb.Name, p); err != nil {
			return nil, err
		}
		slog.Info("fallback provider created", "kind", "embeddings", "name", fb.Name, "model", p.ModelID())
	}
	return &app.Providers{Embeddings: group}, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML decodes whole numbers as int; JSON-ish
// sources may produce float64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optDuration parses a duration string such as "5s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
