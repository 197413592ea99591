// Package noise holds the cat noise corpus and the immutable index the
// matcher searches.
//
// A corpus is loaded from JSON (or from PostgreSQL, see the postgres
// sub-package), then [Build] embeds every phrase that lacks a vector, appends
// the user's custom noises and freezes the result into an [Index].
package noise

import (
	"errors"
	"fmt"
)

// CategoryCustom marks entries that came from the user's configuration.
const CategoryCustom = "custom"

// ErrIndexLoad is matched by every *LoadError.
var ErrIndexLoad = errors.New("noise: index load failed")

// LoadError reports a corpus that could not be read or turned into an index.
// Path is the file or data source name.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("noise: load index: %v", e.Err)
	}
	return fmt.Sprintf("noise: load index %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrIndexLoad) match any LoadError.
func (e *LoadError) Is(target error) bool { return target == ErrIndexLoad }

// Entry is one substitute phrase with its embedding.
type Entry struct {
	Text          string    `json:"text"`
	Category      string    `json:"category,omitempty"`
	BaseNoise     string    `json:"base_noise,omitempty"`
	VariationType string    `json:"variation_type,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// Corpus is the raw, not yet validated set of entries.
type Corpus struct {
	// Model names the embedding model precomputed vectors came from. Vectors
	// are discarded and recomputed when it differs from the provider's.
	Model      string  `json:"model,omitempty"`
	Dimensions int     `json:"dimensions,omitempty"`
	Noises     []Entry `json:"noises"`

	// Source is the file path or DSN the corpus was read from.
	Source string `json:"-"`
}
