// Package ngram implements a deterministic, offline embeddings provider.
//
// Text is lower-cased, padded with boundary markers and split into character
// n-grams. Each n-gram is hashed with xxhash into one of Dimensions buckets
// with a hash-derived sign, weighted by its length, and the resulting vector
// is L2-normalised. Similar spellings therefore land close together, which is
// all the cat noise matcher needs when no model server is reachable.
package ngram

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

const (
	// DefaultDimensions is the vector length used when none is configured.
	DefaultDimensions = 256
	// DefaultMinN and DefaultMaxN bound the n-gram lengths.
	DefaultMinN = 1
	DefaultMaxN = 3
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider hashes character n-grams into a fixed-size vector. It holds no
// mutable state and is safe for concurrent use.
type Provider struct {
	dims       int
	minN, maxN int
}

// Option configures a Provider.
type Option func(*Provider)

// WithDimensions sets the vector length.
func WithDimensions(n int) Option {
	return func(p *Provider) { p.dims = n }
}

// WithRange sets the inclusive range of n-gram lengths.
func WithRange(minN, maxN int) Option {
	return func(p *Provider) {
		p.minN = minN
		p.maxN = maxN
	}
}

// New returns an n-gram provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{dims: DefaultDimensions, minN: DefaultMinN, maxN: DefaultMaxN}
	for _, o := range opts {
		o(p)
	}
	if p.dims <= 0 {
		return nil, fmt.Errorf("ngram embeddings: dimensions must be positive, got %d", p.dims)
	}
	if p.minN < 1 || p.maxN < p.minN {
		return nil, fmt.Errorf("ngram embeddings: invalid n-gram range [%d, %d]", p.minN, p.maxN)
	}
	return p, nil
}

// Embed returns the vector for text. Text without letters, digits or
// punctuation yields the zero vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ngram embeddings: %w: %v", embeddings.ErrUnavailable, err)
	}
	return p.vector(text), nil
}

// EmbedBatch embeds each text in order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ngram embeddings: %w: %v", embeddings.ErrUnavailable, err)
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions returns the configured vector length.
func (p *Provider) Dimensions() int {
	return p.dims
}

// ModelID identifies the hashing scheme so that vectors from differently
// configured providers are never mixed.
func (p *Provider) ModelID() string {
	return fmt.Sprintf("ngram-%d-%d-d%d", p.minN, p.maxN, p.dims)
}

func (p *Provider) vector(text string) []float32 {
	vec := make([]float64, p.dims)

	for _, word := range strings.FieldsFunc(strings.ToLower(text), unicode.IsSpace) {
		runes := []rune("^" + word + "$")
		for n := p.minN; n <= p.maxN; n++ {
			for i := 0; i+n <= len(runes); i++ {
				gram := string(runes[i : i+n])
				if gram == "^" || gram == "$" {
					continue
				}
				h := xxhash.Sum64String(gram)
				bucket := int(h % uint64(p.dims))
				sign := 1.0
				if h&(1<<63) != 0 {
					sign = -1.0
				}
				vec[bucket] += sign * float64(n)
			}
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, p.dims)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
