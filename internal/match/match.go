// Package match finds the cat noise whose embedding is closest to the
// embedding of captured text.
//
// The search is exhaustive cosine similarity over a [noise.Index]. The index
// is small (a few thousand phrases) so a linear scan is well below the
// embedding call in cost. Ties resolve to the lowest index, which makes the
// result deterministic for a given index.
package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/kittymode/internal/observe"
	"github.com/MrWong99/kittymode/pkg/noise"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

var (
	// ErrDimensionMismatch is returned when the query vector and the index
	// vectors differ in length.
	ErrDimensionMismatch = errors.New("match: embedding dimension mismatch")

	// ErrEmptyIndex is returned when the index has no entries.
	ErrEmptyIndex = errors.New("match: empty index")
)

// Result is the chosen substitute phrase.
type Result struct {
	Phrase string
	Score  float64
	// Index is the position of the phrase in the noise index.
	Index int
}

// Matcher embeds text with a provider and searches an index. It holds no
// mutable state and is safe for concurrent use.
type Matcher struct {
	provider embeddings.Provider
	metrics  *observe.Metrics
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMetrics records match latency on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mt *Matcher) { mt.metrics = m }
}

// New returns a Matcher that embeds queries with p.
func New(p embeddings.Provider, opts ...Option) *Matcher {
	m := &Matcher{provider: p}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Match returns the entry of idx most similar to text. Text is embedded
// unchanged, including whitespace-only text.
func (m *Matcher) Match(ctx context.Context, text string, idx *noise.Index) (Result, error) {
	res, err := m.TopK(ctx, text, idx, 1)
	if err != nil {
		return Result{}, err
	}
	return res[0], nil
}

// TopK returns the k entries most similar to text in descending score order,
// ties broken by lower index. k is clamped to the index size.
func (m *Matcher) TopK(ctx context.Context, text string, idx *noise.Index, k int) (_ []Result, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "match",
		trace.WithAttributes(
			attribute.Int("match.text_runes", len([]rune(text))),
			attribute.Int("match.k", k),
		),
	)
	defer func() {
		observe.RecordError(span, err)
		span.End()
		m.metrics.RecordMatch(ctx, time.Since(start), err)
	}()

	if idx == nil || idx.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	if k < 1 {
		k = 1
	}
	k = min(k, idx.Len())

	query, err := m.provider.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embeddings.ErrUnavailable) {
			return nil, fmt.Errorf("match: embed query: %w", err)
		}
		return nil, fmt.Errorf("match: embed query: %w: %w", embeddings.ErrUnavailable, err)
	}
	if len(query) != idx.Dimensions() {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), idx.Dimensions())
	}

	scores := make([]Result, idx.Len())
	for i := range scores {
		e := idx.At(i)
		scores[i] = Result{Phrase: e.Text, Score: Cosine(query, e.Embedding), Index: i}
	}
	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].Score > scores[b].Score
	})

	out := scores[:k:k]
	span.SetAttributes(
		attribute.Int("match.index", out[0].Index),
		attribute.Float64("match.score", out[0].Score),
	)
	return out, nil
}

// Cosine returns dot(a,b)/(|a||b|), or 0 when either vector has zero norm.
// a and b must have equal length.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
