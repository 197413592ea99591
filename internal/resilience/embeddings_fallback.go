package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

// ErrIncompatibleFallback is returned by [EmbeddingsFallback.AddFallback] when
// a fallback produces vectors of a different length than the primary.
var ErrIncompatibleFallback = errors.New("resilience: fallback embedding dimensions differ from primary")

// EmbeddingsFallback is an [embeddings.Provider] that fails over between
// backends producing vectors of the same length. Dimensions and ModelID
// report the primary.
//
// Fallbacks should embed into the same space as the primary (the same model
// served elsewhere). A different model of equal size is accepted but yields
// meaningless similarities against an index built with the primary.
type EmbeddingsFallback struct {
	group   *FallbackGroup[embeddings.Provider]
	primary embeddings.Provider
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback wraps primary in a failover group.
func NewEmbeddingsFallback(primary embeddings.Provider, name string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		group:   NewFallbackGroup(primary, name, cfg),
		primary: primary,
	}
}

// AddFallback registers p after the existing members. It must be called
// before the provider is used concurrently.
func (f *EmbeddingsFallback) AddFallback(name string, p embeddings.Provider) error {
	if want, got := f.primary.Dimensions(), p.Dimensions(); want != 0 && got != 0 && want != got {
		return fmt.Errorf("%w: %s has %d, primary has %d", ErrIncompatibleFallback, name, got, want)
	}
	f.group.AddFallback(name, p)
	return nil
}

// Names returns the member names in try order.
func (f *EmbeddingsFallback) Names() []string { return f.group.Names() }

// Embed implements [embeddings.Provider].
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := ExecuteWithResult(f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
	return vec, wrapUnavailable(err)
}

// EmbedBatch implements [embeddings.Provider].
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := ExecuteWithResult(f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
	return vecs, wrapUnavailable(err)
}

// Dimensions implements [embeddings.Provider].
func (f *EmbeddingsFallback) Dimensions() int { return f.primary.Dimensions() }

// ModelID implements [embeddings.Provider].
func (f *EmbeddingsFallback) ModelID() string { return f.primary.ModelID() }

func wrapUnavailable(err error) error {
	if err == nil || errors.Is(err, embeddings.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", embeddings.ErrUnavailable, err)
}
