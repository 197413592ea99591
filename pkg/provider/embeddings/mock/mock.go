// Package mock provides a test double for the embeddings.Provider interface.
//
// Canned results are returned through EmbedResult and EmbedBatchResult. When a
// test needs distinct vectors per text, set EmbedFunc; it then backs both
// Embed and EmbedBatch.
//
//	p := &mock.Provider{
//	    EmbedFunc: func(text string) ([]float32, error) {
//	        return vectors[text], nil
//	    },
//	    DimensionsValue: 3,
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	Ctx context.Context
	// Texts is a copy of the slice passed to EmbedBatch.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, if set, computes the vector for each text and takes
	// precedence over the canned results below.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedResult and EmbedErr are returned by Embed.
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult and EmbedBatchErr are returned by EmbedBatch. A nil
	// EmbedBatchResult yields one nil vector per input.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls          []EmbedCall
	EmbedBatchCalls     []EmbedBatchCall
	DimensionsCallCount int
	ModelIDCallCount    int
}

// Embed records the call and returns the configured result.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	fn, res, err := p.EmbedFunc, p.EmbedResult, p.EmbedErr
	p.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	return res, err
}

// EmbedBatch records the call and returns the configured result.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	fn, res, err := p.EmbedFunc, p.EmbedBatchResult, p.EmbedBatchErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			v, err := fn(t)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	if res != nil {
		return res, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions records the call and returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DimensionsCallCount++
	return p.DimensionsValue
}

// ModelID records the call and returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ModelIDCallCount++
	return p.ModelIDValue
}

// EmbedCallCount returns how many times Embed was called.
func (p *Provider) EmbedCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
	p.DimensionsCallCount = 0
	p.ModelIDCallCount = 0
}

var _ embeddings.Provider = (*Provider)(nil)
