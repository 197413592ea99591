package noise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

// BuildOptions tunes how missing vectors are computed.
type BuildOptions struct {
	// BatchSize is the number of texts per EmbedBatch call. Default 64.
	BatchSize int
	// Concurrency bounds the number of batches in flight. Default 4.
	Concurrency int
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Build embeds every corpus entry that has no vector, appends custom noises
// (category [CategoryCustom]) that are not already present and returns the
// frozen index. The corpus is not modified.
//
// Embedding failures wrap [embeddings.ErrUnavailable]. Dimension mismatches
// and an empty result are reported as *LoadError.
func Build(ctx context.Context, c *Corpus, p embeddings.Provider, custom []string, opts BuildOptions) (*Index, error) {
	opts = opts.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, &LoadError{Path: c.Source, Err: err}
	}

	dims := p.Dimensions()
	if dims <= 0 {
		return nil, &LoadError{Path: c.Source, Err: fmt.Errorf("%w: provider %q reports %d dimensions", embeddings.ErrUnavailable, p.ModelID(), dims)}
	}
	model := p.ModelID()

	entries := make([]Entry, len(c.Noises), len(c.Noises)+len(custom))
	copy(entries, c.Noises)

	if c.Model != "" && c.Model != model {
		slog.Warn("noise corpus was embedded with a different model, recomputing vectors",
			"corpus_model", c.Model, "provider_model", model, "source", c.Source)
		for i := range entries {
			entries[i].Embedding = nil
		}
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Text] = struct{}{}
	}
	base := len(entries)
	for _, text := range custom {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		entries = append(entries, Entry{Text: text, Category: CategoryCustom, BaseNoise: text})
	}

	if err := embedMissing(ctx, p, entries, opts); err != nil {
		return nil, fmt.Errorf("noise: build index: %w", err)
	}

	for i, e := range entries {
		if len(e.Embedding) != dims {
			return nil, &LoadError{Path: c.Source, Err: dimensionError(i, e, dims)}
		}
	}

	slog.Debug("noise index built", "entries", len(entries), "custom", len(entries)-base, "dimensions", dims, "model", model)
	return &Index{entries: entries, dims: dims, model: model, base: base}, nil
}

// embedMissing fills in entries without vectors, one batch per goroutine.
// Each goroutine writes a disjoint range of entries.
func embedMissing(ctx context.Context, p embeddings.Provider, entries []Entry, opts BuildOptions) error {
	var missing []int
	for i, e := range entries {
		if len(e.Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for start := 0; start < len(missing); start += opts.BatchSize {
		batch := missing[start:min(start+opts.BatchSize, len(missing))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, idx := range batch {
				texts[j] = entries[idx].Text
			}
			vecs, err := p.EmbedBatch(gctx, texts)
			if err != nil {
				if errors.Is(err, embeddings.ErrUnavailable) {
					return err
				}
				return fmt.Errorf("%w: %v", embeddings.ErrUnavailable, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("%w: requested %d embeddings, got %d", embeddings.ErrUnavailable, len(batch), len(vecs))
			}
			for j, idx := range batch {
				entries[idx].Embedding = vecs[j]
			}
			return nil
		})
	}
	return g.Wait()
}

func dimensionError(i int, e Entry, dims int) error {
	return fmt.Errorf("entry %d (%q): embedding has %d dimensions, index has %d", i, e.Text, len(e.Embedding), dims)
}
