package noise

import (
	"context"
	"unicode/utf8"

	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

// Index is an ordered, immutable set of embedded entries. All vectors have
// Dimensions() components. It is safe for concurrent use.
type Index struct {
	entries []Entry
	dims    int
	model   string

	// base is the number of leading entries that came from the corpus rather
	// than from custom noises.
	base int
}

// NewIndex wraps pre-embedded entries without calling a provider. It is used
// by tests and by stores that already hold vectors.
func NewIndex(entries []Entry, dims int, model string) (*Index, error) {
	c := &Corpus{Model: model, Dimensions: dims, Noises: entries}
	if err := c.Validate(); err != nil {
		return nil, &LoadError{Err: err}
	}
	for i, e := range entries {
		if len(e.Embedding) != dims {
			return nil, &LoadError{Err: dimensionError(i, e, dims)}
		}
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Index{entries: cp, dims: dims, model: model, base: len(cp)}, nil
}

// Len returns the number of entries.
func (x *Index) Len() int { return len(x.entries) }

// At returns entry i. The embedding slice is shared and must not be modified.
func (x *Index) At(i int) Entry { return x.entries[i] }

// Dimensions returns the vector length of every entry.
func (x *Index) Dimensions() int { return x.dims }

// Model returns the embedding model the vectors came from.
func (x *Index) Model() string { return x.model }

// Entries returns a copy of all entries in index order.
func (x *Index) Entries() []Entry {
	out := make([]Entry, len(x.entries))
	copy(out, x.entries)
	return out
}

// Custom returns the texts of the custom entries in order.
func (x *Index) Custom() []string {
	out := make([]string, 0, len(x.entries)-x.base)
	for _, e := range x.entries[x.base:] {
		out = append(out, e.Text)
	}
	return out
}

// ByCategory returns all entries of the given category.
func (x *Index) ByCategory(category string) []Entry {
	var out []Entry
	for _, e := range x.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// Short returns entries whose text has at most maxRunes runes.
func (x *Index) Short(maxRunes int) []Entry {
	var out []Entry
	for _, e := range x.entries {
		if utf8.RuneCountInString(e.Text) <= maxRunes {
			out = append(out, e)
		}
	}
	return out
}

// WithCustom returns a new index holding the corpus entries of x followed by
// the given custom noises. x is left untouched.
func (x *Index) WithCustom(ctx context.Context, p embeddings.Provider, custom []string, opts BuildOptions) (*Index, error) {
	base := make([]Entry, x.base)
	copy(base, x.entries[:x.base])
	return Build(ctx, &Corpus{Model: x.model, Dimensions: x.dims, Noises: base}, p, custom, opts)
}
