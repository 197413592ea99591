package match_test

import (
	"context"
	"errors"
	"math"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/kittymode/internal/match"
	"github.com/MrWong99/kittymode/internal/observe"
	"github.com/MrWong99/kittymode/pkg/noise"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings/mock"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings/ngram"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testIndex(t *testing.T, entries ...noise.Entry) *noise.Index {
	t.Helper()
	idx, err := noise.NewIndex(entries, len(entries[0].Embedding), "test")
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func fixed(vec ...float32) *mock.Provider {
	return &mock.Provider{EmbedResult: vec, DimensionsValue: len(vec)}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero left", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero both", []float32{0, 0}, []float32{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := match.Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
			if rev := match.Cosine(tt.b, tt.a); math.Abs(rev-got) > 1e-12 {
				t.Errorf("Cosine is not symmetric: %v vs %v", got, rev)
			}
		})
	}
}

func TestMatch_PicksMostSimilar(t *testing.T) {
	t.Parallel()

	idx := testIndex(t,
		noise.Entry{Text: "meow", Embedding: []float32{1, 0}},
		noise.Entry{Text: "purr", Embedding: []float32{0.6, 0.8}},
		noise.Entry{Text: "hiss", Embedding: []float32{0, 1}},
	)
	m := match.New(fixed(0.5, 0.9), match.WithMetrics(testMetrics(t)))

	res, err := m.Match(context.Background(), "asdkjfhaksdjfh", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Phrase != "purr" || res.Index != 1 {
		t.Errorf("Match = %+v, want purr at 1", res)
	}
	if res.Score <= 0.9 || res.Score > 1 {
		t.Errorf("score = %v, want close to 1", res.Score)
	}
}

func TestMatch_TieBreaksOnLowestIndex(t *testing.T) {
	t.Parallel()

	idx := testIndex(t,
		noise.Entry{Text: "mrrp", Embedding: []float32{0, 1}},
		noise.Entry{Text: "mew", Embedding: []float32{1, 0}},
		noise.Entry{Text: "nya", Embedding: []float32{2, 0}},
	)
	m := match.New(fixed(1, 0), match.WithMetrics(testMetrics(t)))

	for range 20 {
		res, err := m.Match(context.Background(), "x", idx)
		if err != nil {
			t.Fatal(err)
		}
		if res.Index != 1 {
			t.Fatalf("tie resolved to index %d, want 1", res.Index)
		}
	}
}

func TestMatch_ZeroQueryReturnsFirstEntry(t *testing.T) {
	t.Parallel()

	idx := testIndex(t,
		noise.Entry{Text: "meow", Embedding: []float32{1, 0}},
		noise.Entry{Text: "mrow", Embedding: []float32{0, 1}},
	)
	m := match.New(fixed(0, 0), match.WithMetrics(testMetrics(t)))

	res, err := m.Match(context.Background(), "   ", idx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Index != 0 || res.Score != 0 {
		t.Errorf("Match = %+v, want index 0 with score 0", res)
	}
}

func TestMatch_Errors(t *testing.T) {
	t.Parallel()

	idx := testIndex(t, noise.Entry{Text: "meow", Embedding: []float32{1, 0}})

	tests := []struct {
		name     string
		provider *mock.Provider
		idx      *noise.Index
		want     error
	}{
		{"nil index", fixed(1, 0), nil, match.ErrEmptyIndex},
		{"dimension mismatch", fixed(1, 0, 0), idx, match.ErrDimensionMismatch},
		{"provider wrapped", &mock.Provider{EmbedErr: errors.New("connection refused")}, idx, embeddings.ErrUnavailable},
		{"provider sentinel", &mock.Provider{EmbedErr: embeddings.ErrUnavailable}, idx, embeddings.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := match.New(tt.provider, match.WithMetrics(testMetrics(t)))
			if _, err := m.Match(context.Background(), "meow", tt.idx); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	t.Parallel()

	idx := testIndex(t,
		noise.Entry{Text: "a", Embedding: []float32{0, 1}},
		noise.Entry{Text: "b", Embedding: []float32{1, 1}},
		noise.Entry{Text: "c", Embedding: []float32{1, 0}},
		noise.Entry{Text: "d", Embedding: []float32{1, 0}},
	)
	m := match.New(fixed(1, 0), match.WithMetrics(testMetrics(t)))

	res, err := m.TopK(context.Background(), "q", idx, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c", "d", "b"}
	if len(res) != len(want) {
		t.Fatalf("len = %d, want %d", len(res), len(want))
	}
	for i, w := range want {
		if res[i].Phrase != w {
			t.Errorf("res[%d] = %q, want %q", i, res[i].Phrase, w)
		}
	}

	all, err := m.TopK(context.Background(), "q", idx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("k larger than index: len = %d, want 4", len(all))
	}
}

func TestMatch_WithNgramProvider(t *testing.T) {
	t.Parallel()

	p, err := ngram.New()
	if err != nil {
		t.Fatal(err)
	}
	c := &noise.Corpus{Noises: []noise.Entry{{Text: "meow"}, {Text: "hisss"}, {Text: "purrr"}}}
	idx, err := noise.Build(context.Background(), c, p, nil, noise.BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	m := match.New(p, match.WithMetrics(testMetrics(t)))

	res, err := m.Match(context.Background(), "hiss", idx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Phrase != "hisss" {
		t.Errorf("Match(hiss) = %q, want hisss", res.Phrase)
	}
}
