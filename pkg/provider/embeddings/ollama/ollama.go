// Package ollama provides an embeddings provider backed by a local Ollama server.
//
// It talks to Ollama's native /api/embed endpoint. Small models such as
// all-minilm or nomic-embed-text are fast enough to embed a short burst of
// keystrokes well within the capture window.
//
//	p, err := ollama.New("", "all-minilm", ollama.WithKeepAlive(30*time.Minute))
//	vec, err := p.Embed(ctx, "asdkjfh")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// probeTimeout bounds the request used to detect the vector length of an
// unknown model.
const probeTimeout = 10 * time.Second

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
//
// The vector length comes from WithDimensions, then from a table of known
// models, and finally from a single probe request that is cached.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	httpClient *http.Client

	dimsMu     sync.Mutex
	dimensions int
}

type config struct {
	timeout    time.Duration
	dimensions int
	keepAlive  time.Duration
	client     *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension and skips the probe.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// WithKeepAlive asks Ollama to keep the model loaded for d after each
// request so the first flush after an idle period does not pay the load cost.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) {
		c.keepAlive = d
	}
}

// WithHTTPClient replaces the HTTP client. WithTimeout is ignored when set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.client = hc
	}
}

// New constructs an Ollama provider. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	p := &Provider{
		baseURL:    baseURL,
		model:      model,
		httpClient: hc,
		dimensions: cfg.dimensions,
	}
	if cfg.keepAlive > 0 {
		p.keepAlive = cfg.keepAlive.String()
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in a single request. An empty input returns
// (nil, nil) without contacting the server.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w: expected %d embeddings, got %d",
			embeddings.ErrUnavailable, len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions returns the vector length. For unknown models the first call
// probes the server; a failed probe returns 0 and is retried on the next call.
func (p *Provider) Dimensions() int {
	p.dimsMu.Lock()
	defer p.dimsMu.Unlock()
	if p.dimensions != 0 {
		return p.dimensions
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	vecs, err := p.callEmbed(ctx, []string{"probe"})
	if err != nil {
		return 0
	}
	p.dimensions = len(vecs[0])
	return p.dimensions
}

// ModelID returns the Ollama model name.
func (p *Provider) ModelID() string {
	return p.model
}

// callEmbed posts to /api/embed. Every failure wraps embeddings.ErrUnavailable.
func (p *Provider) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:     p.model,
		Input:     texts,
		KeepAlive: p.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embeddings.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", embeddings.ErrUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", embeddings.ErrUnavailable, err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: empty embeddings in response", embeddings.ErrUnavailable)
	}
	return result.Embeddings, nil
}

func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	case strings.Contains(lower, "bge-m3"):
		return 1024
	default:
		return 0
	}
}
