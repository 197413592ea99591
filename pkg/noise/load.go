package noise

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadFile reads a JSON corpus from path.
func LoadFile(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()
	return Decode(f, path)
}

// Decode reads a JSON corpus from r, checks it against the corpus schema and
// validates it. source is used in error messages and recorded on the corpus.
func Decode(r io.Reader, source string) (*Corpus, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &LoadError{Path: source, Err: fmt.Errorf("read: %w", err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Path: source, Err: fmt.Errorf("decode json: %w", err)}
	}
	if err := validateSchema(doc); err != nil {
		return nil, &LoadError{Path: source, Err: err}
	}

	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &LoadError{Path: source, Err: fmt.Errorf("decode json: %w", err)}
	}
	c.Source = source
	if err := c.Validate(); err != nil {
		return nil, &LoadError{Path: source, Err: err}
	}
	return &c, nil
}

// Validate checks that the corpus has entries, that no entry is blank and
// that all precomputed vectors share one length.
func (c *Corpus) Validate() error {
	if len(c.Noises) == 0 {
		return errors.New("corpus has no entries")
	}
	var errs []error
	dims := c.Dimensions
	for i, e := range c.Noises {
		if strings.TrimSpace(e.Text) == "" {
			errs = append(errs, fmt.Errorf("entry %d: empty text", i))
			continue
		}
		if len(e.Embedding) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(e.Embedding)
		}
		if len(e.Embedding) != dims {
			errs = append(errs, fmt.Errorf("entry %d (%q): embedding has %d dimensions, want %d", i, e.Text, len(e.Embedding), dims))
		}
	}
	return errors.Join(errs...)
}
