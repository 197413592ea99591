package noise

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed corpus.schema.json
var corpusSchemaJSON []byte

const corpusSchemaURL = "kittymode://corpus.schema.json"

var corpusSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(corpusSchemaURL, bytes.NewReader(corpusSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add corpus schema: %w", err)
	}
	return c.Compile(corpusSchemaURL)
})

// validateSchema checks the structure of a decoded JSON document: known keys
// only, and the right types. Semantic checks are left to [Corpus.Validate].
func validateSchema(doc any) error {
	s, err := corpusSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
