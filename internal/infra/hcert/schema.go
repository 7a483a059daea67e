package hcert

import (
	_ "embed"
	"fmt"
	"strings"

	"dccgate/internal/domain"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/dcc.schema.json
var dccSchemaJSON []byte

type Schema struct {
	schema *gojsonschema.Schema
}

func LoadSchema() (*Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(dccSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("load dcc schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// Validate checks a health certificate JSON document against the DCC schema.
func (s *Schema) Validate(doc []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", domain.ErrSchemaViolation, strings.Join(msgs, "; "))
}
