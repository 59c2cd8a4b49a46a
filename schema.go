package mongomock

import (
	"github.com/dot-do/mongomock/errors"
	"github.com/dot-do/mongomock/util"
	"github.com/xeipuuv/gojsonschema"
)

// schemaValidator enforces a collection json schema on insert and replace.
// Schemas may be provided as json or yaml.
type schemaValidator struct {
	raw    string
	schema *gojsonschema.Schema
}

func newSchemaValidator(content []byte) (*schemaValidator, error) {
	jsonContent, err := util.YAMLToJSON(content)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to parse collection validator")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(jsonContent))
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to compile collection validator")
	}
	return &schemaValidator{
		raw:    string(jsonContent),
		schema: schema,
	}, nil
}

func (s *schemaValidator) validate(doc *Document) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(doc.Bytes()))
	if err != nil {
		return errors.Wrap(err, errors.Validation, "failed to validate document")
	}
	if !result.Valid() {
		e := &errors.Error{Code: errors.Validation}
		for _, re := range result.Errors() {
			e.Messages = append(e.Messages, re.String())
		}
		return e
	}
	return nil
}
