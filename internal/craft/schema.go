package craft

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaBaseURL = "https://schemas.compliance-portal.local/craft/"

const documentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"type": {"type": "string"},
		"markdown": {"type": "string"},
		"content": {"type": "array", "items": {"$ref": "#"}}
	}
}`

const searchSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["blockId"],
				"properties": {"blockId": {"type": "string", "minLength": 1}}
			}
		}
	}
}`

const insertSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {"id": {"type": "string"}}
			}
		}
	}
}`

// responseSchemas validates the bodies of the three Craft endpoints before decoding.
type responseSchemas struct {
	document *jsonschema.Schema
	search   *jsonschema.Schema
	insert   *jsonschema.Schema
}

func compileResponseSchemas() (*responseSchemas, error) {
	compiler := jsonschema.NewCompiler()
	sources := map[string]string{
		"document.json": documentSchema,
		"search.json":   searchSchema,
		"insert.json":   insertSchema,
	}
	for name, source := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("craft: parse %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("craft: register %s: %w", name, err)
		}
	}

	compiled := &responseSchemas{}
	var err error
	if compiled.document, err = compiler.Compile(schemaBaseURL + "document.json"); err != nil {
		return nil, fmt.Errorf("craft: compile document schema: %w", err)
	}
	if compiled.search, err = compiler.Compile(schemaBaseURL + "search.json"); err != nil {
		return nil, fmt.Errorf("craft: compile search schema: %w", err)
	}
	if compiled.insert, err = compiler.Compile(schemaBaseURL + "insert.json"); err != nil {
		return nil, fmt.Errorf("craft: compile insert schema: %w", err)
	}
	return compiled, nil
}

func validateBody(schema *jsonschema.Schema, body []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
