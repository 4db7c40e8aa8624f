package config

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// LoadMetadataSchema compiles the JSON Schema at path for validating
// submitted job metadata. Returns nil when path is empty.
func LoadMetadataSchema(path string) (*jsonschema.Schema, error) {
	if path == "" {
		return nil, nil
	}
	schema, err := jsonschema.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to compile metadata schema %s: %w", path, err)
	}
	return schema, nil
}
