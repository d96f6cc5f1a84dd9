package loader

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/allthingslinux/schemaport/mapping"
)

// Load reads a mapping rulebook file into a Registry. Unknown keys are
// rejected so a typo in a rulebook fails loudly instead of silently
// dropping a declaration.
func Load(filename string) (*mapping.Registry, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	return Parse(data)
}

// Parse decodes rulebook YAML into a Registry and applies defaults.
func Parse(data []byte) (*mapping.Registry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var registry mapping.Registry
	if err := dec.Decode(&registry); err != nil {
		return nil, fmt.Errorf("unmarshalling YAML: %w", err)
	}
	registry.Normalize()
	return &registry, nil
}
