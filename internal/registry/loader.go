package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a matrix file.
// A missing or malformed file is a configuration error: the caller aborts
// before any task is expanded.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading matrix file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes and validates matrix YAML.
func Parse(data []byte) (*Matrix, error) {
	var m Matrix
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing matrix: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matrix: %w", err)
	}

	return &m, nil
}
