package migrate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChangeSet is a named group of operations loaded from a YAML document.
type ChangeSet struct {
	Name       string      `yaml:"name"`
	Operations []Operation `yaml:"operations"`
}

// ParseChangeSet decodes a YAML changeset and validates every operation.
func ParseChangeSet(data []byte) (*ChangeSet, error) {
	var cs ChangeSet
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parse changeset: %w", err)
	}
	if cs.Name == "" {
		return nil, fmt.Errorf("changeset has no name")
	}
	if len(cs.Operations) == 0 {
		return nil, fmt.Errorf("changeset %q has no operations", cs.Name)
	}
	for _, op := range cs.Operations {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("changeset %q: %w", cs.Name, err)
		}
	}
	return &cs, nil
}

// LoadChangeSet reads and parses a changeset file.
func LoadChangeSet(path string) (*ChangeSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read changeset: %w", err)
	}
	return ParseChangeSet(data)
}

// Batches schedules the changeset's operations into execution levels.
func (cs *ChangeSet) Batches() ([]Batch, error) {
	return BuildBatches(cs.Operations)
}
