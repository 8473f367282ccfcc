// Package configloader holds the generic YAML-file and environment-variable
// plumbing shared by every configurable binary in this module (the overlay
// node, the REPL client, the cluster exerciser); the schema-aware layers
// live in internal/config and internal/clustertest.
package configloader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads and parses path into the given struct pointer.
func LoadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
