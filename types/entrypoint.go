package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// EntrypointConfig is one test entry point as declared in the suites manifest.
type EntrypointConfig struct {
	Name    string    `yaml:"name,omitempty"`
	Script  string    `yaml:"script"`
	Args    []string  `yaml:"args,omitempty"`
	Timeout *Duration `yaml:"timeout,omitempty"`
	// Coverage opts an entry point out of the coverage wrapper even when the
	// run collects coverage, e.g. for smoke scripts with nothing to measure.
	Coverage *bool `yaml:"coverage,omitempty"`
}

// SuiteConfig represents a grouping of entry points within a gate
type SuiteConfig struct {
	Description string             `yaml:"description,omitempty"`
	Entrypoints []EntrypointConfig `yaml:"entrypoints"`
}

// EntrypointMetadata is the resolved, runnable form of an EntrypointConfig.
type EntrypointMetadata struct {
	ID       string
	Gate     string
	Suite    string
	Script   string
	Args     []string
	Timeout  time.Duration
	Coverage bool // run under the coverage wrapper when the run collects coverage
}

// GetName returns a name for the entry point based on available fields
func (e EntrypointMetadata) GetName() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Script
}

// Manifest represents the complete suites configuration file.
type Manifest struct {
	Gates    []GateConfig `yaml:"gates"`
	Defaults struct {
		Timeout Duration `yaml:"timeout"`
	} `yaml:"defaults"`
}
