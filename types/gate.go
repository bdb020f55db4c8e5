package types

import "fmt"

// GateConfig represents a named collection of suites and entry points
type GateConfig struct {
	ID          string                 `yaml:"id"`
	Description string                 `yaml:"description,omitempty"`
	Inherits    []string               `yaml:"inherits,omitempty"`
	Entrypoints []EntrypointConfig     `yaml:"entrypoints,omitempty"`
	Suites      map[string]SuiteConfig `yaml:"suites,omitempty"`
}

// ResolveInherited merges entry points and suites from parent gates into this
// gate, recursively. A gate may inherit from several gates; if C inherits
// from B and B from A, C receives configuration from both. Rules:
// - Suites: parent suites are only inherited when absent from the child
// - Entry points: merged with deduplication by script:name key
// - Resolution is depth-first, so nearer ancestors take precedence
func (g *GateConfig) ResolveInherited(gates map[string]GateConfig) error {
	processed := make(map[string]bool)
	return g.resolveInheritedRecursive(gates, processed)
}

func (g *GateConfig) resolveInheritedRecursive(gates map[string]GateConfig, processed map[string]bool) error {
	if len(g.Inherits) == 0 {
		return nil
	}

	mergedSuites := make(map[string]SuiteConfig)
	var mergedEntrypoints []EntrypointConfig
	seen := make(map[string]bool)

	// The child's own configuration is copied first so it takes precedence.
	for k, v := range g.Suites {
		mergedSuites[k] = v
	}
	for _, ep := range g.Entrypoints {
		key := entrypointKey(ep)
		if !seen[key] {
			mergedEntrypoints = append(mergedEntrypoints, ep)
			seen[key] = true
		}
	}

	for _, inheritFrom := range g.Inherits {
		if processed[inheritFrom] {
			return fmt.Errorf("circular inheritance detected for gate %q", inheritFrom)
		}

		parent, ok := gates[inheritFrom]
		if !ok {
			return fmt.Errorf("gate %q inherits from non-existent gate %q", g.ID, inheritFrom)
		}

		processed[inheritFrom] = true

		if err := parent.resolveInheritedRecursive(gates, processed); err != nil {
			return fmt.Errorf("resolving inheritance for parent gate %q: %w", inheritFrom, err)
		}

		for k, v := range parent.Suites {
			if _, exists := mergedSuites[k]; !exists {
				mergedSuites[k] = v
			}
		}

		for _, ep := range parent.Entrypoints {
			key := entrypointKey(ep)
			if !seen[key] {
				mergedEntrypoints = append(mergedEntrypoints, ep)
				seen[key] = true
			}
		}

		processed[inheritFrom] = false
	}

	g.Suites = mergedSuites
	g.Entrypoints = mergedEntrypoints
	return nil
}

func entrypointKey(ep EntrypointConfig) string {
	key := ep.Script
	if ep.Name != "" {
		key += ":" + ep.Name
	}
	return key
}
