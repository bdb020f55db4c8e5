// Package registry loads the suites manifest and resolves it into runnable
// entry-point metadata.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/blendertools/infra/addon-acceptor/types"
)

// Registry manages the suites manifest and the entry points derived from it
type Registry struct {
	config      Config
	entrypoints []types.EntrypointMetadata
	mu          sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log            log.Logger
	ManifestFile   string
	TestDir        string // directory entry-point script paths are relative to
	DefaultTimeout time.Duration
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.ManifestFile == "" {
		return nil, fmt.Errorf("suites manifest file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}

	r := &Registry{
		config: cfg,
	}

	if err := r.loadEntrypoints(cfg.ManifestFile); err != nil {
		return nil, fmt.Errorf("failed to load suites manifest: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "len(entrypoints)", len(r.entrypoints))

	return r, nil
}

// loadEntrypoints loads the manifest and resolves it into metadata
func (r *Registry) loadEntrypoints(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := loadManifest(path)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	if err := r.validateGateInheritance(manifest); err != nil {
		return fmt.Errorf("failed to resolve gate inheritance: %w", err)
	}

	entrypoints, err := r.collectEntrypoints(manifest)
	if err != nil {
		return fmt.Errorf("failed to collect entry points: %w", err)
	}

	r.entrypoints = entrypoints

	return nil
}

// validateGateInheritance checks gate inheritance resolution
func (r *Registry) validateGateInheritance(manifest *types.Manifest) error {
	if manifest.Gates == nil {
		return nil
	}

	gateMap := make(map[string]types.GateConfig)
	for _, gate := range manifest.Gates {
		gateMap[gate.ID] = gate
	}

	// Check for circular inheritance before resolving
	for _, gate := range manifest.Gates {
		if err := r.checkCircularInheritance(gate.ID, gate.Inherits, gateMap, make(map[string]bool)); err != nil {
			return fmt.Errorf("circular inheritance detected: %w", err)
		}
	}

	for i := range manifest.Gates {
		if err := manifest.Gates[i].ResolveInherited(gateMap); err != nil {
			return fmt.Errorf("invalid gate inheritance: %w", err)
		}
	}

	return nil
}

// checkCircularInheritance detects circular dependencies in gate inheritance
func (r *Registry) checkCircularInheritance(currentID string, inherits []string, gateMap map[string]types.GateConfig, visited map[string]bool) error {
	if visited[currentID] {
		return fmt.Errorf("circular inheritance detected at gate %s", currentID)
	}

	visited[currentID] = true
	defer delete(visited, currentID)

	for _, inheritedID := range inherits {
		inherited, exists := gateMap[inheritedID]
		if !exists {
			return fmt.Errorf("gate %s inherits from non-existent gate %s", currentID, inheritedID)
		}

		if err := r.checkCircularInheritance(inheritedID, inherited.Inherits, gateMap, visited); err != nil {
			return err
		}
	}

	return nil
}

// GetEntrypoints returns all entry points from the manifest
func (r *Registry) GetEntrypoints() []types.EntrypointMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entrypoints
}

// GetEntrypointsByGate returns entry points for a specific gate
func (r *Registry) GetEntrypointsByGate(gateID string) []types.EntrypointMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entrypoints []types.EntrypointMetadata
	for _, ep := range r.entrypoints {
		if ep.Gate == gateID {
			entrypoints = append(entrypoints, ep)
		}
	}
	return entrypoints
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// loadManifest loads a suites manifest from a file
func loadManifest(path string) (*types.Manifest, error) {
	log.Debug("Reading suites manifest", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}

	var manifest types.Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest file: %w", err)
	}

	return &manifest, nil
}

// collectEntrypoints flattens the manifest into entry-point metadata
func (r *Registry) collectEntrypoints(manifest *types.Manifest) ([]types.EntrypointMetadata, error) {
	defaultTimeout := r.config.DefaultTimeout
	if manifest.Defaults.Timeout != 0 {
		defaultTimeout = manifest.Defaults.Timeout.Std()
	}

	var entrypoints []types.EntrypointMetadata

	for i := range manifest.Gates {
		gate := &manifest.Gates[i]

		eps, err := r.resolveEntrypointConfigs(gate.Entrypoints, gate.ID, "", defaultTimeout)
		if err != nil {
			return nil, err
		}
		entrypoints = append(entrypoints, eps...)

		// Suites decode into a map; sort so runs see a stable order.
		suiteIDs := make([]string, 0, len(gate.Suites))
		for suiteID := range gate.Suites {
			suiteIDs = append(suiteIDs, suiteID)
		}
		sort.Strings(suiteIDs)

		for _, suiteID := range suiteIDs {
			eps, err := r.resolveEntrypointConfigs(gate.Suites[suiteID].Entrypoints, gate.ID, suiteID, defaultTimeout)
			if err != nil {
				return nil, err
			}
			entrypoints = append(entrypoints, eps...)
		}
	}

	return entrypoints, nil
}

func (r *Registry) resolveEntrypointConfigs(configs []types.EntrypointConfig, gateID, suiteID string, defaultTimeout time.Duration) ([]types.EntrypointMetadata, error) {
	var entrypoints []types.EntrypointMetadata

	for _, cfg := range configs {
		if cfg.Script == "" {
			return nil, fmt.Errorf("entry point %q in gate %q has no script", cfg.Name, gateID)
		}

		timeout := defaultTimeout
		if cfg.Timeout != nil {
			timeout = cfg.Timeout.Std()
		}

		script := cfg.Script
		if !filepath.IsAbs(script) && r.config.TestDir != "" {
			script = filepath.Join(r.config.TestDir, script)
		}

		id := cfg.Name
		if id == "" {
			id = filepath.Base(cfg.Script)
		}

		coverage := true
		if cfg.Coverage != nil {
			coverage = *cfg.Coverage
		}

		entrypoints = append(entrypoints, types.EntrypointMetadata{
			ID:       id,
			Gate:     gateID,
			Suite:    suiteID,
			Script:   script,
			Args:     cfg.Args,
			Timeout:  timeout,
			Coverage: coverage,
		})
	}

	return entrypoints, nil
}
