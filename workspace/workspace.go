// Package workspace owns the on-disk tree a test run writes into: the output
// root, the tmp directory handed to entry points via TMPDIR, the artifacts
// directory, and the coverage data directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
)

// markerFile tags a directory as one of ours so Reset won't destroy an
// arbitrary directory the operator pointed us at by mistake.
const markerFile = ".addon-acceptor"

// Workspace is the prepared output tree for a run.
type Workspace struct {
	Root         string
	TmpDir       string
	ArtifactsDir string
	CoverageDir  string
	log          log.Logger
}

// Config configures a workspace.
type Config struct {
	Root string
	Log  log.Logger
}

// New creates a Workspace handle. The tree is not touched until Prepare or
// Reset is called.
func New(cfg Config) (*Workspace, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", cfg.Root, err)
	}

	return &Workspace{
		Root:         root,
		TmpDir:       filepath.Join(root, "tmp"),
		ArtifactsDir: filepath.Join(root, "artifacts"),
		CoverageDir:  filepath.Join(root, "coverage"),
		log:          cfg.Log,
	}, nil
}

// Prepare creates the workspace tree, leaving any existing content in place.
func (w *Workspace) Prepare() error {
	for _, dir := range []string{w.Root, w.TmpDir, w.ArtifactsDir, w.CoverageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating workspace directory %s: %w", dir, err)
		}
	}

	marker := filepath.Join(w.Root, markerFile)
	if err := os.WriteFile(marker, []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing workspace marker: %w", err)
	}

	w.log.Debug("Workspace prepared", "root", w.Root)
	return nil
}

// Reset destroys any prior workspace tree and recreates it. Unless force is
// set, a pre-existing directory is only removed when it carries the marker
// left by a previous Prepare.
func (w *Workspace) Reset(force bool) error {
	if _, err := os.Stat(w.Root); err == nil {
		if !force {
			if _, err := os.Stat(filepath.Join(w.Root, markerFile)); err != nil {
				return fmt.Errorf("refusing to reset %s: not a workspace created by addon-acceptor (use force)", w.Root)
			}
		}
		w.log.Info("Removing previous workspace", "root", w.Root)
		if err := os.RemoveAll(w.Root); err != nil {
			return fmt.Errorf("removing workspace %s: %w", w.Root, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("inspecting workspace %s: %w", w.Root, err)
	}

	return w.Prepare()
}

// EnvConfig selects the environment handed to child processes.
type EnvConfig struct {
	// ScriptsDir becomes BLENDER_USER_SCRIPTS so Blender discovers the addon
	// under test.
	ScriptsDir string
	// PythonPath entries are prepended to any inherited PYTHONPATH.
	PythonPath []string
	// CoverageRC, when set, becomes COVERAGE_PROCESS_START so every Python
	// subprocess starts coverage measurement on its own.
	CoverageRC string
}

// Environ returns the current process environment overlaid with the
// variables the entry points consume. Only the child process tree sees the
// mutations.
func (w *Workspace) Environ(cfg EnvConfig) []string {
	env := os.Environ()

	pythonPath := append([]string{}, cfg.PythonPath...)
	if inherited := os.Getenv("PYTHONPATH"); inherited != "" {
		pythonPath = append(pythonPath, inherited)
	}
	if len(pythonPath) > 0 {
		env = setEnv(env, "PYTHONPATH", joinPathList(pythonPath))
	}

	env = setEnv(env, "TMPDIR", w.TmpDir)

	if cfg.ScriptsDir != "" {
		env = setEnv(env, "BLENDER_USER_SCRIPTS", cfg.ScriptsDir)
	}
	if cfg.CoverageRC != "" {
		env = setEnv(env, "COVERAGE_PROCESS_START", cfg.CoverageRC)
	}

	return env
}

// setEnv replaces or appends a key=value entry in an environment slice.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

func joinPathList(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += string(os.PathListSeparator)
		}
		out += p
	}
	return out
}
