// Package toolbox locates the external binaries the harness drives.
//
// Tools are resolved the way the original shell tooling did: a PATH lookup
// followed by symlink resolution, so that the entry points receive the real
// executable paths rather than wrapper symlinks. Explicit override paths skip
// the PATH lookup but are still symlink-resolved and checked for
// executability.
package toolbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const versionProbeTimeout = 5 * time.Second

// Tool is a resolved external binary.
type Tool struct {
	Name    string // lookup name, e.g. "blender"
	Path    string // absolute path with symlinks resolved
	Version string // first line of the version banner, best effort
}

// Toolbox holds every external tool a run needs.
type Toolbox struct {
	Blender  Tool
	FFmpeg   Tool
	Python   Tool
	Coverage Tool // zero value unless the run collects coverage
}

// Config selects the tools to resolve. Empty fields mean PATH lookup under
// the default name; non-empty fields are explicit paths.
type Config struct {
	BlenderBin  string
	FFmpegBin   string
	PythonBin   string
	CoverageBin string
	// WithCoverage also resolves the coverage tool; without it a missing
	// coverage binary is not an error.
	WithCoverage bool
	Log          log.Logger
}

// Resolve locates all configured tools. Any missing tool is an error, so
// callers can abort before a single entry point has been invoked.
func Resolve(cfg Config) (*Toolbox, error) {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}

	tb := &Toolbox{}

	var err error
	if tb.Blender, err = resolveTool("blender", cfg.BlenderBin, "--version"); err != nil {
		return nil, err
	}
	if tb.FFmpeg, err = resolveTool("ffmpeg", cfg.FFmpegBin, "-version"); err != nil {
		return nil, err
	}
	if tb.Python, err = resolveTool("python3", cfg.PythonBin, "--version"); err != nil {
		return nil, err
	}
	if cfg.WithCoverage {
		if tb.Coverage, err = resolveTool("coverage", cfg.CoverageBin, "--version"); err != nil {
			return nil, err
		}
	}

	cfg.Log.Info("Resolved external tools",
		"blender", tb.Blender.Path,
		"ffmpeg", tb.FFmpeg.Path,
		"python", tb.Python.Path,
		"coverage", tb.Coverage.Path)
	cfg.Log.Debug("Tool versions",
		"blender", tb.Blender.Version,
		"ffmpeg", tb.FFmpeg.Version,
		"python", tb.Python.Version,
		"coverage", tb.Coverage.Version)

	return tb, nil
}

// HasCoverage reports whether the coverage tool was resolved.
func (t *Toolbox) HasCoverage() bool {
	return t.Coverage.Path != ""
}

func resolveTool(name, override, versionFlag string) (Tool, error) {
	path, err := resolvePath(name, override)
	if err != nil {
		return Tool{}, err
	}

	tool := Tool{Name: name, Path: path}
	// Version probing is informational only; a tool that resolves but won't
	// report a version still gets used.
	tool.Version = probeVersion(path, versionFlag)
	return tool, nil
}

func resolvePath(name, override string) (string, error) {
	var path string
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", fmt.Errorf("resolving %s path %q: %w", name, override, err)
		}
		if err := checkExecutable(abs); err != nil {
			return "", fmt.Errorf("%s binary %q: %w", name, override, err)
		}
		path = abs
	} else {
		found, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%s not found in PATH: %w", name, err)
		}
		path = found
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %s (%s): %w", name, path, err)
	}
	return resolved, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory")
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("not executable")
	}
	return nil
}

func probeVersion(path, flag string) string {
	ctx, cancel := context.WithTimeout(context.Background(), versionProbeTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, flag)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return ""
	}

	scanner := bufio.NewScanner(&out)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}
