package acceptor

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/urfave/cli/v2"

	"github.com/blendertools/infra/addon-acceptor/flags"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	Manifest          string        // Entry point manifest file
	TestDir           string        // Directory relative manifest scripts resolve against
	TargetGate        string        // Gate to run, empty runs all gates
	AddonName         string        // Addon under test, used for logs and metrics
	ScriptsDir        string        // Blender user scripts directory containing the addon
	WorkDir           string        // Workspace directory for temp files and artifacts
	Fresh             bool          // Reset the workspace before running
	ForceReset        bool          // Allow resetting a workspace this tool did not create
	BlenderBin        string        // Explicit blender path, discovered on PATH when empty
	FFmpegBin         string        // Explicit ffmpeg path, discovered on PATH when empty
	PythonBin         string        // Explicit python3 path, discovered on PATH when empty
	CoverageBin       string        // Explicit coverage path, discovered on PATH when empty
	Coverage          bool          // Run entry points under coverage
	CoverageTemplate  string        // Template rcfile for the derived coverage configuration
	CoverageFailUnder int           // Fail the run when combined coverage drops below this
	RunInterval       time.Duration // Interval between runs
	RunOnce           bool          // Indicates if the service should exit after one run
	KeepGoing         bool          // Keep invoking entry points after one fails
	DefaultTimeout    time.Duration // Default timeout for individual entry points
	ExtraArgs         []string      // Extra arguments appended to every invocation
	LogDir            string        // Directory to store per-run logs
	Log               log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, manifest string) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if manifest == "" {
		return nil, errors.New("entry point manifest is required")
	}

	absManifest, err := filepath.Abs(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", manifest, err)
	}

	// Relative scripts resolve against the manifest's directory unless a
	// test directory is given explicitly.
	testDir := ctx.String(flags.TestDir.Name)
	if testDir == "" {
		testDir = filepath.Dir(absManifest)
	}
	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}

	absWorkDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for workspace directory: %w", err)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	scriptsDir := ctx.String(flags.ScriptsDir.Name)
	if scriptsDir != "" {
		scriptsDir, err = filepath.Abs(scriptsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for scripts directory: %w", err)
		}
	}

	coverageTemplate := ctx.String(flags.CoverageTemplate.Name)
	if ctx.Bool(flags.Coverage.Name) {
		coverageTemplate, err = filepath.Abs(coverageTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for coverage template: %w", err)
		}
	}

	var extraArgs []string
	if raw := ctx.String(flags.ExtraArgs.Name); raw != "" {
		extraArgs, err = shellwords.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse extra args %q: %w", raw, err)
		}
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	return &Config{
		Manifest:          absManifest,
		TestDir:           absTestDir,
		TargetGate:        ctx.String(flags.Gate.Name),
		AddonName:         ctx.String(flags.AddonName.Name),
		ScriptsDir:        scriptsDir,
		WorkDir:           absWorkDir,
		Fresh:             ctx.Bool(flags.Fresh.Name),
		ForceReset:        ctx.Bool(flags.ForceReset.Name),
		BlenderBin:        ctx.String(flags.BlenderBin.Name),
		FFmpegBin:         ctx.String(flags.FFmpegBin.Name),
		PythonBin:         ctx.String(flags.PythonBin.Name),
		CoverageBin:       ctx.String(flags.CoverageBin.Name),
		Coverage:          ctx.Bool(flags.Coverage.Name),
		CoverageTemplate:  coverageTemplate,
		CoverageFailUnder: ctx.Int(flags.CoverageFailUnder.Name),
		RunInterval:       runInterval,
		RunOnce:           runOnce,
		KeepGoing:         ctx.Bool(flags.KeepGoing.Name),
		DefaultTimeout:    ctx.Duration(flags.DefaultTimeout.Name),
		ExtraArgs:         extraArgs,
		LogDir:            logDir,
		Log:               log,
	}, nil
}
