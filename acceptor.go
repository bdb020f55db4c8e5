package acceptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/blendertools/infra/addon-acceptor/coverage"
	"github.com/blendertools/infra/addon-acceptor/exitcodes"
	"github.com/blendertools/infra/addon-acceptor/logging"
	"github.com/blendertools/infra/addon-acceptor/registry"
	"github.com/blendertools/infra/addon-acceptor/runner"
	"github.com/blendertools/infra/addon-acceptor/toolbox"
	"github.com/blendertools/infra/addon-acceptor/types"
	"github.com/blendertools/infra/addon-acceptor/workspace"
)

// acceptor implements the Lifecycle interface.
var _ Lifecycle = &acceptor{}

// acceptor is an Addon Acceptance Tester that invokes the addon's test
// entry points against a resolved toolbox.
type acceptor struct {
	ctx        context.Context
	config     *Config
	version    string
	registry   *registry.Registry
	workspace  *workspace.Workspace
	toolbox    *toolbox.Toolbox
	runner     runner.EntrypointRunner
	scheduler  RunScheduler
	executor   RunExecutor
	reporter   MetricsReporter
	formatter  ResultFormatter
	coverageRC string
	result     *runner.Result

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*acceptor, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating acceptor with config",
		"manifest", config.Manifest,
		"testDir", config.TestDir,
		"workDir", config.WorkDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"coverage", config.Coverage)

	tb, err := toolbox.Resolve(toolbox.Config{
		BlenderBin:   config.BlenderBin,
		FFmpegBin:    config.FFmpegBin,
		PythonBin:    config.PythonBin,
		CoverageBin:  config.CoverageBin,
		WithCoverage: config.Coverage,
		Log:          config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve toolbox: %w", err)
	}

	ws, err := workspace.New(workspace.Config{
		Root: config.WorkDir,
		Log:  config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	// Coverage runs always start from a clean tree so stale data files
	// cannot leak into the combined report.
	if config.Fresh || config.Coverage {
		if err := ws.Reset(config.ForceReset); err != nil {
			return nil, fmt.Errorf("failed to reset workspace: %w", err)
		}
	} else {
		if err := ws.Prepare(); err != nil {
			return nil, fmt.Errorf("failed to prepare workspace: %w", err)
		}
	}

	// Every run shares one derived rcfile; the data files under the
	// workspace are what distinguish runs.
	coverageRC := ""
	if config.Coverage {
		coverageRC = filepath.Join(ws.CoverageDir, "coveragerc")
		err = coverage.WriteRCFile(coverage.RCConfig{
			TemplatePath: config.CoverageTemplate,
			OutputPath:   coverageRC,
			DataFile:     filepath.Join(ws.CoverageDir, ".coverage"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write coverage rcfile: %w", err)
		}
	}

	reg, err := registry.NewRegistry(registry.Config{
		Log:            config.Log,
		ManifestFile:   config.Manifest,
		TestDir:        config.TestDir,
		DefaultTimeout: config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	epRunner, err := runner.NewEntrypointRunner(runner.Config{
		Registry:   reg,
		TargetGate: config.TargetGate,
		Workspace:  ws,
		Toolbox:    tb,
		Log:        config.Log,
		AddonName:  config.AddonName,
		ScriptsDir: config.ScriptsDir,
		PythonPath: []string{config.TestDir},
		KeepGoing:  config.KeepGoing,
		ExtraArgs:  config.ExtraArgs,
		CoverageRC: coverageRC,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create entry point runner: %w", err)
	}
	config.Log.Info("acceptor.New: created registry and entry point runner")

	return &acceptor{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		workspace:        ws,
		toolbox:          tb,
		runner:           epRunner,
		scheduler:        NewDefaultRunScheduler(config.RunInterval, config.RunOnce, config.Log),
		executor:         NewDefaultRunExecutor(epRunner, config.Log),
		reporter:         NewDefaultMetricsReporter(config.AddonName),
		formatter:        NewConsoleResultFormatter(config.Log),
		coverageRC:       coverageRC,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the entry points periodically at the configured interval.
// Start implements the Lifecycle interface.
func (a *acceptor) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			a.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.ctx = ctx

	if a.config.RunOnce {
		a.config.Log.Info("Starting addon-acceptor in run-once mode")
	} else {
		a.config.Log.Info("Starting addon-acceptor in continuous mode", "interval", a.config.RunInterval)
	}

	a.scheduler.RegisterCallback(a.runEntrypoints)

	// The scheduler runs the first run synchronously, so its error is the
	// first run's error.
	if err := a.scheduler.Start(ctx); err != nil {
		a.config.Log.Error("Runtime error running entry points", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	// If in run-once mode, trigger shutdown and return
	if a.config.RunOnce {
		a.config.Log.Info("Run completed, exiting (run-once mode)")

		if a.result != nil && a.result.Status != types.StatusPass && a.result.Status != types.StatusSkip {
			a.config.Log.Warn("Run-once completed with failures, returning exit code 1")
			return NewTestFailureError(a.result.String())
		}

		// Only need to call this when we're in run-once mode and the run passed
		go func() {
			a.shutdownCallback(nil)
		}()
		return nil // Success (exit code 0)
	}

	a.config.Log.Debug("addon-acceptor started successfully")
	return nil
}

// runEntrypoints performs one full run and processes the results.
func (a *acceptor) runEntrypoints() error {
	runID := uuid.New().String()
	fileLogger, err := logging.NewFileLogger(a.config.LogDir, runID)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}
	if r, ok := a.runner.(runner.EntrypointRunnerWithFileLogger); ok {
		r.SetFileLogger(fileLogger)
	}

	result, err := a.executor.Execute(a.ctx)
	if err != nil {
		// This is a runtime error (not an entry point failure). Still close
		// out the file logger so its writers don't linger.
		a.config.Log.Error("Runtime error running entry points", "error", err)
		if cerr := fileLogger.Complete(runID); cerr != nil {
			a.config.Log.Error("Error completing file logger", "error", cerr)
		}
		return NewRuntimeError(err)
	}

	if a.coverageRC != "" {
		if err := a.finalizeCoverage(result); err != nil {
			return err
		}
	}

	a.result = result

	if err := a.formatter.FormatResults(result); err != nil {
		a.config.Log.Error("Error formatting results", "error", err)
	}
	a.reporter.ReportResults(result.RunID, result)

	if err := fileLogger.LogSummary(result.String(), result.RunID); err != nil {
		a.config.Log.Error("Error writing run summary", "error", err)
	}
	if err := fileLogger.Complete(result.RunID); err != nil {
		a.config.Log.Error("Error completing file logger", "error", err)
	}

	a.config.Log.Info("Run completed", "run_id", result.RunID, "status", result.Status)
	return nil
}

// finalizeCoverage combines the run's data files, attaches the summary to
// the result, and applies the fail-under threshold.
func (a *acceptor) finalizeCoverage(result *runner.Result) error {
	pipeline := &coverage.Pipeline{
		CoverageBin: a.toolbox.Coverage.Path,
		RCFile:      a.coverageRC,
		WorkDir:     a.workspace.Root,
		Log:         a.config.Log,
	}
	xmlPath := filepath.Join(a.workspace.ArtifactsDir, "coverage.xml")

	summary, err := pipeline.Finalize(a.ctx, xmlPath)
	if err != nil {
		// A failed run can legitimately leave no data files behind.
		if result.Status != types.StatusPass {
			a.config.Log.Warn("Skipping coverage report for failed run", "error", err)
			return nil
		}
		return NewRuntimeError(fmt.Errorf("failed to finalize coverage: %w", err))
	}

	result.Coverage = &runner.CoverageSummary{
		Percent:      summary.Percent,
		Report:       summary.Report,
		XMLPath:      summary.XMLPath,
		LinesValid:   summary.LinesValid,
		LinesCovered: summary.LinesCovered,
	}

	if a.config.CoverageFailUnder > 0 && summary.Percent < a.config.CoverageFailUnder {
		a.config.Log.Warn("Combined coverage below threshold",
			"coverage", summary.Percent,
			"threshold", a.config.CoverageFailUnder)
		if result.Status == types.StatusPass {
			result.Status = types.StatusFail
		}
	}
	return nil
}

// Stop stops the addon-acceptor service.
// Stop implements the Lifecycle interface.
func (a *acceptor) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping addon-acceptor")

	if a.scheduler.Stopped() {
		a.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	if err := a.scheduler.Stop(); err != nil {
		return err
	}
	if err := a.scheduler.WaitForShutdown(ctx); err != nil {
		return err
	}

	a.config.Log.Info("addon-acceptor stopped successfully")
	return nil
}

// Stopped returns true if the addon-acceptor service is stopped.
// Stopped implements the Lifecycle interface.
func (a *acceptor) Stopped() bool {
	return a.scheduler.Stopped()
}
