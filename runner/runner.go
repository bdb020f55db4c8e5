// Package runner invokes addon test entry points sequentially and
// aggregates their results by gate and suite.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/blendertools/infra/addon-acceptor/logging"
	"github.com/blendertools/infra/addon-acceptor/metrics"
	"github.com/blendertools/infra/addon-acceptor/registry"
	"github.com/blendertools/infra/addon-acceptor/toolbox"
	"github.com/blendertools/infra/addon-acceptor/types"
	"github.com/blendertools/infra/addon-acceptor/workspace"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// entrypointCommand is the subcommand every test script accepts.
const entrypointCommand = "test"

// EntrypointRunner defines the interface for running addon test entry points
type EntrypointRunner interface {
	RunAll(ctx context.Context) (*Result, error)
	RunEntrypoint(ctx context.Context, metadata types.EntrypointMetadata) (*types.EntrypointResult, error)
}

// EntrypointRunnerWithFileLogger extends EntrypointRunner with a method
// to set the file logger after creation
type EntrypointRunnerWithFileLogger interface {
	EntrypointRunner
	SetFileLogger(logger *logging.FileLogger)
}

// runner struct implements EntrypointRunner
type runner struct {
	registry    *registry.Registry
	entrypoints []types.EntrypointMetadata
	workspace   *workspace.Workspace
	toolbox     *toolbox.Toolbox
	log         log.Logger
	runID       string
	addonName   string
	keepGoing   bool // keep invoking entry points after a failure
	extraArgs   []string
	coverageRC  string // derived rcfile path, empty when coverage is off
	env         []string
	fileLogger  *logging.FileLogger
	tracer      trace.Tracer
	stopped     bool // set when fail-fast has tripped
}

// Config holds configuration for creating a new runner
type Config struct {
	Registry   *registry.Registry
	TargetGate string
	Workspace  *workspace.Workspace
	Toolbox    *toolbox.Toolbox
	Log        log.Logger
	AddonName  string
	ScriptsDir string
	PythonPath []string
	KeepGoing  bool
	ExtraArgs  []string
	CoverageRC string
	FileLogger *logging.FileLogger
}

// NewEntrypointRunner creates a new runner instance
func NewEntrypointRunner(cfg Config) (EntrypointRunner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if cfg.Toolbox == nil {
		return nil, fmt.Errorf("toolbox is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	var entrypoints []types.EntrypointMetadata
	if len(cfg.TargetGate) > 0 {
		entrypoints = cfg.Registry.GetEntrypointsByGate(cfg.TargetGate)
	} else {
		entrypoints = cfg.Registry.GetEntrypoints()
	}
	if len(entrypoints) == 0 {
		return nil, fmt.Errorf("no entry points found")
	}

	addonName := cfg.AddonName
	if addonName == "" {
		addonName = "unknown"
	}

	env := cfg.Workspace.Environ(workspace.EnvConfig{
		ScriptsDir: cfg.ScriptsDir,
		PythonPath: cfg.PythonPath,
		CoverageRC: cfg.CoverageRC,
	})

	cfg.Log.Debug("NewEntrypointRunner()", "targetGate", cfg.TargetGate,
		"workspace", cfg.Workspace.Root, "addon", addonName,
		"keepGoing", cfg.KeepGoing, "coverage", cfg.CoverageRC != "")

	return &runner{
		registry:    cfg.Registry,
		entrypoints: entrypoints,
		workspace:   cfg.Workspace,
		toolbox:     cfg.Toolbox,
		log:         cfg.Log,
		addonName:   addonName,
		keepGoing:   cfg.KeepGoing,
		extraArgs:   cfg.ExtraArgs,
		coverageRC:  cfg.CoverageRC,
		env:         env,
		fileLogger:  cfg.FileLogger,
		tracer:      otel.Tracer("entrypoint runner"),
	}, nil
}

// RunAll implements the EntrypointRunner interface
func (r *runner) RunAll(ctx context.Context) (*Result, error) {
	if r.fileLogger != nil {
		r.runID = r.fileLogger.GetRunID()
	} else {
		r.runID = uuid.New().String()
	}
	defer func() {
		r.runID = ""
		r.stopped = false
	}()

	start := time.Now()
	r.log.Debug("Running all entry points", "run_id", r.runID)

	result := &Result{
		Gates: make(map[string]*GateResult),
		Stats: ResultStats{StartTime: start},
	}

	gateOrder, gates := r.groupByGate()
	for _, gateName := range gateOrder {
		if err := r.processGate(ctx, gateName, gates[gateName], result); err != nil {
			return nil, fmt.Errorf("processing gate %s: %w", gateName, err)
		}
	}

	result.Duration = time.Since(start)
	result.Status = determineResultStatus(result)
	result.Stats.EndTime = time.Now()
	result.RunID = r.runID
	return result, nil
}

// groupByGate organizes entry points into their respective gates, keeping
// the gates in manifest order so runs are reproducible and fail-fast skips
// the same entry points every time.
func (r *runner) groupByGate() ([]string, map[string][]types.EntrypointMetadata) {
	gates := make(map[string][]types.EntrypointMetadata)
	var order []string
	for _, ep := range r.entrypoints {
		if _, seen := gates[ep.Gate]; !seen {
			order = append(order, ep.Gate)
		}
		gates[ep.Gate] = append(gates[ep.Gate], ep)
	}
	return order, gates
}

// processGate handles the execution of a single gate and its entry points
func (r *runner) processGate(ctx context.Context, gateName string, eps []types.EntrypointMetadata, result *Result) error {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("gate %s", gateName))
	defer span.End()

	gateStart := time.Now()
	gateResult := &GateResult{
		ID:          gateName,
		Entrypoints: make(map[string]*types.EntrypointResult),
		Suites:      make(map[string]*SuiteResult),
		Stats:       ResultStats{StartTime: gateStart},
	}
	result.Gates[gateName] = gateResult

	suiteOrder, suiteEps, directEps := categorizeEntrypoints(eps)

	for _, ep := range directEps {
		if err := r.processEntrypoint(ctx, ep, gateResult, nil, result); err != nil {
			return err
		}
	}
	for _, suiteName := range suiteOrder {
		if err := r.processSuite(ctx, suiteName, suiteEps[suiteName], gateResult, result); err != nil {
			return fmt.Errorf("processing suite %s: %w", suiteName, err)
		}
	}

	gateResult.Duration = time.Since(gateStart)
	gateResult.Status = determineGateStatus(gateResult)
	gateResult.Stats.EndTime = time.Now()
	return nil
}

// categorizeEntrypoints splits entry points into suite members and direct
// gate members, keeping the suites in the order they were first seen.
func categorizeEntrypoints(eps []types.EntrypointMetadata) ([]string, map[string][]types.EntrypointMetadata, []types.EntrypointMetadata) {
	suites := make(map[string][]types.EntrypointMetadata)
	var order []string
	var direct []types.EntrypointMetadata
	for _, ep := range eps {
		if ep.Suite != "" {
			if _, seen := suites[ep.Suite]; !seen {
				order = append(order, ep.Suite)
			}
			suites[ep.Suite] = append(suites[ep.Suite], ep)
		} else {
			direct = append(direct, ep)
		}
	}
	return order, suites, direct
}

// processSuite handles the execution of a single suite
func (r *runner) processSuite(ctx context.Context, suiteName string, eps []types.EntrypointMetadata, gateResult *GateResult, result *Result) error {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("suite %s", suiteName))
	defer span.End()

	suiteStart := time.Now()
	suiteResult := &SuiteResult{
		ID:          suiteName,
		Entrypoints: make(map[string]*types.EntrypointResult),
		Stats:       ResultStats{StartTime: suiteStart},
	}
	gateResult.Suites[suiteName] = suiteResult

	for _, ep := range eps {
		if err := r.processEntrypoint(ctx, ep, gateResult, suiteResult, result); err != nil {
			return err
		}
	}

	suiteResult.Duration = time.Since(suiteStart)
	suiteResult.Status = determineSuiteStatus(suiteResult)
	suiteResult.Stats.EndTime = time.Now()
	return nil
}

// processEntrypoint runs a single entry point and adds its result to the
// appropriate containers. Once an entry point fails, the remaining ones are
// recorded as skipped unless keep-going is set.
func (r *runner) processEntrypoint(ctx context.Context, ep types.EntrypointMetadata, gateResult *GateResult, suiteResult *SuiteResult, result *Result) error {
	var res *types.EntrypointResult
	if r.stopped {
		res = &types.EntrypointResult{
			Metadata: ep,
			Status:   types.StatusSkip,
		}
		r.log.Debug("Skipping entry point after earlier failure", "entrypoint", ep.ID)
	} else {
		var err error
		res, err = r.RunEntrypoint(ctx, ep)
		if err != nil {
			return fmt.Errorf("running entry point %s: %w", ep.ID, err)
		}
	}

	if suiteResult != nil {
		suiteResult.Entrypoints[ep.GetName()] = res
	} else {
		gateResult.Entrypoints[ep.GetName()] = res
	}
	result.updateStats(gateResult, suiteResult, res)

	if !r.keepGoing && (res.Status == types.StatusFail || res.Status == types.StatusError) {
		r.log.Warn("Entry point failed, skipping the rest of the run", "entrypoint", ep.ID)
		r.stopped = true
	}
	return nil
}

// RunEntrypoint implements the EntrypointRunner interface
func (r *runner) RunEntrypoint(ctx context.Context, metadata types.EntrypointMetadata) (*types.EntrypointResult, error) {
	var result *types.EntrypointResult
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			errMsg := fmt.Sprintf("runtime error: %v", rec)
			r.log.Error("Panic in RunEntrypoint", "error", errMsg, "entrypoint", metadata.ID)
			if result == nil {
				result = &types.EntrypointResult{Metadata: metadata}
			}
			result.Status = types.StatusError
			result.Error = fmt.Errorf("%s", errMsg)
			err = fmt.Errorf("%s", errMsg)
		}
	}()

	r.log.Info("Running entry point", "entrypoint", metadata.ID)
	start := time.Now()
	result, err = r.invoke(ctx, metadata)
	if result != nil {
		result.Duration = time.Since(start)
	}

	var status types.Status
	if result != nil {
		status = result.Status
	} else {
		status = types.StatusError
	}
	metrics.RecordEntrypoint(r.addonName, r.runID, metadata.Gate, metadata.ID, status)

	if r.fileLogger != nil && result != nil {
		if logErr := r.fileLogger.LogEntrypointResult(result, r.runID); logErr != nil {
			r.log.Error("Failed to log entry point result", "error", logErr)
		}
	}
	return result, err
}

// invoke executes the entry point subprocess and parses its output
func (r *runner) invoke(ctx context.Context, metadata types.EntrypointMetadata) (*types.EntrypointResult, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("entrypoint %s", metadata.ID))
	defer span.End()

	if metadata.Timeout != 0 {
		var cancel func()
		// Give the child a slight head start so its own timeout, if any,
		// trips before the parent kills it.
		ctx, cancel = context.WithTimeout(ctx, metadata.Timeout+200*time.Millisecond)
		defer cancel()
	}

	name, args := r.buildCommand(metadata)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.workspace.Root
	cmd.Env = r.env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("Running entry point command",
		"dir", cmd.Dir,
		"entrypoint", metadata.ID,
		"command", cmd.String(),
		"timeout", metadata.Timeout)

	runErr := cmd.Run()

	result := &types.EntrypointResult{
		Metadata: metadata,
		Cases:    make(map[string]*types.CaseResult),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.Status = types.StatusFail
		result.TimedOut = true
		result.Error = fmt.Errorf("entry point timed out after %v", metadata.Timeout)
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		return result, nil
	}

	// unittest writes its progress to stderr; fall back to stdout for
	// scripts that redirect.
	report := ParseUnittestOutput(stderr.String())
	if !report.Complete {
		if alt := ParseUnittestOutput(stdout.String()); alt.Complete {
			report = alt
		}
	}

	for _, c := range report.Cases {
		result.Cases[c.FullName()] = c
	}
	result.Ran = report.Ran
	result.Status = report.Status()

	// The exit code is authoritative: a clean parse never overrides a
	// failing subprocess, and a passing subprocess never fails on parse
	// noise alone.
	if runErr != nil {
		if result.Status == types.StatusPass || result.Status == types.StatusSkip {
			result.Status = types.StatusFail
		}
		if result.Error == nil {
			result.Error = fmt.Errorf("entry point exited with error: %w", runErr)
		}
	} else if !report.Complete {
		result.Status = types.StatusPass
	} else if result.Status == types.StatusError {
		result.Error = fmt.Errorf("entry point reported %d errors", report.Errors)
	} else if result.Status == types.StatusFail {
		result.Error = fmt.Errorf("entry point reported %d failures", report.Failures)
	}

	if result.Status != types.StatusPass {
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
	}
	return result, nil
}

// buildCommand constructs the subprocess invocation for an entry point.
// Plain runs go through the Python interpreter; coverage runs are wrapped
// in `coverage run` so the script and its Blender subprocesses record data.
func (r *runner) buildCommand(metadata types.EntrypointMetadata) (string, []string) {
	var name string
	var args []string

	if r.coverageRC != "" && metadata.Coverage && r.toolbox.HasCoverage() {
		name = r.toolbox.Coverage.Path
		args = append(args, "run", "--rcfile", r.coverageRC, metadata.Script)
	} else {
		name = r.toolbox.Python.Path
		args = append(args, metadata.Script)
	}

	args = append(args, entrypointCommand, r.toolbox.Blender.Path, r.toolbox.FFmpeg.Path)
	args = append(args, metadata.Args...)
	args = append(args, r.extraArgs...)
	return name, args
}

// SetFileLogger sets the file logger for the runner
func (r *runner) SetFileLogger(logger *logging.FileLogger) {
	r.fileLogger = logger
}

// Make sure the runner type implements both interfaces
var _ EntrypointRunner = &runner{}
var _ EntrypointRunnerWithFileLogger = &runner{}
