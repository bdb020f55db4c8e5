package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "ADDON_ACCEPTOR"

// prefixEnvVars prepends the app prefix to an env var name.
func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	Manifest = &cli.StringFlag{
		Name:     "manifest",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("MANIFEST"),
		Usage:    "Path to the entry point manifest file (eg. 'entrypoints.yaml')",
	}
	Gate = &cli.StringFlag{
		Name:    "gate",
		Value:   "",
		EnvVars: prefixEnvVars("GATE"),
		Usage:   "Gate to run (eg. 'smoke'). Runs every gate when omitted.",
	}
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: prefixEnvVars("TESTDIR"),
		Usage:   "Directory relative scripts in the manifest resolve against",
	}
	AddonName = &cli.StringFlag{
		Name:    "addon",
		Value:   "parallel_render",
		EnvVars: prefixEnvVars("ADDON"),
		Usage:   "Name of the addon under test, used for logs and metrics",
	}
	ScriptsDir = &cli.StringFlag{
		Name:    "scripts-dir",
		Value:   "",
		EnvVars: prefixEnvVars("SCRIPTS_DIR"),
		Usage:   "Blender user scripts directory containing the addon (becomes BLENDER_USER_SCRIPTS)",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   "test_run",
		EnvVars: prefixEnvVars("WORKDIR"),
		Usage:   "Workspace directory for temp files, artifacts and coverage data",
	}
	Fresh = &cli.BoolFlag{
		Name:    "fresh",
		Value:   false,
		EnvVars: prefixEnvVars("FRESH"),
		Usage:   "Reset the workspace directory before running",
	}
	ForceReset = &cli.BoolFlag{
		Name:    "force-reset",
		Value:   false,
		EnvVars: prefixEnvVars("FORCE_RESET"),
		Usage:   "Allow --fresh to destroy a workspace directory this tool did not create",
	}
	BlenderBin = &cli.StringFlag{
		Name:    "blender-binary",
		Value:   "",
		EnvVars: prefixEnvVars("BLENDER_BINARY"),
		Usage:   "Path to the blender binary, discovered on PATH when omitted",
	}
	FFmpegBin = &cli.StringFlag{
		Name:    "ffmpeg-binary",
		Value:   "",
		EnvVars: prefixEnvVars("FFMPEG_BINARY"),
		Usage:   "Path to the ffmpeg binary, discovered on PATH when omitted",
	}
	PythonBin = &cli.StringFlag{
		Name:    "python-binary",
		Value:   "",
		EnvVars: prefixEnvVars("PYTHON_BINARY"),
		Usage:   "Path to the python3 interpreter, discovered on PATH when omitted",
	}
	CoverageBin = &cli.StringFlag{
		Name:    "coverage-binary",
		Value:   "",
		EnvVars: prefixEnvVars("COVERAGE_BINARY"),
		Usage:   "Path to the coverage tool, discovered on PATH when omitted",
	}
	Coverage = &cli.BoolFlag{
		Name:    "coverage",
		Value:   false,
		EnvVars: prefixEnvVars("COVERAGE"),
		Usage:   "Run entry points under coverage and report combined results",
	}
	CoverageTemplate = &cli.StringFlag{
		Name:    "coverage-template",
		Value:   ".coveragerc",
		EnvVars: prefixEnvVars("COVERAGE_TEMPLATE"),
		Usage:   "Template rcfile the per-run coverage configuration is derived from",
	}
	CoverageFailUnder = &cli.IntFlag{
		Name:    "coverage-fail-under",
		Value:   0,
		EnvVars: prefixEnvVars("COVERAGE_FAIL_UNDER"),
		Usage:   "Fail the run when combined coverage drops below this percentage (0 disables)",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	KeepGoing = &cli.BoolFlag{
		Name:    "keep-going",
		Value:   false,
		EnvVars: prefixEnvVars("KEEP_GOING"),
		Usage:   "Keep invoking entry points after one fails instead of stopping",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   30 * time.Minute,
		EnvVars: prefixEnvVars("DEFAULT_TIMEOUT"),
		Usage:   "Default timeout for individual entry points, overridable in the manifest",
	}
	ExtraArgs = &cli.StringFlag{
		Name:    "extra-args",
		Value:   "",
		EnvVars: prefixEnvVars("EXTRA_ARGS"),
		Usage:   "Extra arguments appended to every entry point invocation (shell quoting applies)",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOGDIR"),
		Usage:   "Directory to store per-run log files",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log.level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "The lowest log level that will be output (trace|debug|info|warn|error|crit)",
	}
	LogFormat = &cli.StringFlag{
		Name:    "log.format",
		Value:   "terminal",
		EnvVars: prefixEnvVars("LOG_FORMAT"),
		Usage:   "Format the log output (terminal|logfmt|json)",
	}
	LogColor = &cli.BoolFlag{
		Name:    "log.color",
		Value:   false,
		EnvVars: prefixEnvVars("LOG_COLOR"),
		Usage:   "Color the log output if in terminal mode",
	}
)

var requiredFlags = []cli.Flag{
	Manifest,
}

var optionalFlags = []cli.Flag{
	Gate,
	TestDir,
	AddonName,
	ScriptsDir,
	WorkDir,
	Fresh,
	ForceReset,
	BlenderBin,
	FFmpegBin,
	PythonBin,
	CoverageBin,
	Coverage,
	CoverageTemplate,
	CoverageFailUnder,
	RunInterval,
	KeepGoing,
	DefaultTimeout,
	ExtraArgs,
	LogDir,
	LogLevel,
	LogFormat,
	LogColor,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
