package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/blendertools/infra/addon-acceptor/registry"
	"github.com/blendertools/infra/addon-acceptor/toolbox"
	"github.com/blendertools/infra/addon-acceptor/types"
	"github.com/blendertools/infra/addon-acceptor/workspace"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePython pretends to be the interpreter: it logs its arguments and
// emits unittest output depending on the entry script it was handed.
const fakePython = `#!/bin/sh
echo "$@" >> "$ARGS_LOG"
echo "PYTHONPATH=$PYTHONPATH" >> "$ARGS_LOG"
echo "TMPDIR=$TMPDIR" >> "$ARGS_LOG"
case "$1" in
*fail*)
	cat >&2 <<'EOF'
test_broken (test_addon.BrokenTest) ... FAIL

----------------------------------------------------------------------
Ran 1 test in 0.100s

FAILED (failures=1)
EOF
	exit 1
	;;
*)
	cat >&2 <<'EOF'
test_works (test_addon.WorksTest) ... ok

----------------------------------------------------------------------
Ran 1 test in 0.100s

OK
EOF
	exit 0
	;;
esac
`

type fixture struct {
	runner  EntrypointRunner
	argsLog string
	ws      *workspace.Workspace
}

func newFixture(t *testing.T, manifest string, keepGoing bool) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures")
	}
	dir := t.TempDir()
	logger := log.New()

	argsLog := filepath.Join(dir, "args.log")
	t.Setenv("ARGS_LOG", argsLog)

	pythonBin := filepath.Join(dir, "python3")
	require.NoError(t, os.WriteFile(pythonBin, []byte(fakePython), 0o755))

	testDir := filepath.Join(dir, "tests")
	require.NoError(t, os.MkdirAll(testDir, 0o755))
	for _, name := range []string{"test_ok.py", "test_ok2.py", "test_fail.py"} {
		require.NoError(t, os.WriteFile(filepath.Join(testDir, name), []byte("# placeholder"), 0o644))
	}

	manifestFile := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestFile, []byte(manifest), 0o644))

	reg, err := registry.NewRegistry(registry.Config{
		Log:            logger,
		ManifestFile:   manifestFile,
		TestDir:        testDir,
		DefaultTimeout: time.Minute,
	})
	require.NoError(t, err)

	ws, err := workspace.New(workspace.Config{
		Root: filepath.Join(dir, "work"),
		Log:  logger,
	})
	require.NoError(t, err)
	require.NoError(t, ws.Prepare())

	tb := &toolbox.Toolbox{
		Blender: toolbox.Tool{Name: "blender", Path: "/opt/blender/blender"},
		FFmpeg:  toolbox.Tool{Name: "ffmpeg", Path: "/usr/bin/ffmpeg"},
		Python:  toolbox.Tool{Name: "python3", Path: pythonBin},
	}

	r, err := NewEntrypointRunner(Config{
		Registry:   reg,
		Workspace:  ws,
		Toolbox:    tb,
		Log:        logger,
		AddonName:  "parallel_render",
		KeepGoing:  keepGoing,
		PythonPath: []string{testDir},
	})
	require.NoError(t, err)
	return &fixture{runner: r, argsLog: argsLog, ws: ws}
}

const passingManifest = `gates:
  - id: smoke
    entrypoints:
      - name: ok
        script: test_ok.py
    suites:
      extras:
        entrypoints:
          - name: ok2
            script: test_ok2.py
`

const failingManifest = `gates:
  - id: smoke
    entrypoints:
      - name: fail
        script: test_fail.py
      - name: ok
        script: test_ok.py
`

func TestRunAllPassing(t *testing.T) {
	f := newFixture(t, passingManifest, false)

	result, err := f.runner.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.StatusPass, result.Status)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 4, result.Stats.Total, "two entry points plus their cases")
	assert.Equal(t, 4, result.Stats.Passed)

	gate := result.Gates["smoke"]
	require.NotNil(t, gate)
	assert.Equal(t, types.StatusPass, gate.Status)
	require.Contains(t, gate.Entrypoints, "ok")
	require.Contains(t, gate.Suites, "extras")
	assert.Equal(t, types.StatusPass, gate.Suites["extras"].Status)

	res := gate.Entrypoints["ok"]
	assert.Equal(t, 1, res.Ran)
	require.Contains(t, res.Cases, "test_addon.WorksTest.test_works")
	assert.Empty(t, res.Stdout, "output only kept for failing entry points")
}

func TestRunAllPositionalArgsAndEnv(t *testing.T) {
	f := newFixture(t, passingManifest, false)

	_, err := f.runner.RunAll(context.Background())
	require.NoError(t, err)

	logged, err := os.ReadFile(f.argsLog)
	require.NoError(t, err)
	content := string(logged)

	// script, subcommand, then the resolved binaries in fixed order
	assert.Contains(t, content, "test_ok.py test /opt/blender/blender /usr/bin/ffmpeg")
	assert.Contains(t, content, "PYTHONPATH=")
	assert.Contains(t, content, "TMPDIR="+f.ws.TmpDir)
}

func TestRunAllFailFast(t *testing.T) {
	f := newFixture(t, failingManifest, false)

	result, err := f.runner.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.StatusFail, result.Status)
	gate := result.Gates["smoke"]
	require.NotNil(t, gate)

	failRes := gate.Entrypoints["fail"]
	require.NotNil(t, failRes)
	assert.Equal(t, types.StatusFail, failRes.Status)
	assert.Contains(t, failRes.Stderr, "FAILED (failures=1)")

	okRes := gate.Entrypoints["ok"]
	require.NotNil(t, okRes)
	assert.Equal(t, types.StatusSkip, okRes.Status, "remaining entry points are skipped after a failure")
}

func TestRunAllKeepGoing(t *testing.T) {
	f := newFixture(t, failingManifest, true)

	result, err := f.runner.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.StatusFail, result.Status)
	gate := result.Gates["smoke"]
	assert.Equal(t, types.StatusFail, gate.Entrypoints["fail"].Status)
	assert.Equal(t, types.StatusPass, gate.Entrypoints["ok"].Status)
}

const orderedManifest = `gates:
  - id: render
    entrypoints:
      - name: ok
        script: test_ok.py
        args: ["--marker", "render-direct"]
    suites:
      zeta:
        entrypoints:
          - name: ok2
            script: test_ok2.py
            args: ["--marker", "render-zeta"]
      alpha:
        entrypoints:
          - name: ok3
            script: test_ok.py
            args: ["--marker", "render-alpha"]
  - id: export
    entrypoints:
      - name: ok4
        script: test_ok2.py
        args: ["--marker", "export-direct"]
`

func TestRunAllDeterministicOrder(t *testing.T) {
	f := newFixture(t, orderedManifest, false)

	_, err := f.runner.RunAll(context.Background())
	require.NoError(t, err)

	logged, err := os.ReadFile(f.argsLog)
	require.NoError(t, err)

	// Gates run in manifest order; within a gate direct entry points come
	// first, then suites by name.
	var markers []string
	for _, line := range strings.Split(string(logged), "\n") {
		if _, after, found := strings.Cut(line, "--marker "); found {
			markers = append(markers, after)
		}
	}
	assert.Equal(t, []string{"render-direct", "render-alpha", "render-zeta", "export-direct"}, markers)
}

func TestRunEntrypointTimeout(t *testing.T) {
	f := newFixture(t, passingManifest, false)
	dir := t.TempDir()

	sleeper := filepath.Join(dir, "python3")
	require.NoError(t, os.WriteFile(sleeper, []byte("#!/bin/sh\nsleep 10\n"), 0o755))

	r := f.runner.(*runner)
	r.toolbox = &toolbox.Toolbox{
		Blender: r.toolbox.Blender,
		FFmpeg:  r.toolbox.FFmpeg,
		Python:  toolbox.Tool{Name: "python3", Path: sleeper},
	}

	res, err := r.RunEntrypoint(context.Background(), types.EntrypointMetadata{
		ID:      "slow",
		Script:  "test_slow.py",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, types.StatusFail, res.Status)
	assert.ErrorContains(t, res.Error, "timed out")
}

func TestNewEntrypointRunnerValidation(t *testing.T) {
	_, err := NewEntrypointRunner(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry is required")
}

func TestBuildCommandCoverage(t *testing.T) {
	f := newFixture(t, passingManifest, false)
	r := f.runner.(*runner)
	r.coverageRC = "/work/coveragerc.run"
	r.toolbox.Coverage = toolbox.Tool{Name: "coverage", Path: "/usr/bin/coverage"}

	name, args := r.buildCommand(types.EntrypointMetadata{
		ID:       "ok",
		Script:   "tests/test_ok.py",
		Coverage: true,
		Args:     []string{"--jobs", "2"},
	})
	assert.Equal(t, "/usr/bin/coverage", name)
	assert.Equal(t, []string{
		"run", "--rcfile", "/work/coveragerc.run", "tests/test_ok.py",
		"test", "/opt/blender/blender", "/usr/bin/ffmpeg", "--jobs", "2",
	}, args)

	// coverage opt-out falls back to the interpreter
	name, args = r.buildCommand(types.EntrypointMetadata{Script: "tests/test_ok.py"})
	assert.Equal(t, r.toolbox.Python.Path, name)
	assert.Equal(t, []string{"tests/test_ok.py", "test", "/opt/blender/blender", "/usr/bin/ffmpeg"}, args)
}
