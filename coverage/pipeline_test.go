package coverage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `Name                         Stmts   Miss  Cover   Missing
----------------------------------------------------------
parallel_render/__init__.py    412     31    92%   88-92, 140
parallel_render/pools.py       118      4    97%   21-24
----------------------------------------------------------
TOTAL                          530     35    93%
`

func TestParsePercent(t *testing.T) {
	pct, err := ParsePercent(sampleReport)
	require.NoError(t, err)
	assert.Equal(t, 93, pct)
}

func TestParsePercentNoTotal(t *testing.T) {
	_, err := ParsePercent("nothing useful here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no TOTAL line")
}

// fakeCoverage writes a shell script that logs its arguments and prints a
// canned report for the report subcommand.
func fakeCoverage(t *testing.T, dir string) (bin, argsLog string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	argsLog = filepath.Join(dir, "args.log")
	bin = filepath.Join(dir, "coverage")
	script := `#!/bin/sh
echo "$@" >> "` + argsLog + `"
case "$1" in
report) cat <<'EOF'
Name    Stmts   Miss  Cover
---------------------------
TOTAL     100     12    88%
EOF
;;
xml) shift 2; while [ "$1" != "-o" ]; do shift; done; echo '<coverage line-rate="0.88" lines-valid="100" lines-covered="88"/>' > "$2" ;;
esac
`
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argsLog
}

func TestPipelineFinalize(t *testing.T) {
	dir := t.TempDir()
	bin, argsLog := fakeCoverage(t, dir)

	p := &Pipeline{
		CoverageBin: bin,
		RCFile:      filepath.Join(dir, "coveragerc.run"),
		WorkDir:     dir,
	}
	xmlPath := filepath.Join(dir, "coverage.xml")
	summary, err := p.Finalize(context.Background(), xmlPath)
	require.NoError(t, err)

	assert.Equal(t, 88, summary.Percent)
	assert.Contains(t, summary.Report, "TOTAL")
	assert.Equal(t, xmlPath, summary.XMLPath)
	assert.FileExists(t, xmlPath)
	assert.Equal(t, 100, summary.LinesValid)
	assert.Equal(t, 88, summary.LinesCovered)

	calls, err := os.ReadFile(argsLog)
	require.NoError(t, err)
	assert.Contains(t, string(calls), "combine --rcfile "+p.RCFile)
	assert.Contains(t, string(calls), "report --rcfile "+p.RCFile+" -m")
}

func TestPipelineCombineFailure(t *testing.T) {
	dir := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	bin := filepath.Join(dir, "coverage")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'No data to combine' >&2\nexit 1\n"), 0o755))

	p := &Pipeline{CoverageBin: bin, RCFile: "rc", WorkDir: dir}
	err := p.Combine(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coverage combine")
	assert.Contains(t, err.Error(), "No data to combine")
}
