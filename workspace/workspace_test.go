package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := New(Config{Root: filepath.Join(t.TempDir(), "tests_output")})
	require.NoError(t, err)
	return ws
}

func TestPrepareCreatesTree(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Prepare())

	for _, dir := range []string{ws.Root, ws.TmpDir, ws.ArtifactsDir, ws.CoverageDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	_, err := os.Stat(filepath.Join(ws.Root, markerFile))
	assert.NoError(t, err)
}

func TestPrepareKeepsExistingContent(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Prepare())

	stale := filepath.Join(ws.Root, "prior.avi")
	require.NoError(t, os.WriteFile(stale, []byte("frames"), 0o644))

	require.NoError(t, ws.Prepare())
	_, err := os.Stat(stale)
	assert.NoError(t, err)
}

func TestResetDestroysPriorTree(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Prepare())

	stale := filepath.Join(ws.Root, "prior.avi")
	require.NoError(t, os.WriteFile(stale, []byte("frames"), 0o644))

	require.NoError(t, ws.Reset(false))
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	// Tree is usable again after the reset.
	_, err = os.Stat(ws.TmpDir)
	assert.NoError(t, err)
}

func TestResetRefusesForeignDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "precious")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data"), []byte("keep"), 0o644))

	ws, err := New(Config{Root: root})
	require.NoError(t, err)

	err = ws.Reset(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to reset")

	// Forced reset is allowed.
	require.NoError(t, ws.Reset(true))
	_, err = os.Stat(filepath.Join(root, "data"))
	assert.True(t, os.IsNotExist(err))
}

func TestResetOnMissingDirectory(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Reset(false))
	_, err := os.Stat(ws.Root)
	assert.NoError(t, err)
}

func TestEnviron(t *testing.T) {
	ws := newTestWorkspace(t)

	t.Setenv("PYTHONPATH", "/inherited/site-packages")
	env := ws.Environ(EnvConfig{
		ScriptsDir: "/repo/scripts",
		PythonPath: []string{"/repo/tests"},
		CoverageRC: "/work/coveragerc",
	})

	assert.Contains(t, env, "PYTHONPATH=/repo/tests"+string(os.PathListSeparator)+"/inherited/site-packages")
	assert.Contains(t, env, "TMPDIR="+ws.TmpDir)
	assert.Contains(t, env, "BLENDER_USER_SCRIPTS=/repo/scripts")
	assert.Contains(t, env, "COVERAGE_PROCESS_START=/work/coveragerc")
}

func TestEnvironWithoutCoverage(t *testing.T) {
	ws := newTestWorkspace(t)

	// t.Setenv registers the restore; unset so the inherited environment is
	// guaranteed clean for the assertion below.
	t.Setenv("COVERAGE_PROCESS_START", "")
	require.NoError(t, os.Unsetenv("COVERAGE_PROCESS_START"))

	env := ws.Environ(EnvConfig{ScriptsDir: "/repo/scripts"})
	for _, kv := range env {
		assert.NotContains(t, kv, "COVERAGE_PROCESS_START=")
	}
}
