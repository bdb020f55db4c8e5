package coverage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"
)

const rcTemplate = `[run]
branch = True
omit =
    */vendor/*

[report]
exclude_lines =
    pragma: no cover
`

func TestWriteRCFile(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, ".coveragerc")
	require.NoError(t, os.WriteFile(template, []byte(rcTemplate), 0o644))

	out := filepath.Join(dir, "coveragerc.run")
	err := WriteRCFile(RCConfig{
		TemplatePath: template,
		OutputPath:   out,
		DataFile:     filepath.Join(dir, "data", ".coverage"),
		Omit:         []string{"*/extra/*"},
	})
	require.NoError(t, err)

	f, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, out)
	require.NoError(t, err)

	run := f.Section("run")
	assert.Equal(t, "true", run.Key("parallel").String())
	assert.Equal(t, "True", run.Key("branch").String(), "template settings survive")
	assert.True(t, filepath.IsAbs(run.Key("data_file").String()))

	omit := run.Key("omit").String()
	assert.Contains(t, omit, "*/scripts/startup/*")
	assert.Contains(t, omit, "*/extra/*")

	assert.Contains(t, f.Section("paths").Key("source").String(), "*/scripts")
	assert.Contains(t, f.Section("report").Key("exclude_lines").String(), "pragma: no cover")
}

func TestWriteRCFileMissingTemplate(t *testing.T) {
	err := WriteRCFile(RCConfig{
		TemplatePath: filepath.Join(t.TempDir(), "nope"),
		OutputPath:   filepath.Join(t.TempDir(), "out"),
		DataFile:     ".coverage",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rcfile template")
}

func TestWriteRCFileValidation(t *testing.T) {
	require.Error(t, WriteRCFile(RCConfig{OutputPath: "x", DataFile: "y"}))
	require.Error(t, WriteRCFile(RCConfig{TemplatePath: "x", DataFile: "y"}))
	require.Error(t, WriteRCFile(RCConfig{TemplatePath: "x", OutputPath: "y"}))
}
