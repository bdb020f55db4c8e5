// Package coverage drives Python coverage measurement around a test run:
// deriving the run configuration from a template, combining the parallel
// data files the entry points leave behind, and rendering text and Cobertura
// XML reports.
package coverage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Paths under the addon scripts tree that never count towards coverage:
// Blender's own startup and bundled-addon code ends up importable next to
// the addon under test.
var defaultOmit = []string{
	"*/scripts/startup/*",
	"*/scripts/modules/*",
	"*/scripts/addons/cycles/*",
	"*/scripts/addons/io_*/*",
}

// RCConfig describes how to derive the run rcfile from the template.
type RCConfig struct {
	TemplatePath string   // base .coveragerc template
	OutputPath   string   // where the derived rcfile is written
	DataFile     string   // absolute path for run data files (run.data_file)
	Omit         []string // extra omit globs appended to the defaults
	SourcePaths  []string // paths.source entries for path remapping
}

// WriteRCFile derives the run rcfile from the template. The template's own
// settings survive except for the keys a run must control: the omit list,
// the absolute data-file location, and parallel mode (every entry point and
// each Blender subprocess writes its own data file, combined afterwards).
func WriteRCFile(cfg RCConfig) error {
	if cfg.TemplatePath == "" {
		return fmt.Errorf("rcfile template path is required")
	}
	if cfg.OutputPath == "" {
		return fmt.Errorf("rcfile output path is required")
	}
	if cfg.DataFile == "" {
		return fmt.Errorf("coverage data file path is required")
	}

	f, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, cfg.TemplatePath)
	if err != nil {
		return fmt.Errorf("loading rcfile template %s: %w", cfg.TemplatePath, err)
	}

	dataFile, err := filepath.Abs(cfg.DataFile)
	if err != nil {
		return fmt.Errorf("resolving data file path: %w", err)
	}

	omit := append(append([]string{}, defaultOmit...), cfg.Omit...)

	// coverage.py accepts comma-separated lists; single-line values keep
	// the output readable by configparser.
	run := f.Section("run")
	run.Key("omit").SetValue(strings.Join(omit, ", "))
	run.Key("data_file").SetValue(dataFile)
	run.Key("parallel").SetValue("true")

	source := cfg.SourcePaths
	if len(source) == 0 {
		source = []string{"*/scripts"}
	}
	f.Section("paths").Key("source").SetValue(strings.Join(source, ", "))

	if err := saveConfigParser(f, cfg.OutputPath); err != nil {
		return fmt.Errorf("writing rcfile %s: %w", cfg.OutputPath, err)
	}
	return nil
}

// saveConfigParser writes the file in the format Python's configparser
// reads: multi-line values become indented continuation lines instead of
// the triple-quoted form ini would emit.
func saveConfigParser(f *ini.File, path string) error {
	var b strings.Builder
	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n", section.Name())
		for _, key := range section.Keys() {
			lines := strings.Split(key.Value(), "\n")
			fmt.Fprintf(&b, "%s = %s\n", key.Name(), lines[0])
			for _, line := range lines[1:] {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
