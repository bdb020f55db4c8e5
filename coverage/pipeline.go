package coverage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// totalPattern matches the TOTAL line of `coverage report`:
//
//	TOTAL    1234    56    95%
var totalPattern = regexp.MustCompile(`(?m)^TOTAL\s+.*?(\d+)%\s*$`)

// Pipeline runs the post-test coverage steps by shelling out to the
// resolved coverage binary. All commands run from the workspace root with
// the derived rcfile so relative paths resolve the same way they did while
// the data was collected.
type Pipeline struct {
	CoverageBin string // resolved coverage binary
	RCFile      string // derived run rcfile
	WorkDir     string // workspace root, cwd for every invocation
	Log         log.Logger
}

// Summary is the outcome of a full combine/report/xml cycle.
type Summary struct {
	Percent      int    // total covered percentage from the text report
	Report       string // full text report as printed by coverage
	XMLPath      string // Cobertura XML file, empty if not requested
	LinesValid   int    // line counts from the Cobertura report
	LinesCovered int
}

// Combine merges the parallel data files into a single data file. coverage
// exits non-zero when no data files exist, which happens when every entry
// point opted out; that is reported as an error for the caller to decide on.
func (p *Pipeline) Combine(ctx context.Context) error {
	out, err := p.run(ctx, "combine")
	if err != nil {
		return fmt.Errorf("coverage combine: %w (%s)", err, firstLine(out))
	}
	return nil
}

// Report renders the text report and returns it along with the TOTAL
// percentage parsed from its last line.
func (p *Pipeline) Report(ctx context.Context) (string, int, error) {
	out, err := p.run(ctx, "report", "-m")
	if err != nil {
		return out, 0, fmt.Errorf("coverage report: %w (%s)", err, firstLine(out))
	}
	pct, err := ParsePercent(out)
	if err != nil {
		return out, 0, err
	}
	return out, pct, nil
}

// XML writes a Cobertura XML report to path.
func (p *Pipeline) XML(ctx context.Context, path string) error {
	out, err := p.run(ctx, "xml", "-o", path)
	if err != nil {
		return fmt.Errorf("coverage xml: %w (%s)", err, firstLine(out))
	}
	return nil
}

// Finalize runs the whole post-test cycle: combine, text report, XML.
func (p *Pipeline) Finalize(ctx context.Context, xmlPath string) (*Summary, error) {
	if err := p.Combine(ctx); err != nil {
		return nil, err
	}
	report, pct, err := p.Report(ctx)
	if err != nil {
		return nil, err
	}
	if p.Log != nil {
		p.Log.Info("Coverage report generated", "percent", pct)
	}
	summary := &Summary{Percent: pct, Report: report}
	if xmlPath != "" {
		if err := p.XML(ctx, xmlPath); err != nil {
			return nil, err
		}
		summary.XMLPath = xmlPath

		cob, err := ParseCobertura(xmlPath)
		if err != nil {
			return nil, err
		}
		summary.LinesValid = cob.Lines
		summary.LinesCovered = cob.Covered
		if p.Log != nil && cob.Percent() != pct {
			// The text report rounds differently than the XML line rate.
			p.Log.Debug("Coverage report and XML percentages differ",
				"report", pct, "xml", cob.Percent())
		}
	}
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{args[0], "--rcfile", p.RCFile}, args[1:]...)
	cmd := exec.CommandContext(ctx, p.CoverageBin, full...)
	cmd.Dir = p.WorkDir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if p.Log != nil {
		p.Log.Debug("Running coverage command", "args", full)
	}
	err := cmd.Run()
	return buf.String(), err
}

// ParsePercent extracts the covered percentage from the TOTAL line of a
// coverage text report.
func ParsePercent(report string) (int, error) {
	m := totalPattern.FindStringSubmatch(report)
	if m == nil {
		return 0, fmt.Errorf("no TOTAL line in coverage report")
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("parsing coverage percentage %q: %w", m[1], err)
	}
	return pct, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
