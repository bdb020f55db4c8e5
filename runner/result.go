package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/blendertools/infra/addon-acceptor/types"
)

// SuiteResult captures aggregated results for a suite
type SuiteResult struct {
	ID          string
	Description string
	Entrypoints map[string]*types.EntrypointResult
	Status      types.Status
	Duration    time.Duration
	Stats       ResultStats
}

// GateResult captures aggregated results for a gate
type GateResult struct {
	ID          string
	Description string
	Entrypoints map[string]*types.EntrypointResult
	Suites      map[string]*SuiteResult
	Status      types.Status
	Duration    time.Duration
	Stats       ResultStats
	Inherited   []string
}

// Result captures the complete run results
type Result struct {
	Gates    map[string]*GateResult
	Status   types.Status
	Duration time.Duration
	Stats    ResultStats
	RunID    string
	Coverage *CoverageSummary // nil when the run measured no coverage
}

// CoverageSummary carries the combined coverage outcome of a run.
type CoverageSummary struct {
	Percent      int
	Report       string
	XMLPath      string
	LinesValid   int
	LinesCovered int
}

// ResultStats tracks entry point and case statistics at each level
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time
}

func (s *ResultStats) add(status types.Status) {
	s.Total++
	switch status {
	case types.StatusPass:
		s.Passed++
	case types.StatusFail, types.StatusError:
		s.Failed++
	case types.StatusSkip:
		s.Skipped++
	}
}

// updateStats updates statistics at all levels for one entry point result,
// counting the entry point itself and each of its parsed cases.
func (r *Result) updateStats(gate *GateResult, suite *SuiteResult, res *types.EntrypointResult) {
	statuses := []types.Status{res.Status}
	for _, c := range res.Cases {
		statuses = append(statuses, c.Status)
	}

	for _, status := range statuses {
		if suite != nil {
			suite.Stats.add(status)
		}
		gate.Stats.add(status)
		r.Stats.add(status)
	}

	if suite != nil {
		suite.Duration += res.Duration
	}
	gate.Duration += res.Duration
	r.Duration += res.Duration
}

// determineStatusFromFlags is a helper that returns a status based on common flag logic
func determineStatusFromFlags(allSkipped, anyFailed bool) types.Status {
	if allSkipped {
		return types.StatusSkip
	}
	if anyFailed {
		return types.StatusFail
	}
	return types.StatusPass
}

// determineSuiteStatus determines the overall status of a suite based on its entry points
func determineSuiteStatus(suite *SuiteResult) types.Status {
	if len(suite.Entrypoints) == 0 {
		return types.StatusSkip
	}
	allSkipped := true
	anyFailed := false
	for _, res := range suite.Entrypoints {
		if res.Status != types.StatusSkip {
			allSkipped = false
		}
		if res.Status == types.StatusFail || res.Status == types.StatusError {
			anyFailed = true
		}
	}
	return determineStatusFromFlags(allSkipped, anyFailed)
}

// determineGateStatus determines the overall status of a gate based on its entry points and suites
func determineGateStatus(gate *GateResult) types.Status {
	if len(gate.Entrypoints) == 0 && len(gate.Suites) == 0 {
		return types.StatusSkip
	}
	allSkipped := true
	anyFailed := false
	for _, res := range gate.Entrypoints {
		if res.Status != types.StatusSkip {
			allSkipped = false
		}
		if res.Status == types.StatusFail || res.Status == types.StatusError {
			anyFailed = true
		}
	}
	for _, suite := range gate.Suites {
		if suite.Status != types.StatusSkip {
			allSkipped = false
		}
		if suite.Status == types.StatusFail {
			anyFailed = true
		}
	}
	return determineStatusFromFlags(allSkipped, anyFailed)
}

// determineResultStatus determines the overall status of the run
func determineResultStatus(result *Result) types.Status {
	if len(result.Gates) == 0 {
		return types.StatusSkip
	}
	allSkipped := true
	anyFailed := false
	for _, gate := range result.Gates {
		if gate.Status != types.StatusSkip {
			allSkipped = false
		}
		if gate.Status == types.StatusFail {
			anyFailed = true
		}
	}
	return determineStatusFromFlags(allSkipped, anyFailed)
}

// formatDuration formats the duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// String returns a formatted string representation of the run results
func (r *Result) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Addon Test Run Results (%s):\n", formatDuration(r.Duration)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d, Skipped: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Skipped))
	if r.Coverage != nil {
		b.WriteString(fmt.Sprintf("Coverage: %d%%\n", r.Coverage.Percent))
	}

	for gateName, gate := range r.Gates {
		b.WriteString(fmt.Sprintf("\nGate: %s (%s)\n", gateName, formatDuration(gate.Duration)))
		b.WriteString(fmt.Sprintf("├── Status: %s\n", gate.Status))
		b.WriteString(fmt.Sprintf("├── Entrypoints: %d passed, %d failed, %d skipped\n",
			gate.Stats.Passed, gate.Stats.Failed, gate.Stats.Skipped))

		for name, res := range gate.Entrypoints {
			writeEntrypointTree(&b, "├──", "│       ", name, res)
		}
		for suiteName, suite := range gate.Suites {
			b.WriteString(fmt.Sprintf("└── Suite: %s (%s)\n", suiteName, formatDuration(suite.Duration)))
			b.WriteString(fmt.Sprintf("    ├── Status: %s\n", suite.Status))
			for name, res := range suite.Entrypoints {
				writeEntrypointTree(&b, "    ├──", "    │       ", name, res)
			}
		}
	}
	return b.String()
}

func writeEntrypointTree(b *strings.Builder, prefix, casePrefix, name string, res *types.EntrypointResult) {
	displayName := types.DisplayName(name, res.Metadata)
	b.WriteString(fmt.Sprintf("%s Entrypoint: %s (%s) [status=%s]\n",
		prefix, displayName, formatDuration(res.Duration), res.Status))
	if res.Error != nil {
		b.WriteString(fmt.Sprintf("%s└── Error: %s\n", casePrefix, res.Error.Error()))
	}
	i := 0
	for _, c := range res.Cases {
		connector := "├──"
		if i == len(res.Cases)-1 {
			connector = "└──"
		}
		b.WriteString(fmt.Sprintf("%s%s Case: %s [status=%s]\n", casePrefix, connector, c.FullName(), c.Status))
		i++
	}
}

// Metadata returns the metadata of every entry point in the run.
func (r *Result) Metadata() []types.EntrypointMetadata {
	var out []types.EntrypointMetadata
	for _, gate := range r.Gates {
		for _, res := range gate.Entrypoints {
			out = append(out, res.Metadata)
		}
		for _, suite := range gate.Suites {
			for _, res := range suite.Entrypoints {
				out = append(out, res.Metadata)
			}
		}
	}
	return out
}
