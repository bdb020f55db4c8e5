package acceptor

import (
	"github.com/blendertools/infra/addon-acceptor/metrics"
	"github.com/blendertools/infra/addon-acceptor/runner"
)

// MetricsReporter is responsible for reporting metrics from run results.
type MetricsReporter interface {
	ReportResults(runID string, result *runner.Result)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct {
	addonName string
}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter(addonName string) *DefaultMetricsReporter {
	return &DefaultMetricsReporter{addonName: addonName}
}

// ReportResults reports the run results to metrics systems.
func (r *DefaultMetricsReporter) ReportResults(runID string, result *runner.Result) {
	metrics.RecordRun(
		r.addonName,
		runID,
		string(result.Status),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Duration,
	)
	if result.Coverage != nil {
		metrics.RecordCoverage(r.addonName, runID, result.Coverage.Percent)
	}
}
