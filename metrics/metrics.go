package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/blendertools/infra/addon-acceptor/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "addon_acceptor"
)

var (
	Debug                bool = true
	validResults              = []types.Status{types.StatusPass, types.StatusFail, types.StatusSkip, types.StatusError}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	entrypointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "entrypoints_total",
		Help:      "Count of entry point invocations",
	}, []string{
		"addon",
		"run_id",
		"gate",
		"name",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of addon test runs",
	}, []string{
		"addon",
		"run_id",
		"result",
	})

	runTestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_total",
		Help:      "Total number of tests in a run",
	}, []string{
		"addon",
		"run_id",
	})

	runTestPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_passed",
		Help:      "Number of passed tests in a run",
	}, []string{
		"addon",
		"run_id",
	})

	runTestFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_failed",
		Help:      "Number of failed tests in a run",
	}, []string{
		"addon",
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of addon test runs",
	}, []string{
		"addon",
		"run_id",
	})

	coveragePercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "coverage_percent",
		Help:      "Combined line coverage of the last run",
	}, []string{
		"addon",
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordEntrypoint(addon string, runID string, gate string, name string, result types.Status) {
	if !isValidResult(result) {
		log.Error("RecordEntrypoint - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "entrypoints_total",
			"addon", addon,
			"run_id", runID,
			"gate", gate,
			"entrypoint", name,
			"result", result)
	}
	entrypointsTotal.WithLabelValues(addon, runID, gate, name, string(result)).Inc()
}

func RecordRun(
	addon string,
	runID string,
	result string,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	runResults.WithLabelValues(addon, runID, result).Set(1)
	runTestTotal.WithLabelValues(addon, runID).Add(float64(total))
	runTestPassed.WithLabelValues(addon, runID).Add(float64(passed))
	runTestFailed.WithLabelValues(addon, runID).Add(float64(failed))
	runDuration.WithLabelValues(addon, runID).Set(duration.Seconds())
}

// RecordCoverage publishes the combined coverage percentage of a run.
func RecordCoverage(addon string, runID string, percent int) {
	if Debug {
		log.Debug("metric set",
			"m", "coverage_percent",
			"addon", addon,
			"run_id", runID,
			"percent", percent)
	}
	coveragePercent.WithLabelValues(addon, runID).Set(float64(percent))
}

func isValidResult(result types.Status) bool {
	return slices.Contains(validResults, result)
}
