package acceptor

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/blendertools/infra/addon-acceptor/runner"
	"github.com/blendertools/infra/addon-acceptor/types"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(result *runner.Result) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger    log.Logger
	showCases bool
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger:    logger,
		showCases: true,
	}
}

// FormatResults formats and displays the run results.
func (f *ConsoleResultFormatter) FormatResults(result *runner.Result) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Addon Acceptance Results (%s)", formatDuration(result.Duration)))

	// Configure columns
	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Cases", "Passed", "Failed", "Skipped", "Status", "Error",
	})

	// Set column configurations for better readability
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Cases", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, gate := range result.Gates {
		// Gate row - show aggregate counts but no "1" in Cases column
		t.AppendRow(table.Row{
			"Gate",
			gate.ID,
			formatDuration(gate.Duration),
			"-",
			gate.Stats.Passed,
			gate.Stats.Failed,
			gate.Stats.Skipped,
			getResultString(gate.Status),
			"",
		})

		// Print direct gate entry points
		i := 0
		for name, res := range gate.Entrypoints {
			prefix := "├─"
			if i == len(gate.Entrypoints)-1 && len(gate.Suites) == 0 {
				prefix = "└─"
			}
			f.appendEntrypointRows(t, prefix, "   ", name, res)
			i++
		}

		// Print suites and their entry points
		i = 0
		for suiteName, suite := range gate.Suites {
			prefix := "├─"
			if i == len(gate.Suites)-1 {
				prefix = "└─"
			}

			t.AppendRow(table.Row{
				"Suite",
				fmt.Sprintf("%s %s", prefix, suiteName),
				formatDuration(suite.Duration),
				"-",
				suite.Stats.Passed,
				suite.Stats.Failed,
				suite.Stats.Skipped,
				getResultString(suite.Status),
				"",
			})

			j := 0
			for name, res := range suite.Entrypoints {
				subPrefix := "   ├─"
				if j == len(suite.Entrypoints)-1 {
					subPrefix = "   └─"
				}
				f.appendEntrypointRows(t, subPrefix, "      ", name, res)
				j++
			}
			i++
		}

		t.AppendSeparator()
	}

	// Update the table style setting based on result status
	if result.Status == types.StatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else if result.Status == types.StatusSkip {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	// Add summary footer
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Stats.Skipped,
		getResultString(result.Status),
		"",
	})

	t.Render()

	if result.Coverage != nil {
		if result.Coverage.LinesValid > 0 {
			fmt.Printf("\nCombined coverage: %d%% (%d/%d lines)\n",
				result.Coverage.Percent, result.Coverage.LinesCovered, result.Coverage.LinesValid)
		} else {
			fmt.Printf("\nCombined coverage: %d%%\n", result.Coverage.Percent)
		}
		if result.Coverage.Report != "" {
			fmt.Println(result.Coverage.Report)
		}
	}

	fmt.Println(result.String())
	return nil
}

// appendEntrypointRows adds a row for an entry point and, when enabled, one
// per parsed case beneath it.
func (f *ConsoleResultFormatter) appendEntrypointRows(t table.Writer, prefix, casePrefix, name string, res *types.EntrypointResult) {
	displayName := types.DisplayName(name, res.Metadata)

	var errMsg string
	if res.Error != nil {
		errMsg = res.Error.Error()
	}

	t.AppendRow(table.Row{
		"Entrypoint",
		fmt.Sprintf("%s %s", prefix, displayName),
		formatDuration(res.Duration),
		res.Ran,
		boolToInt(res.Status == types.StatusPass),
		boolToInt(res.Status == types.StatusFail || res.Status == types.StatusError),
		boolToInt(res.Status == types.StatusSkip),
		getResultString(res.Status),
		errMsg,
	})

	if !f.showCases {
		return
	}
	j := 0
	for _, c := range res.Cases {
		subPrefix := casePrefix + "├─"
		if j == len(res.Cases)-1 {
			subPrefix = casePrefix + "└─"
		}
		t.AppendRow(table.Row{
			"",
			fmt.Sprintf("%s %s", subPrefix, c.FullName()),
			"",
			"1",
			boolToInt(c.Status == types.StatusPass),
			boolToInt(c.Status == types.StatusFail || c.Status == types.StatusError),
			boolToInt(c.Status == types.StatusSkip),
			getResultString(c.Status),
			c.Message,
		})
		j++
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
