package runner

import (
	"strconv"
	"strings"
	"time"

	"github.com/blendertools/infra/addon-acceptor/types"
)

// Python unittest verbose output. The runner emits one line per test case:
//
//	test_sync (test_parallel_render.ParallelRenderTest) ... ok
//	test_ranges (test_parallel_render.ParallelRenderTest) ... FAIL
//	test_gpu (test_parallel_render.ParallelRenderTest) ... skipped 'no GPU'
//
// followed by detail blocks for failures and a trailing summary:
//
//	Ran 12 tests in 3.456s
//	FAILED (failures=1, errors=2)
//
// Python 3.11+ repeats the method name inside the parens
// (test_parallel_render.ParallelRenderTest.test_sync); both forms parse.

// Report is the parsed form of one unittest run.
type Report struct {
	Cases    []*types.CaseResult
	Ran      int
	Elapsed  time.Duration
	Failures int
	Errors   int
	Skipped  int
	OK       bool // trailing OK line seen
	Complete bool // "Ran N tests" summary seen
}

// Status derives the entry point status from the parsed report.
func (r *Report) Status() types.Status {
	switch {
	case !r.Complete:
		return types.StatusError
	case r.Errors > 0:
		return types.StatusError
	case !r.OK || r.Failures > 0:
		return types.StatusFail
	case r.Ran > 0 && r.Skipped == r.Ran:
		return types.StatusSkip
	default:
		return types.StatusPass
	}
}

// ParseUnittestOutput parses the verbose output of a Python unittest run.
// unittest writes its progress to stderr; callers pass that stream.
func ParseUnittestOutput(output string) *Report {
	report := &Report{}
	cases := make(map[string]*types.CaseResult)

	var pending *types.CaseResult // case line whose verdict spilled to a later line
	var detail *types.CaseResult  // case a FAIL:/ERROR: block is attributed to
	var detailBuf strings.Builder

	flushDetail := func() {
		if detail != nil {
			detail.Message = strings.TrimSpace(detailBuf.String())
		}
		detail = nil
		detailBuf.Reset()
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")

		switch {
		case strings.HasPrefix(line, "======"):
			flushDetail()
			continue
		case strings.HasPrefix(line, "------"):
			continue
		}

		if name, class, ok := parseDetailHeader(line); ok {
			flushDetail()
			detail = cases[class+"."+name]
			if detail == nil {
				detail = cases[name]
			}
			continue
		}
		if n, elapsed, ok := parseRanLine(line); ok {
			flushDetail()
			report.Ran = n
			report.Elapsed = elapsed
			report.Complete = true
			continue
		}
		if detail != nil {
			if line == "" && detailBuf.Len() > 0 {
				flushDetail()
			} else if line != "" {
				detailBuf.WriteString(line)
				detailBuf.WriteString("\n")
			}
			continue
		}
		if counts, ok := parseVerdictLine(line, report); ok {
			applyVerdictCounts(report, counts)
			continue
		}

		if c := parseCaseLine(line); c != nil {
			report.Cases = append(report.Cases, c)
			cases[c.FullName()] = c
			cases[c.Name] = c
			if c.Status == "" {
				pending = c
			}
			continue
		}

		if pending != nil {
			if status, msg, ok := parseVerdictWord(strings.TrimSpace(line)); ok {
				pending.Status = status
				pending.Message = msg
				pending = nil
			}
		}
	}
	flushDetail()

	// A case line with no verdict means the run died mid-test.
	for _, c := range report.Cases {
		if c.Status == "" {
			c.Status = types.StatusError
			report.Errors++
		}
	}
	return report
}

// parseCaseLine parses "test_x (module.Class) ... verdict" lines.
func parseCaseLine(line string) *types.CaseResult {
	name, rest, ok := strings.Cut(line, " (")
	if !ok || !strings.HasPrefix(name, "test") || strings.ContainsAny(name, " \t") {
		return nil
	}
	class, rest, ok := strings.Cut(rest, ") ... ")
	if !ok {
		return nil
	}
	// Python 3.11+ appends the method name to the dotted path.
	class = strings.TrimSuffix(class, "."+name)

	c := &types.CaseResult{Name: name, Class: class}
	if status, msg, ok := parseVerdictWord(strings.TrimSpace(rest)); ok {
		c.Status = status
		c.Message = msg
	}
	return c
}

// parseVerdictWord maps a unittest verdict to a status. An empty verdict
// (the test printed output and the verdict moved to the next line) returns
// false so the caller can hold the case as pending.
func parseVerdictWord(verdict string) (types.Status, string, bool) {
	switch {
	case verdict == "ok":
		return types.StatusPass, "", true
	case verdict == "FAIL":
		return types.StatusFail, "", true
	case verdict == "ERROR":
		return types.StatusError, "", true
	case verdict == "expected failure":
		return types.StatusPass, "expected failure", true
	case verdict == "unexpected success":
		return types.StatusFail, "unexpected success", true
	case strings.HasPrefix(verdict, "skipped"):
		return types.StatusSkip, strings.Trim(strings.TrimPrefix(verdict, "skipped"), " '\""), true
	}
	return "", "", false
}

// parseDetailHeader parses "FAIL: test_x (module.Class)" block headers.
func parseDetailHeader(line string) (name, class string, ok bool) {
	rest, found := strings.CutPrefix(line, "FAIL: ")
	if !found {
		rest, found = strings.CutPrefix(line, "ERROR: ")
	}
	if !found {
		return "", "", false
	}
	name, class, ok = strings.Cut(rest, " (")
	if !ok || !strings.HasPrefix(name, "test") {
		return "", "", false
	}
	return name, strings.TrimSuffix(class, ")"), true
}

// parseRanLine parses "Ran 12 tests in 3.456s".
func parseRanLine(line string) (int, time.Duration, bool) {
	rest, found := strings.CutPrefix(line, "Ran ")
	if !found {
		return 0, 0, false
	}
	countStr, rest, ok := strings.Cut(rest, " test")
	if !ok {
		return 0, 0, false
	}
	n, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, 0, false
	}
	if i := strings.Index(rest, " in "); i >= 0 {
		secs := strings.TrimSuffix(rest[i+4:], "s")
		if f, err := strconv.ParseFloat(secs, 64); err == nil {
			return n, time.Duration(f * float64(time.Second)), true
		}
	}
	return n, 0, true
}

// parseVerdictLine parses the trailing "OK", "OK (skipped=2)" or
// "FAILED (failures=1, errors=2)" summary line.
func parseVerdictLine(line string, report *Report) (string, bool) {
	if line == "OK" {
		report.OK = true
		return "", true
	}
	if rest, ok := strings.CutPrefix(line, "OK ("); ok {
		report.OK = true
		return strings.TrimSuffix(rest, ")"), true
	}
	if rest, ok := strings.CutPrefix(line, "FAILED ("); ok {
		return strings.TrimSuffix(rest, ")"), true
	}
	return "", false
}

// applyVerdictCounts folds "failures=1, errors=2, skipped=3" into the report.
func applyVerdictCounts(report *Report, counts string) {
	for _, part := range strings.Split(counts, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		switch key {
		case "failures":
			report.Failures = n
		case "errors":
			report.Errors = n
		case "skipped":
			report.Skipped = n
		case "expected failures", "unexpected successes":
			// counted by unittest but not tracked separately here
		}
	}
}
