// Package types contains shared types used across the addon-acceptor harness.
package types

import (
	"strings"
	"time"
)

// Status represents the possible states of a test execution
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusSkip  Status = "skip"
	StatusError Status = "error"
)

// String implements the Stringer interface for Status
func (s Status) String() string {
	return string(s)
}

// CaseResult captures the outcome of a single unittest case reported by an
// entry point, e.g. "test_parts (test_parallel_render.RangesTest) ... ok".
type CaseResult struct {
	Name    string // test method name
	Class   string // dotted module.Class path
	Status  Status
	Message string // failure/error traceback or skip reason, if any
}

// FullName returns the case name qualified by its class path.
func (c *CaseResult) FullName() string {
	if c.Class == "" {
		return c.Name
	}
	return c.Class + "." + c.Name
}

// EntrypointResult captures the outcome of one test entry point invocation
type EntrypointResult struct {
	Metadata EntrypointMetadata
	Status   Status
	Error    error
	Duration time.Duration
	Cases    map[string]*CaseResult // individual unittest cases, keyed by FullName
	Ran      int                    // count reported by the trailing "Ran N tests" line
	Stdout   string                 // captured stdout, kept for failing entry points
	Stderr   string                 // captured stderr, kept for failing entry points
	TimedOut bool
}

// CaseStats tallies case outcomes for an EntrypointResult.
func (r *EntrypointResult) CaseStats() (passed, failed, skipped int) {
	for _, c := range r.Cases {
		switch c.Status {
		case StatusPass:
			passed++
		case StatusFail, StatusError:
			failed++
		case StatusSkip:
			skipped++
		}
	}
	return passed, failed, skipped
}

// DisplayName returns a short, readable name for an entry point based on its
// configured name or, failing that, the basename of its script.
func DisplayName(name string, metadata EntrypointMetadata) string {
	if name != "" {
		return name
	}
	if metadata.Script != "" {
		parts := strings.Split(metadata.Script, "/")
		return parts[len(parts)-1]
	}
	return metadata.ID
}
