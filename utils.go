package acceptor

import (
	"github.com/blendertools/infra/addon-acceptor/types"
)

// Helper function to convert bool to int
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a colored string representing the result
func getResultString(status types.Status) string {
	switch status {
	case types.StatusPass:
		return "✓ pass"
	case types.StatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}
