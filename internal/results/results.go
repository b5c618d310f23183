// Package results defines build result codes and their textual forms.
package results

// Code is a build result code. The numeric values are stable and stored in
// the database.
type Code int

const (
	Success Code = iota
	Warnings
	Failure
	Skipped
	Exception
	Retry
	Cancelled
)

var codeNames = map[Code]string{
	Success:   "success",
	Warnings:  "warnings",
	Failure:   "failure",
	Skipped:   "skipped",
	Exception: "exception",
	Retry:     "retry",
	Cancelled: "cancelled",
}

// String returns the lowercase name of the result code, or "unknown" for
// out-of-range values.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// DetectedStatusText describes a result in terms of the generator modes that
// observed it, taking the previous build's result into account. Used for
// subject lines.
func DetectedStatusText(modes []string, current Code, previous *Code) string {
	hasMode := func(m string) bool {
		for _, mode := range modes {
			if mode == m {
				return true
			}
		}
		return false
	}

	switch current {
	case Failure:
		if (hasMode("change") || hasMode("problem")) && previous != nil && *previous != Failure {
			return "new failure"
		}
		return "failed build"
	case Warnings:
		return "problem in the build"
	case Success:
		if hasMode("change") && previous != nil && *previous != current {
			return "restored build"
		}
		return "passing build"
	case Exception:
		return "build exception"
	default:
		return current.String() + " build"
	}
}
