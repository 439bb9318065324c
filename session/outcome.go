package session

import (
	"errors"

	"gitlab.com/stephen-fox/elfstr/elfkit"
	"gitlab.com/stephen-fox/elfstr/iokit"
	"gitlab.com/stephen-fox/elfstr/patch"
	"gitlab.com/stephen-fox/elfstr/strscan"
)

// Outcome classifies how a run ended.
type Outcome int

const (
	OutcomePatched Outcome = iota
	OutcomeUsage
	OutcomeNoStrings
	OutcomeInvalidIndex
	OutcomeTooLong
	OutcomeLoadFailed
	OutcomeWriteFailed
)

// OutcomeOf maps an error returned by this package, or by the packages
// it drives, to an Outcome. A nil error is OutcomePatched. Errors that
// do not belong to the taxonomy are OutcomeUsage.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomePatched
	case errors.Is(err, ErrNoStrings):
		return OutcomeNoStrings
	case errors.Is(err, strscan.ErrIndexOutOfRange):
		return OutcomeInvalidIndex
	case errors.Is(err, patch.ErrReplacementTooLong):
		return OutcomeTooLong
	case errors.Is(err, ErrLoadFailed),
		errors.Is(err, elfkit.ErrTruncated),
		errors.Is(err, elfkit.ErrMalformedHeader),
		errors.Is(err, elfkit.ErrNameTableOverrun):
		return OutcomeLoadFailed
	case errors.Is(err, iokit.ErrWriteFailed):
		return OutcomeWriteFailed
	default:
		return OutcomeUsage
	}
}

// ExitCode returns a process exit status that is unique per Outcome.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomePatched:
		return 0
	case OutcomeUsage:
		return 1
	case OutcomeNoStrings:
		return 2
	case OutcomeInvalidIndex:
		return 3
	case OutcomeTooLong:
		return 4
	case OutcomeLoadFailed:
		return 5
	case OutcomeWriteFailed:
		return 6
	default:
		return 1
	}
}

// Recoverable reports whether the operator can retry the input that
// caused the outcome without starting over.
func (o Outcome) Recoverable() bool {
	return o == OutcomeInvalidIndex || o == OutcomeTooLong
}

func (o Outcome) String() string {
	switch o {
	case OutcomePatched:
		return "patched"
	case OutcomeUsage:
		return "usage error"
	case OutcomeNoStrings:
		return "no strings found"
	case OutcomeInvalidIndex:
		return "invalid index"
	case OutcomeTooLong:
		return "replacement too long"
	case OutcomeLoadFailed:
		return "load failed"
	case OutcomeWriteFailed:
		return "write failed"
	default:
		return "unknown"
	}
}
