package native

import (
	"fmt"
	"strings"
)

// OutcomeKind classifies the terminal state of a test or step.
type OutcomeKind int

const (
	// OutcomePassed means the body settled with no failure.
	OutcomePassed OutcomeKind = iota
	// OutcomeIgnored means the body was never run.
	OutcomeIgnored
	// OutcomeFailed means the body or a sanitizer produced a failure.
	OutcomeFailed
)

// String returns the lowercase reporting name for the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomePassed:
		return "ok"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of executing one test or step.
// Failure is non-nil exactly when Kind is OutcomeFailed.
type Outcome struct {
	Kind    OutcomeKind
	Failure Failure
}

// Pass returns a passing outcome.
func Pass() Outcome { return Outcome{Kind: OutcomePassed} }

// Ignored returns an ignored outcome.
func Ignored() Outcome { return Outcome{Kind: OutcomeIgnored} }

// Fail wraps a failure into a failed outcome.
func Fail(f Failure) Outcome { return Outcome{Kind: OutcomeFailed, Failure: f} }

// Passed reports whether the outcome is a pass.
func (o Outcome) Passed() bool { return o.Kind == OutcomePassed }

// Failure is the closed set of ways a test or step can fail.
type Failure interface {
	failure()

	// Message renders the failure for human consumption.
	Message() string
}

// ThrownError is an error or panic raised by the user body.
type ThrownError struct {
	Err   error
	Stack string
}

// Incomplete marks a step that was registered but never finished because
// an enclosing scope settled first.
type Incomplete struct{}

// IncompleteSteps marks a node whose body settled while one of its steps
// was still pending.
type IncompleteSteps struct{}

// FailedSteps marks a node whose direct steps failed.
type FailedSteps struct {
	Count int
}

// LeakedOps reports async operations left unbalanced by the body.
// Each detail is a complete human-readable description of one op kind's
// imbalance, including any originating call traces.
type LeakedOps struct {
	Details        []string
	TracingEnabled bool
}

// LeakedResources reports resources opened or closed outside the body's
// ownership. Each detail describes one resource id.
type LeakedResources struct {
	Details []string
}

// OverlapsWithSanitizers marks a step that started while a sanitized
// sibling was still pending. Names are the fully-qualified names of the
// offending siblings.
type OverlapsWithSanitizers struct {
	Names []string
}

// HasSanitizersAndOverlaps marks a sanitized step that started while any
// sibling was still pending.
type HasSanitizersAndOverlaps struct {
	Names []string
}

func (ThrownError) failure()              {}
func (Incomplete) failure()               {}
func (IncompleteSteps) failure()          {}
func (FailedSteps) failure()              {}
func (LeakedOps) failure()                {}
func (LeakedResources) failure()          {}
func (OverlapsWithSanitizers) failure()   {}
func (HasSanitizersAndOverlaps) failure() {}

// Message returns the error text, with the stack appended when captured.
func (f ThrownError) Message() string {
	if f.Stack == "" {
		return f.Err.Error()
	}
	return f.Err.Error() + "\n" + f.Stack
}

func (Incomplete) Message() string {
	return "didn't complete before parent promise resolved"
}

func (IncompleteSteps) Message() string {
	return "1 or more test steps were still pending when the parent settled"
}

func (f FailedSteps) Message() string {
	if f.Count == 1 {
		return "1 test step failed"
	}
	return fmt.Sprintf("%d test steps failed", f.Count)
}

func (f LeakedOps) Message() string {
	msg := "Test case is leaking async ops.\n\n" + strings.Join(f.Details, "\n\n")
	if !f.TracingEnabled {
		msg += "\n\nTo get more details where ops were leaked, run again with --trace-leaks flag."
	}
	return msg
}

func (f LeakedResources) Message() string {
	return "Test case is leaking " + pluralize(len(f.Details), "resource") + ":\n\n" +
		strings.Join(f.Details, "\n")
}

func (f OverlapsWithSanitizers) Message() string {
	return "Started test step while another test step with sanitizers was running:\n" +
		bulleted(f.Names)
}

func (f HasSanitizersAndOverlaps) Message() string {
	return "Started test step with sanitizers while another test step was running:\n" +
		bulleted(f.Names)
}

// FailureName returns the stable reporting name for a failure variant,
// used in persisted event payloads and scenario expectations.
func FailureName(f Failure) string {
	switch f.(type) {
	case ThrownError:
		return "thrown"
	case Incomplete:
		return "incomplete"
	case IncompleteSteps:
		return "incompleteSteps"
	case FailedSteps:
		return "failedSteps"
	case LeakedOps:
		return "leakedOps"
	case LeakedResources:
		return "leakedResources"
	case OverlapsWithSanitizers:
		return "overlapsWithSanitizers"
	case HasSanitizersAndOverlaps:
		return "hasSanitizersAndOverlaps"
	default:
		return "unknown"
	}
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func bulleted(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("  * ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
