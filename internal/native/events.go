package native

// Event is the closed set of structured events the harness dispatches to
// the runtime's reporter.
type Event interface {
	event()
}

// RunStart announces that execution of a registered batch is beginning.
type RunStart struct {
	Tests int
}

// StepWait announces that a step has been registered and is about to run.
type StepWait struct {
	ID int64
}

// StepResult reports the outcome of a single step.
type StepResult struct {
	ID        int64
	Outcome   Outcome
	ElapsedMs int64
}

// TestResult reports the outcome of a top-level test.
type TestResult struct {
	ID        int64
	Outcome   Outcome
	ElapsedMs int64
}

// RunFailed reports a harness-level failure that is not attributable to a
// single test body (e.g. the execution machinery itself panicked).
type RunFailed struct {
	Message string
}

func (RunStart) event()   {}
func (StepWait) event()   {}
func (StepResult) event() {}
func (TestResult) event() {}
func (RunFailed) event()  {}
