// Package harness implements the correctness-enforcement core of the
// proctor test runner: sanitizers, the nested step state machine, and
// per-test permission scoping.
//
// # Execution model
//
// Registration builds a wrapped body for every test from a fixed pipeline
// of wrappers, innermost to outermost:
//
//	inner execution (overlap check, user body, child sweep)
//	  -> op sanitizer        (if enabled)
//	  -> resource sanitizer  (if enabled)
//	  -> exit sanitizer      (if enabled)
//	  -> permission scoper   (top-level tests only)
//	  -> outer wrapper       (ignore short-circuit, panic capture,
//	                          forced completion of pending steps)
//
// The pipeline is composed once per description based on its flags and
// never changes afterwards.
//
// # Concurrency
//
// The harness is single-threaded by design. All registration, execution
// and state mutation happen on the goroutine that calls Run. Sanitizers
// only ever read runtime state through native.Introspection snapshots;
// they never mutate it.
//
// # Sanitizers
//
// The op sanitizer diffs async-op dispatch/completion counters captured
// before and after the body, per op kind, against the body's own baseline.
// The resource sanitizer diffs the open resource table. The exit sanitizer
// intercepts process-exit attempts and turns them into test failures.
// Every sanitizer converts what it finds into a structured native.Outcome;
// nothing above the outer wrapper ever sees a raw panic from a test body.
package harness
