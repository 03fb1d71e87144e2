// Package scenario defines and executes declarative harness scenarios.
//
// A scenario is a YAML file describing one or more tests to register with
// the harness, the simulated runtime activity their bodies perform
// (dispatching and completing async ops, opening and closing resources,
// attempting to exit, running nested steps), and the outcome each test is
// expected to produce. Scenarios execute against internal/simrt with
// deterministic origins and a stepped clock, so the same scenario always
// yields an identical event trace - which makes traces suitable for
// golden file comparison.
//
// # Scenario format
//
//	name: leaky_timer
//	description: "an unawaited timer op fails the ops sanitizer"
//	setup:
//	  - open_resource: { kind: fsFile, as: pre }
//	tests:
//	  - name: leaks a timer
//	    sanitize_resources: false
//	    actions:
//	      - start_op: { kind: timer, as: t1 }
//	    expect:
//	      outcome: failed
//	      failure: leakedOps
//	      message_contains: ["start a timer"]
//
// Setup actions run before any test, establishing the pre-test baseline
// that sanitizer diffs must ignore. Nested steps appear as actions so
// that their ordering relative to runtime activity is explicit.
//
// Files are validated twice on load: strict YAML field checking (typos
// are load errors), then structural validation against the embedded CUE
// schema.
package scenario
