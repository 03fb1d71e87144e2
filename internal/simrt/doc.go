// Package simrt is a simulated native runtime implementing the full
// contract in internal/native.
//
// It backs two consumers: the package tests of internal/harness, and the
// scenario runner (internal/scenario), which executes declarative test
// scripts against it. The simulation models exactly the state the harness
// observes - async-op counters with optional call traces, the open
// resource table, the exit-handler slot, the permission scope stack, and
// a macrotask turn queue for deferred op completion - and nothing else.
//
// The turn queue is what makes the op-sanitizer drain observable: an op
// completion scheduled with CompleteOpOnTurn(id, n) only lands after the
// scheduler has been drained n more turns, mirroring runtimes that defer
// cancelled-timer cleanup by a turn.
//
// A Runtime is not safe for concurrent use; like the harness itself it is
// driven from a single goroutine.
package simrt
