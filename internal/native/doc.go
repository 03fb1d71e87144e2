// Package native defines the contract between the proctor harness and the
// runtime that embeds it.
//
// The harness never reaches into ambient runtime state. Everything it needs
// from the layer below - registration of tests and steps, async-op and
// resource introspection, permission pledging, event dispatch, the process
// exit hook, and scheduler turns - is expressed as an interface in this
// package and injected at construction time. This keeps the harness fully
// testable against a simulated runtime (see internal/simrt).
//
// Implementations of these interfaces are expected to be called from the
// single goroutine that drives test execution. None of them are required to
// be safe for concurrent use.
package native
