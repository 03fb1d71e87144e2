// Package store persists the harness event stream to SQLite.
//
// Every event the harness dispatches (run start, step wait, step and test
// results, harness failures) is written as one row, stamped with a
// monotonic logical sequence number, under a caller-chosen run id. The
// log is append-only and is read back by the CLI's trace command for
// post-run inspection.
//
// Sink implements native.EventSink and tees each persisted event to an
// optional downstream sink, so persistence composes with the runtime's
// own reporter instead of replacing it.
package store
