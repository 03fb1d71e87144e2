package harness

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/proctor/internal/native"
)

// resourceName describes a resource kind for leak messages.
type resourceName struct {
	noun      string // "A file"
	openVerb  string // "opened"
	closeVerb string // "closed"
}

// resourceNames maps resource kinds to descriptive nouns and verbs.
// Kinds not listed fall back to a quoted kind name.
var resourceNames = map[string]resourceName{
	"fsFile":         {"A file", "opened", "closed"},
	"tcpStream":      {"A TCP connection", "opened/accepted", "closed"},
	"tcpListener":    {"A TCP listener", "opened", "closed"},
	"unixStream":     {"A Unix connection", "opened/accepted", "closed"},
	"unixListener":   {"A Unix listener", "opened", "closed"},
	"udpSocket":      {"A UDP socket", "opened", "closed"},
	"tlsStream":      {"A TLS connection", "opened/accepted", "closed"},
	"tlsListener":    {"A TLS listener", "opened", "closed"},
	"timer":          {"A timer", "started", "fired/cleared"},
	"childProcess":   {"A child process", "started", "closed"},
	"childStdin":     {"A child process stdin", "opened", "closed"},
	"childStdout":    {"A child process stdout", "opened", "closed"},
	"childStderr":    {"A child process stderr", "opened", "closed"},
	"fetchRequest":   {"A fetch request", "started", "finished"},
	"fetchResponse":  {"A fetch response body", "created", "consumed"},
	"compression":    {"A compression stream", "created", "closed"},
	"fsEventWatcher": {"A file system watcher", "created", "closed"},
}

func nameForResource(kind string) resourceName {
	if n, ok := resourceNames[kind]; ok {
		return n
	}
	return resourceName{
		noun:      fmt.Sprintf("A %q resource", kind),
		openVerb:  "created",
		closeVerb: "cleaned up",
	}
}

// resourceCloseHints maps resource kinds to an actionable remediation.
// Kinds not listed fall back to a generic hint.
var resourceCloseHints = map[string]string{
	"fsFile":         "Close the file handle by calling `file.close()`.",
	"tcpStream":      "Close the TCP connection by calling `tcpConn.close()`.",
	"tcpListener":    "Close the TCP listener by calling `tcpListener.close()`.",
	"unixStream":     "Close the Unix socket connection by calling `unixConn.close()`.",
	"unixListener":   "Close the Unix socket listener by calling `unixListener.close()`.",
	"udpSocket":      "Close the UDP socket by calling `udpConn.close()`.",
	"tlsStream":      "Close the TLS connection by calling `tlsConn.close()`.",
	"tlsListener":    "Close the TLS listener by calling `tlsListener.close()`.",
	"timer":          "Clear the timer by calling `clearInterval` or `clearTimeout`.",
	"childProcess":   "Close the child process by calling `child.kill()` and awaiting its status.",
	"childStdin":     "Close the child process stdin by calling `child.stdin.close()`.",
	"childStdout":    "Close the child process stdout by calling `child.stdout.close()` or awaiting its completion.",
	"childStderr":    "Close the child process stderr by calling `child.stderr.close()` or awaiting its completion.",
	"fetchRequest":   "Await the promise returned from `fetch()` or abort it with an `AbortSignal`.",
	"fetchResponse":  "Consume or cancel the response body.",
	"compression":    "Close the compression stream by awaiting its completion.",
	"fsEventWatcher": "Close the file system watcher by calling `watcher.close()`.",
}

func closeHintForResource(kind string) string {
	if hint, ok := resourceCloseHints[kind]; ok {
		return hint
	}
	return "Close the resource before the end of the test."
}

// resourceSanitizer wraps a body with before/after resource-table diffing.
//
// A resource present in both snapshots under the same kind is untouched.
// Present only after: opened but never closed. Present only before, or
// present in both under a different kind (the id was recycled): the body
// closed a resource it did not open.
func (h *Harness) resourceSanitizer() wrapper {
	return func(fn bodyFn) bodyFn {
		return func(ctx context.Context) native.Outcome {
			pre := h.intro.Resources()

			out := fn(ctx)
			if out.Kind == native.OutcomeFailed {
				// The body's own failure takes precedence; skip the diff.
				return out
			}

			post := h.intro.Resources()
			details := resourceLeakDetails(pre, post)
			if len(details) == 0 {
				return out
			}
			return native.Fail(native.LeakedResources{Details: details})
		}
	}
}

// resourceLeakDetails renders one message per leaked resource id, in id
// order for deterministic output.
func resourceLeakDetails(pre, post map[int32]string) []string {
	ids := make([]int32, 0, len(pre)+len(post))
	seen := make(map[int32]bool, len(pre)+len(post))
	for id := range pre {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range post {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var details []string
	for _, id := range ids {
		preKind, inPre := pre[id]
		postKind, inPost := post[id]

		switch {
		case inPre && inPost && preKind == postKind:
			// Untouched.
		case !inPre && inPost:
			name := nameForResource(postKind)
			details = append(details, fmt.Sprintf(
				"%s (rid %d) was %s during the test, but not %s during the test. %s",
				name.noun, id, name.openVerb, name.closeVerb, closeHintForResource(postKind)))
		default:
			// Present only before, or present under a different kind (the
			// rid was recycled): either way the test closed a resource it
			// did not open. Named by the pre-test kind.
			name := nameForResource(preKind)
			details = append(details, fmt.Sprintf(
				"%s (rid %d) was %s during the test, but not %s during the test. "+
					"Do not close resources in a test that were not created during that test.",
				name.noun, id, name.closeVerb, name.openVerb))
		}
	}
	return details
}
