package harness

import (
	"context"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/proctor/internal/native"
)

// node is the per-test/per-step execution state. Nodes form a tree rooted
// at a top-level test; steps point at their parent rather than capturing
// it in closures, so overlap detection is a plain pointer walk.
//
// INVARIANTS:
//   - completed transitions false -> true exactly once, never back
//   - children is append-only, in registration order
//   - rootID/rootName are identical across a whole tree
type node struct {
	id     int64
	name   string
	fn     Fn
	origin string

	ignore bool
	only   bool

	sanitizeOps       bool
	sanitizeResources bool
	sanitizeExit      bool

	permissions *native.Permissions
	location    native.Location

	parent   *node // nil for top-level tests
	level    int   // root = 0
	rootID   int64
	rootName string

	children  []*node
	completed bool
	failed    bool

	context *T
	wrapped func(ctx context.Context) native.Outcome
}

// usesSanitizer reports whether any sanitizer is enabled for the node.
func (n *node) usesSanitizer() bool {
	return n.sanitizeOps || n.sanitizeResources || n.sanitizeExit
}

// markCompleted sets the completed flag. Idempotent, so the flag only
// ever transitions once.
func (n *node) markCompleted() {
	n.completed = true
}

// fullName is the ancestor chain joined with " > ", used to name steps
// in overlap failures.
func (n *node) fullName() string {
	if n.parent == nil {
		return n.name
	}
	return n.parent.fullName() + " > " + n.name
}

// registry is the state store: an arena of nodes indexed by the
// runtime-assigned identifier, plus the ordered list of top-level tests.
//
// Mutation happens only on the execution goroutine, between suspension
// points; no locking is needed.
type registry struct {
	nodes map[int64]*node
	roots []*node
}

func newRegistry() *registry {
	return &registry{nodes: make(map[int64]*node)}
}

// addRoot records a newly registered top-level test.
func (r *registry) addRoot(n *node) {
	r.nodes[n.id] = n
	r.roots = append(r.roots, n)
}

// addStep records a newly registered step under its parent.
func (r *registry) addStep(n *node) {
	r.nodes[n.id] = n
	n.parent.children = append(n.parent.children, n)
}

func (r *registry) get(id int64) (*node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// pendingSiblings walks from n up through every ancestor and collects, at
// each level, siblings that have not yet completed. The walk happens
// synchronously before a step body starts, so the completion snapshot it
// sees is up to date.
func (r *registry) pendingSiblings(n *node) []*node {
	var pending []*node
	for child := n; child.parent != nil; child = child.parent {
		for _, sibling := range child.parent.children {
			if sibling.id == child.id {
				continue
			}
			if !sibling.completed {
				pending = append(pending, sibling)
			}
		}
	}
	return pending
}

// normalizeName puts a test or step name into NFC so that qualified names
// built from it compare consistently regardless of the caller's encoding.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// qualifiedNames renders the fully-qualified name of every node, in order.
func qualifiedNames(nodes []*node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.fullName()
	}
	return names
}
