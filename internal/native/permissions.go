package native

import (
	"fmt"
	"sort"
	"strings"
)

// PermissionState is the tri-state requested for one permission category.
type PermissionState int

const (
	// PermInherit leaves the category at the enclosing scope's setting.
	PermInherit PermissionState = iota
	// PermGranted allows the category, optionally narrowed by Allow.
	PermGranted
	// PermDenied revokes the category entirely.
	PermDenied
)

// PermissionSpec is the requested setting for a single category.
// Allow narrows a granted category to specific targets (hosts, paths,
// variable names); it is ignored unless State is PermGranted.
type PermissionSpec struct {
	State PermissionState
	Allow []string
}

// Permissions is a declarative permission set requested for the duration
// of a test body. The zero value inherits everything.
type Permissions struct {
	Env    PermissionSpec
	FFI    PermissionSpec
	Import PermissionSpec
	Net    PermissionSpec
	Read   PermissionSpec
	Run    PermissionSpec
	Sys    PermissionSpec
	Write  PermissionSpec
}

// IsInherit reports whether the set requests no change at all.
func (p Permissions) IsInherit() bool {
	for _, spec := range p.categories() {
		if spec.State != PermInherit {
			return false
		}
	}
	return true
}

func (p Permissions) categories() map[string]PermissionSpec {
	return map[string]PermissionSpec{
		"env":    p.Env,
		"ffi":    p.FFI,
		"import": p.Import,
		"net":    p.Net,
		"read":   p.Read,
		"run":    p.Run,
		"sys":    p.Sys,
		"write":  p.Write,
	}
}

// Serialize renders the set in the wire form consumed by Pledge:
// one "category=state[:target,target]" term per non-inherit category,
// in category name order.
func (p Permissions) Serialize() string {
	cats := p.categories()
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Strings(names)

	var terms []string
	for _, name := range names {
		spec := cats[name]
		switch spec.State {
		case PermInherit:
			continue
		case PermDenied:
			terms = append(terms, name+"=denied")
		case PermGranted:
			if len(spec.Allow) == 0 {
				terms = append(terms, name+"=granted")
			} else {
				terms = append(terms, fmt.Sprintf("%s=granted:%s", name, strings.Join(spec.Allow, ",")))
			}
		}
	}
	return strings.Join(terms, ";")
}

// PledgeToken is the opaque value returned by Pledge. It captures the
// prior permission scope and is redeemed exactly once by Restore.
type PledgeToken int64

// PermissionController narrows and restores the ambient permission scope.
type PermissionController interface {
	// Pledge swaps the current scope for the requested set and returns a
	// token for the prior scope.
	Pledge(p Permissions) (PledgeToken, error)

	// Restore reinstates the scope captured by token.
	Restore(token PledgeToken) error
}
