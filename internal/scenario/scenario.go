package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one declarative harness run.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden
	// file and the event-log run id.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description" json:"description"`

	// TraceOps enables op call tracing in the simulated runtime.
	TraceOps bool `yaml:"trace_ops,omitempty" json:"trace_ops,omitempty"`

	// DrainTurns overrides the op-sanitizer drain turn count. 0 keeps
	// the harness default.
	DrainTurns int `yaml:"drain_turns,omitempty" json:"drain_turns,omitempty"`

	// Setup actions run before any test registers, establishing runtime
	// state that predates every test body.
	Setup []Action `yaml:"setup,omitempty" json:"setup,omitempty"`

	// Tests are registered in order and executed by a single harness run.
	Tests []TestSpec `yaml:"tests" json:"tests"`
}

// TestSpec declares one top-level test.
type TestSpec struct {
	Name   string `yaml:"name" json:"name"`
	Ignore bool   `yaml:"ignore,omitempty" json:"ignore,omitempty"`
	Only   bool   `yaml:"only,omitempty" json:"only,omitempty"`

	// Sanitizer settings; omitted means inherit (on, at the top level).
	SanitizeOps       *bool `yaml:"sanitize_ops,omitempty" json:"sanitize_ops,omitempty"`
	SanitizeResources *bool `yaml:"sanitize_resources,omitempty" json:"sanitize_resources,omitempty"`
	SanitizeExit      *bool `yaml:"sanitize_exit,omitempty" json:"sanitize_exit,omitempty"`

	// Permissions maps category name (env, ffi, import, net, read, run,
	// sys, write) to a permission request.
	Permissions map[string]PermissionRequest `yaml:"permissions,omitempty" json:"permissions,omitempty"`

	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`

	Expect *Expect `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// PermissionRequest is the scenario form of one category's setting.
type PermissionRequest struct {
	State string   `yaml:"state" json:"state"` // granted | denied
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
}

// Action is one scripted operation inside a test or step body. Exactly
// one field may be set.
type Action struct {
	// StartOp dispatches a simulated async op.
	StartOp *StartOp `yaml:"start_op,omitempty" json:"start_op,omitempty"`

	// CompleteOp completes the op registered under the given ref.
	CompleteOp string `yaml:"complete_op,omitempty" json:"complete_op,omitempty"`

	// CompleteOpOnTurn schedules the op's completion for a future
	// scheduler turn, observable only through the sanitizer drain.
	CompleteOpOnTurn *DeferredComplete `yaml:"complete_op_on_turn,omitempty" json:"complete_op_on_turn,omitempty"`

	// CompleteForeignOp completes an op of the given kind that was never
	// dispatched inside the counters window (an over-completion).
	CompleteForeignOp string `yaml:"complete_foreign_op,omitempty" json:"complete_foreign_op,omitempty"`

	// OpenResource adds an entry to the resource table.
	OpenResource *OpenResource `yaml:"open_resource,omitempty" json:"open_resource,omitempty"`

	// CloseResource removes the resource registered under the ref.
	CloseResource string `yaml:"close_resource,omitempty" json:"close_resource,omitempty"`

	// ReplaceResource rebinds the ref's rid to a different kind.
	ReplaceResource *ReplaceResource `yaml:"replace_resource,omitempty" json:"replace_resource,omitempty"`

	// Exit invokes the process-exit primitive with the given code.
	Exit *int `yaml:"exit,omitempty" json:"exit,omitempty"`

	// Fail makes the body return an error with this message.
	Fail string `yaml:"fail,omitempty" json:"fail,omitempty"`

	// Step runs a nested step on the current node's context.
	Step *StepSpec `yaml:"step,omitempty" json:"step,omitempty"`

	// ParentStep registers a step on the parent's context while the
	// current step is still pending, provoking sibling overlap.
	ParentStep *StepSpec `yaml:"parent_step,omitempty" json:"parent_step,omitempty"`
}

// StartOp dispatches a simulated async op, remembered under As for later
// completion.
type StartOp struct {
	Kind string `yaml:"kind" json:"kind"`
	As   string `yaml:"as,omitempty" json:"as,omitempty"`
}

// DeferredComplete schedules completion of Ref's op on a future turn.
type DeferredComplete struct {
	Ref  string `yaml:"ref" json:"ref"`
	Turn int    `yaml:"turn" json:"turn"`
}

// OpenResource opens a simulated resource, remembered under As.
type OpenResource struct {
	Kind string `yaml:"kind" json:"kind"`
	As   string `yaml:"as,omitempty" json:"as,omitempty"`
}

// ReplaceResource rebinds Ref's rid to Kind.
type ReplaceResource struct {
	Ref  string `yaml:"ref" json:"ref"`
	Kind string `yaml:"kind" json:"kind"`
}

// StepSpec declares a nested step inside an action list.
type StepSpec struct {
	Name   string `yaml:"name" json:"name"`
	Ignore bool   `yaml:"ignore,omitempty" json:"ignore,omitempty"`

	SanitizeOps       *bool `yaml:"sanitize_ops,omitempty" json:"sanitize_ops,omitempty"`
	SanitizeResources *bool `yaml:"sanitize_resources,omitempty" json:"sanitize_resources,omitempty"`
	SanitizeExit      *bool `yaml:"sanitize_exit,omitempty" json:"sanitize_exit,omitempty"`

	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Expect is the outcome a test must produce.
type Expect struct {
	Outcome string `yaml:"outcome" json:"outcome"` // ok | ignored | failed

	// Failure names the expected failure variant (native.FailureName)
	// when Outcome is "failed".
	Failure string `yaml:"failure,omitempty" json:"failure,omitempty"`

	// MessageContains are substrings the rendered failure message must
	// contain.
	MessageContains []string `yaml:"message_contains,omitempty" json:"message_contains,omitempty"`
}

// Load reads, strictly parses, and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse strictly parses and validates scenario YAML.
// Unknown fields (typos like "expct:") are load errors, as is any
// violation of the embedded CUE schema.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := validate(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// validate checks structural rules the schema cannot express cheaply:
// ref bookkeeping and one-field-per-action.
func validate(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if sc.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(sc.Tests) == 0 {
		return fmt.Errorf("tests list is required and must be non-empty")
	}
	if sc.DrainTurns < 0 {
		return fmt.Errorf("drain_turns must be non-negative")
	}

	if err := validateActions("setup", sc.Setup); err != nil {
		return err
	}
	for i, test := range sc.Tests {
		if test.Name == "" {
			return fmt.Errorf("tests[%d]: name is required", i)
		}
		for cat := range test.Permissions {
			if !validPermissionCategory(cat) {
				return fmt.Errorf("tests[%d]: unknown permission category %q", i, cat)
			}
		}
		if err := validateActions(fmt.Sprintf("tests[%d].actions", i), test.Actions); err != nil {
			return err
		}
		if test.Expect != nil {
			switch test.Expect.Outcome {
			case "ok", "ignored", "failed":
			default:
				return fmt.Errorf("tests[%d].expect: outcome must be ok, ignored or failed", i)
			}
			if test.Expect.Failure != "" && test.Expect.Outcome != "failed" {
				return fmt.Errorf("tests[%d].expect: failure requires outcome: failed", i)
			}
		}
	}
	return nil
}

func validateActions(path string, actions []Action) error {
	for i, a := range actions {
		set := 0
		if a.StartOp != nil {
			set++
			if a.StartOp.Kind == "" {
				return fmt.Errorf("%s[%d].start_op: kind is required", path, i)
			}
		}
		if a.CompleteOp != "" {
			set++
		}
		if a.CompleteOpOnTurn != nil {
			set++
			if a.CompleteOpOnTurn.Ref == "" || a.CompleteOpOnTurn.Turn < 1 {
				return fmt.Errorf("%s[%d].complete_op_on_turn: ref and turn >= 1 are required", path, i)
			}
		}
		if a.CompleteForeignOp != "" {
			set++
		}
		if a.OpenResource != nil {
			set++
			if a.OpenResource.Kind == "" {
				return fmt.Errorf("%s[%d].open_resource: kind is required", path, i)
			}
		}
		if a.CloseResource != "" {
			set++
		}
		if a.ReplaceResource != nil {
			set++
			if a.ReplaceResource.Ref == "" || a.ReplaceResource.Kind == "" {
				return fmt.Errorf("%s[%d].replace_resource: ref and kind are required", path, i)
			}
		}
		if a.Exit != nil {
			set++
		}
		if a.Fail != "" {
			set++
		}
		if a.Step != nil {
			set++
			if err := validateStep(fmt.Sprintf("%s[%d].step", path, i), a.Step); err != nil {
				return err
			}
		}
		if a.ParentStep != nil {
			set++
			if err := validateStep(fmt.Sprintf("%s[%d].parent_step", path, i), a.ParentStep); err != nil {
				return err
			}
		}
		if set != 1 {
			return fmt.Errorf("%s[%d]: exactly one action field must be set (got %d)", path, i, set)
		}
	}
	return nil
}

func validateStep(path string, step *StepSpec) error {
	if step.Name == "" {
		return fmt.Errorf("%s: name is required", path)
	}
	return validateActions(path+".actions", step.Actions)
}

func validPermissionCategory(cat string) bool {
	switch cat {
	case "env", "ffi", "import", "net", "read", "run", "sys", "write":
		return true
	default:
		return false
	}
}
