package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one scheduler run with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE files holding callback declarations. Relative paths
	// are resolved against the scenario file's directory by LoadScenario.
	Specs []string `yaml:"specs"`

	// Budget overrides the scheduler's concurrency ceiling.
	Budget int `yaml:"budget,omitempty"`

	// Groups scripts the execution-group tokens, in order.
	Groups []string `yaml:"groups,omitempty"`

	// Tree is the component tree mounted before the first step.
	Tree []Component `yaml:"tree"`

	// Callbacks scripts callback results by callback name.
	Callbacks map[string]CallbackScript `yaml:"callbacks,omitempty"`

	// Steps run in order; the scheduler is drained after each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the recorded trace and the final tree.
	Assertions []Assertion `yaml:"assertions"`
}

// Component is one mounted tree node.
type Component struct {
	// ID is a string or a mapping of scalar values.
	ID any `yaml:"id"`

	// Props restricts the addressable properties. Empty means any.
	Props []string `yaml:"props,omitempty"`

	// Values are initial property values.
	Values map[string]any `yaml:"values,omitempty"`

	// Loading holds readiness probes until a finish_loading step.
	Loading bool `yaml:"loading,omitempty"`
}

// CallbackScript overrides the default echo behavior.
type CallbackScript struct {
	// Error fails every invocation with this message.
	Error string `yaml:"error,omitempty"`

	// NoUpdate settles without writing any output.
	NoUpdate bool `yaml:"no_update,omitempty"`

	// Value is written to every output.
	Value any `yaml:"value,omitempty"`

	// Sum writes the sum of all numeric input values to every output.
	Sum bool `yaml:"sum,omitempty"`
}

// Step is one external action. Exactly one field is set.
type Step struct {
	// Start requests the initial calls.
	Start bool `yaml:"start,omitempty"`

	// Set writes a value as a user edit and triggers its readers.
	Set *SetStep `yaml:"set,omitempty"`

	// Mount adds a component and requests initial calls touching it.
	Mount *Component `yaml:"mount,omitempty"`

	// Unmount removes the component with this id.
	Unmount any `yaml:"unmount,omitempty"`

	// FinishLoading releases readiness probes waiting on this id.
	FinishLoading any `yaml:"finish_loading,omitempty"`
}

// SetStep is a user edit of one endpoint.
type SetStep struct {
	ID       any    `yaml:"id"`
	Property string `yaml:"property"`
	Value    any    `yaml:"value"`
}

// Assertion validates the trace or the final tree.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Callback names the callback (call_count, dropped).
	Callback string `yaml:"callback,omitempty"`

	// Callbacks lists callback names (calls, call_order).
	Callbacks []string `yaml:"callbacks,omitempty"`

	// Count is the expected number (call_count, error_count).
	Count *int `yaml:"count,omitempty"`

	// Reason is the drop reason (dropped).
	Reason string `yaml:"reason,omitempty"`

	// ID, Property and Value select and check an endpoint (final_value).
	ID       any    `yaml:"id,omitempty"`
	Property string `yaml:"property,omitempty"`
	Value    any    `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertCalls      = "calls"
	AssertCallOrder  = "call_order"
	AssertCallCount  = "call_count"
	AssertDropped    = "dropped"
	AssertFinalValue = "final_value"
	AssertErrorCount = "error_count"
)

// LoadScenario reads a scenario YAML file, rejecting unknown fields, and
// resolves spec paths against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, spec := range scenario.Specs {
		if !filepath.IsAbs(spec) {
			scenario.Specs[i] = filepath.Join(base, spec)
		}
	}
	for _, spec := range scenario.Specs {
		if _, err := os.Stat(spec); err != nil {
			return nil, fmt.Errorf("invalid scenario: spec file not found: %s", spec)
		}
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Spec paths are left
// as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Budget < 0 {
		return fmt.Errorf("budget must be positive")
	}

	for i, c := range s.Tree {
		if c.ID == nil {
			return fmt.Errorf("tree[%d]: id is required", i)
		}
	}
	for name, script := range s.Callbacks {
		set := 0
		for _, on := range []bool{script.Error != "", script.NoUpdate, script.Value != nil, script.Sum} {
			if on {
				set++
			}
		}
		if set > 1 {
			return fmt.Errorf("callbacks.%s: error, no_update, value and sum are exclusive", name)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	set := 0
	if step.Start {
		set++
	}
	if step.Set != nil {
		set++
		if step.Set.ID == nil || step.Set.Property == "" {
			return fmt.Errorf("steps[%d].set: id and property are required", index)
		}
	}
	if step.Mount != nil {
		set++
		if step.Mount.ID == nil {
			return fmt.Errorf("steps[%d].mount: id is required", index)
		}
	}
	if step.Unmount != nil {
		set++
	}
	if step.FinishLoading != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of start, set, mount, unmount, finish_loading is required", index)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertCalls:
		if a.Callbacks == nil {
			return fmt.Errorf("assertions[%d]: callbacks is required for calls", index)
		}
	case AssertCallOrder:
		if len(a.Callbacks) == 0 {
			return fmt.Errorf("assertions[%d]: callbacks list is required for call_order", index)
		}
	case AssertCallCount:
		if a.Callback == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: callback and count are required for call_count", index)
		}
	case AssertDropped:
		if a.Callback == "" || a.Reason == "" {
			return fmt.Errorf("assertions[%d]: callback and reason are required for dropped", index)
		}
	case AssertFinalValue:
		if a.ID == nil || a.Property == "" {
			return fmt.Errorf("assertions[%d]: id and property are required for final_value", index)
		}
	case AssertErrorCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for error_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count != nil && *a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
