package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a runtime scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Models lists demo models to register before Render, by namespace.
	Models []string `yaml:"models,omitempty"`

	// Manifests lists CUE manifest files compiled with the demo bindings.
	// Relative paths are resolved against the scenario file.
	Manifests []string `yaml:"manifests,omitempty"`

	// Validate toggles construction-time checks. Default: true.
	Validate *bool `yaml:"validate,omitempty"`

	// InitialState seeds the store.
	InitialState map[string]any `yaml:"initial_state,omitempty"`

	// Timeout bounds every wait_for step, e.g. "500ms". Default: 2s.
	Timeout string `yaml:"timeout,omitempty"`

	// Steps drive the running app in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one of Dispatch, WaitFor, Model and
// Eject is set.
type Step struct {
	// Dispatch is the action type to dispatch, e.g. "counter/add".
	Dispatch string `yaml:"dispatch,omitempty"`

	// Payload is the dispatched action's payload.
	Payload any `yaml:"payload,omitempty"`

	// WaitFor blocks until the trace holds Count actions of this type.
	WaitFor string `yaml:"wait_for,omitempty"`

	// Count is the number of actions WaitFor waits for. Default: 1.
	Count int `yaml:"count,omitempty"`

	// Model registers a demo model while the app runs.
	Model string `yaml:"model,omitempty"`

	// Eject removes a model while the app runs.
	Eject string `yaml:"eject,omitempty"`
}

// Kind names the step's operation.
func (s Step) Kind() string {
	switch {
	case s.Dispatch != "":
		return "dispatch"
	case s.WaitFor != "":
		return "wait_for"
	case s.Model != "":
		return "model"
	case s.Eject != "":
		return "eject"
	default:
		return ""
	}
}

// Assertion validates trace, state or errors.
type Assertion struct {
	// Type specifies the assertion type (see the Assert* constants).
	Type string `yaml:"type"`

	// Action is the action type (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Payload is the expected payload (trace_contains), subset match.
	Payload any `yaml:"payload,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (trace_count,
	// error_count).
	Count int `yaml:"count,omitempty"`

	// Path is a dotted state path, e.g. "todos.items" (final_state).
	Path string `yaml:"path,omitempty"`

	// Expect is the expected value at Path (final_state), subset match.
	Expect any `yaml:"expect,omitempty"`

	// Code restricts error_count to one taxonomy code.
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertErrorCount    = "error_count"
)

// DefaultTimeout bounds wait_for steps of scenarios without a timeout.
const DefaultTimeout = 2 * time.Second

// LoadScenario reads and parses a scenario YAML file. Manifest paths are
// resolved relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so that
// typos like "assertion:" fail loudly.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, p := range scenario.Manifests {
		if !filepath.IsAbs(p) && baseDir != "" {
			scenario.Manifests[i] = filepath.Join(baseDir, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// WaitTimeout returns the parsed Timeout or DefaultTimeout.
func (s *Scenario) WaitTimeout() time.Duration {
	if s.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

// Validating reports whether construction-time checks are on.
func (s *Scenario) Validating() bool {
	return s.Validate == nil || *s.Validate
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Models) == 0 && len(s.Manifests) == 0 {
		return fmt.Errorf("models or manifests must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Timeout != "" {
		if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("timeout %q is not a positive duration", s.Timeout)
		}
	}

	for _, p := range s.Manifests {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("manifest file not found: %s", p)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s Step) error {
	set := 0
	for _, v := range []string{s.Dispatch, s.WaitFor, s.Model, s.Eject} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of dispatch, wait_for, model, eject is required", index)
	}
	if s.Payload != nil && s.Dispatch == "" {
		return fmt.Errorf("steps[%d]: payload is only allowed on dispatch", index)
	}
	if s.Count < 0 {
		return fmt.Errorf("steps[%d]: count must be non-negative", index)
	}
	if s.Count != 0 && s.WaitFor == "" {
		return fmt.Errorf("steps[%d]: count is only allowed on wait_for", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for final_state", index)
		}
	case AssertErrorCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for error_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
