package harness

// TraceEvent is one reduced action in the trace.
type TraceEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Seq     int64  `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step ran and every assertion matched.
	Pass bool `json:"pass"`

	// Trace contains the reduced user actions in seq order. Reserved
	// runtime actions are left out.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Warnings contains non-fatal findings, e.g. dispatches of action types
	// no model declares.
	Warnings []string `json:"warnings,omitempty"`

	// ErrorCodes lists the taxonomy code of every funneled runtime error.
	ErrorCodes []string `json:"error_codes"`

	// State is the final user-visible state.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		ErrorCodes: []string{},
		State:      make(map[string]any),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddWarning records a non-fatal finding.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
