package harness

// Refreshed is one refresh result observed during a step.
type Refreshed struct {
	Key    string `json:"key"`
	Action string `json:"action"`
}

// TraceEvent records one executed step and the refreshes it caused.
type TraceEvent struct {
	Step      int         `json:"step"`
	Op        string      `json:"op"`
	Arg       string      `json:"arg,omitempty"`
	Error     string      `json:"error,omitempty"`
	Refreshed []Refreshed `json:"refreshed,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, registration included.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Documents is the final content of every derived collection, keyed
	// by entity name, then decimal pk.
	Documents map[string]map[string]any `json:"documents,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Documents: make(map[string]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a step to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Refreshes returns every refresh of the trace in order.
func (r *Result) Refreshes() []Refreshed {
	var out []Refreshed
	for _, ev := range r.Trace {
		out = append(out, ev.Refreshed...)
	}
	return out
}
