package harness

// Trace entry types.
const (
	TraceInvocation = "invocation"
	TraceCompletion = "completion"
	TraceEvent      = "event"
)

// TraceEntry is one line of a scenario trace: a step's invocation, its
// completion, or one event the completion carried.
//
// Schedule ids are replaced by their scenario aliases ($name) and amounts
// are rendered in token units, so traces read the way scenarios are written.
type TraceEntry struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`

	// Invocation fields.
	As     string         `json:"as,omitempty"`
	At     int64          `json:"at,omitempty"`
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`

	// Completion fields.
	OutputCase string         `json:"output_case,omitempty"`
	Result     map[string]any `json:"result,omitempty"`

	// Event fields.
	Event map[string]any `json:"event,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains the invocations, completions and events in seq order.
	Trace []TraceEntry `json:"trace"`

	// Errors describes each failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	// Saved maps each save name to the schedule id it captured.
	Saved map[string]string `json:"saved,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
		Saved:  make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
