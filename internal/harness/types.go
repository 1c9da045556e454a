package harness

import (
	"encoding/json"
	"fmt"
)

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Target string `json:"target"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// String renders the event as one trace line:
//
//	[2] get people.byName -> {"id":1,"name":"Ann"}
//	[3] add people -> ConstraintError
func (e TraceEvent) String() string {
	if e.Error != "" {
		return fmt.Sprintf("[%d] %s %s -> %s", e.Step, e.Op, e.Target, e.Error)
	}
	data, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Sprintf("[%d] %s %s -> %v", e.Step, e.Op, e.Target, e.Result)
	}
	return fmt.Sprintf("[%d] %s %s -> %s", e.Step, e.Op, e.Target, data)
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
