package harness

// Trace directions.
const (
	FromClient = "client"
	FromStore  = "store"
)

// TraceEvent is one frame exchanged between the client and the scripted
// store.
type TraceEvent struct {
	Seq      int      `json:"seq"`
	From     string   `json:"from"`
	ID       string   `json:"id,omitempty"`
	Flow     string   `json:"flow,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Origin   []string `json:"origin,omitempty"`
	KnownIDs []string `json:"known_ids,omitempty"`
	Raw      string   `json:"raw,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every frame in the order the harness observed it.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// LogCount, Pending and Seen describe the final state.
	LogCount int `json:"log_count"`
	Pending  int `json:"pending"`
	Seen     int `json:"seen"`
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

// AddTrace appends ev with the next sequence number.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
