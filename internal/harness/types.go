package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int      `json:"seq"`
	Op      string   `json:"op"`
	Target  string   `json:"target,omitempty"`
	Outcome string   `json:"outcome,omitempty"`
	Names   []string `json:"names,omitempty"`
}

// EntrySnapshot is the stable part of a queued mutation.
type EntrySnapshot struct {
	LocalID  string `json:"local_id"`
	Name     string `json:"name"`
	IsUpdate bool   `json:"is_update"`
	Revision int    `json:"revision"`
	Attempts int    `json:"attempts"`
}

// RecipeSnapshot is the stable part of a confirmed recipe.
type RecipeSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ViewSnapshot is the unified view reduced to names.
type ViewSnapshot struct {
	Server     []string `json:"server"`
	Pending    []string `json:"pending"`
	Duplicates []string `json:"duplicates"`
	Loading    bool     `json:"loading"`
}

// FinalState is the state left behind by a scenario.
type FinalState struct {
	Queue         []EntrySnapshot  `json:"queue"`
	DeadLetters   []EntrySnapshot  `json:"dead_letters"`
	Server        []RecipeSnapshot `json:"server"`
	View          ViewSnapshot     `json:"view"`
	Notifications []string         `json:"notifications"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors is empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	Final FinalState `json:"final"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it from 1.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
