package ir

// Run describes one scheduler session as persisted by a trace recorder.
type Run struct {
	ID        string `json:"id"`
	GraphHash string `json:"graph_hash"`
	Budget    int    `json:"budget"`
	Callbacks int    `json:"callbacks"`
}

// Transition is one bucket move of one callback instance.
// Seq is a logical clock value; wall-clock time is never recorded.
type Transition struct {
	RunID      string `json:"run_id"`
	Seq        int64  `json:"seq"`
	ResolvedID string `json:"resolved_id"`
	Callback   string `json:"callback"`
	Event      string `json:"event"`
	From       string `json:"from"`
	To         string `json:"to"`
	Group      string `json:"group,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Execution is the settled outcome of one invocation.
type Execution struct {
	RunID        string   `json:"run_id"`
	Seq          int64    `json:"seq"`
	ResolvedID   string   `json:"resolved_id"`
	Callback     string   `json:"callback"`
	Group        string   `json:"group,omitempty"`
	UpdatedProps []string `json:"updated_props"`
	Error        string   `json:"error,omitempty"`
}

// Failed reports whether the invocation returned an error.
func (e Execution) Failed() bool { return e.Error != "" }
