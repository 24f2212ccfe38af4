package domain

import (
	"fmt"
	"time"
)

type State string

const (
	StatePending     State = "PENDING"
	StateFetching    State = "FETCHING"
	StateNormalizing State = "NORMALIZING"
	StateWritten     State = "WRITTEN"
	StateFailed      State = "FAILED"
)

func (s State) IsTerminal() bool {
	return s == StateWritten || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		// PENDING -> FAILED only happens when the run deadline expired before the domain started.
		return to == StateFetching || to == StateFailed
	case StateFetching:
		return to == StateNormalizing || to == StateFailed
	case StateNormalizing:
		return to == StateWritten || to == StateFailed
	default:
		return false
	}
}

type FailureReason string

const (
	ReasonNone        FailureReason = ""
	ReasonNoData      FailureReason = "no_data"
	ReasonSourceError FailureReason = "source_error"
	ReasonTimedOut    FailureReason = "timed_out"
	ReasonMergeError  FailureReason = "merge_error"
	ReasonWriteError  FailureReason = "write_error"
)

// Outcome is the per-domain result of one run.
type Outcome struct {
	Domain      ID                `json:"domain"`
	State       State             `json:"state"`
	Transitions []State           `json:"transitions"`
	Reason      FailureReason     `json:"reason,omitempty"`
	Error       string            `json:"error,omitempty"`
	Rows        int               `json:"rows"`
	Location    string            `json:"location,omitempty"`
	Sources     map[string]string `json:"sources,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

func NewOutcome(id ID, now time.Time) *Outcome {
	return &Outcome{
		Domain:      id,
		State:       StatePending,
		Transitions: []State{StatePending},
		Sources:     map[string]string{},
		StartedAt:   now.UTC(),
	}
}

// Transition moves the outcome to the next state, rejecting invalid moves.
func (o *Outcome) Transition(to State) error {
	if !isAllowedTransition(o.State, to) {
		return fmt.Errorf("disallowed transition for %s: %s -> %s", o.Domain, o.State, to)
	}
	o.State = to
	o.Transitions = append(o.Transitions, to)
	return nil
}

// Fail moves the outcome to FAILED with the given reason.
func (o *Outcome) Fail(reason FailureReason, err error) {
	if o.State != StateFailed {
		_ = o.Transition(StateFailed)
	}
	o.Reason = reason
	if err != nil {
		o.Error = err.Error()
	}
}

func (o Outcome) Succeeded() bool {
	return o.State == StateWritten
}

// Summary renders "WRITTEN" or "FAILED: <reason>".
func (o Outcome) Summary() string {
	if o.State != StateFailed {
		return string(o.State)
	}
	msg := fmt.Sprintf("%s: %s", StateFailed, o.Reason)
	if o.Error != "" {
		msg += " (" + o.Error + ")"
	}
	return msg
}

type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (r RunReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

func (r RunReport) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

func (r RunReport) AllSucceeded() bool {
	return len(r.Outcomes) > 0 && r.Failed() == 0
}

func (r RunReport) Outcome(id ID) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Domain == id {
			return o, true
		}
	}
	return Outcome{}, false
}
