package coordination

import (
	"time"

	"github.com/blockopslabs/blockops/agent"
	"github.com/blockopslabs/blockops/ledger/types"
)

// State is a session's position in the coordination state machine.
type State string

// Session states. COMPLETED, FAILED, and TIMEOUT are terminal; a terminal
// session is frozen and all reads return snapshots.
const (
	StateInitiated             State = "INITIATED"
	StateCollectingConstraints State = "COLLECTING_CONSTRAINTS"
	StateGeneratingProposal    State = "GENERATING_PROPOSAL"
	StateNegotiating           State = "NEGOTIATING"
	StateValidating            State = "VALIDATING"
	StateExecuting             State = "EXECUTING"
	StateCompleted             State = "COMPLETED"
	StateFailed                State = "FAILED"
	StateTimeout               State = "TIMEOUT"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimeout
}

// ScenarioSpec is the caller's input to Coordinate.
type ScenarioSpec struct {
	Initiator    string                 `json:"initiator"`
	Participants []string               `json:"participants"`
	Intent       string                 `json:"intent"`
	Context      *agent.ScenarioContext `json:"context"`
}

// Round records one proposal-plus-critiques cycle.
type Round struct {
	Number    int               `json:"round_number"`
	Proposal  *agent.Proposal   `json:"proposal"`
	Critiques []*agent.Critique `json:"critiques"`
	Duration  time.Duration     `json:"duration"`
}

// Copy returns a deep copy of the round.
func (r *Round) Copy() *Round {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Proposal = r.Proposal.Copy()
	dup.Critiques = make([]*agent.Critique, len(r.Critiques))
	for i, c := range r.Critiques {
		dup.Critiques[i] = c.Copy()
	}
	return &dup
}

// Agreement is the accepted proposal together with the constraint context it
// was negotiated under.
type Agreement struct {
	SessionID            string                       `json:"session_id"`
	Proposal             *agent.Proposal              `json:"proposal"`
	Participants         []string                     `json:"participants"`
	ConstraintsSatisfied map[string]*agent.Constraint `json:"constraints_satisfied"`
	Timestamp            time.Time                    `json:"timestamp"`
	ExecutionStatus      string                       `json:"execution_status"`
}

// Copy returns a deep copy of the agreement.
func (a *Agreement) Copy() *Agreement {
	if a == nil {
		return nil
	}
	dup := *a
	dup.Proposal = a.Proposal.Copy()
	dup.Participants = make([]string, len(a.Participants))
	copy(dup.Participants, a.Participants)
	if a.ConstraintsSatisfied != nil {
		dup.ConstraintsSatisfied = make(map[string]*agent.Constraint, len(a.ConstraintsSatisfied))
		for k, v := range a.ConstraintsSatisfied {
			dup.ConstraintsSatisfied[k] = v.Copy()
		}
	}
	return &dup
}

// Session is one execution of the eight-step protocol. A live session is
// mutated only by its owning engine task; external readers get deep
// snapshots.
type Session struct {
	ID            string                       `json:"session_id"`
	State         State                        `json:"state"`
	Initiator     string                       `json:"initiator"`
	Participants  []string                     `json:"participants"`
	Intent        string                       `json:"intent"`
	Context       *agent.ScenarioContext       `json:"context"`
	Constraints   map[string]*agent.Constraint `json:"constraints"`
	Rounds        []*Round                     `json:"rounds"`
	FinalProposal *agent.Proposal              `json:"final_proposal,omitempty"`
	Agreement     *Agreement                   `json:"agreement,omitempty"`
	Receipt       *types.Receipt               `json:"ledger_receipt,omitempty"`
	Messages      []*Message                   `json:"messages"`
	StartedAt     time.Time                    `json:"started_at"`
	EndedAt       time.Time                    `json:"ended_at,omitempty"`
	FailureCode   string                       `json:"failure_code,omitempty"`
	FailureReason string                       `json:"failure_reason,omitempty"`
}

// Copy returns a deep snapshot of the session.
func (s *Session) Copy() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Participants = make([]string, len(s.Participants))
	copy(dup.Participants, s.Participants)
	dup.Context = s.Context.Copy()
	if s.Constraints != nil {
		dup.Constraints = make(map[string]*agent.Constraint, len(s.Constraints))
		for k, v := range s.Constraints {
			dup.Constraints[k] = v.Copy()
		}
	}
	dup.Rounds = make([]*Round, len(s.Rounds))
	for i, r := range s.Rounds {
		dup.Rounds[i] = r.Copy()
	}
	dup.FinalProposal = s.FinalProposal.Copy()
	dup.Agreement = s.Agreement.Copy()
	if s.Receipt != nil {
		receipt := *s.Receipt
		dup.Receipt = &receipt
	}
	dup.Messages = make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		dup.Messages[i] = m.Copy()
	}
	return &dup
}
