// Package agent defines the ReasoningAgent capability through which the
// coordination engine sees every participant, the registry that indexes
// agents by id, and three rule-based agents covering the hospital-operations
// demo roles. The engine never reasons about an agent's internals; anything
// satisfying the capability can negotiate.
package agent

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUnavailable is returned by an agent that cannot serve a capability
	// call right now. The engine treats it as "no answer" where the
	// protocol allows and as fatal where it does not.
	ErrUnavailable = errors.New("agent unavailable")
	// ErrUnknownAgent is returned by the registry for an id that was never
	// registered.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Constraint kinds declared by agents during constraint collection.
const (
	ConstraintFinancial   = "financial"
	ConstraintFacility    = "facility"
	ConstraintSupplyChain = "supply_chain"
	ConstraintNone        = "none"
)

// Critique verdicts.
const (
	VerdictAccept   Verdict = "accept"
	VerdictCritique Verdict = "critique"
)

// Verdict is an agent's decision on a proposal.
type Verdict string

// ScenarioContext carries the numeric and categorical facts of one
// coordination scenario. BudgetRemaining and StorageAvailable are pointers:
// an absent fact is distinct from a zero one and makes the corresponding
// policy checks pass vacuously. PriorProposal and Critiques are set by the
// engine when it asks the initiator to refine.
type ScenarioContext struct {
	Item             string                 `json:"item,omitempty"`
	CurrentStock     int64                  `json:"current_stock,omitempty"`
	RequiredQuantity int64                  `json:"required_quantity,omitempty"`
	PricePerUnit     float64                `json:"price_per_unit,omitempty"`
	BudgetRemaining  *float64               `json:"budget_remaining,omitempty"`
	StorageAvailable *int64                 `json:"storage_available,omitempty"`
	Urgency          string                 `json:"urgency,omitempty"`
	Supplier         string                 `json:"supplier,omitempty"`
	Extra            map[string]interface{} `json:"extra,omitempty"`
	PriorProposal    *Proposal              `json:"prior_proposal,omitempty"`
	Critiques        []*Critique            `json:"critiques,omitempty"`
}

// Copy returns a deep copy of the context.
func (sc *ScenarioContext) Copy() *ScenarioContext {
	if sc == nil {
		return nil
	}
	dup := *sc
	if sc.BudgetRemaining != nil {
		b := *sc.BudgetRemaining
		dup.BudgetRemaining = &b
	}
	if sc.StorageAvailable != nil {
		s := *sc.StorageAvailable
		dup.StorageAvailable = &s
	}
	if sc.Extra != nil {
		dup.Extra = make(map[string]interface{}, len(sc.Extra))
		for k, v := range sc.Extra {
			dup.Extra[k] = v
		}
	}
	dup.PriorProposal = sc.PriorProposal.Copy()
	if sc.Critiques != nil {
		dup.Critiques = make([]*Critique, len(sc.Critiques))
		for i, c := range sc.Critiques {
			dup.Critiques[i] = c.Copy()
		}
	}
	return &dup
}

// Constraint is an agent's declared limits for one scenario.
type Constraint struct {
	Kind        string                 `json:"type"`
	MaxAmount   *float64               `json:"max_amount,omitempty"`
	MaxQuantity *int64                 `json:"max_quantity,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Copy returns a deep copy of the constraint.
func (c *Constraint) Copy() *Constraint {
	if c == nil {
		return nil
	}
	dup := *c
	if c.MaxAmount != nil {
		a := *c.MaxAmount
		dup.MaxAmount = &a
	}
	if c.MaxQuantity != nil {
		q := *c.MaxQuantity
		dup.MaxQuantity = &q
	}
	if c.Details != nil {
		dup.Details = make(map[string]interface{}, len(c.Details))
		for k, v := range c.Details {
			dup.Details[k] = v
		}
	}
	return &dup
}

// Proposal is the initiator's offer for a coordinated action.
type Proposal struct {
	ItemName             string  `json:"item_name"`
	Quantity             int64   `json:"proposed_quantity"`
	Cost                 float64 `json:"proposed_cost"`
	PricePerUnit         float64 `json:"price_per_unit"`
	Reasoning            string  `json:"reasoning"`
	Confidence           float64 `json:"confidence"`
	ConstraintsSatisfied bool    `json:"constraints_satisfied"`
}

// Copy returns a copy of the proposal.
func (p *Proposal) Copy() *Proposal {
	if p == nil {
		return nil
	}
	dup := *p
	return &dup
}

// Adjustments are the bounds a critiquing agent suggests for the next
// proposal.
type Adjustments struct {
	MaxQuantity *int64   `json:"max_quantity,omitempty"`
	MaxCost     *float64 `json:"max_cost,omitempty"`
}

// Copy returns a copy of the adjustments.
func (a *Adjustments) Copy() *Adjustments {
	if a == nil {
		return nil
	}
	dup := *a
	if a.MaxQuantity != nil {
		q := *a.MaxQuantity
		dup.MaxQuantity = &q
	}
	if a.MaxCost != nil {
		c := *a.MaxCost
		dup.MaxCost = &c
	}
	return &dup
}

// Critique is an agent's evaluation of a proposal.
type Critique struct {
	Agent       string       `json:"agent"`
	Verdict     Verdict      `json:"decision"`
	Reasoning   string       `json:"reasoning"`
	Confidence  float64      `json:"confidence"`
	Adjustments *Adjustments `json:"suggested_adjustments,omitempty"`
}

// Copy returns a deep copy of the critique.
func (c *Critique) Copy() *Critique {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Adjustments = c.Adjustments.Copy()
	return &dup
}

// ReasoningAgent is the single capability the coordination engine depends
// on. Calls may block on internal reasoning; implementations should honor
// the context deadline, and the engine discards results that arrive after
// its own deadline regardless.
type ReasoningAgent interface {
	ID() string
	Role() string
	// ProposeConstraint declares the agent's limits relevant to sc.
	ProposeConstraint(ctx context.Context, sc *ScenarioContext) (*Constraint, error)
	// GenerateProposal is asked of the designated initiator only.
	GenerateProposal(ctx context.Context, sc *ScenarioContext, constraints map[string]*Constraint) (*Proposal, error)
	// Critique evaluates a proposal against the agent's own policies.
	Critique(ctx context.Context, p *Proposal, sc *ScenarioContext) (*Critique, error)
}

// Decision is one entry of an agent's bounded reasoning trace.
type Decision struct {
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Agent      string    `json:"agent"`
	Method     string    `json:"method"`
	Summary    string    `json:"summary"`
	Confidence float64   `json:"confidence"`
}
