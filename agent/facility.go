package agent

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// FacilityAgent guards storage capacity. Its constraint is the available
// storage; its critique rejects any proposal whose quantity would not fit.
type FacilityAgent struct {
	id    string
	trace *decisionTrace
}

var _ ReasoningAgent = (*FacilityAgent)(nil)

// NewFacilityAgent builds a facility agent. An empty id defaults to "FAC".
func NewFacilityAgent(id string) *FacilityAgent {
	if id == "" {
		id = "FAC"
	}
	return &FacilityAgent{id: id, trace: newDecisionTrace(defaultTraceCapacity, nil)}
}

// ID implements ReasoningAgent.
func (a *FacilityAgent) ID() string { return a.id }

// Role implements ReasoningAgent.
func (a *FacilityAgent) Role() string { return "Facility Management" }

// ReasoningTrace returns up to limit recent decisions, newest first.
func (a *FacilityAgent) ReasoningTrace(limit int) []Decision {
	return a.trace.snapshot(limit)
}

// ProposeConstraint declares the available storage as the quantity cap.
func (a *FacilityAgent) ProposeConstraint(ctx context.Context, sc *ScenarioContext) (*Constraint, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	c := &Constraint{Kind: ConstraintFacility, Details: map[string]interface{}{}}
	summary := "no storage declared, intake unconstrained"
	if sc.StorageAvailable != nil {
		storage := *sc.StorageAvailable
		c.MaxQuantity = &storage
		c.Details["storage_available"] = storage
		summary = fmt.Sprintf("intake capped at %d units", storage)
	}
	a.trace.record(a.id, "ProposeConstraint", summary, 1)
	return c, nil
}

// GenerateProposal proposes the largest order that fits in storage.
func (a *FacilityAgent) GenerateProposal(ctx context.Context, sc *ScenarioContext, constraints map[string]*Constraint) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	if sc.PricePerUnit <= 0 {
		return nil, errors.New("scenario has no positive price per unit")
	}
	quantity := sc.RequiredQuantity
	if sc.StorageAvailable != nil && *sc.StorageAvailable < quantity {
		quantity = *sc.StorageAvailable
	}
	if quantity <= 0 {
		return nil, errors.New("storage leaves no feasible order quantity")
	}
	p := &Proposal{
		ItemName:             sc.Item,
		Quantity:             quantity,
		Cost:                 float64(quantity) * sc.PricePerUnit,
		PricePerUnit:         sc.PricePerUnit,
		Reasoning:            fmt.Sprintf("Proposed %d units within available storage", quantity),
		Confidence:           0.80,
		ConstraintsSatisfied: true,
	}
	a.trace.record(a.id, "GenerateProposal", p.Reasoning, p.Confidence)
	return p, nil
}

// Critique accepts iff the proposal quantity fits the available storage.
func (a *FacilityAgent) Critique(ctx context.Context, p *Proposal, sc *ScenarioContext) (*Critique, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	if sc.StorageAvailable == nil {
		c := &Critique{
			Agent:      a.id,
			Verdict:    VerdictAccept,
			Reasoning:  "No storage declared for this scenario",
			Confidence: 0.80,
		}
		a.trace.record(a.id, "Critique", c.Reasoning, c.Confidence)
		return c, nil
	}
	storage := *sc.StorageAvailable
	if p.Quantity <= storage {
		c := &Critique{
			Agent:      a.id,
			Verdict:    VerdictAccept,
			Reasoning:  fmt.Sprintf("Quantity %d fits in storage %d", p.Quantity, storage),
			Confidence: 0.93,
		}
		a.trace.record(a.id, "Critique", c.Reasoning, c.Confidence)
		return c, nil
	}
	c := &Critique{
		Agent:       a.id,
		Verdict:     VerdictCritique,
		Reasoning:   fmt.Sprintf("Quantity %d exceeds storage %d", p.Quantity, storage),
		Confidence:  0.92,
		Adjustments: &Adjustments{MaxQuantity: &storage},
	}
	a.trace.record(a.id, "Critique", c.Reasoning, c.Confidence)
	return c, nil
}
