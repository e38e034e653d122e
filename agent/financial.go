package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// FinancialAgent guards the budget. Its constraint is the remaining budget;
// its critique rejects any proposal whose cost exceeds it and suggests the
// affordable bounds instead.
type FinancialAgent struct {
	id    string
	trace *decisionTrace
}

var _ ReasoningAgent = (*FinancialAgent)(nil)

// NewFinancialAgent builds a financial agent. An empty id defaults to "FIN".
func NewFinancialAgent(id string) *FinancialAgent {
	if id == "" {
		id = "FIN"
	}
	return &FinancialAgent{id: id, trace: newDecisionTrace(defaultTraceCapacity, nil)}
}

// ID implements ReasoningAgent.
func (a *FinancialAgent) ID() string { return a.id }

// Role implements ReasoningAgent.
func (a *FinancialAgent) Role() string { return "Financial Control" }

// ReasoningTrace returns up to limit recent decisions, newest first.
func (a *FinancialAgent) ReasoningTrace(limit int) []Decision {
	return a.trace.snapshot(limit)
}

// ProposeConstraint declares the remaining budget as the spending cap. A
// scenario with no budget fact yields an open financial constraint.
func (a *FinancialAgent) ProposeConstraint(ctx context.Context, sc *ScenarioContext) (*Constraint, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	c := &Constraint{
		Kind:    ConstraintFinancial,
		Details: map[string]interface{}{"risk_tolerance": "medium"},
	}
	summary := "no budget declared, spending unconstrained"
	if sc.BudgetRemaining != nil {
		budget := *sc.BudgetRemaining
		c.MaxAmount = &budget
		summary = fmt.Sprintf("spending capped at $%.2f", budget)
	}
	a.trace.record(a.id, "ProposeConstraint", summary, 1)
	return c, nil
}

// GenerateProposal proposes the largest affordable order. The financial
// agent rarely initiates, but the capability is complete so it can.
func (a *FinancialAgent) GenerateProposal(ctx context.Context, sc *ScenarioContext, constraints map[string]*Constraint) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	if sc.PricePerUnit <= 0 {
		return nil, errors.New("scenario has no positive price per unit")
	}
	quantity := sc.RequiredQuantity
	if sc.BudgetRemaining != nil {
		if byBudget := int64(math.Floor(*sc.BudgetRemaining / sc.PricePerUnit)); byBudget < quantity {
			quantity = byBudget
		}
	}
	for _, c := range constraints {
		if c != nil && c.MaxQuantity != nil && *c.MaxQuantity < quantity {
			quantity = *c.MaxQuantity
		}
	}
	if quantity <= 0 {
		return nil, errors.New("budget leaves no feasible order quantity")
	}
	p := &Proposal{
		ItemName:             sc.Item,
		Quantity:             quantity,
		Cost:                 float64(quantity) * sc.PricePerUnit,
		PricePerUnit:         sc.PricePerUnit,
		Reasoning:            fmt.Sprintf("Proposed %d units within available budget", quantity),
		Confidence:           0.80,
		ConstraintsSatisfied: true,
	}
	a.trace.record(a.id, "GenerateProposal", p.Reasoning, p.Confidence)
	return p, nil
}

// Critique accepts iff the proposal cost fits the remaining budget. With no
// budget fact the check passes vacuously.
func (a *FinancialAgent) Critique(ctx context.Context, p *Proposal, sc *ScenarioContext) (*Critique, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	if sc.BudgetRemaining == nil {
		c := &Critique{
			Agent:      a.id,
			Verdict:    VerdictAccept,
			Reasoning:  "No budget declared for this scenario",
			Confidence: 0.80,
		}
		a.trace.record(a.id, "Critique", c.Reasoning, c.Confidence)
		return c, nil
	}
	budget := *sc.BudgetRemaining
	if p.Cost <= budget {
		c := &Critique{
			Agent:      a.id,
			Verdict:    VerdictAccept,
			Reasoning:  fmt.Sprintf("Cost $%.2f within budget $%.2f", p.Cost, budget),
			Confidence: 0.95,
		}
		a.trace.record(a.id, "Critique", c.Reasoning, c.Confidence)
		return c, nil
	}
	adjustments := &Adjustments{MaxCost: &budget}
	if p.PricePerUnit > 0 {
		byBudget := int64(math.Floor(budget / p.PricePerUnit))
		adjustments.MaxQuantity = &byBudget
	}
	c := &Critique{
		Agent:       a.id,
		Verdict:     VerdictCritique,
		Reasoning:   fmt.Sprintf("Cost $%.2f exceeds budget $%.2f", p.Cost, budget),
		Confidence:  0.90,
		Adjustments: adjustments,
	}
	a.trace.record(a.id, "Critique", c.Reasoning, c.Confidence)
	return c, nil
}
