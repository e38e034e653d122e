package coordination

import (
	"context"
	"math"
	"time"

	"github.com/blockopslabs/blockops/agent"
)

// fakeAgent is a deterministic scriptable participant. The default behavior
// mirrors the demo agents: declare the scenario's budget or storage cap,
// propose the required quantity at list price, and accept any proposal that
// fits the declared cap. Tests override the hooks for failure paths.
type fakeAgent struct {
	id   string
	role string

	constraint      *agent.Constraint
	constraintErr   error
	constraintDelay time.Duration

	proposeFn  func(sc *agent.ScenarioContext, constraints map[string]*agent.Constraint) (*agent.Proposal, error)
	critiqueFn func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error)
}

var _ agent.ReasoningAgent = (*fakeAgent)(nil)

func (f *fakeAgent) ID() string   { return f.id }
func (f *fakeAgent) Role() string { return f.role }

func (f *fakeAgent) ProposeConstraint(ctx context.Context, sc *agent.ScenarioContext) (*agent.Constraint, error) {
	if f.constraintDelay > 0 {
		// Deliberately ignores ctx so the engine's own deadline handling is
		// what gets exercised.
		time.Sleep(f.constraintDelay)
	}
	if f.constraintErr != nil {
		return nil, f.constraintErr
	}
	if f.constraint != nil {
		return f.constraint.Copy(), nil
	}
	return &agent.Constraint{Kind: agent.ConstraintNone}, nil
}

func (f *fakeAgent) GenerateProposal(ctx context.Context, sc *agent.ScenarioContext, constraints map[string]*agent.Constraint) (*agent.Proposal, error) {
	if f.proposeFn != nil {
		return f.proposeFn(sc, constraints)
	}
	return naiveProposal(sc), nil
}

func (f *fakeAgent) Critique(ctx context.Context, p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
	if f.critiqueFn != nil {
		return f.critiqueFn(p, sc)
	}
	return acceptAll(f.id)(p, sc)
}

// naiveProposal asks for the full required quantity first and only shrinks
// when critiqued, so negotiations take an observable refinement round. The
// refinement applies the tightest suggested adjustments from the previous
// round.
func naiveProposal(sc *agent.ScenarioContext) *agent.Proposal {
	quantity := sc.RequiredQuantity
	cost := float64(quantity) * sc.PricePerUnit
	reasoning := "full required quantity at list price"
	if sc.PriorProposal != nil && len(sc.Critiques) > 0 {
		quantity = sc.PriorProposal.Quantity
		maxCost := sc.PriorProposal.Cost
		for _, c := range sc.Critiques {
			if c == nil || c.Verdict != agent.VerdictCritique || c.Adjustments == nil {
				continue
			}
			if q := c.Adjustments.MaxQuantity; q != nil && *q < quantity {
				quantity = *q
			}
			if mc := c.Adjustments.MaxCost; mc != nil && *mc < maxCost {
				maxCost = *mc
			}
		}
		if byCost := int64(math.Floor(maxCost / sc.PricePerUnit)); byCost < quantity {
			quantity = byCost
		}
		cost = float64(quantity) * sc.PricePerUnit
		reasoning = "shrunk to the tightest suggested adjustment"
	}
	return &agent.Proposal{
		ItemName:             sc.Item,
		Quantity:             quantity,
		Cost:                 cost,
		PricePerUnit:         sc.PricePerUnit,
		Reasoning:            reasoning,
		Confidence:           0.9,
		ConstraintsSatisfied: true,
	}
}

func acceptAll(id string) func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
	return func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
		return &agent.Critique{
			Agent:      id,
			Verdict:    agent.VerdictAccept,
			Reasoning:  "no objections",
			Confidence: 0.9,
		}, nil
	}
}

func budgetCritic(id string, budget float64) func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
	return func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
		if p.Cost <= budget {
			return &agent.Critique{Agent: id, Verdict: agent.VerdictAccept, Reasoning: "within budget", Confidence: 0.95}, nil
		}
		maxQuantity := int64(math.Floor(budget / p.PricePerUnit))
		limit := budget
		return &agent.Critique{
			Agent:       id,
			Verdict:     agent.VerdictCritique,
			Reasoning:   "cost exceeds budget",
			Confidence:  0.9,
			Adjustments: &agent.Adjustments{MaxCost: &limit, MaxQuantity: &maxQuantity},
		}, nil
	}
}

func storageCritic(id string, storage int64) func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
	return func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
		if p.Quantity <= storage {
			return &agent.Critique{Agent: id, Verdict: agent.VerdictAccept, Reasoning: "fits in storage", Confidence: 0.93}, nil
		}
		limit := storage
		return &agent.Critique{
			Agent:       id,
			Verdict:     agent.VerdictCritique,
			Reasoning:   "quantity exceeds storage",
			Confidence:  0.92,
			Adjustments: &agent.Adjustments{MaxQuantity: &limit},
		}, nil
	}
}

func rejectAll(id string) func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
	return func(p *agent.Proposal, sc *agent.ScenarioContext) (*agent.Critique, error) {
		return &agent.Critique{
			Agent:      id,
			Verdict:    agent.VerdictCritique,
			Reasoning:  "unacceptable on principle",
			Confidence: 1,
		}, nil
	}
}
