package agent

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// SupplyChainKnowledge is the supply-chain agent's reorder policy.
type SupplyChainKnowledge struct {
	SafetyStockMultiplier float64
	MinOrderQuantity      int64
	MaxOrderQuantity      int64
}

// DefaultSupplyChainKnowledge returns the hospital demo reorder policy.
func DefaultSupplyChainKnowledge() SupplyChainKnowledge {
	return SupplyChainKnowledge{
		SafetyStockMultiplier: 1.5,
		MinOrderQuantity:      100,
		MaxOrderQuantity:      10000,
	}
}

// SupplyChainAgent orders supplies. As initiator it proposes the largest
// order that fits every declared constraint; as critic it checks order-size
// policy.
type SupplyChainAgent struct {
	id    string
	kb    SupplyChainKnowledge
	trace *decisionTrace
}

var _ ReasoningAgent = (*SupplyChainAgent)(nil)

// NewSupplyChainAgent builds a supply-chain agent. An empty id defaults to
// "SC".
func NewSupplyChainAgent(id string) *SupplyChainAgent {
	if id == "" {
		id = "SC"
	}
	return &SupplyChainAgent{
		id:    id,
		kb:    DefaultSupplyChainKnowledge(),
		trace: newDecisionTrace(defaultTraceCapacity, nil),
	}
}

// ID implements ReasoningAgent.
func (a *SupplyChainAgent) ID() string { return a.id }

// Role implements ReasoningAgent.
func (a *SupplyChainAgent) Role() string { return "Supply Chain Management" }

// ReasoningTrace returns up to limit recent decisions, newest first.
func (a *SupplyChainAgent) ReasoningTrace(limit int) []Decision {
	return a.trace.snapshot(limit)
}

// ProposeConstraint declares the agent's order-size policy.
func (a *SupplyChainAgent) ProposeConstraint(ctx context.Context, sc *ScenarioContext) (*Constraint, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	maxOrder := a.kb.MaxOrderQuantity
	c := &Constraint{
		Kind:        ConstraintSupplyChain,
		MaxQuantity: &maxOrder,
		Details: map[string]interface{}{
			"min_order_quantity":      a.kb.MinOrderQuantity,
			"max_order_quantity":      a.kb.MaxOrderQuantity,
			"safety_stock_multiplier": a.kb.SafetyStockMultiplier,
			"current_stock":           sc.CurrentStock,
			"urgency":                 sc.Urgency,
		},
	}
	a.trace.record(a.id, "ProposeConstraint",
		fmt.Sprintf("order-size policy %d..%d units", a.kb.MinOrderQuantity, a.kb.MaxOrderQuantity), 1)
	return c, nil
}

// GenerateProposal produces the largest order that fits the scenario and
// every collected constraint. On refinement it applies the tightest
// suggested adjustments from the previous round's critiques.
func (a *SupplyChainAgent) GenerateProposal(ctx context.Context, sc *ScenarioContext, constraints map[string]*Constraint) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	if sc.PricePerUnit <= 0 {
		return nil, errors.New("scenario has no positive price per unit")
	}

	if sc.PriorProposal != nil && len(sc.Critiques) > 0 {
		return a.refineProposal(sc), nil
	}

	price := sc.PricePerUnit
	quantity := sc.RequiredQuantity
	bounds := []string{fmt.Sprintf("required %d", sc.RequiredQuantity)}
	// Stable iteration order keeps the credited bound, and therefore the
	// reasoning, identical across runs with the same inputs.
	ids := make([]string, 0, len(constraints))
	for id := range constraints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := constraints[id]
		if c == nil {
			continue
		}
		if c.MaxAmount != nil {
			byBudget := int64(math.Floor(*c.MaxAmount / price))
			if byBudget < quantity {
				quantity = byBudget
				bounds = append(bounds, fmt.Sprintf("%s budget cap %d", id, byBudget))
			}
		}
		if c.MaxQuantity != nil && *c.MaxQuantity < quantity {
			quantity = *c.MaxQuantity
			bounds = append(bounds, fmt.Sprintf("%s quantity cap %d", id, *c.MaxQuantity))
		}
	}
	if quantity > a.kb.MaxOrderQuantity {
		quantity = a.kb.MaxOrderQuantity
		bounds = append(bounds, fmt.Sprintf("max order %d", a.kb.MaxOrderQuantity))
	}
	if quantity <= 0 {
		return nil, errors.New("constraints leave no feasible order quantity")
	}
	if quantity < a.kb.MinOrderQuantity {
		quantity = a.kb.MinOrderQuantity
		bounds = append(bounds, fmt.Sprintf("min order %d", a.kb.MinOrderQuantity))
	}

	p := &Proposal{
		ItemName:             sc.Item,
		Quantity:             quantity,
		Cost:                 float64(quantity) * price,
		PricePerUnit:         price,
		Reasoning:            fmt.Sprintf("Proposed %d units, bounded by: %s", quantity, joinBounds(bounds)),
		Confidence:           0.85,
		ConstraintsSatisfied: true,
	}
	a.trace.record(a.id, "GenerateProposal", p.Reasoning, p.Confidence)
	return p, nil
}

func (a *SupplyChainAgent) refineProposal(sc *ScenarioContext) *Proposal {
	prior := sc.PriorProposal
	price := prior.PricePerUnit
	maxQuantity := prior.Quantity
	maxCost := prior.Cost
	for _, critique := range sc.Critiques {
		if critique == nil || critique.Verdict != VerdictCritique || critique.Adjustments == nil {
			continue
		}
		if q := critique.Adjustments.MaxQuantity; q != nil && *q < maxQuantity {
			maxQuantity = *q
		}
		if c := critique.Adjustments.MaxCost; c != nil && *c < maxCost {
			maxCost = *c
		}
	}
	quantity := maxQuantity
	if byCost := int64(math.Floor(maxCost / price)); byCost < quantity {
		quantity = byCost
	}
	p := &Proposal{
		ItemName:             prior.ItemName,
		Quantity:             quantity,
		Cost:                 float64(quantity) * price,
		PricePerUnit:         price,
		Reasoning:            fmt.Sprintf("Refined to %d units based on agent feedback", quantity),
		Confidence:           0.90,
		ConstraintsSatisfied: true,
	}
	a.trace.record(a.id, "GenerateProposal", p.Reasoning, p.Confidence)
	return p
}

// Critique accepts proposals that respect the agent's order-size policy.
func (a *SupplyChainAgent) Critique(ctx context.Context, p *Proposal, sc *ScenarioContext) (*Critique, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	if p.Quantity > a.kb.MaxOrderQuantity {
		maxOrder := a.kb.MaxOrderQuantity
		c := &Critique{
			Agent:       a.id,
			Verdict:     VerdictCritique,
			Reasoning:   fmt.Sprintf("Quantity %d exceeds max order size %d", p.Quantity, maxOrder),
			Confidence:  0.90,
			Adjustments: &Adjustments{MaxQuantity: &maxOrder},
		}
		a.trace.record(a.id, "Critique", c.Reasoning, c.Confidence)
		return c, nil
	}
	c := &Critique{
		Agent:      a.id,
		Verdict:    VerdictAccept,
		Reasoning:  fmt.Sprintf("Quantity %d within order-size policy", p.Quantity),
		Confidence: 0.90,
	}
	a.trace.record(a.id, "Critique", c.Reasoning, c.Confidence)
	return c, nil
}

func joinBounds(bounds []string) string {
	out := ""
	for i, b := range bounds {
		if i > 0 {
			out += ", "
		}
		out += b
	}
	return out
}
