package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float64Ptr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64       { return &v }

func purchaseScenario() *ScenarioContext {
	return &ScenarioContext{
		Item:             "surgical masks",
		CurrentStock:     150,
		RequiredQuantity: 1000,
		PricePerUnit:     2.0,
		BudgetRemaining:  float64Ptr(1600),
		StorageAvailable: int64Ptr(800),
		Urgency:          "high",
	}
}

func TestSupplyChainAgent_ProposeConstraint(t *testing.T) {
	a := NewSupplyChainAgent("")
	assert.Equal(t, "SC", a.ID())
	assert.Equal(t, "Supply Chain Management", a.Role())

	c, err := a.ProposeConstraint(context.Background(), purchaseScenario())
	require.NoError(t, err)
	assert.Equal(t, ConstraintSupplyChain, c.Kind)
	require.NotNil(t, c.MaxQuantity)
	assert.Equal(t, int64(10000), *c.MaxQuantity)
	assert.Nil(t, c.MaxAmount)
}

func TestSupplyChainAgent_GenerateProposal(t *testing.T) {
	tests := []struct {
		name         string
		constraints  map[string]*Constraint
		wantQuantity int64
	}{
		{
			name:         "unconstrained proposes required quantity",
			constraints:  nil,
			wantQuantity: 1000,
		},
		{
			name: "budget constraint caps quantity",
			constraints: map[string]*Constraint{
				"FIN": {Kind: ConstraintFinancial, MaxAmount: float64Ptr(1600)},
			},
			wantQuantity: 800,
		},
		{
			name: "tightest of several constraints wins",
			constraints: map[string]*Constraint{
				"FIN": {Kind: ConstraintFinancial, MaxAmount: float64Ptr(1600)},
				"FAC": {Kind: ConstraintFacility, MaxQuantity: int64Ptr(600)},
			},
			wantQuantity: 600,
		},
		{
			name: "empty constraint echo is ignored",
			constraints: map[string]*Constraint{
				"FIN": {Kind: ConstraintNone},
				"FAC": nil,
			},
			wantQuantity: 1000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewSupplyChainAgent("SC")
			p, err := a.GenerateProposal(context.Background(), purchaseScenario(), tt.constraints)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuantity, p.Quantity)
			assert.Equal(t, float64(tt.wantQuantity)*2.0, p.Cost)
			assert.Equal(t, 2.0, p.PricePerUnit)
			assert.Equal(t, "surgical masks", p.ItemName)
			assert.Equal(t, 0.85, p.Confidence)
			assert.True(t, p.ConstraintsSatisfied)
		})
	}
}

func TestSupplyChainAgent_GenerateProposal_PolicyCap(t *testing.T) {
	a := NewSupplyChainAgent("SC")
	sc := purchaseScenario()
	sc.RequiredQuantity = 50000
	p, err := a.GenerateProposal(context.Background(), sc, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), p.Quantity)
}

func TestSupplyChainAgent_GenerateProposal_MinOrderFloor(t *testing.T) {
	a := NewSupplyChainAgent("SC")
	sc := purchaseScenario()
	sc.RequiredQuantity = 50
	p, err := a.GenerateProposal(context.Background(), sc, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Quantity)
	assert.Equal(t, 200.0, p.Cost)
	assert.Contains(t, p.Reasoning, "min order 100")
}

func TestSupplyChainAgent_GenerateProposal_StableReasoning(t *testing.T) {
	constraints := map[string]*Constraint{
		"FIN": {Kind: ConstraintFinancial, MaxAmount: float64Ptr(1600)},
		"FAC": {Kind: ConstraintFacility, MaxQuantity: int64Ptr(800)},
	}

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		a := NewSupplyChainAgent("SC")
		p, err := a.GenerateProposal(context.Background(), purchaseScenario(), constraints)
		require.NoError(t, err)
		assert.Equal(t, int64(800), p.Quantity)
		seen[p.Reasoning] = struct{}{}
	}
	require.Len(t, seen, 1)
	assert.Contains(t, seen, "Proposed 800 units, bounded by: required 1000, FAC quantity cap 800")
}

func TestSupplyChainAgent_GenerateProposal_Infeasible(t *testing.T) {
	a := NewSupplyChainAgent("SC")

	sc := purchaseScenario()
	sc.PricePerUnit = 0
	_, err := a.GenerateProposal(context.Background(), sc, nil)
	require.Error(t, err)

	sc = purchaseScenario()
	_, err = a.GenerateProposal(context.Background(), sc, map[string]*Constraint{
		"FIN": {Kind: ConstraintFinancial, MaxAmount: float64Ptr(1.0)},
	})
	require.Error(t, err)
}

func TestSupplyChainAgent_Refinement(t *testing.T) {
	a := NewSupplyChainAgent("SC")
	sc := purchaseScenario()
	sc.PriorProposal = &Proposal{
		ItemName:     "surgical masks",
		Quantity:     1000,
		Cost:         2000,
		PricePerUnit: 2.0,
	}
	sc.Critiques = []*Critique{
		{Agent: "FIN", Verdict: VerdictCritique, Adjustments: &Adjustments{
			MaxCost:     float64Ptr(1600),
			MaxQuantity: int64Ptr(800),
		}},
		{Agent: "FAC", Verdict: VerdictCritique, Adjustments: &Adjustments{
			MaxQuantity: int64Ptr(900),
		}},
	}

	p, err := a.GenerateProposal(context.Background(), sc, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(800), p.Quantity)
	assert.Equal(t, 1600.0, p.Cost)
	assert.Equal(t, 0.90, p.Confidence)
	assert.Contains(t, p.Reasoning, "Refined")
}

func TestSupplyChainAgent_Refinement_IgnoresAccepts(t *testing.T) {
	a := NewSupplyChainAgent("SC")
	sc := purchaseScenario()
	sc.PriorProposal = &Proposal{Quantity: 1000, Cost: 2000, PricePerUnit: 2.0}
	sc.Critiques = []*Critique{
		{Agent: "FAC", Verdict: VerdictAccept, Adjustments: &Adjustments{MaxQuantity: int64Ptr(1)}},
		{Agent: "FIN", Verdict: VerdictCritique, Adjustments: &Adjustments{MaxQuantity: int64Ptr(700)}},
	}
	p, err := a.GenerateProposal(context.Background(), sc, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(700), p.Quantity)
}

func TestSupplyChainAgent_Critique(t *testing.T) {
	a := NewSupplyChainAgent("SC")

	c, err := a.Critique(context.Background(), &Proposal{Quantity: 500}, purchaseScenario())
	require.NoError(t, err)
	assert.Equal(t, VerdictAccept, c.Verdict)

	c, err = a.Critique(context.Background(), &Proposal{Quantity: 20000}, purchaseScenario())
	require.NoError(t, err)
	assert.Equal(t, VerdictCritique, c.Verdict)
	require.NotNil(t, c.Adjustments)
	require.NotNil(t, c.Adjustments.MaxQuantity)
	assert.Equal(t, int64(10000), *c.Adjustments.MaxQuantity)
}

func TestFinancialAgent_ProposeConstraint(t *testing.T) {
	a := NewFinancialAgent("")
	assert.Equal(t, "FIN", a.ID())

	c, err := a.ProposeConstraint(context.Background(), purchaseScenario())
	require.NoError(t, err)
	assert.Equal(t, ConstraintFinancial, c.Kind)
	require.NotNil(t, c.MaxAmount)
	assert.Equal(t, 1600.0, *c.MaxAmount)

	// No budget fact means an open constraint.
	sc := purchaseScenario()
	sc.BudgetRemaining = nil
	c, err = a.ProposeConstraint(context.Background(), sc)
	require.NoError(t, err)
	assert.Nil(t, c.MaxAmount)
}

func TestFinancialAgent_Critique(t *testing.T) {
	a := NewFinancialAgent("FIN")
	sc := purchaseScenario()

	c, err := a.Critique(context.Background(), &Proposal{Quantity: 800, Cost: 1600, PricePerUnit: 2.0}, sc)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccept, c.Verdict)
	assert.Equal(t, 0.95, c.Confidence)

	c, err = a.Critique(context.Background(), &Proposal{Quantity: 1000, Cost: 2000, PricePerUnit: 2.0}, sc)
	require.NoError(t, err)
	assert.Equal(t, VerdictCritique, c.Verdict)
	require.NotNil(t, c.Adjustments)
	require.NotNil(t, c.Adjustments.MaxCost)
	assert.Equal(t, 1600.0, *c.Adjustments.MaxCost)
	require.NotNil(t, c.Adjustments.MaxQuantity)
	assert.Equal(t, int64(800), *c.Adjustments.MaxQuantity)

	sc.BudgetRemaining = nil
	c, err = a.Critique(context.Background(), &Proposal{Cost: 1e9}, sc)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccept, c.Verdict)
}

func TestFacilityAgent_ProposeConstraint(t *testing.T) {
	a := NewFacilityAgent("")
	assert.Equal(t, "FAC", a.ID())

	c, err := a.ProposeConstraint(context.Background(), purchaseScenario())
	require.NoError(t, err)
	assert.Equal(t, ConstraintFacility, c.Kind)
	require.NotNil(t, c.MaxQuantity)
	assert.Equal(t, int64(800), *c.MaxQuantity)

	sc := purchaseScenario()
	sc.StorageAvailable = nil
	c, err = a.ProposeConstraint(context.Background(), sc)
	require.NoError(t, err)
	assert.Nil(t, c.MaxQuantity)
}

func TestFacilityAgent_Critique(t *testing.T) {
	a := NewFacilityAgent("FAC")
	sc := purchaseScenario()

	c, err := a.Critique(context.Background(), &Proposal{Quantity: 800}, sc)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccept, c.Verdict)

	c, err = a.Critique(context.Background(), &Proposal{Quantity: 900}, sc)
	require.NoError(t, err)
	assert.Equal(t, VerdictCritique, c.Verdict)
	require.NotNil(t, c.Adjustments)
	require.NotNil(t, c.Adjustments.MaxQuantity)
	assert.Equal(t, int64(800), *c.Adjustments.MaxQuantity)
}

func TestAgents_HonorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc := purchaseScenario()

	agents := []ReasoningAgent{
		NewSupplyChainAgent("SC"),
		NewFinancialAgent("FIN"),
		NewFacilityAgent("FAC"),
	}
	for _, a := range agents {
		_, err := a.ProposeConstraint(ctx, sc)
		assert.ErrorIs(t, errors.Cause(err), ErrUnavailable, a.ID())
		_, err = a.GenerateProposal(ctx, sc, nil)
		assert.ErrorIs(t, errors.Cause(err), ErrUnavailable, a.ID())
		_, err = a.Critique(ctx, &Proposal{Quantity: 1}, sc)
		assert.ErrorIs(t, errors.Cause(err), ErrUnavailable, a.ID())
	}
}

func TestReasoningTrace_NewestFirst(t *testing.T) {
	a := NewFinancialAgent("FIN")
	sc := purchaseScenario()
	_, err := a.ProposeConstraint(context.Background(), sc)
	require.NoError(t, err)
	_, err = a.Critique(context.Background(), &Proposal{Cost: 100}, sc)
	require.NoError(t, err)

	trace := a.ReasoningTrace(0)
	require.Len(t, trace, 2)
	assert.Equal(t, "Critique", trace[0].Method)
	assert.Equal(t, "ProposeConstraint", trace[1].Method)
	assert.Greater(t, trace[0].Sequence, trace[1].Sequence)

	limited := a.ReasoningTrace(1)
	require.Len(t, limited, 1)
	assert.Equal(t, "Critique", limited[0].Method)
}

func TestDecisionTrace_Bounded(t *testing.T) {
	trace := newDecisionTrace(4, nil)
	for i := 0; i < 10; i++ {
		trace.record("SC", "GenerateProposal", fmt.Sprintf("decision %d", i), 0.5)
	}
	got := trace.snapshot(0)
	require.Len(t, got, 4)
	assert.Equal(t, "decision 9", got[0].Summary)
	assert.Equal(t, "decision 6", got[3].Summary)
}
