package coordination

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockopslabs/blockops/agent"
	"github.com/blockopslabs/blockops/contract"
	"github.com/blockopslabs/blockops/ledger"
)

type testHarness struct {
	engine   *Engine
	ledger   *ledger.Ledger
	registry *agent.Registry
}

func newHarness(t *testing.T, agents []agent.ReasoningAgent, cfg *Config) *testHarness {
	t.Helper()
	validator := contract.NewValidator(contract.DefaultConfig())
	l, err := ledger.NewLedger(&ledger.Config{
		BatchSize:  10,
		Difficulty: 1,
		Validator:  validator,
	})
	require.NoError(t, err)
	registry := agent.NewRegistry()
	for _, a := range agents {
		require.NoError(t, registry.Register(a))
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Registry = registry
	cfg.Ledger = l
	cfg.Validator = validator
	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	return &testHarness{engine: engine, ledger: l, registry: registry}
}

func defaultAgents() []agent.ReasoningAgent {
	return []agent.ReasoningAgent{
		&fakeAgent{id: "SC", role: "Supply Chain Management"},
		&fakeAgent{
			id:         "FIN",
			role:       "Financial Control",
			constraint: &agent.Constraint{Kind: agent.ConstraintFinancial, MaxAmount: float64Ptr(2000)},
			critiqueFn: budgetCritic("FIN", 2000),
		},
		&fakeAgent{
			id:         "FAC",
			role:       "Facility Management",
			constraint: &agent.Constraint{Kind: agent.ConstraintFacility, MaxQuantity: int64Ptr(800)},
			critiqueFn: storageCritic("FAC", 800),
		},
	}
}

func float64Ptr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64       { return &v }

func maskSpec() *ScenarioSpec {
	return &ScenarioSpec{
		Initiator:    "SC",
		Participants: []string{"SC", "FIN", "FAC"},
		Intent:       "restock surgical masks",
		Context: &agent.ScenarioContext{
			Item:             "surgical masks",
			RequiredQuantity: 1000,
			PricePerUnit:     2.0,
			BudgetRemaining:  float64Ptr(2000),
			StorageAvailable: int64Ptr(800),
			Urgency:          "high",
		},
	}
}

func TestCoordinate_StorageBoundedAgreement(t *testing.T) {
	h := newHarness(t, defaultAgents(), nil)

	session, err := h.engine.Coordinate(context.Background(), maskSpec())
	require.NoError(t, err)

	assert.Equal(t, "COORD-00001", session.ID)
	assert.Equal(t, StateCompleted, session.State)
	require.Len(t, session.Rounds, 2)
	assert.Equal(t, int64(1000), session.Rounds[0].Proposal.Quantity)

	require.NotNil(t, session.FinalProposal)
	assert.Equal(t, int64(800), session.FinalProposal.Quantity)
	assert.Equal(t, 1600.0, session.FinalProposal.Cost)
	require.NotNil(t, session.Agreement)
	assert.Equal(t, "completed", session.Agreement.ExecutionStatus)

	require.NotNil(t, session.Receipt)
	assert.Equal(t, "TX-"+session.ID, session.Receipt.TransactionID)
	assert.Equal(t, uint64(1), session.Receipt.BlockIndex)

	block, err := h.ledger.GetBlock(1)
	require.NoError(t, err)
	require.Len(t, block.Payload.Transactions, 1)
	tx := block.Payload.Transactions[0]
	assert.Equal(t, int64(800), tx.Details["quantity"])
	assert.Equal(t, 1600.0, tx.Details["amount"])
	assert.True(t, h.ledger.Validate().Valid)
}

func TestCoordinate_BudgetBoundedAgreement(t *testing.T) {
	agents := []agent.ReasoningAgent{
		&fakeAgent{id: "SC", role: "Supply Chain Management"},
		&fakeAgent{
			id:         "FIN",
			role:       "Financial Control",
			constraint: &agent.Constraint{Kind: agent.ConstraintFinancial, MaxAmount: float64Ptr(1200)},
			critiqueFn: budgetCritic("FIN", 1200),
		},
		&fakeAgent{
			id:         "FAC",
			role:       "Facility Management",
			constraint: &agent.Constraint{Kind: agent.ConstraintFacility, MaxQuantity: int64Ptr(1000)},
			critiqueFn: storageCritic("FAC", 1000),
		},
	}
	h := newHarness(t, agents, nil)

	spec := maskSpec()
	spec.Context.BudgetRemaining = float64Ptr(1200)
	spec.Context.StorageAvailable = int64Ptr(1000)

	session, err := h.engine.Coordinate(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, session.State)
	assert.LessOrEqual(t, len(session.Rounds), 2)
	require.NotNil(t, session.FinalProposal)
	assert.Equal(t, int64(600), session.FinalProposal.Quantity)
	assert.Equal(t, 1200.0, session.FinalProposal.Cost)
	assert.Equal(t, uint64(1), h.ledger.Height())
}

func TestCoordinate_SimultaneousTightConstraints(t *testing.T) {
	agents := []agent.ReasoningAgent{
		&fakeAgent{id: "SC", role: "Supply Chain Management"},
		&fakeAgent{
			id:         "FIN",
			role:       "Financial Control",
			constraint: &agent.Constraint{Kind: agent.ConstraintFinancial, MaxAmount: float64Ptr(1500)},
			critiqueFn: budgetCritic("FIN", 1500),
		},
		&fakeAgent{
			id:         "FAC",
			role:       "Facility Management",
			constraint: &agent.Constraint{Kind: agent.ConstraintFacility, MaxQuantity: int64Ptr(700)},
			critiqueFn: storageCritic("FAC", 700),
		},
	}
	h := newHarness(t, agents, nil)

	spec := maskSpec()
	spec.Context.RequiredQuantity = 2000
	spec.Context.BudgetRemaining = float64Ptr(1500)
	spec.Context.StorageAvailable = int64Ptr(700)

	session, err := h.engine.Coordinate(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, session.State)
	require.NotNil(t, session.FinalProposal)
	assert.Equal(t, int64(700), session.FinalProposal.Quantity)
	assert.Equal(t, 1400.0, session.FinalProposal.Cost)
}

func TestCoordinate_NoAgreement(t *testing.T) {
	agents := defaultAgents()
	agents[2].(*fakeAgent).critiqueFn = rejectAll("FAC")
	h := newHarness(t, agents, &Config{MaxRounds: 3})

	session, err := h.engine.Coordinate(context.Background(), maskSpec())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, session.State)
	assert.Equal(t, FailureNoAgreement, session.FailureCode)
	assert.Len(t, session.Rounds, 3)
	assert.Nil(t, session.Receipt)
	assert.Equal(t, uint64(0), h.ledger.Height())
	assert.Empty(t, h.ledger.PendingTransactions())
}

func TestCoordinate_PolicyViolation(t *testing.T) {
	// All participants accept a purchase above the autonomous spending cap;
	// the smart-contract dry run is the backstop.
	agents := []agent.ReasoningAgent{
		&fakeAgent{id: "SC", role: "Supply Chain Management"},
		&fakeAgent{id: "FIN", role: "Financial Control"},
		&fakeAgent{id: "FAC", role: "Facility Management"},
	}
	h := newHarness(t, agents, nil)

	spec := &ScenarioSpec{
		Initiator:    "SC",
		Participants: []string{"SC", "FIN", "FAC"},
		Intent:       "bulk ventilator purchase",
		Context: &agent.ScenarioContext{
			Item:             "ventilators",
			RequiredQuantity: 3,
			PricePerUnit:     25_000,
		},
	}
	session, err := h.engine.Coordinate(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, session.State)
	assert.Equal(t, FailurePolicyViolation, session.FailureCode)
	assert.Contains(t, session.FailureReason, "BUDGET_OVER_LIMIT")
	assert.Nil(t, session.Receipt)
	assert.Equal(t, uint64(0), h.ledger.Height())
	assert.Empty(t, h.ledger.PendingTransactions())
}

func TestCoordinate_DeadlineExceeded(t *testing.T) {
	agents := defaultAgents()
	agents[1].(*fakeAgent).constraintDelay = 300 * time.Millisecond
	h := newHarness(t, agents, &Config{Timeout: 50 * time.Millisecond})

	session, err := h.engine.Coordinate(context.Background(), maskSpec())
	require.NoError(t, err)

	assert.Equal(t, StateTimeout, session.State)
	assert.Equal(t, FailureDeadlineExceeded, session.FailureCode)
	assert.Nil(t, session.Receipt)
	assert.NotEmpty(t, session.Messages)
	assert.Equal(t, uint64(0), h.ledger.Height())
}

func TestCoordinate_UnavailableAgentYieldsOpenConstraint(t *testing.T) {
	agents := defaultAgents()
	agents[2].(*fakeAgent).constraintErr = agent.ErrUnavailable
	agents[2].(*fakeAgent).critiqueFn = acceptAll("FAC")
	h := newHarness(t, agents, nil)

	spec := maskSpec()
	spec.Context.StorageAvailable = nil
	session, err := h.engine.Coordinate(context.Background(), spec)
	require.NoError(t, err)

	// The silent agent contributes an explicit empty constraint record, not a gap.
	assert.Equal(t, StateCompleted, session.State)
	_, declared := session.Constraints["FAC"]
	assert.False(t, declared)
	found := false
	for _, m := range session.Messages {
		if m.Sender == "FAC" && m.Kind == KindConstraint {
			found = true
			assert.Equal(t, agent.ConstraintNone, m.Content["type"])
		}
	}
	assert.True(t, found)
}

func TestCoordinate_LateConstraintDiscarded(t *testing.T) {
	agents := defaultAgents()
	// Overruns the per-call budget (timeout/2) but still answers well
	// before the session deadline.
	agents[1].(*fakeAgent).constraintDelay = 250 * time.Millisecond
	h := newHarness(t, agents, &Config{Timeout: 400 * time.Millisecond})

	session, err := h.engine.Coordinate(context.Background(), maskSpec())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, session.State)
	_, declared := session.Constraints["FIN"]
	assert.False(t, declared)
	found := false
	for _, m := range session.Messages {
		if m.Sender == "FIN" && m.Kind == KindConstraint {
			found = true
			assert.Equal(t, agent.ConstraintNone, m.Content["type"])
		}
	}
	assert.True(t, found)
}

func TestCoordinate_InputValidation(t *testing.T) {
	h := newHarness(t, defaultAgents(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		spec *ScenarioSpec
		want error
	}{
		{"nil spec", nil, ErrInvalidScenario},
		{"empty participants", &ScenarioSpec{Initiator: "SC"}, ErrInvalidScenario},
		{"missing initiator", &ScenarioSpec{Participants: []string{"SC"}}, ErrInvalidScenario},
		{
			"initiator not participating",
			&ScenarioSpec{Initiator: "SC", Participants: []string{"FIN", "FAC"}},
			ErrInvalidScenario,
		},
		{
			"unknown participant",
			&ScenarioSpec{Initiator: "SC", Participants: []string{"SC", "GHOST"}},
			ErrUnknownAgent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := h.engine.Coordinate(ctx, tt.spec)
			require.Error(t, err)
			assert.ErrorIs(t, errors.Cause(err), tt.want)
			assert.Nil(t, session)
		})
	}
	// No session was created for any rejected input.
	assert.Empty(t, h.engine.ListSessions())
}

func TestCoordinate_TerminalSnapshotsStable(t *testing.T) {
	h := newHarness(t, defaultAgents(), nil)
	session, err := h.engine.Coordinate(context.Background(), maskSpec())
	require.NoError(t, err)
	require.True(t, session.State.Terminal())

	first, err := h.engine.GetSession(session.ID)
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	// Mutating a snapshot must not leak back into the engine.
	first.State = StateNegotiating
	first.Messages[0].Content["intent"] = "tampered"
	first.FinalProposal.Quantity = 1

	second, err := h.engine.GetSession(session.ID)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestCoordinate_MessageOrdering(t *testing.T) {
	h := newHarness(t, defaultAgents(), nil)
	session, err := h.engine.Coordinate(context.Background(), maskSpec())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, session.State)

	messages, err := h.engine.GetMessages(session.ID)
	require.NoError(t, err)

	kinds := make([]Kind, 0, len(messages))
	for i, m := range messages {
		kinds = append(kinds, m.Kind)
		if i > 0 {
			assert.False(t, m.Timestamp.Before(messages[i-1].Timestamp),
				"message %s timestamp went backwards", m.ID)
		}
	}
	// FIN registers before FAC, so FIN's exchanges come first in each phase.
	want := []Kind{
		KindIntent, KindInform,
		KindQuery, KindConstraint, KindQuery, KindConstraint,
		KindProposal, KindAccept, KindCritique,
		KindProposal, KindAccept, KindAccept,
		KindAccept, KindInform,
	}
	assert.Equal(t, want, kinds)

	// Constraint answers reference the query that prompted them.
	for i, m := range messages {
		if m.Kind == KindConstraint {
			require.Greater(t, i, 0)
			assert.Equal(t, messages[i-1].ID, m.InReplyTo)
		}
	}
}

func TestCoordinate_RoundCap(t *testing.T) {
	for _, maxRounds := range []int{1, 2, 3} {
		agents := defaultAgents()
		agents[2].(*fakeAgent).critiqueFn = rejectAll("FAC")
		h := newHarness(t, agents, &Config{MaxRounds: maxRounds})

		session, err := h.engine.Coordinate(context.Background(), maskSpec())
		require.NoError(t, err)
		assert.Equal(t, StateFailed, session.State)
		assert.LessOrEqual(t, len(session.Rounds), maxRounds)
	}
}

func TestCoordinate_SequentialSessionsShareTheLedger(t *testing.T) {
	h := newHarness(t, defaultAgents(), nil)

	first, err := h.engine.Coordinate(context.Background(), maskSpec())
	require.NoError(t, err)
	second, err := h.engine.Coordinate(context.Background(), maskSpec())
	require.NoError(t, err)

	assert.Equal(t, "COORD-00001", first.ID)
	assert.Equal(t, "COORD-00002", second.ID)
	assert.Equal(t, StateCompleted, first.State)
	assert.Equal(t, StateCompleted, second.State)
	assert.Equal(t, uint64(2), h.ledger.Height())
	assert.True(t, h.ledger.Validate().Valid)

	sessions := h.engine.ListSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
}

func TestGetSession_NotFound(t *testing.T) {
	h := newHarness(t, defaultAgents(), nil)
	_, err := h.engine.GetSession("COORD-99999")
	require.Error(t, err)
	assert.ErrorIs(t, errors.Cause(err), ErrNotFound)
	_, err = h.engine.GetMessages("COORD-99999")
	require.Error(t, err)
}
