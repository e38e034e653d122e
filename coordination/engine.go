package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blockopslabs/blockops/agent"
	"github.com/blockopslabs/blockops/ledger"
)

var log = logrus.WithField("prefix", "coordination")

// Config wires the engine to its collaborators. Registry, Ledger, and
// Validator are required; the validator must be the same policy instance the
// ledger enforces, so the dry-run in step 7 predicts the ledger's verdict.
type Config struct {
	Registry  *agent.Registry
	Ledger    *ledger.Ledger
	Validator ledger.TransactionValidator
	// Timeout is the wall-clock budget of one session. Default 30s.
	Timeout time.Duration
	// MaxRounds caps proposal-critique cycles. Default 3.
	MaxRounds int
	// Now supplies timestamps and drives deadline checks. Nil means
	// time.Now.
	Now func() time.Time
}

// Engine drives coordination sessions through the eight-step protocol. Each
// session is owned by exactly one Coordinate call from creation to terminal
// state; external readers only ever see deep snapshots.
type Engine struct {
	registry  *agent.Registry
	ledger    *ledger.Ledger
	validator ledger.TransactionValidator
	timeout   time.Duration
	maxRounds int
	now       func() time.Time

	mu             sync.RWMutex
	sessions       map[string]*Session
	order          []string
	messageCounter uint64
	sessionCounter uint64
}

// NewEngine builds an engine from cfg.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil engine config")
	}
	if cfg.Registry == nil {
		return nil, errors.New("engine requires an agent registry")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("engine requires a ledger")
	}
	if cfg.Validator == nil {
		return nil, errors.New("engine requires a transaction validator")
	}
	e := &Engine{
		registry:  cfg.Registry,
		ledger:    cfg.Ledger,
		validator: cfg.Validator,
		timeout:   cfg.Timeout,
		maxRounds: cfg.MaxRounds,
		now:       cfg.Now,
		sessions:  make(map[string]*Session),
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	if e.maxRounds <= 0 {
		e.maxRounds = 3
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Coordinate runs the full protocol for spec and returns a snapshot of the
// terminal session. Input validation failures (malformed spec, unregistered
// agent) return an error before any session exists; every failure after
// that lands in the session as a FAILED or TIMEOUT state.
func (e *Engine) Coordinate(ctx context.Context, spec *ScenarioSpec) (*Session, error) {
	if spec == nil || len(spec.Participants) == 0 {
		return nil, errors.Wrap(ErrInvalidScenario, "empty participant list")
	}
	if spec.Initiator == "" {
		return nil, errors.Wrap(ErrInvalidScenario, "missing initiator")
	}
	if !contains(spec.Participants, spec.Initiator) {
		return nil, errors.Wrapf(ErrInvalidScenario, "initiator %s not among participants", spec.Initiator)
	}
	for _, id := range spec.Participants {
		if _, err := e.registry.Get(id); err != nil {
			return nil, errors.Wrap(ErrUnknownAgent, id)
		}
	}

	session := e.createSession(spec)
	deadline := session.StartedAt.Add(e.timeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	log.WithFields(logrus.Fields{
		"session":   session.ID,
		"initiator": session.Initiator,
		"intent":    session.Intent,
	}).Info("Starting coordination session")

	e.run(runCtx, session, deadline)
	return e.snapshot(session.ID), nil
}

func (e *Engine) createSession(spec *ScenarioSpec) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionCounter++
	session := &Session{
		ID:           fmt.Sprintf("COORD-%05d", e.sessionCounter),
		State:        StateInitiated,
		Initiator:    spec.Initiator,
		Participants: append([]string{}, spec.Participants...),
		Intent:       spec.Intent,
		Context:      spec.Context.Copy(),
		Constraints:  make(map[string]*agent.Constraint),
		StartedAt:    e.now(),
	}
	if session.Context == nil {
		session.Context = &agent.ScenarioContext{}
	}
	e.sessions[session.ID] = session
	e.order = append(e.order, session.ID)
	return session
}

// run walks the eight steps. The deadline is checked at every step boundary
// and at every agent-call join; results that arrive late are discarded and
// the session transitions to TIMEOUT.
func (e *Engine) run(ctx context.Context, session *Session, deadline time.Time) {
	// Step 1: the initiator declares intent to the other participants.
	e.appendMessage(session, session.Initiator, without(session.Participants, session.Initiator), KindIntent, map[string]interface{}{
		"intent":  session.Intent,
		"context": session.Context.Copy(),
	}, "")

	// Step 2: the coordinator announces the negotiation. Pure fan-out.
	e.appendMessage(session, SenderCoordinator, session.Participants, KindInform, map[string]interface{}{
		"announcement":   fmt.Sprintf("Coordination session %s initiated", session.ID),
		"initiator":      session.Initiator,
		"intent":         session.Intent,
		"please_provide": "constraints",
	}, "")
	if e.checkDeadline(session, deadline) {
		return
	}

	// Step 3: collect constraints from the non-initiators.
	if !e.collectConstraints(ctx, session, deadline) {
		return
	}

	// Step 4: ask the initiator for a proposal.
	proposal, proposalMsgID, ok := e.generateProposal(ctx, session, deadline, nil, nil)
	if !ok {
		return
	}

	// Steps 5-6: evaluate and refine until unanimity or the round cap.
	proposal, ok = e.negotiate(ctx, session, deadline, proposal, proposalMsgID)
	if !ok {
		return
	}
	e.setFinalProposal(session, proposal)

	// Step 7: smart-contract dry run. No ledger write yet.
	if !e.validateAgreement(session, deadline, proposal) {
		return
	}

	// Step 8: submit, commit, receipt.
	e.execute(session, proposal)
}

func (e *Engine) collectConstraints(ctx context.Context, session *Session, deadline time.Time) bool {
	e.setState(session, StateCollectingConstraints)
	responders := e.registrationOrder(session)

	type constraintResult struct {
		constraint *agent.Constraint
		err        error
	}
	results := make([]constraintResult, len(responders))

	// Calls run concurrently with a per-call budget of half the session
	// timeout; messages are appended after the join in registration order
	// so the log is deterministic.
	var wg sync.WaitGroup
	for i, a := range responders {
		wg.Add(1)
		go func(i int, a agent.ReasoningAgent) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, e.timeout/2)
			defer cancel()
			start := e.now()
			c, err := a.ProposeConstraint(callCtx, session.Context.Copy())
			if err == nil && e.now().Sub(start) > e.timeout/2 {
				// Agents that ignore their context can still overrun the
				// per-call budget; a late constraint counts as no answer.
				c, err = nil, errors.Wrap(agent.ErrUnavailable, "constraint arrived after the per-call budget")
			}
			results[i] = constraintResult{constraint: c, err: err}
		}(i, a)
	}
	wg.Wait()
	if e.checkDeadline(session, deadline) {
		return false
	}

	for i, a := range responders {
		query := e.appendMessage(session, SenderCoordinator, []string{a.ID()}, KindQuery, map[string]interface{}{
			"query": "What are your constraints for this coordination?",
			"about": session.Context.Item,
		}, "")

		res := results[i]
		if res.err != nil || res.constraint == nil {
			agentCalls.WithLabelValues("ProposeConstraint", "error").Inc()
			log.WithFields(logrus.Fields{
				"session": session.ID,
				"agent":   a.ID(),
			}).WithError(res.err).Warn("Agent did not provide a constraint")
			e.appendMessage(session, a.ID(), []string{session.Initiator}, KindConstraint, map[string]interface{}{
				"type":        agent.ConstraintNone,
				"constraints": map[string]interface{}{},
			}, query.ID)
			continue
		}
		agentCalls.WithLabelValues("ProposeConstraint", "ok").Inc()
		e.setConstraint(session, a.ID(), res.constraint)
		e.appendMessage(session, a.ID(), []string{session.Initiator}, KindConstraint, map[string]interface{}{
			"type":        res.constraint.Kind,
			"constraints": constraintContent(res.constraint),
		}, query.ID)
	}
	return !e.checkDeadline(session, deadline)
}

// generateProposal asks the initiator for a proposal and broadcasts it. On
// refinement, prior and critiques carry the previous round into the
// initiator's context.
func (e *Engine) generateProposal(
	ctx context.Context,
	session *Session,
	deadline time.Time,
	prior *agent.Proposal,
	critiques []*agent.Critique,
) (*agent.Proposal, string, bool) {
	if prior == nil {
		e.setState(session, StateGeneratingProposal)
	}
	initiator, err := e.registry.Get(session.Initiator)
	if err != nil {
		e.markFailed(session, FailureAgentUnavailable, fmt.Sprintf("initiator %s not registered", session.Initiator))
		return nil, "", false
	}

	sc := session.Context.Copy()
	if prior != nil {
		sc.PriorProposal = prior.Copy()
		sc.Critiques = make([]*agent.Critique, len(critiques))
		for i, c := range critiques {
			sc.Critiques[i] = c.Copy()
		}
	}
	proposal, err := initiator.GenerateProposal(ctx, sc, e.constraintsSnapshot(session))
	if e.checkDeadline(session, deadline) {
		return nil, "", false
	}
	if err != nil || proposal == nil {
		agentCalls.WithLabelValues("GenerateProposal", "error").Inc()
		e.markFailed(session, FailureAgentUnavailable,
			fmt.Sprintf("initiator %s produced no proposal: %v", session.Initiator, err))
		return nil, "", false
	}
	agentCalls.WithLabelValues("GenerateProposal", "ok").Inc()

	msg := e.appendMessage(session, session.Initiator, without(session.Participants, session.Initiator), KindProposal, map[string]interface{}{
		"item_name":             proposal.ItemName,
		"proposed_quantity":     proposal.Quantity,
		"proposed_cost":         proposal.Cost,
		"price_per_unit":        proposal.PricePerUnit,
		"reasoning":             proposal.Reasoning,
		"confidence":            proposal.Confidence,
		"constraints_satisfied": proposal.ConstraintsSatisfied,
	}, "")
	return proposal, msg.ID, true
}

func (e *Engine) negotiate(
	ctx context.Context,
	session *Session,
	deadline time.Time,
	proposal *agent.Proposal,
	proposalMsgID string,
) (*agent.Proposal, bool) {
	e.setState(session, StateNegotiating)
	critics := e.registrationOrder(session)

	for round := 1; round <= e.maxRounds; round++ {
		roundStart := e.now()
		critiques := make([]*agent.Critique, len(critics))

		var wg sync.WaitGroup
		for i, a := range critics {
			wg.Add(1)
			go func(i int, a agent.ReasoningAgent) {
				defer wg.Done()
				c, err := a.Critique(ctx, proposal.Copy(), session.Context.Copy())
				if err != nil || c == nil {
					agentCalls.WithLabelValues("Critique", "error").Inc()
					// An absent critic cannot confirm an agreement.
					critiques[i] = &agent.Critique{
						Agent:     a.ID(),
						Verdict:   agent.VerdictCritique,
						Reasoning: "agent unavailable",
					}
					return
				}
				agentCalls.WithLabelValues("Critique", "ok").Inc()
				if c.Agent == "" {
					c.Agent = a.ID()
				}
				critiques[i] = c
			}(i, a)
		}
		wg.Wait()
		if e.checkDeadline(session, deadline) {
			return nil, false
		}

		allAccept := true
		for i, a := range critics {
			c := critiques[i]
			kind := KindAccept
			if c.Verdict != agent.VerdictAccept {
				kind = KindCritique
				allAccept = false
			}
			content := map[string]interface{}{
				"agent":      c.Agent,
				"decision":   string(c.Verdict),
				"reasoning":  c.Reasoning,
				"confidence": c.Confidence,
			}
			if c.Adjustments != nil {
				content["suggested_adjustments"] = c.Adjustments.Copy()
			}
			e.appendMessage(session, a.ID(), []string{session.Initiator, SenderCoordinator}, kind, content, proposalMsgID)
		}
		e.appendRound(session, &Round{
			Number:    round,
			Proposal:  proposal.Copy(),
			Critiques: critiques,
			Duration:  e.now().Sub(roundStart),
		})

		if allAccept {
			log.WithFields(logrus.Fields{
				"session": session.ID,
				"round":   round,
			}).Info("Proposal accepted by all participants")
			return proposal, true
		}
		if round == e.maxRounds {
			e.markFailed(session, FailureNoAgreement,
				fmt.Sprintf("no unanimous agreement after %d rounds", e.maxRounds))
			return nil, false
		}

		log.WithFields(logrus.Fields{
			"session": session.ID,
			"round":   round,
		}).Info("Refining proposal from critiques")
		refined, msgID, ok := e.generateProposal(ctx, session, deadline, proposal, critiques)
		if !ok {
			return nil, false
		}
		proposal = refined
		proposalMsgID = msgID
	}
	// Unreachable: the loop always returns.
	return nil, false
}

func (e *Engine) validateAgreement(session *Session, deadline time.Time, proposal *agent.Proposal) bool {
	if e.checkDeadline(session, deadline) {
		return false
	}
	e.setState(session, StateValidating)

	tx := buildTransaction(session, proposal, e.now())
	report := e.validator.ValidateTransaction(tx)
	if !report.Valid {
		reason := report.OverallReason
		if report.Code != "" {
			reason = report.Code + ": " + reason
		}
		e.markFailed(session, FailurePolicyViolation, reason)
		return false
	}
	e.appendMessage(session, SenderSmartContract, session.Participants, KindAccept, map[string]interface{}{
		"agent":      SenderSmartContract,
		"decision":   string(agent.VerdictAccept),
		"reasoning":  report.OverallReason,
		"confidence": 1.0,
	}, "")
	return !e.checkDeadline(session, deadline)
}

func (e *Engine) execute(session *Session, proposal *agent.Proposal) {
	// Past this point a timeout can no longer abort the session: there is
	// no cancelling a committed block.
	e.setState(session, StateExecuting)
	agreement := e.buildAgreement(session, proposal)

	receipt, err := e.executeAgreement(session, proposal)
	if err != nil {
		e.markFailed(session, FailureLedgerRejected, err.Error())
		return
	}

	e.mu.Lock()
	agreement.ExecutionStatus = "completed"
	session.Agreement = agreement
	session.Receipt = receipt
	e.mu.Unlock()

	e.appendMessage(session, SenderCoordinator, session.Participants, KindInform, map[string]interface{}{
		"announcement": fmt.Sprintf("Coordinated action executed and recorded in block %d", receipt.BlockIndex),
		"status":       "EXECUTED",
		"agreement":    agreement.Copy(),
	}, "")

	e.mu.Lock()
	session.State = StateCompleted
	session.EndedAt = e.now()
	rounds := len(session.Rounds)
	e.mu.Unlock()

	sessionsTotal.WithLabelValues(string(StateCompleted)).Inc()
	negotiationRounds.Observe(float64(rounds))
	log.WithFields(logrus.Fields{
		"session": session.ID,
		"block":   receipt.BlockIndex,
		"tx":      receipt.TransactionID,
		"rounds":  rounds,
	}).Info("Coordination completed")
}

func (e *Engine) buildAgreement(session *Session, proposal *agent.Proposal) *Agreement {
	e.mu.RLock()
	defer e.mu.RUnlock()
	constraints := make(map[string]*agent.Constraint, len(session.Constraints))
	for k, v := range session.Constraints {
		constraints[k] = v.Copy()
	}
	return &Agreement{
		SessionID:            session.ID,
		Proposal:             proposal.Copy(),
		Participants:         append([]string{}, session.Participants...),
		ConstraintsSatisfied: constraints,
		Timestamp:            e.now(),
		ExecutionStatus:      "pending",
	}
}

// GetSession returns a deep snapshot of the session with the given id.
func (e *Engine) GetSession(id string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	session, ok := e.sessions[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return session.Copy(), nil
}

// ListSessions returns snapshots of all sessions in creation order.
func (e *Engine) ListSessions() []*Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Session, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.sessions[id].Copy())
	}
	return out
}

// GetMessages returns copies of a session's message log.
func (e *Engine) GetMessages(sessionID string) ([]*Message, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	session, ok := e.sessions[sessionID]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, sessionID)
	}
	out := make([]*Message, 0, len(session.Messages))
	for _, m := range session.Messages {
		out = append(out, m.Copy())
	}
	return out, nil
}

// registrationOrder returns the session's non-initiator participants in
// registry registration order.
func (e *Engine) registrationOrder(session *Session) []agent.ReasoningAgent {
	participants := make(map[string]struct{}, len(session.Participants))
	for _, id := range session.Participants {
		participants[id] = struct{}{}
	}
	var out []agent.ReasoningAgent
	for _, a := range e.registry.List() {
		if a.ID() == session.Initiator {
			continue
		}
		if _, ok := participants[a.ID()]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) appendMessage(session *Session, sender string, recipients []string, kind Kind, content map[string]interface{}, inReplyTo string) *Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messageCounter++
	msg := &Message{
		ID:         fmt.Sprintf("MSG-%05d", e.messageCounter),
		SessionID:  session.ID,
		Sender:     sender,
		Recipients: append([]string{}, recipients...),
		Kind:       kind,
		Content:    content,
		InReplyTo:  inReplyTo,
		Timestamp:  e.now(),
	}
	session.Messages = append(session.Messages, msg)
	log.WithFields(logrus.Fields{
		"session": session.ID,
		"kind":    kind,
		"sender":  sender,
	}).Debug("Message appended")
	return msg
}

func (e *Engine) setState(session *Session, state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session.State = state
}

func (e *Engine) setConstraint(session *Session, agentID string, c *agent.Constraint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session.Constraints[agentID] = c.Copy()
}

func (e *Engine) constraintsSnapshot(session *Session) map[string]*agent.Constraint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*agent.Constraint, len(session.Constraints))
	for k, v := range session.Constraints {
		out[k] = v.Copy()
	}
	return out
}

func (e *Engine) setFinalProposal(session *Session, proposal *agent.Proposal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session.FinalProposal = proposal.Copy()
}

func (e *Engine) appendRound(session *Session, round *Round) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session.Rounds = append(session.Rounds, round)
}

// checkDeadline transitions the session to TIMEOUT when the wall-clock
// deadline has passed. It is called at step boundaries and after every
// agent-call join, so late results are discarded.
func (e *Engine) checkDeadline(session *Session, deadline time.Time) bool {
	if e.now().After(deadline) {
		e.mu.Lock()
		if session.State.Terminal() {
			e.mu.Unlock()
			return true
		}
		session.State = StateTimeout
		session.FailureCode = FailureDeadlineExceeded
		session.FailureReason = fmt.Sprintf("session exceeded its %v deadline", e.timeout)
		session.EndedAt = e.now()
		e.mu.Unlock()
		sessionsTotal.WithLabelValues(string(StateTimeout)).Inc()
		log.WithField("session", session.ID).Warn("Coordination timed out")
		return true
	}
	return false
}

func (e *Engine) markFailed(session *Session, code, reason string) {
	e.mu.Lock()
	if session.State.Terminal() {
		e.mu.Unlock()
		return
	}
	session.State = StateFailed
	session.FailureCode = code
	session.FailureReason = reason
	session.EndedAt = e.now()
	e.mu.Unlock()
	sessionsTotal.WithLabelValues(string(StateFailed)).Inc()
	log.WithFields(logrus.Fields{
		"session": session.ID,
		"code":    code,
		"reason":  reason,
	}).Error("Coordination failed")
}

func (e *Engine) snapshot(id string) *Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[id].Copy()
}

func constraintContent(c *agent.Constraint) map[string]interface{} {
	out := make(map[string]interface{}, len(c.Details)+2)
	for k, v := range c.Details {
		out[k] = v
	}
	if c.MaxAmount != nil {
		out["max_amount"] = *c.MaxAmount
	}
	if c.MaxQuantity != nil {
		out["max_quantity"] = *c.MaxQuantity
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
