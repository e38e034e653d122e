package coordination

import (
	"time"

	"github.com/pkg/errors"

	"github.com/blockopslabs/blockops/agent"
	"github.com/blockopslabs/blockops/ledger/types"
)

// buildTransaction translates an accepted proposal and its scenario context
// into a ledger transaction. The amount/quantity/confidence keys feed the
// smart contract; available_budget and available_storage are carried only
// when the scenario declared them, so absent facts keep their checks
// vacuous.
func buildTransaction(session *Session, proposal *agent.Proposal, now time.Time) *types.Transaction {
	details := map[string]interface{}{
		"item_name":            proposal.ItemName,
		"proposed_quantity":    proposal.Quantity,
		"proposed_cost":        proposal.Cost,
		types.DetailAmount:     proposal.Cost,
		types.DetailQuantity:   proposal.Quantity,
		types.DetailConfidence: proposal.Confidence,
		"price_per_unit":       proposal.PricePerUnit,
		"participants":         append([]string{}, session.Participants...),
		"session_id":           session.ID,
		"rounds":               len(session.Rounds),
		"intent":               session.Intent,
	}
	if session.Context.BudgetRemaining != nil {
		details[types.DetailAvailableBudget] = *session.Context.BudgetRemaining
	}
	if session.Context.StorageAvailable != nil {
		details[types.DetailAvailableStorage] = *session.Context.StorageAvailable
	}
	return types.NewTransaction(
		"TX-"+session.ID,
		SenderCoordinator,
		types.ActionCoordinatedPurchase,
		details,
		now,
	)
}

// executeAgreement submits the real transaction and commits until it is part
// of a block, then returns the ledger receipt.
func (e *Engine) executeAgreement(session *Session, proposal *agent.Proposal) (*types.Receipt, error) {
	tx := buildTransaction(session, proposal, e.now())

	report, err := e.ledger.Submit(tx)
	if err != nil {
		return nil, errors.Wrap(err, "could not submit transaction")
	}
	if !report.Valid {
		reason := report.OverallReason
		if report.Code != "" {
			reason = report.Code + ": " + reason
		}
		return nil, errors.New(reason)
	}

	// Single-transaction commits until our transaction lands. Under
	// concurrent sessions a commit may drain another session's transaction
	// first; committing is cheap and bounded by the pool size.
	for {
		block, err := e.ledger.CommitAuto()
		if err != nil {
			return nil, errors.Wrap(err, "could not commit block")
		}
		if block == nil {
			// Pool drained by a concurrent committer; our transaction must
			// already be in a block.
			record, err := e.ledger.FindTransaction(tx.ID)
			if err != nil {
				return nil, errors.Wrap(err, "transaction vanished before commit")
			}
			return &types.Receipt{
				TransactionID: tx.ID,
				BlockIndex:    record.BlockIndex,
				BlockHash:     record.BlockHash,
			}, nil
		}
		for _, committed := range block.Payload.Transactions {
			if committed.ID == tx.ID {
				return &types.Receipt{
					TransactionID: tx.ID,
					BlockIndex:    block.Index,
					BlockHash:     block.Hash,
				}, nil
			}
		}
	}
}
