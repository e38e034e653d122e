// Package types defines the record types shared by the ledger and its
// consumers: transactions, blocks, validation reports, and the receipts
// handed back to the coordination layer.
package types

import (
	"time"

	"github.com/google/uuid"
)

// ValidationStatus tracks where a transaction sits in its validation
// lifecycle. A transaction enters the pool as PENDING and leaves Submit as
// either VALIDATED or REJECTED; rejected transactions never reach a block.
type ValidationStatus string

const (
	// StatusPending is the initial status of a freshly built transaction.
	StatusPending ValidationStatus = "PENDING"
	// StatusValidated marks a transaction accepted into the pending pool.
	StatusValidated ValidationStatus = "VALIDATED"
	// StatusRejected marks a transaction refused by the smart contract.
	StatusRejected ValidationStatus = "REJECTED"
)

// Action types recognized across the system. Details maps are opaque to the
// ledger; only the validator interprets individual keys.
const (
	ActionPurchaseOrder       = "PURCHASE_ORDER"
	ActionCoordinatedPurchase = "COORDINATED_PURCHASE"
)

// Detail keys with semantics in the smart-contract validator.
const (
	DetailAmount           = "amount"
	DetailQuantity         = "quantity"
	DetailConfidence       = "confidence"
	DetailAvailableBudget  = "available_budget"
	DetailAvailableStorage = "available_storage"
)

// Transaction is a single ledger entry proposed by an agent or by the
// coordination layer on behalf of a completed negotiation.
type Transaction struct {
	ID         string                 `json:"transaction_id"`
	AgentName  string                 `json:"agent_name"`
	ActionType string                 `json:"action_type"`
	Details    map[string]interface{} `json:"details"`
	Timestamp  time.Time              `json:"timestamp"`
	Status     ValidationStatus       `json:"validation_status"`
	Report     *ValidationReport      `json:"validation_report,omitempty"`
}

// NewTransaction builds a PENDING transaction. An empty id is replaced with a
// generated "TX-<uuid>" identifier.
func NewTransaction(id, agentName, actionType string, details map[string]interface{}, now time.Time) *Transaction {
	if id == "" {
		id = "TX-" + uuid.New().String()
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	return &Transaction{
		ID:         id,
		AgentName:  agentName,
		ActionType: actionType,
		Details:    details,
		Timestamp:  now,
		Status:     StatusPending,
	}
}

// Copy returns a deep copy of the transaction. The ledger hands out copies
// only, so callers can never reach its internal state.
func (t *Transaction) Copy() *Transaction {
	if t == nil {
		return nil
	}
	dup := *t
	dup.Details = copyDetails(t.Details)
	dup.Report = t.Report.Copy()
	return &dup
}

func copyDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyDetails(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
