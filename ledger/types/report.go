package types

import "time"

// Machine-readable failure codes surfaced by the validator and the ledger.
const (
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodeBudgetExceeded   = "BUDGET_EXCEEDED"
	CodeBudgetOverLimit  = "BUDGET_OVER_LIMIT"
	CodeInvalidQuantity  = "INVALID_QUANTITY"
	CodeStorageExceeded  = "STORAGE_EXCEEDED"
	CodeConfidenceTooLow = "CONFIDENCE_TOO_LOW"
	CodeDuplicateTx      = "DUPLICATE_TX"
	CodePolicyViolation  = "POLICY_VIOLATION"
)

// CheckResult is the outcome of a single smart-contract predicate. Checks
// that do not apply to a transaction pass vacuously with an explanatory
// reason. Remaining carries the post-transaction headroom for the budget and
// storage checks.
type CheckResult struct {
	Valid     bool     `json:"valid"`
	Code      string   `json:"code,omitempty"`
	Reason    string   `json:"reason"`
	Remaining *float64 `json:"remaining,omitempty"`
}

// Copy returns a copy of the check result.
func (c *CheckResult) Copy() *CheckResult {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Remaining != nil {
		r := *c.Remaining
		dup.Remaining = &r
	}
	return &dup
}

// ValidationReport aggregates the three policy checks run over a
// transaction. Code names the first failing check in the stable order
// budget, storage, confidence, or DUPLICATE_TX for pool-level rejections.
type ValidationReport struct {
	Valid         bool         `json:"valid"`
	Code          string       `json:"code,omitempty"`
	OverallReason string       `json:"overall_reason"`
	Budget        *CheckResult `json:"budget"`
	Storage       *CheckResult `json:"storage"`
	Confidence    *CheckResult `json:"confidence"`
}

// Copy returns a deep copy of the report.
func (r *ValidationReport) Copy() *ValidationReport {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Budget = r.Budget.Copy()
	dup.Storage = r.Storage.Copy()
	dup.Confidence = r.Confidence.Copy()
	return &dup
}

// ChainReport is the result of a full chain walk.
type ChainReport struct {
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors"`
	BlocksChecked int      `json:"blocks_checked"`
}

// BlockCheck is a per-block integrity report.
type BlockCheck struct {
	Index           uint64 `json:"index"`
	Valid           bool   `json:"valid"`
	HashValid       bool   `json:"hash_valid"`
	LinkValid       bool   `json:"link_valid"`
	DifficultyValid bool   `json:"difficulty_valid"`
	StoredHash      string `json:"block_hash"`
	ComputedHash    string `json:"calculated_hash"`
	PreviousHash    string `json:"previous_hash"`
}

// Receipt identifies where a committed transaction landed in the chain.
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	BlockIndex    uint64 `json:"block_index"`
	BlockHash     string `json:"block_hash"`
}

// TransactionRecord is a committed transaction together with its block
// coordinates, as returned by the ledger's lookup queries.
type TransactionRecord struct {
	BlockIndex     uint64       `json:"block_index"`
	BlockHash      string       `json:"block_hash"`
	BlockTimestamp time.Time    `json:"block_timestamp"`
	Transaction    *Transaction `json:"transaction"`
}

// LedgerStats summarizes the chain and its pools.
type LedgerStats struct {
	TotalBlocks          int    `json:"total_blocks"`
	TotalTransactions    int    `json:"total_transactions"`
	PendingTransactions  int    `json:"pending_transactions"`
	RejectedTransactions int    `json:"rejected_transactions"`
	ChainValid           bool   `json:"chain_valid"`
	LatestBlockHash      string `json:"latest_block_hash"`
	GenesisHash          string `json:"genesis_hash"`
}
