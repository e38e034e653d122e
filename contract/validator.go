// Package contract implements the smart-contract validator: a pure predicate
// gate over transaction details. It holds no state and performs no I/O, so a
// different policy engine can replace it behind the ledger's
// TransactionValidator interface without touching the commit path.
package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blockopslabs/blockops/ledger/types"
)

// Config carries the policy thresholds enforced by the validator. Policy
// changes belong here, not in the predicate code.
type Config struct {
	// MaxSinglePurchase is the autonomous purchase cap. Amounts above it are
	// rejected even when the declared available budget would allow them.
	MaxSinglePurchase float64
	// MinConfidence is the minimum agent confidence accepted without human
	// approval.
	MinConfidence float64
}

// DefaultConfig returns the hospital-operations policy defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxSinglePurchase: 50_000,
		MinConfidence:     0.70,
	}
}

// Validator gates transactions on the budget, storage, and confidence
// policies.
type Validator struct {
	cfg Config
}

// NewValidator returns a validator enforcing cfg. A nil cfg uses the
// defaults.
func NewValidator(cfg *Config) *Validator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Validator{cfg: *cfg}
}

// ValidateTransaction runs the three policy predicates over tx.Details.
// Detail keys that are absent make their check pass vacuously. The overall
// verdict is the conjunction; the overall reason joins the failing
// sub-reasons in the stable order budget, storage, confidence.
func (v *Validator) ValidateTransaction(tx *types.Transaction) *types.ValidationReport {
	report := &types.ValidationReport{Valid: true}

	report.Budget = v.checkBudget(tx.Details)
	report.Storage = v.checkStorage(tx.Details)
	report.Confidence = v.checkConfidence(tx.Details)

	var reasons []string
	for _, check := range []*types.CheckResult{report.Budget, report.Storage, report.Confidence} {
		if !check.Valid {
			report.Valid = false
			if report.Code == "" {
				report.Code = check.Code
			}
			reasons = append(reasons, check.Reason)
		}
	}
	if report.Valid {
		report.OverallReason = "All constraints satisfied"
	} else {
		report.OverallReason = strings.Join(reasons, "; ")
	}
	return report
}

func (v *Validator) checkBudget(details map[string]interface{}) *types.CheckResult {
	amount, ok := numericDetail(details, types.DetailAmount)
	if !ok {
		return &types.CheckResult{Valid: true, Reason: "No amount declared, budget check not applicable"}
	}
	budget, hasBudget := numericDetail(details, types.DetailAvailableBudget)

	if amount <= 0 {
		res := &types.CheckResult{
			Valid:  false,
			Code:   types.CodeInvalidAmount,
			Reason: "Amount must be positive",
		}
		if hasBudget {
			res.Remaining = &budget
		}
		return res
	}
	if hasBudget && amount > budget {
		return &types.CheckResult{
			Valid:     false,
			Code:      types.CodeBudgetExceeded,
			Reason:    fmt.Sprintf("Insufficient budget. Required: $%.2f, Available: $%.2f", amount, budget),
			Remaining: &budget,
		}
	}
	if amount > v.cfg.MaxSinglePurchase {
		res := &types.CheckResult{
			Valid:  false,
			Code:   types.CodeBudgetOverLimit,
			Reason: fmt.Sprintf("Single purchase exceeds autonomous limit of $%.2f. Requires approval", v.cfg.MaxSinglePurchase),
		}
		if hasBudget {
			res.Remaining = &budget
		}
		return res
	}
	res := &types.CheckResult{Valid: true, Reason: "Budget constraint satisfied"}
	if hasBudget {
		remaining := budget - amount
		res.Remaining = &remaining
	}
	return res
}

func (v *Validator) checkStorage(details map[string]interface{}) *types.CheckResult {
	quantity, ok := numericDetail(details, types.DetailQuantity)
	if !ok {
		return &types.CheckResult{Valid: true, Reason: "No quantity declared, storage check not applicable"}
	}
	storage, hasStorage := numericDetail(details, types.DetailAvailableStorage)

	if quantity <= 0 {
		res := &types.CheckResult{
			Valid:  false,
			Code:   types.CodeInvalidQuantity,
			Reason: "Quantity must be positive",
		}
		if hasStorage {
			res.Remaining = &storage
		}
		return res
	}
	if hasStorage && quantity > storage {
		return &types.CheckResult{
			Valid:     false,
			Code:      types.CodeStorageExceeded,
			Reason:    fmt.Sprintf("Insufficient storage. Required: %.0f units, Available: %.0f units", quantity, storage),
			Remaining: &storage,
		}
	}
	res := &types.CheckResult{Valid: true, Reason: "Storage constraint satisfied"}
	if hasStorage {
		remaining := storage - quantity
		res.Remaining = &remaining
	}
	return res
}

func (v *Validator) checkConfidence(details map[string]interface{}) *types.CheckResult {
	confidence, ok := numericDetail(details, types.DetailConfidence)
	if !ok {
		return &types.CheckResult{Valid: true, Reason: "No confidence declared, confidence check not applicable"}
	}
	if confidence < v.cfg.MinConfidence {
		return &types.CheckResult{
			Valid:  false,
			Code:   types.CodeConfidenceTooLow,
			Reason: fmt.Sprintf("Confidence %.0f%% below threshold %.0f%%. Requires human approval", confidence*100, v.cfg.MinConfidence*100),
		}
	}
	return &types.CheckResult{
		Valid:  true,
		Reason: fmt.Sprintf("Confidence %.0f%% meets threshold", confidence*100),
	}
}

// numericDetail coerces a details value to float64. Transactions may arrive
// from Go callers or straight off a JSON boundary, so any Go numeric type
// and json.Number are accepted.
func numericDetail(details map[string]interface{}, key string) (float64, bool) {
	if details == nil {
		return 0, false
	}
	raw, ok := details[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch val := raw.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
