package coordination

import "github.com/pkg/errors"

var (
	// ErrInvalidScenario is returned for malformed input: empty participant
	// list or an initiator not among the participants.
	ErrInvalidScenario = errors.New("invalid scenario")
	// ErrUnknownAgent is returned when a referenced agent id is not in the
	// registry.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
)

// Failure codes recorded on terminal sessions.
const (
	FailureAgentUnavailable = "AGENT_UNAVAILABLE"
	FailureNoAgreement      = "NO_AGREEMENT"
	FailurePolicyViolation  = "POLICY_VIOLATION"
	FailureLedgerRejected   = "LEDGER_REJECTED"
	FailureDeadlineExceeded = "DEADLINE_EXCEEDED"
)
