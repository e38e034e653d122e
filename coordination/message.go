// Package coordination implements the eight-step negotiation protocol: a
// deterministic state machine that drives a session through intent
// broadcast, constraint collection, proposal generation, iterative
// critique and refinement, smart-contract validation, and ledger execution.
package coordination

import "time"

// Kind is the FIPA-ACL inspired message type.
type Kind string

// Message kinds exchanged during a session.
const (
	KindIntent     Kind = "INTENT"
	KindQuery      Kind = "QUERY"
	KindConstraint Kind = "CONSTRAINT"
	KindInform     Kind = "INFORM"
	KindProposal   Kind = "PROPOSAL"
	KindCritique   Kind = "CRITIQUE"
	KindAccept     Kind = "ACCEPT"
	KindReject     Kind = "REJECT"
)

// Pseudo-senders used for messages that do not originate from a registered
// agent.
const (
	SenderCoordinator   = "COORDINATOR"
	SenderSmartContract = "SMART_CONTRACT"
)

// Message is one entry of a session's append-only log. Ids are engine
// scoped ("MSG-%05d") and timestamps non-decreasing within a session.
type Message struct {
	ID         string                 `json:"message_id"`
	SessionID  string                 `json:"session_id"`
	Sender     string                 `json:"sender"`
	Recipients []string               `json:"recipients"`
	Kind       Kind                   `json:"kind"`
	Content    map[string]interface{} `json:"content"`
	InReplyTo  string                 `json:"in_reply_to,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}
	dup := *m
	dup.Recipients = make([]string, len(m.Recipients))
	copy(dup.Recipients, m.Recipients)
	dup.Content = copyContent(m.Content)
	return &dup
}

func copyContent(content map[string]interface{}) map[string]interface{} {
	if content == nil {
		return nil
	}
	out := make(map[string]interface{}, len(content))
	for k, v := range content {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = copyContent(val)
		case []string:
			s := make([]string, len(val))
			copy(s, val)
			out[k] = s
		case []interface{}:
			s := make([]interface{}, len(val))
			copy(s, val)
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}
