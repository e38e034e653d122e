package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Payload types carried by blocks.
const (
	PayloadGenesis          = "GENESIS"
	PayloadTransactionBlock = "TRANSACTION_BLOCK"
)

// Payload is the body of a block: either the genesis descriptor or an
// ordered batch of committed transactions.
type Payload struct {
	Type             string         `json:"type"`
	Message          string         `json:"message,omitempty"`
	Network          string         `json:"network,omitempty"`
	Version          string         `json:"version,omitempty"`
	TransactionCount int            `json:"transaction_count,omitempty"`
	Transactions     []*Transaction `json:"transactions,omitempty"`
}

// Copy returns a deep copy of the payload.
func (p *Payload) Copy() *Payload {
	if p == nil {
		return nil
	}
	dup := *p
	if p.Transactions != nil {
		dup.Transactions = make([]*Transaction, len(p.Transactions))
		for i, tx := range p.Transactions {
			dup.Transactions[i] = tx.Copy()
		}
	}
	return &dup
}

// Block is one link of the hash chain. Committed blocks are immutable; the
// ledger only ever hands out copies.
type Block struct {
	Index        uint64    `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	PreviousHash string    `json:"previous_hash"`
	Payload      *Payload  `json:"payload"`
	Nonce        uint64    `json:"nonce"`
	Hash         string    `json:"hash"`
}

// Copy returns a deep copy of the block.
func (b *Block) Copy() *Block {
	if b == nil {
		return nil
	}
	dup := *b
	dup.Payload = b.Payload.Copy()
	return &dup
}

// ComputeHash derives the block hash from the canonical encoding of its
// contents: decimal index, RFC3339Nano timestamp, canonical JSON of the
// payload with all object keys sorted, previous hash, and decimal nonce,
// hashed with SHA-256 and rendered as lowercase hex.
func (b *Block) ComputeHash() (string, error) {
	payload, err := canonicalJSON(b.Payload)
	if err != nil {
		return "", errors.Wrap(err, "could not canonicalize block payload")
	}
	var buf bytes.Buffer
	buf.WriteString(strconv.FormatUint(b.Index, 10))
	buf.WriteString(b.Timestamp.Format(time.RFC3339Nano))
	buf.Write(payload)
	buf.WriteString(b.PreviousHash)
	buf.WriteString(strconv.FormatUint(b.Nonce, 10))
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// MeetsDifficulty reports whether the hex hash starts with the required
// number of '0' characters. A difficulty of 0 accepts every hash.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(hash) {
		return false
	}
	return strings.HasPrefix(hash, strings.Repeat("0", difficulty))
}

// canonicalJSON re-encodes v so that every object's keys appear in sorted
// order. Numbers pass through as json.Number so the literal form survives
// the round trip.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}
