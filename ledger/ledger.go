// Package ledger implements the append-only block store: an in-memory,
// hash-chained ledger with a genesis block, a pending transaction pool, a
// pluggable smart-contract gate, and a simulated consensus delay on the
// commit path standing in for permissioned-network ordering.
package ledger

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blockopslabs/blockops/ledger/types"
	"github.com/blockopslabs/blockops/runtime/version"
)

var log = logrus.WithField("prefix", "ledger")

const (
	genesisMessage = "BlockOps Hospital Operations Blockchain - Genesis Block"
	genesisNetwork = "Hospital Operations Network"
)

// TransactionValidator is the ledger's view of the smart contract. The
// coordination engine holds the same instance for its dry-run step.
type TransactionValidator interface {
	ValidateTransaction(tx *types.Transaction) *types.ValidationReport
}

// Config tunes the ledger. Zero values fall back to the defaults below.
type Config struct {
	// BatchSize caps the number of transactions drained into one block.
	BatchSize int
	// Difficulty is the number of leading hex zeros required on block
	// hashes. 0 disables mining. Keep it small: this runs on the commit
	// path.
	Difficulty int
	// ConsensusDelayMin and ConsensusDelayMax bound the uniform-random
	// sleep simulating PBFT-like ordering on each commit.
	ConsensusDelayMin time.Duration
	ConsensusDelayMax time.Duration
	// Validator gates submissions. Nil is rejected by NewLedger; the caller
	// owns the policy configuration.
	Validator TransactionValidator
	// RejectionRetention bounds how long rejected transactions stay
	// queryable. 0 keeps them forever.
	RejectionRetention time.Duration
	// Now supplies timestamps. Nil means time.Now. Tests inject a fixed
	// clock here.
	Now func() time.Time
}

// DefaultConfig returns the demo defaults: batches of 10, difficulty 2, and
// a 100-250ms consensus delay.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:         10,
		Difficulty:        2,
		ConsensusDelayMin: 100 * time.Millisecond,
		ConsensusDelayMax: 250 * time.Millisecond,
	}
}

// Ledger is the single-writer chain store. Submit and Commit serialize on
// internal locks; readers run concurrently and always observe either the
// pre- or post-commit chain, never a partial append.
type Ledger struct {
	cfg      Config
	now      func() time.Time
	rejected *gocache.Cache

	// commitMu serializes commits end to end. mu guards the fields below
	// and is never held across the consensus sleep or the mining loop.
	commitMu   sync.Mutex
	mu         sync.RWMutex
	chain      []*types.Block
	pending    []*types.Transaction
	pendingIDs map[string]struct{}
	committed  map[string]uint64 // tx id -> block index
	committing bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewLedger builds a ledger with the genesis block already mined and
// committed.
func NewLedger(cfg *Config) (*Ledger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.ConsensusDelayMin < 0 || c.ConsensusDelayMax < c.ConsensusDelayMin {
		return nil, errors.Errorf("invalid consensus delay bounds [%v, %v]", c.ConsensusDelayMin, c.ConsensusDelayMax)
	}
	if c.Validator == nil {
		return nil, errors.New("ledger requires a transaction validator")
	}
	retention := c.RejectionRetention
	if retention <= 0 {
		retention = gocache.NoExpiration
	}
	l := &Ledger{
		cfg:        c,
		rejected:   gocache.New(retention, 10*time.Minute),
		pendingIDs: make(map[string]struct{}),
		committed:  make(map[string]uint64),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	l.now = c.Now
	if l.now == nil {
		l.now = time.Now
	}
	genesis, err := l.mineGenesis()
	if err != nil {
		return nil, errors.Wrap(err, "could not create genesis block")
	}
	l.chain = []*types.Block{genesis}
	log.WithFields(logrus.Fields{
		"hash":       genesis.Hash,
		"difficulty": c.Difficulty,
	}).Info("Genesis block created")
	return l, nil
}

func (l *Ledger) mineGenesis() (*types.Block, error) {
	block := &types.Block{
		Index:        0,
		Timestamp:    l.now(),
		PreviousHash: "",
		Payload: &types.Payload{
			Type:    types.PayloadGenesis,
			Message: genesisMessage,
			Network: genesisNetwork,
			Version: version.Version,
		},
	}
	if err := l.mine(block); err != nil {
		return nil, err
	}
	return block, nil
}

// mine increments the nonce until the block hash satisfies the difficulty
// predicate, then seals the hash onto the block.
func (l *Ledger) mine(block *types.Block) error {
	for {
		hash, err := block.ComputeHash()
		if err != nil {
			return errors.Wrap(err, "could not hash block")
		}
		if types.MeetsDifficulty(hash, l.cfg.Difficulty) {
			block.Hash = hash
			return nil
		}
		block.Nonce++
	}
}

// Submit runs the duplicate check and the smart contract over tx. Valid
// transactions join the pending pool; rejected ones are recorded in the
// rejection log and never reach a block. The transaction's status and report
// are updated in place as well as on the returned report.
func (l *Ledger) Submit(tx *types.Transaction) (*types.ValidationReport, error) {
	if tx == nil {
		return nil, ErrNilTransaction
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = l.now()
	}

	l.mu.Lock()
	if l.isKnownIDLocked(tx.ID) {
		l.mu.Unlock()
		report := &types.ValidationReport{
			Valid:         false,
			Code:          types.CodeDuplicateTx,
			OverallReason: fmt.Sprintf("Transaction id %s already known to the ledger", tx.ID),
		}
		l.reject(tx, report)
		return report.Copy(), nil
	}
	l.mu.Unlock()

	// No lock is held across the validator call.
	report := l.cfg.Validator.ValidateTransaction(tx)
	if !report.Valid {
		l.reject(tx, report)
		return report.Copy(), nil
	}

	tx.Status = types.StatusValidated
	tx.Report = report

	l.mu.Lock()
	// Re-check under the lock: a duplicate may have landed while the
	// validator ran.
	if l.isKnownIDLocked(tx.ID) {
		l.mu.Unlock()
		dup := &types.ValidationReport{
			Valid:         false,
			Code:          types.CodeDuplicateTx,
			OverallReason: fmt.Sprintf("Transaction id %s already known to the ledger", tx.ID),
		}
		l.reject(tx, dup)
		return dup.Copy(), nil
	}
	l.pending = append(l.pending, tx.Copy())
	l.pendingIDs[tx.ID] = struct{}{}
	pendingTransactions.Set(float64(len(l.pending)))
	l.mu.Unlock()

	transactionsSubmitted.WithLabelValues("validated").Inc()
	log.WithFields(logrus.Fields{
		"id":     tx.ID,
		"action": tx.ActionType,
	}).Info("Transaction validated and pooled")
	return report.Copy(), nil
}

func (l *Ledger) isKnownIDLocked(id string) bool {
	if _, ok := l.committed[id]; ok {
		return true
	}
	_, ok := l.pendingIDs[id]
	return ok
}

func (l *Ledger) reject(tx *types.Transaction, report *types.ValidationReport) {
	tx.Status = types.StatusRejected
	tx.Report = report
	l.rejected.Set(tx.ID, tx.Copy(), gocache.DefaultExpiration)
	transactionsSubmitted.WithLabelValues("rejected").Inc()
	log.WithFields(logrus.Fields{
		"id":     tx.ID,
		"reason": report.OverallReason,
	}).Warn("Transaction rejected")
}

// Commit drains up to BatchSize pending transactions into a new block. An
// empty pool returns (nil, nil). The commit is atomic: either the block is
// appended and the batch removed from the pool, or an error is returned and
// the pool is untouched.
func (l *Ledger) Commit() (*types.Block, error) {
	return l.commit(l.cfg.BatchSize)
}

// CommitAuto forces an immediate single-transaction commit. The
// coordination layer uses it after each successful negotiation so every
// agreement is visible as its own block.
func (l *Ledger) CommitAuto() (*types.Block, error) {
	return l.commit(1)
}

func (l *Ledger) commit(batchSize int) (*types.Block, error) {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	l.mu.Lock()
	n := len(l.pending)
	if n == 0 {
		l.mu.Unlock()
		return nil, nil
	}
	if n > batchSize {
		n = batchSize
	}
	l.committing = true
	batch := make([]*types.Transaction, n)
	for i := 0; i < n; i++ {
		batch[i] = l.pending[i].Copy()
	}
	index := uint64(len(l.chain))
	previousHash := l.chain[len(l.chain)-1].Hash
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.committing = false
		l.mu.Unlock()
	}()

	start := time.Now()
	l.sleepConsensus()

	block := &types.Block{
		Index:        index,
		Timestamp:    l.now(),
		PreviousHash: previousHash,
		Payload: &types.Payload{
			Type:             types.PayloadTransactionBlock,
			TransactionCount: n,
			Transactions:     batch,
		},
	}
	if err := l.mine(block); err != nil {
		return nil, err
	}
	// Self-check before the block becomes visible. A failure here is an
	// internal invariant violation and must not produce a partial write.
	hash, err := block.ComputeHash()
	if err != nil || hash != block.Hash || !types.MeetsDifficulty(hash, l.cfg.Difficulty) {
		return nil, errSealedBlockCorrupt
	}

	l.mu.Lock()
	l.chain = append(l.chain, block)
	l.pending = l.pending[n:]
	for _, tx := range batch {
		delete(l.pendingIDs, tx.ID)
		l.committed[tx.ID] = block.Index
	}
	pendingTransactions.Set(float64(len(l.pending)))
	l.mu.Unlock()

	blocksCommitted.Inc()
	commitDuration.Observe(time.Since(start).Seconds())
	log.WithFields(logrus.Fields{
		"index":        block.Index,
		"hash":         block.Hash,
		"transactions": n,
	}).Info("Block committed")
	return block.Copy(), nil
}

func (l *Ledger) sleepConsensus() {
	delay := l.cfg.ConsensusDelayMin
	if spread := l.cfg.ConsensusDelayMax - l.cfg.ConsensusDelayMin; spread > 0 {
		l.rngMu.Lock()
		delay += time.Duration(l.rng.Int63n(int64(spread) + 1))
		l.rngMu.Unlock()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}

// Validate walks the whole chain and reports every integrity violation:
// recomputed-hash mismatches, broken previous-hash links, difficulty
// failures, and a malformed genesis block. It is read-only and safe to call
// concurrently with a commit.
func (l *Ledger) Validate() *types.ChainReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.validateLocked()
}

func (l *Ledger) validateLocked() *types.ChainReport {
	report := &types.ChainReport{BlocksChecked: len(l.chain)}
	if len(l.chain) == 0 {
		report.Errors = append(report.Errors, "chain is empty")
		return report
	}

	genesis := l.chain[0]
	if genesis.Index != 0 {
		report.Errors = append(report.Errors, fmt.Sprintf("genesis block has index %d, want 0", genesis.Index))
	}
	if genesis.PreviousHash != "" {
		report.Errors = append(report.Errors, "genesis block has a non-empty previous_hash")
	}
	if genesis.Payload == nil || genesis.Payload.Type != types.PayloadGenesis {
		report.Errors = append(report.Errors, "genesis block payload is not tagged GENESIS")
	}

	for i, block := range l.chain {
		computed, err := block.ComputeHash()
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("block %d could not be hashed: %v", i, err))
			continue
		}
		if computed != block.Hash {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"block %d hash invalid. Stored: %s, Calculated: %s", i, block.Hash, computed))
		}
		if !types.MeetsDifficulty(block.Hash, l.cfg.Difficulty) {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"block %d hash does not meet difficulty %d", i, l.cfg.Difficulty))
		}
		if i > 0 && block.PreviousHash != l.chain[i-1].Hash {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"block %d previous_hash mismatch. Expected: %s, Got: %s", i, l.chain[i-1].Hash, block.PreviousHash))
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}

// VerifyBlock reports hash, link, and difficulty integrity for one block.
func (l *Ledger) VerifyBlock(index uint64) (*types.BlockCheck, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.chain)) {
		return nil, errors.Wrapf(ErrNotFound, "block %d", index)
	}
	block := l.chain[index]
	computed, err := block.ComputeHash()
	if err != nil {
		return nil, errors.Wrapf(err, "could not hash block %d", index)
	}
	check := &types.BlockCheck{
		Index:           index,
		HashValid:       computed == block.Hash,
		LinkValid:       true,
		DifficultyValid: types.MeetsDifficulty(block.Hash, l.cfg.Difficulty),
		StoredHash:      block.Hash,
		ComputedHash:    computed,
		PreviousHash:    block.PreviousHash,
	}
	if index > 0 {
		check.LinkValid = block.PreviousHash == l.chain[index-1].Hash
	} else {
		check.LinkValid = block.PreviousHash == ""
	}
	check.Valid = check.HashValid && check.LinkValid && check.DifficultyValid
	return check, nil
}

// GetBlock returns a copy of the block at index, or ErrNotFound when the
// index is out of range.
func (l *Ledger) GetBlock(index uint64) (*types.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.chain)) {
		return nil, errors.Wrapf(ErrNotFound, "block %d", index)
	}
	return l.chain[index].Copy(), nil
}

// GetBlocks returns copies of up to limit blocks starting at offset. The
// window is clamped to the chain; an out-of-range offset yields an empty
// slice.
func (l *Ledger) GetBlocks(offset, limit int) []*types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	if offset >= len(l.chain) {
		return []*types.Block{}
	}
	end := offset + limit
	if end > len(l.chain) {
		end = len(l.chain)
	}
	out := make([]*types.Block, 0, end-offset)
	for _, block := range l.chain[offset:end] {
		out = append(out, block.Copy())
	}
	return out
}

// Genesis returns a copy of the genesis block.
func (l *Ledger) Genesis() *types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[0].Copy()
}

// Height returns the index of the latest block.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.chain)) - 1
}

// FindTransaction locates a committed transaction by id.
func (l *Ledger) FindTransaction(id string) (*types.TransactionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	index, ok := l.committed[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "transaction %s", id)
	}
	block := l.chain[index]
	for _, tx := range block.Payload.Transactions {
		if tx.ID == id {
			return &types.TransactionRecord{
				BlockIndex:     block.Index,
				BlockHash:      block.Hash,
				BlockTimestamp: block.Timestamp,
				Transaction:    tx.Copy(),
			}, nil
		}
	}
	// The index said the tx is here; the chain was corrupted externally.
	return nil, errors.Wrapf(ErrNotFound, "transaction %s missing from block %d", id, index)
}

// TransactionHistory returns all committed transactions in chain order,
// optionally filtered by agent name. An empty agentName matches everything.
func (l *Ledger) TransactionHistory(agentName string) []*types.TransactionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*types.TransactionRecord
	for _, block := range l.chain[1:] {
		if block.Payload == nil || block.Payload.Type != types.PayloadTransactionBlock {
			continue
		}
		for _, tx := range block.Payload.Transactions {
			if agentName != "" && tx.AgentName != agentName {
				continue
			}
			out = append(out, &types.TransactionRecord{
				BlockIndex:     block.Index,
				BlockHash:      block.Hash,
				BlockTimestamp: block.Timestamp,
				Transaction:    tx.Copy(),
			})
		}
	}
	return out
}

// PendingTransactions returns copies of the pool in arrival order.
func (l *Ledger) PendingTransactions() []*types.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*types.Transaction, 0, len(l.pending))
	for _, tx := range l.pending {
		out = append(out, tx.Copy())
	}
	return out
}

// RejectedTransactions returns the rejection log sorted by submission time.
func (l *Ledger) RejectedTransactions() []*types.Transaction {
	items := l.rejected.Items()
	out := make([]*types.Transaction, 0, len(items))
	for _, item := range items {
		tx, ok := item.Object.(*types.Transaction)
		if !ok {
			continue
		}
		out = append(out, tx.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Stats summarizes the chain, pools, and current validity.
func (l *Ledger) Stats() *types.LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stats := &types.LedgerStats{
		TotalBlocks:          len(l.chain),
		PendingTransactions:  len(l.pending),
		RejectedTransactions: l.rejected.ItemCount(),
		ChainValid:           l.validateLocked().Valid,
		LatestBlockHash:      l.chain[len(l.chain)-1].Hash,
		GenesisHash:          l.chain[0].Hash,
	}
	for _, block := range l.chain[1:] {
		if block.Payload != nil && block.Payload.Type == types.PayloadTransactionBlock {
			stats.TotalTransactions += len(block.Payload.Transactions)
		}
	}
	return stats
}

// Reset wipes the chain, pools, and rejection log, then re-mines genesis.
// Demo-only. Refuses while a commit is in flight rather than corrupting it.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.committing {
		return ErrBusy
	}
	genesis, err := l.mineGenesis()
	if err != nil {
		return errors.Wrap(err, "could not re-create genesis block")
	}
	l.chain = []*types.Block{genesis}
	l.pending = nil
	l.pendingIDs = make(map[string]struct{})
	l.committed = make(map[string]uint64)
	l.rejected.Flush()
	pendingTransactions.Set(0)
	ledgerResets.Inc()
	log.WithField("hash", genesis.Hash).Info("Ledger reset, genesis re-created")
	return nil
}
