package agent

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const defaultTraceCapacity = 64

// decisionTrace is a bounded log of an agent's recent decisions, keyed by a
// monotonic sequence so eviction drops the oldest entries first.
type decisionTrace struct {
	mu      sync.Mutex
	seq     uint64
	entries *lru.Cache
	now     func() time.Time
}

func newDecisionTrace(capacity int, now func() time.Time) *decisionTrace {
	if capacity <= 0 {
		capacity = defaultTraceCapacity
	}
	if now == nil {
		now = time.Now
	}
	// lru.New only fails on a non-positive size, which is guarded above.
	entries, _ := lru.New(capacity)
	return &decisionTrace{entries: entries, now: now}
}

func (t *decisionTrace) record(agentID, method, summary string, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.entries.Add(t.seq, Decision{
		Sequence:   t.seq,
		Timestamp:  t.now(),
		Agent:      agentID,
		Method:     method,
		Summary:    summary,
		Confidence: confidence,
	})
}

// snapshot returns up to limit decisions, newest first. limit <= 0 returns
// everything retained.
func (t *decisionTrace) snapshot(limit int) []Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := t.entries.Keys()
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}
	out := make([]Decision, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(out) < limit; i-- {
		if v, ok := t.entries.Peek(keys[i]); ok {
			out = append(out, v.(Decision))
		}
	}
	return out
}
