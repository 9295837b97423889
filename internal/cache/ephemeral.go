// Package cache provides the shared ephemeral state of the coordination
// core: the session-history cache, the approval mirror and the
// per-conversation advisory locks. Each entry class is mutated by exactly
// one owning stage and keyed so contention is naturally partitioned.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/corale/relay/internal/domain"
)

const (
	defaultNumCounters = 1e6
	defaultMaxCost     = 1e7 // ~10MB
	defaultBufferItems = 64

	historyPrefix  = "hist:"
	approvalPrefix = "appr:"
)

// Ephemeral is the process-local ephemeral store backed by ristretto.
type Ephemeral struct {
	cache      *ristretto.Cache
	historyTTL time.Duration
}

// NewEphemeral creates the ephemeral store. historyTTL bounds how long a
// session's cached turns survive without traffic.
func NewEphemeral(historyTTL time.Duration) (*Ephemeral, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Ephemeral{cache: c, historyTTL: historyTTL}, nil
}

// History returns the cached turns for a session.
func (e *Ephemeral) History(sessionID string) ([]domain.Turn, bool) {
	v, ok := e.cache.Get(historyPrefix + sessionID)
	if !ok {
		return nil, false
	}
	turns, ok := v.([]domain.Turn)
	return turns, ok
}

// PutHistory stores the turns for a session with the configured TTL.
func (e *Ephemeral) PutHistory(sessionID string, turns []domain.Turn) {
	cost := int64(64)
	for _, t := range turns {
		cost += int64(len(t.Role) + len(t.Content))
	}
	e.cache.SetWithTTL(historyPrefix+sessionID, turns, cost, e.historyTTL)
	// Ristretto writes are buffered; Wait makes the entry visible to the
	// next turn of the same session.
	e.cache.Wait()
}

// Approval returns the mirrored approval record by id.
func (e *Ephemeral) Approval(id string) (*domain.PendingApproval, bool) {
	v, ok := e.cache.Get(approvalPrefix + id)
	if !ok {
		return nil, false
	}
	ap, ok := v.(*domain.PendingApproval)
	return ap, ok
}

// PutApproval mirrors an approval record for the gate's poll loop.
func (e *Ephemeral) PutApproval(ap *domain.PendingApproval, ttl time.Duration) {
	e.cache.SetWithTTL(approvalPrefix+ap.ID, ap, 256, ttl)
	e.cache.Wait()
}

// DropApproval removes a resolved approval from the mirror.
func (e *Ephemeral) DropApproval(id string) {
	e.cache.Del(approvalPrefix + id)
}

// Close releases the underlying cache.
func (e *Ephemeral) Close() {
	e.cache.Close()
}
