package memory

import (
	"context"
	"sync"
	"time"

	"parimutuel-escrow/internal/storage"
)

// Reserver is an in-memory implementation of storage.Reserver.
type Reserver struct {
	mu     sync.Mutex
	claims map[string]claim // keyed by fund_id
	now    func() time.Time
	seq    uint64
}

type claim struct {
	token   uint64
	expires time.Time
}

// NewReserver creates a new in-memory reserver.
func NewReserver() *Reserver {
	return &Reserver{
		claims: make(map[string]claim),
		now:    time.Now,
	}
}

// Compile-time interface check.
var _ storage.Reserver = (*Reserver)(nil)

// Reserve claims all fundIDs or none.
func (r *Reserver) Reserve(_ context.Context, fundIDs []string, ttl time.Duration) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, id := range fundIDs {
		if c, held := r.claims[id]; held && now.Before(c.expires) {
			return nil, storage.ErrReserved
		}
	}

	r.seq++
	token := r.seq
	for _, id := range fundIDs {
		r.claims[id] = claim{token: token, expires: now.Add(ttl)}
	}

	released := false
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if released {
			return
		}
		released = true
		for _, id := range fundIDs {
			if c, ok := r.claims[id]; ok && c.token == token {
				delete(r.claims, id)
			}
		}
	}, nil
}

// Reserved returns the subset of fundIDs currently claimed.
func (r *Reserver) Reserved(_ context.Context, fundIDs []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	held := make(map[string]bool)
	for _, id := range fundIDs {
		if c, ok := r.claims[id]; ok && now.Before(c.expires) {
			held[id] = true
		}
	}
	return held, nil
}
