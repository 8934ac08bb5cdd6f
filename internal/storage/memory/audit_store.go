package memory

import (
	"context"
	"sort"
	"sync"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AuditEntry // keyed by transition_id
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		data: make(map[string]*domain.AuditEntry),
	}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Insert adds a new entry. Returns ErrDuplicateKey if transition_id exists.
func (s *AuditStore) Insert(_ context.Context, e *domain.AuditEntry) error {
	if e == nil || e.TransitionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.TransitionID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[e.TransitionID] = &copy
	return nil
}

// InsertBulk adds multiple entries atomically. Fails entire batch on any duplicate.
func (s *AuditStore) InsertBulk(_ context.Context, entries []*domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e == nil || e.TransitionID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.TransitionID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.TransitionID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.TransitionID] = struct{}{}
	}

	for _, e := range entries {
		copy := *e
		s.data[e.TransitionID] = &copy
	}
	return nil
}

// GetByPot retrieves all entries for a pot, ordered by applied_at ASC, transition_id ASC.
func (s *AuditStore) GetByPot(_ context.Context, potID string) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AuditEntry
	for _, e := range s.data {
		if e.PotID == potID {
			copy := *e
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AppliedAt != result[j].AppliedAt {
			return result[i].AppliedAt < result[j].AppliedAt
		}
		return result[i].TransitionID < result[j].TransitionID
	})
	return result, nil
}
