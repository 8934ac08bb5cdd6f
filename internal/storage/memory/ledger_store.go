package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
type LedgerStore struct {
	mu          sync.RWMutex
	funds       map[string]*domain.FundRecord    // live funds keyed by fund_id
	spent       map[string]string                // fund_id -> spending transition_id
	positions   map[string]*domain.Position      // keyed by position_id
	outcomes    map[string]*domain.OutcomeRecord // keyed by pot_id
	redemptions map[string]string                // position_id -> transition_id
	transitions map[string][]*domain.Transition  // keyed by pot_id, application order
	seen        map[string]struct{}              // applied transition ids
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		funds:       make(map[string]*domain.FundRecord),
		spent:       make(map[string]string),
		positions:   make(map[string]*domain.Position),
		outcomes:    make(map[string]*domain.OutcomeRecord),
		redemptions: make(map[string]string),
		transitions: make(map[string][]*domain.Transition),
		seen:        make(map[string]struct{}),
	}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// Apply records a transition atomically.
func (s *LedgerStore) Apply(_ context.Context, t *domain.Transition) error {
	if err := storage.CheckTransition(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate against current state
	if _, exists := s.seen[t.TransitionID]; exists {
		return storage.ErrDuplicateKey
	}

	var consumedValue int64
	for _, id := range t.Consumed {
		if _, spent := s.spent[id]; spent {
			return storage.ErrConflict
		}
		f, ok := s.funds[id]
		if !ok || f.PotID != t.PotID {
			return fmt.Errorf("%w: unknown fund %s", storage.ErrInvalidInput, id)
		}
		if consumedValue, ok = domain.AddAmount(consumedValue, f.Amount); !ok {
			return fmt.Errorf("%w: consumed value overflows", storage.ErrInvalidInput)
		}
	}
	if err := storage.CheckBalance(t, consumedValue); err != nil {
		return err
	}
	// a second post is reported as a duplicate outcome below
	if o, ok := s.outcomes[t.PotID]; ok && o.Burned && len(t.Produced) > 0 && t.Outcome == nil {
		return storage.ErrClosed
	}

	for _, f := range t.Produced {
		if _, exists := s.funds[f.FundID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := s.spent[f.FundID]; exists {
			return storage.ErrDuplicateKey
		}
	}
	if t.Position != nil {
		if _, exists := s.positions[t.Position.PositionID]; exists {
			return storage.ErrDuplicateKey
		}
	}
	if t.Outcome != nil {
		if _, exists := s.outcomes[t.PotID]; exists {
			return storage.ErrDuplicateKey
		}
	}
	if t.RedeemedPositionID != "" {
		if _, exists := s.redemptions[t.RedeemedPositionID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := s.positions[t.RedeemedPositionID]; !exists {
			return fmt.Errorf("%w: unknown position %s", storage.ErrInvalidInput, t.RedeemedPositionID)
		}
	}

	// Second pass: mutate
	for _, id := range t.Consumed {
		delete(s.funds, id)
		s.spent[id] = t.TransitionID
	}
	for _, f := range t.Produced {
		s.funds[f.FundID] = f.Clone()
	}
	if t.Position != nil {
		p := *t.Position
		s.positions[p.PositionID] = &p
	}
	if t.Outcome != nil {
		o := *t.Outcome
		s.outcomes[t.PotID] = &o
	}
	if t.RedeemedPositionID != "" {
		s.redemptions[t.RedeemedPositionID] = t.TransitionID
	}
	if t.BurnOutcome {
		if o, ok := s.outcomes[t.PotID]; ok {
			o.Burned = true
		}
	}
	s.transitions[t.PotID] = append(s.transitions[t.PotID], cloneTransition(t))
	s.seen[t.TransitionID] = struct{}{}

	return nil
}

// Snapshot returns the live funds and outcome of a pot, funds ordered by fund_id ASC.
func (s *LedgerStore) Snapshot(_ context.Context, potID string) (*domain.PotSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &domain.PotSnapshot{
		PotID:   potID,
		Version: len(s.transitions[potID]),
	}
	for _, f := range s.funds {
		if f.PotID == potID {
			snap.Funds = append(snap.Funds, f.Clone())
		}
	}
	sort.Slice(snap.Funds, func(i, j int) bool {
		return snap.Funds[i].FundID < snap.Funds[j].FundID
	})
	if o, ok := s.outcomes[potID]; ok {
		copy := *o
		snap.Outcome = &copy
	}
	return snap, nil
}

// GetPosition retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetPosition(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.positions[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// GetPositionsByPot retrieves all positions of a pot, ordered by locked_at ASC, position_id ASC.
func (s *LedgerStore) GetPositionsByPot(_ context.Context, potID string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.positions {
		if p.PotID == potID {
			copy := *p
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LockedAt != result[j].LockedAt {
			return result[i].LockedAt < result[j].LockedAt
		}
		return result[i].PositionID < result[j].PositionID
	})
	return result, nil
}

// GetOutcome retrieves the outcome of a pot. Returns ErrNotFound if not posted.
func (s *LedgerStore) GetOutcome(_ context.Context, potID string) (*domain.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.outcomes[potID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *o
	return &copy, nil
}

// IsRedeemed reports whether a position has been redeemed.
func (s *LedgerStore) IsRedeemed(_ context.Context, positionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.redemptions[positionID]
	return exists, nil
}

// GetTransitions retrieves the transitions of a pot in application order.
func (s *LedgerStore) GetTransitions(_ context.Context, potID string) ([]*domain.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.transitions[potID]
	result := make([]*domain.Transition, 0, len(list))
	for _, t := range list {
		result = append(result, cloneTransition(t))
	}
	return result, nil
}

func cloneTransition(t *domain.Transition) *domain.Transition {
	c := *t
	c.Consumed = append([]string(nil), t.Consumed...)
	c.Produced = make([]*domain.FundRecord, 0, len(t.Produced))
	for _, f := range t.Produced {
		c.Produced = append(c.Produced, f.Clone())
	}
	if t.Position != nil {
		p := *t.Position
		c.Position = &p
	}
	if t.Outcome != nil {
		o := *t.Outcome
		c.Outcome = &o
	}
	return &c
}
