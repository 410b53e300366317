package memory

import (
	"context"
	"fmt"
	"sync"

	"tidytab/internal/core"
)

// Store is an in-memory settlement sink for tests and the memory backend.
type Store struct {
	mu    sync.Mutex
	items []core.Settlement
}

func New() *Store {
	return &Store{}
}

// AppendSettlement records the settlement and returns a synthetic row reference.
func (s *Store) AppendSettlement(_ context.Context, settlement core.Settlement) (string, error) {
	if len(settlement.Shares) == 0 {
		return "", fmt.Errorf("settlement for tab %s has no member shares", settlement.TabID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, settlement)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Settlements returns a copy of everything appended so far.
func (s *Store) Settlements() []core.Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Settlement(nil), s.items...)
}
