package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tidytab/internal/core"
)

// MemoryStore keeps tab aggregates in process memory with the same
// conditional-write semantics as the SQLite repository. It backs tests
// and the default development backend.
type MemoryStore struct {
	mu     sync.Mutex
	tabs   map[string]core.Tab
	seq    map[string]int // insertion order for stable listings
	export map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tabs:   make(map[string]core.Tab),
		seq:    make(map[string]int),
		export: make(map[string]string),
	}
}

func (s *MemoryStore) NewID() string {
	return uuid.NewString()
}

func (s *MemoryStore) Create(ctx context.Context, tab core.Tab) (core.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tabs[tab.ID]; exists {
		return core.Tab{}, fmt.Errorf("%w: tab %s already exists", core.ErrConflict, tab.ID)
	}
	tab.Version = 1
	s.seq[tab.ID] = len(s.seq)
	s.tabs[tab.ID] = deepCopy(tab)
	return tab, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (core.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab, ok := s.tabs[id]
	if !ok {
		return core.Tab{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return deepCopy(tab), nil
}

func (s *MemoryStore) ConditionalUpdate(ctx context.Context, tab core.Tab, expectedVersion int64) (core.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tabs[tab.ID]
	if !ok {
		return core.Tab{}, fmt.Errorf("%w: %s", core.ErrNotFound, tab.ID)
	}
	if current.Version != expectedVersion {
		return core.Tab{}, fmt.Errorf("%w: tab %s expected version %d, have %d", core.ErrConflict, tab.ID, expectedVersion, current.Version)
	}
	tab.Version = expectedVersion + 1
	s.tabs[tab.ID] = deepCopy(tab)
	if tab.Status == core.StatusResolved {
		s.export[tab.ID] = exportPending
	} else {
		s.export[tab.ID] = exportNone
	}
	return tab, nil
}

func (s *MemoryStore) ListByMember(ctx context.Context, uid string, status core.TabStatus) ([]core.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tabs []core.Tab
	for _, tab := range s.tabs {
		if !tab.IsMember(uid) {
			continue
		}
		if status != "" && tab.Status != status {
			continue
		}
		tabs = append(tabs, deepCopy(tab))
	}
	sort.Slice(tabs, func(i, j int) bool {
		return s.seq[tabs[i].ID] < s.seq[tabs[j].ID]
	})
	return tabs, nil
}

// ListPendingExport mirrors the SQLite repository for the worker's sweep.
func (s *MemoryStore) ListPendingExport(ctx context.Context, limit int) ([]core.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tabs []core.Tab
	for id, state := range s.export {
		if state != exportPending {
			continue
		}
		tabs = append(tabs, deepCopy(s.tabs[id]))
	}
	sort.Slice(tabs, func(i, j int) bool {
		return s.seq[tabs[i].ID] < s.seq[tabs[j].ID]
	})
	if limit > 0 && len(tabs) > limit {
		tabs = tabs[:limit]
	}
	return tabs, nil
}

func (s *MemoryStore) MarkExported(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.export[id] = exportDone
	return nil
}

func (s *MemoryStore) MarkExportError(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.export[id] = exportError
	return nil
}

func (s *MemoryStore) RequeueExportErrors(ctx context.Context, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, state := range s.export {
		if state != exportError {
			continue
		}
		if limit > 0 && n >= int64(limit) {
			break
		}
		s.export[id] = exportPending
		n++
	}
	return n, nil
}

// deepCopy isolates stored aggregates from caller mutations by round
// tripping through the same JSON encoding the SQLite store persists.
func deepCopy(tab core.Tab) core.Tab {
	data, err := json.Marshal(tab)
	if err != nil {
		return tab
	}
	var out core.Tab
	if err := json.Unmarshal(data, &out); err != nil {
		return tab
	}
	return out
}
