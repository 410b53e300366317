package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tidytab/internal/core"
)

const (
	// maxUpdateRetries bounds the re-read/re-apply loop when a
	// conditional update loses a race.
	maxUpdateRetries = 3
	retryBaseDelay   = 25 * time.Millisecond
)

// TabService orchestrates tab operations: it loads the aggregate, applies
// a pure core operation, and commits the result with a conditional update.
// A lost race is retried against the fresh aggregate; the core operation
// decides whether the intent still applies.
type TabService struct {
	store     TabStore
	publisher ChangePublisher
	now       func() time.Time
}

func NewTabService(store TabStore, publisher ChangePublisher) *TabService {
	return &TabService{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// CreateTab creates a new tab with the caller as first member.
func (s *TabService) CreateTab(ctx context.Context, in core.CreateTabInput, creator core.Identity) (core.Tab, error) {
	tab, err := core.NewTab(s.store.NewID(), in, creator, s.now())
	if err != nil {
		return core.Tab{}, err
	}

	created, err := s.store.Create(ctx, tab)
	if err != nil {
		return core.Tab{}, fmt.Errorf("create tab: %w", err)
	}

	s.publishChange(ctx, created)
	return created, nil
}

// GetTab loads one tab. Non-members get ErrNotFound rather than a hint
// that the tab exists.
func (s *TabService) GetTab(ctx context.Context, id string, caller core.Identity) (core.Tab, error) {
	tab, err := s.store.Get(ctx, id)
	if err != nil {
		return core.Tab{}, err
	}
	if !tab.IsMember(caller.UID) {
		return core.Tab{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return tab, nil
}

// ListTabs returns the caller's tabs, optionally filtered by status.
func (s *TabService) ListTabs(ctx context.Context, caller core.Identity, status core.TabStatus) ([]core.Tab, error) {
	return s.store.ListByMember(ctx, caller.UID, status)
}

// JoinTab adds the caller to a tab. Joining a tab you already belong to
// is a no-op that returns the current state.
func (s *TabService) JoinTab(ctx context.Context, tabID string, caller core.Identity) (core.Tab, error) {
	return s.mutate(ctx, tabID, func(tab core.Tab) (core.Tab, bool, error) {
		next, joined, err := core.Join(tab, caller, s.now())
		return next, joined, err
	})
}

// AddExpense records an expense against a tab and rebalances members.
// The caller must be a member.
func (s *TabService) AddExpense(ctx context.Context, tabID string, caller core.Identity, e core.Expense) (core.Tab, error) {
	return s.mutate(ctx, tabID, func(tab core.Tab) (core.Tab, bool, error) {
		if !tab.IsMember(caller.UID) {
			return core.Tab{}, false, fmt.Errorf("%w: %s", core.ErrNotFound, tabID)
		}
		next, err := core.ApplyExpense(tab, e)
		return next, true, err
	})
}

// ResolveTab freezes a tab and queues it for settlement export.
func (s *TabService) ResolveTab(ctx context.Context, tabID string, caller core.Identity) (core.Tab, error) {
	return s.mutate(ctx, tabID, func(tab core.Tab) (core.Tab, bool, error) {
		if !tab.IsMember(caller.UID) {
			return core.Tab{}, false, fmt.Errorf("%w: %s", core.ErrNotFound, tabID)
		}
		next, err := core.Resolve(tab, s.now())
		return next, true, err
	})
}

// ReopenTab moves a resolved tab back to active.
func (s *TabService) ReopenTab(ctx context.Context, tabID string, caller core.Identity) (core.Tab, error) {
	return s.mutate(ctx, tabID, func(tab core.Tab) (core.Tab, bool, error) {
		if !tab.IsMember(caller.UID) {
			return core.Tab{}, false, fmt.Errorf("%w: %s", core.ErrNotFound, tabID)
		}
		next, err := core.Reopen(tab)
		return next, true, err
	})
}

// Settlement returns the per-member shares and pairwise transfers for a tab.
func (s *TabService) Settlement(ctx context.Context, tabID string, caller core.Identity) (core.Settlement, error) {
	tab, err := s.GetTab(ctx, tabID, caller)
	if err != nil {
		return core.Settlement{}, err
	}
	return core.SettlementOf(tab), nil
}

// mutate runs the read-apply-commit loop. op returns the next aggregate
// state and whether a write is needed at all; an idempotent no-op skips
// the conditional update and returns the state as read.
func (s *TabService) mutate(ctx context.Context, tabID string, op func(core.Tab) (core.Tab, bool, error)) (core.Tab, error) {
	var lastErr error
	for attempt := 0; attempt <= maxUpdateRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return core.Tab{}, ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}

		tab, err := s.store.Get(ctx, tabID)
		if err != nil {
			return core.Tab{}, err
		}

		next, dirty, err := op(tab)
		if err != nil {
			return core.Tab{}, err
		}
		if !dirty {
			return tab, nil
		}

		updated, err := s.store.ConditionalUpdate(ctx, next, tab.Version)
		if err == nil {
			s.publishChange(ctx, updated)
			return updated, nil
		}
		if !errors.Is(err, core.ErrConflict) {
			return core.Tab{}, err
		}

		lastErr = err
		slog.DebugContext(ctx, "Conditional update lost race, retrying",
			"tab_id", tabID,
			"attempt", attempt+1)
	}
	return core.Tab{}, fmt.Errorf("update tab %s: %w", tabID, lastErr)
}

// publishChange announces a committed write. Publish failures are logged
// and swallowed: the aggregate is already durable and the export sweep
// catches anything the event stream misses.
func (s *TabService) publishChange(ctx context.Context, tab core.Tab) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTabChanged(ctx, tab.ID, tab.Version, string(tab.Status)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish tab change",
			"tab_id", tab.ID,
			"version", tab.Version,
			"error", err)
	}
}
