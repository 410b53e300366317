package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tidytab/internal/core"
	"tidytab/internal/storage"
)

type recordingPublisher struct {
	published []string
	err       error
}

func (p *recordingPublisher) PublishTabChanged(ctx context.Context, tabID string, version int64, status string) error {
	p.published = append(p.published, fmt.Sprintf("%s@%d:%s", tabID, version, status))
	return p.err
}

// conflictingStore makes the next n conditional updates lose the race by
// bumping the stored version behind the caller's back.
type conflictingStore struct {
	*storage.MemoryStore
	conflicts int
}

func (s *conflictingStore) ConditionalUpdate(ctx context.Context, tab core.Tab, expectedVersion int64) (core.Tab, error) {
	if s.conflicts > 0 {
		s.conflicts--
		current, err := s.MemoryStore.Get(ctx, tab.ID)
		if err != nil {
			return core.Tab{}, err
		}
		if _, err := s.MemoryStore.ConditionalUpdate(ctx, current, current.Version); err != nil {
			return core.Tab{}, err
		}
		return core.Tab{}, fmt.Errorf("%w: injected", core.ErrConflict)
	}
	return s.MemoryStore.ConditionalUpdate(ctx, tab, expectedVersion)
}

func newTestService(t *testing.T) (*TabService, *storage.MemoryStore, *recordingPublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	svc := NewTabService(store, pub)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc, store, pub
}

var (
	alice = core.Identity{UID: "alice", Email: "alice@example.com", DisplayName: "Alice"}
	bob   = core.Identity{UID: "bob", Email: "bob@example.com", DisplayName: "Bob"}
	carol = core.Identity{UID: "carol", Email: "carol@example.com", DisplayName: "Carol"}
)

func createTab(t *testing.T, svc *TabService) core.Tab {
	t.Helper()
	tab, err := svc.CreateTab(context.Background(), core.CreateTabInput{Name: "Dinner", Category: core.CategoryRestaurant}, alice)
	if err != nil {
		t.Fatalf("create tab: %v", err)
	}
	return tab
}

func expenseBy(payer string, cents int64) core.Expense {
	return core.Expense{
		ID:          fmt.Sprintf("e-%s-%d", payer, cents),
		Description: "Shared cost",
		Amount:      core.Money{Cents: cents},
		Date:        time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC),
		PaidBy:      payer,
		CreatedAt:   time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC),
		CreatedBy:   payer,
	}
}

func TestTabService_CreateTab(t *testing.T) {
	svc, _, pub := newTestService(t)

	tab := createTab(t, svc)

	if tab.ID == "" {
		t.Error("created tab should have a store-assigned id")
	}
	if tab.Version != 1 {
		t.Errorf("version = %d, want 1", tab.Version)
	}
	if !tab.IsMember(alice.UID) {
		t.Error("creator should be a member")
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
}

func TestTabService_GetTab_NonMemberSeesNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	tab := createTab(t, svc)

	if _, err := svc.GetTab(context.Background(), tab.ID, bob); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member, got %v", err)
	}
	if _, err := svc.GetTab(context.Background(), tab.ID, alice); err != nil {
		t.Fatalf("member get: %v", err)
	}
}

func TestTabService_JoinTab(t *testing.T) {
	svc, _, _ := newTestService(t)
	tab := createTab(t, svc)
	ctx := context.Background()

	joined, err := svc.JoinTab(ctx, tab.ID, bob)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !joined.IsMember(bob.UID) {
		t.Error("bob should be a member after join")
	}
	if joined.Version != tab.Version+1 {
		t.Errorf("version = %d, want %d", joined.Version, tab.Version+1)
	}

	// Joining again is a no-op: same state, no version bump.
	again, err := svc.JoinTab(ctx, tab.ID, bob)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if again.Version != joined.Version {
		t.Errorf("idempotent join bumped version: %d -> %d", joined.Version, again.Version)
	}
}

func TestTabService_AddExpense(t *testing.T) {
	svc, _, _ := newTestService(t)
	tab := createTab(t, svc)
	ctx := context.Background()

	if _, err := svc.JoinTab(ctx, tab.ID, bob); err != nil {
		t.Fatalf("join: %v", err)
	}

	updated, err := svc.AddExpense(ctx, tab.ID, alice, expenseBy(alice.UID, 3000))
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if got := updated.MemberDetails[alice.UID].Balance.Cents; got != 1500 {
		t.Errorf("alice balance = %d, want 1500", got)
	}
	if got := updated.MemberDetails[bob.UID].Balance.Cents; got != -1500 {
		t.Errorf("bob balance = %d, want -1500", got)
	}
}

func TestTabService_AddExpense_NonMemberCaller(t *testing.T) {
	svc, _, _ := newTestService(t)
	tab := createTab(t, svc)

	_, err := svc.AddExpense(context.Background(), tab.ID, carol, expenseBy(alice.UID, 1000))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member caller, got %v", err)
	}
}

func TestTabService_AddExpense_RetriesOnConflict(t *testing.T) {
	base := storage.NewMemoryStore()
	store := &conflictingStore{MemoryStore: base, conflicts: 2}
	svc := NewTabService(store, nil)

	tab, err := svc.CreateTab(context.Background(), core.CreateTabInput{Name: "Trip", Category: core.CategoryActivities}, alice)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.AddExpense(context.Background(), tab.ID, alice, expenseBy(alice.UID, 5000))
	if err != nil {
		t.Fatalf("add expense should survive transient conflicts: %v", err)
	}
	if len(updated.Expenses) != 1 {
		t.Fatalf("expenses = %d, want 1", len(updated.Expenses))
	}
	// Two injected conflicts each bumped the version, plus the real write.
	if updated.Version != tab.Version+3 {
		t.Errorf("version = %d, want %d", updated.Version, tab.Version+3)
	}
}

func TestTabService_AddExpense_GivesUpAfterMaxRetries(t *testing.T) {
	base := storage.NewMemoryStore()
	store := &conflictingStore{MemoryStore: base, conflicts: maxUpdateRetries + 5}
	svc := NewTabService(store, nil)

	tab, err := svc.CreateTab(context.Background(), core.CreateTabInput{Name: "Trip", Category: core.CategoryActivities}, alice)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.AddExpense(context.Background(), tab.ID, alice, expenseBy(alice.UID, 5000))
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausted retries, got %v", err)
	}
}

func TestTabService_ResolveAndReopen(t *testing.T) {
	svc, _, _ := newTestService(t)
	tab := createTab(t, svc)
	ctx := context.Background()

	resolved, err := svc.ResolveTab(ctx, tab.ID, alice)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != core.StatusResolved {
		t.Errorf("status = %s, want resolved", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolved tab should record ResolvedAt")
	}

	// A resolved tab rejects new expenses.
	if _, err := svc.AddExpense(ctx, tab.ID, alice, expenseBy(alice.UID, 100)); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	reopened, err := svc.ReopenTab(ctx, tab.ID, alice)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != core.StatusActive {
		t.Errorf("status = %s, want active", reopened.Status)
	}
	if reopened.ResolvedAt != nil {
		t.Error("reopened tab should clear ResolvedAt")
	}
}

func TestTabService_PublishFailureDoesNotFailWrite(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewTabService(store, pub)

	tab, err := svc.CreateTab(context.Background(), core.CreateTabInput{Name: "Dinner", Category: core.CategoryRestaurant}, alice)
	if err != nil {
		t.Fatalf("create should succeed despite publish failure: %v", err)
	}
	if _, err := store.Get(context.Background(), tab.ID); err != nil {
		t.Fatalf("tab should be durable: %v", err)
	}
}

func TestTabService_ListTabs(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first := createTab(t, svc)
	createTab(t, svc)
	if _, err := svc.ResolveTab(ctx, first.ID, alice); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	all, err := svc.ListTabs(ctx, alice, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}

	resolved, err := svc.ListTabs(ctx, alice, core.StatusResolved)
	if err != nil {
		t.Fatalf("list resolved: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("resolved = %d, want 1", len(resolved))
	}
}

func TestTabService_Settlement(t *testing.T) {
	svc, _, _ := newTestService(t)
	tab := createTab(t, svc)
	ctx := context.Background()

	if _, err := svc.JoinTab(ctx, tab.ID, bob); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.AddExpense(ctx, tab.ID, alice, expenseBy(alice.UID, 4000)); err != nil {
		t.Fatalf("add expense: %v", err)
	}

	settlement, err := svc.Settlement(ctx, tab.ID, bob)
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if len(settlement.Shares) != 2 {
		t.Fatalf("shares = %d, want 2", len(settlement.Shares))
	}

	var sum int64
	for _, share := range settlement.Shares {
		sum += share.Net.Cents
	}
	if sum != 0 {
		t.Errorf("share balances sum to %d, want 0", sum)
	}
}
