package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"tidytab/internal/amqp"
	"tidytab/internal/core"
	"tidytab/internal/sheets/memory"
	"tidytab/internal/storage"
)

func resolvedTab(t *testing.T, store *storage.MemoryStore) core.Tab {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tab, err := core.NewTab(store.NewID(), core.CreateTabInput{Name: "Dinner", Category: core.CategoryRestaurant},
		core.Identity{UID: "alice", Email: "alice@example.com", DisplayName: "Alice"}, now)
	if err != nil {
		t.Fatalf("new tab: %v", err)
	}
	tab, err = store.Create(ctx, tab)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	joined, _, err := core.Join(tab, core.Identity{UID: "bob", Email: "bob@example.com", DisplayName: "Bob"}, now)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	withExpense, err := core.ApplyExpense(joined, core.Expense{
		ID:          "e1",
		Description: "Dinner bill",
		Amount:      core.Money{Cents: 8000},
		Date:        now,
		PaidBy:      "alice",
		CreatedAt:   now,
		CreatedBy:   "alice",
	})
	if err != nil {
		t.Fatalf("apply expense: %v", err)
	}
	resolved, err := core.Resolve(withExpense, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	committed, err := store.ConditionalUpdate(ctx, resolved, tab.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	return committed
}

func TestHandleTabChanged_ExportsResolvedTab(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := memory.New()
	w := NewExportWorker(store, sink, 10)

	tab := resolvedTab(t, store)

	msg := amqp.NewTabChangedMessage(tab.ID, tab.Version, string(tab.Status))
	if err := w.HandleTabChanged(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	settlements := sink.Settlements()
	if len(settlements) != 1 {
		t.Fatalf("settlements = %d, want 1", len(settlements))
	}
	if settlements[0].TabID != tab.ID {
		t.Errorf("tab id = %s, want %s", settlements[0].TabID, tab.ID)
	}
	if len(settlements[0].Shares) != 2 {
		t.Errorf("shares = %d, want 2", len(settlements[0].Shares))
	}

	// The export is marked done, so the sweep has nothing left.
	pending, err := store.ListPendingExport(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestHandleTabChanged_IgnoresActiveTab(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := memory.New()
	w := NewExportWorker(store, sink, 10)

	ctx := context.Background()
	tab, err := core.NewTab(store.NewID(), core.CreateTabInput{Name: "Trip", Category: core.CategoryActivities},
		core.Identity{UID: "alice", Email: "alice@example.com"}, time.Now())
	if err != nil {
		t.Fatalf("new tab: %v", err)
	}
	created, err := store.Create(ctx, tab)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msg := amqp.NewTabChangedMessage(created.ID, created.Version, string(created.Status))
	if err := w.HandleTabChanged(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sink.Settlements()) != 0 {
		t.Error("active tab should not be exported")
	}
}

func TestHandleTabChanged_UnknownTab(t *testing.T) {
	store := storage.NewMemoryStore()
	w := NewExportWorker(store, memory.New(), 10)

	msg := amqp.NewTabChangedMessage("gone", 1, "resolved")
	if err := w.HandleTabChanged(context.Background(), msg); err != nil {
		t.Fatalf("unknown tab should not error: %v", err)
	}
}

type failingWriter struct {
	failures int
	sink     *memory.Store
}

func (f *failingWriter) AppendSettlement(ctx context.Context, s core.Settlement) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", errors.New("sheets unavailable")
	}
	return f.sink.AppendSettlement(ctx, s)
}

func TestStartupExportCheck_RetriesFailedExport(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := memory.New()
	writer := &failingWriter{failures: 1, sink: sink}
	w := NewExportWorker(store, writer, 10)
	ctx := context.Background()

	tab := resolvedTab(t, store)

	// First attempt fails and flags the tab.
	msg := amqp.NewTabChangedMessage(tab.ID, tab.Version, string(tab.Status))
	if err := w.HandleTabChanged(ctx, msg); err == nil {
		t.Fatal("expected export failure")
	}
	if len(sink.Settlements()) != 0 {
		t.Fatal("failed export should not land rows")
	}

	// Startup check requeues the error and exports successfully.
	if err := w.StartupExportCheck(ctx); err != nil {
		t.Fatalf("startup check: %v", err)
	}
	if len(sink.Settlements()) != 1 {
		t.Fatalf("settlements = %d, want 1", len(sink.Settlements()))
	}
}

func TestExportTab_AuditCatchesBalanceDrift(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := memory.New()
	w := NewExportWorker(store, sink, 10)
	ctx := context.Background()

	tab := resolvedTab(t, store)

	// Corrupt one stored balance behind the ledger's back.
	m := tab.MemberDetails["bob"]
	m.Balance = core.Money{Cents: m.Balance.Cents + 1}
	tab.MemberDetails["bob"] = m

	err := w.exportTab(ctx, tab)
	if err == nil {
		t.Fatal("expected audit failure")
	}
	if len(sink.Settlements()) != 0 {
		t.Error("corrupted tab must not be exported")
	}
}

func TestProcessPendingExports_Sweep(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := memory.New()
	w := NewExportWorker(store, sink, 10)
	ctx := context.Background()

	resolvedTab(t, store)
	resolvedTab(t, store)

	if err := w.ProcessPendingExports(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(sink.Settlements()) != 2 {
		t.Fatalf("settlements = %d, want 2", len(sink.Settlements()))
	}
}
