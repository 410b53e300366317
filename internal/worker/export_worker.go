package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tidytab/internal/amqp"
	"tidytab/internal/core"
	"tidytab/internal/sheets"
)

// ExportStore is the slice of the storage API the worker needs.
type ExportStore interface {
	Get(ctx context.Context, id string) (core.Tab, error)
	ListPendingExport(ctx context.Context, limit int) ([]core.Tab, error)
	MarkExported(ctx context.Context, id string) error
	MarkExportError(ctx context.Context, id string) error
	RequeueExportErrors(ctx context.Context, limit int) (int64, error)
}

// ExportWorker exports settlement summaries of resolved tabs to an
// external sheet. It is driven two ways: tab change messages from AMQP,
// and a periodic sweep over the pending export queue that catches
// anything the event stream missed.
type ExportWorker struct {
	store     ExportStore
	sheets    sheets.SettlementWriter
	batchSize int
}

func NewExportWorker(store ExportStore, sheetsWriter sheets.SettlementWriter, batchSize int) *ExportWorker {
	return &ExportWorker{
		store:     store,
		sheets:    sheetsWriter,
		batchSize: batchSize,
	}
}

// HandleTabChanged processes a single tab change message from AMQP.
// The message is only a hint; the stored aggregate is authoritative.
func (w *ExportWorker) HandleTabChanged(ctx context.Context, msg *amqp.TabChangedMessage) error {
	slog.InfoContext(ctx, "Processing tab changed message",
		"tab_id", msg.TabID,
		"version", msg.Version)

	tab, err := w.store.Get(ctx, msg.TabID)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted between publish and delivery; nothing to export.
		slog.WarnContext(ctx, "Tab in change message no longer exists", "tab_id", msg.TabID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get tab from storage: %w", err)
	}

	if tab.Status != core.StatusResolved {
		slog.DebugContext(ctx, "Tab not resolved, nothing to export",
			"tab_id", tab.ID,
			"status", tab.Status)
		return nil
	}

	return w.exportTab(ctx, tab)
}

// ProcessPendingExports drains one batch of resolved tabs waiting for
// export. This is the backup path for lost AMQP messages.
func (w *ExportWorker) ProcessPendingExports(ctx context.Context) error {
	pending, err := w.store.ListPendingExport(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending exports: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	for _, tab := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.exportTab(ctx, tab); err != nil {
			slog.ErrorContext(ctx, "Failed to export tab", "tab_id", tab.ID, "error", err)
		}
	}
	return nil
}

// StartupExportCheck requeues previously failed exports and drains the
// pending queue once. Useful to recover from worker downtime.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) error {
	requeued, err := w.store.RequeueExportErrors(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("requeue export errors: %w", err)
	}
	if requeued > 0 {
		slog.InfoContext(ctx, "Requeued failed exports on startup", "count", requeued)
	}
	return w.ProcessPendingExports(ctx)
}

// Run sweeps the pending export queue on a fixed interval until ctx is done.
func (w *ExportWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "Export worker sweep started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Export worker sweep stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessPendingExports(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "Pending export sweep failed", "error", err)
			}
		}
	}
}

// exportTab audits the ledger, appends the settlement rows and marks the
// tab exported. Audit failures and append failures both flag the tab for
// the retry sweep.
func (w *ExportWorker) exportTab(ctx context.Context, tab core.Tab) error {
	if err := w.auditLedger(ctx, tab); err != nil {
		if markErr := w.store.MarkExportError(ctx, tab.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "tab_id", tab.ID, "error", markErr)
		}
		return fmt.Errorf("ledger audit for tab %s: %w", tab.ID, err)
	}

	settlement := core.SettlementOf(tab)
	ref, err := w.sheets.AppendSettlement(ctx, settlement)
	if err != nil {
		if markErr := w.store.MarkExportError(ctx, tab.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "tab_id", tab.ID, "error", markErr)
		}
		return fmt.Errorf("append settlement: %w", err)
	}

	if err := w.store.MarkExported(ctx, tab.ID); err != nil {
		// The rows landed; a duplicate export on retry beats a lost one.
		slog.ErrorContext(ctx, "Failed to mark tab as exported", "tab_id", tab.ID, "error", err)
	}

	slog.InfoContext(ctx, "Exported settlement",
		"tab_id", tab.ID,
		"sheets_ref", ref,
		"shares", len(settlement.Shares))

	return nil
}

// auditLedger replays the expense log and cross-checks the stored
// balances before anything leaves the system.
func (w *ExportWorker) auditLedger(ctx context.Context, tab core.Tab) error {
	if err := core.CheckInvariants(tab); err != nil {
		return err
	}
	recomputed := core.RecomputeBalances(tab)
	for uid, m := range tab.MemberDetails {
		if recomputed[uid] != m.Balance.Cents {
			return fmt.Errorf("balance drift for member %s: stored %d, replayed %d",
				uid, m.Balance.Cents, recomputed[uid])
		}
	}
	return nil
}
