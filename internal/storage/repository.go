// Package storage persists tab aggregates. The aggregate is the unit of
// consistency: it is written as one JSON document guarded by a version
// column, and every update is conditional on the version the writer read.
// A plain overwrite of a tab is deliberately impossible through this API.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tidytab/internal/core"
)

// Export states for the settlement pipeline.
const (
	exportNone    = "none"
	exportPending = "pending"
	exportDone    = "done"
	exportError   = "error"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// NewID returns a fresh store-assigned tab id.
func (r *SQLiteRepository) NewID() string {
	return uuid.NewString()
}

// Create persists a brand new aggregate at version 1.
func (r *SQLiteRepository) Create(ctx context.Context, tab core.Tab) (core.Tab, error) {
	tab.Version = 1
	data, err := json.Marshal(tab)
	if err != nil {
		return core.Tab{}, fmt.Errorf("marshal tab: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Tab{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tabs (id, version, status, data, export_state) VALUES (?, ?, ?, ?, ?)`,
		tab.ID, tab.Version, string(tab.Status), string(data), exportNone)
	if err != nil {
		return core.Tab{}, fmt.Errorf("insert tab: %w", err)
	}
	if err := upsertMembers(ctx, tx, tab); err != nil {
		return core.Tab{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Tab{}, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Tab created",
		"tab_id", tab.ID,
		"name", tab.Name,
		"created_by", tab.CreatedBy.UID)

	return tab, nil
}

// Get loads one aggregate. Returns core.ErrNotFound when the id is unknown.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.Tab, error) {
	var (
		data    string
		version int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT data, version FROM tabs WHERE id = ?`, id).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Tab{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if err != nil {
		return core.Tab{}, fmt.Errorf("get tab: %w", err)
	}
	return unmarshalTab(data, version)
}

// ConditionalUpdate commits a new aggregate state if and only if the
// stored version still equals expectedVersion. A lost race returns
// core.ErrConflict; the caller re-reads and re-applies its operation.
func (r *SQLiteRepository) ConditionalUpdate(ctx context.Context, tab core.Tab, expectedVersion int64) (core.Tab, error) {
	tab.Version = expectedVersion + 1
	data, err := json.Marshal(tab)
	if err != nil {
		return core.Tab{}, fmt.Errorf("marshal tab: %w", err)
	}

	exportState := exportNone
	if tab.Status == core.StatusResolved {
		// Every committed change to a resolved tab re-queues it for
		// settlement export.
		exportState = exportPending
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Tab{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tabs
		 SET version = ?, status = ?, data = ?, export_state = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		tab.Version, string(tab.Status), string(data), exportState, tab.ID, expectedVersion)
	if err != nil {
		return core.Tab{}, fmt.Errorf("update tab: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Tab{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tabs WHERE id = ?`, tab.ID).Scan(&exists); err != nil {
			return core.Tab{}, fmt.Errorf("check tab existence: %w", err)
		}
		if exists == 0 {
			return core.Tab{}, fmt.Errorf("%w: %s", core.ErrNotFound, tab.ID)
		}
		return core.Tab{}, fmt.Errorf("%w: tab %s expected version %d", core.ErrConflict, tab.ID, expectedVersion)
	}

	if err := upsertMembers(ctx, tx, tab); err != nil {
		return core.Tab{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Tab{}, fmt.Errorf("commit: %w", err)
	}

	slog.DebugContext(ctx, "Tab updated",
		"tab_id", tab.ID,
		"version", tab.Version,
		"status", tab.Status)

	return tab, nil
}

// ListByMember returns every tab the uid participates in, oldest first.
// An empty status matches all statuses.
func (r *SQLiteRepository) ListByMember(ctx context.Context, uid string, status core.TabStatus) ([]core.Tab, error) {
	query := `SELECT t.data, t.version
	          FROM tabs t
	          INNER JOIN tab_members m ON m.tab_id = t.id
	          WHERE m.uid = ?`
	args := []any{uid}
	if status != "" {
		query += ` AND t.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY t.created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tabs by member: %w", err)
	}
	defer rows.Close()

	var tabs []core.Tab
	for rows.Next() {
		var (
			data    string
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		tab, err := unmarshalTab(data, version)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, tab)
	}
	return tabs, rows.Err()
}

// ListPendingExport returns resolved tabs waiting for settlement export.
func (r *SQLiteRepository) ListPendingExport(ctx context.Context, limit int) ([]core.Tab, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data, version FROM tabs WHERE export_state = ? ORDER BY updated_at ASC LIMIT ?`,
		exportPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending export: %w", err)
	}
	defer rows.Close()

	var tabs []core.Tab
	for rows.Next() {
		var (
			data    string
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		tab, err := unmarshalTab(data, version)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, tab)
	}
	return tabs, rows.Err()
}

// MarkExported records a successful settlement export.
func (r *SQLiteRepository) MarkExported(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tabs SET export_state = ?, exported_at = ? WHERE id = ?`,
		exportDone, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	slog.InfoContext(ctx, "Tab marked as exported", "tab_id", id)
	return nil
}

// MarkExportError flags a tab whose export failed; the periodic sweep
// retries it.
func (r *SQLiteRepository) MarkExportError(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tabs SET export_state = ? WHERE id = ?`, exportError, id)
	if err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	slog.WarnContext(ctx, "Tab marked with export error", "tab_id", id)
	return nil
}

// RequeueExportErrors moves errored exports back to pending, bounded by
// limit. Called by the worker's startup check.
func (r *SQLiteRepository) RequeueExportErrors(ctx context.Context, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tabs SET export_state = ? WHERE id IN (
		    SELECT id FROM tabs WHERE export_state = ? ORDER BY updated_at ASC LIMIT ?)`,
		exportPending, exportError, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue export errors: %w", err)
	}
	return res.RowsAffected()
}

func upsertMembers(ctx context.Context, tx *sql.Tx, tab core.Tab) error {
	for _, uid := range tab.Members {
		m, ok := tab.MemberDetails[uid]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tab_members (tab_id, uid, joined_at) VALUES (?, ?, ?)
			 ON CONFLICT (tab_id, uid) DO NOTHING`,
			tab.ID, uid, m.JoinedAt.UTC())
		if err != nil {
			return fmt.Errorf("upsert member %s: %w", uid, err)
		}
	}
	return nil
}

func unmarshalTab(data string, version int64) (core.Tab, error) {
	var tab core.Tab
	if err := json.Unmarshal([]byte(data), &tab); err != nil {
		return core.Tab{}, fmt.Errorf("unmarshal tab: %w", err)
	}
	// The version column is authoritative over the serialized copy.
	tab.Version = version
	return tab, nil
}
