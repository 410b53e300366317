package services

import (
	"context"

	"tidytab/internal/core"
)

// TabStore is the persistence port the service drives. Both the SQLite
// repository and the in-memory store satisfy it.
type TabStore interface {
	NewID() string
	Create(ctx context.Context, tab core.Tab) (core.Tab, error)
	Get(ctx context.Context, id string) (core.Tab, error)
	ConditionalUpdate(ctx context.Context, tab core.Tab, expectedVersion int64) (core.Tab, error)
	ListByMember(ctx context.Context, uid string, status core.TabStatus) ([]core.Tab, error)
}

// ChangePublisher announces committed writes to interested consumers.
type ChangePublisher interface {
	PublishTabChanged(ctx context.Context, tabID string, version int64, status string) error
}
