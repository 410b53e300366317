package sheets

import (
	"context"

	"tidytab/internal/core"
)

// SettlementWriter appends the settlement summary of a resolved tab to an
// external sheet. Implementations must tolerate being called twice with
// the same settlement; the export sweep retries on failure.
type SettlementWriter interface {
	AppendSettlement(ctx context.Context, s core.Settlement) (rowRef string, err error)
}
