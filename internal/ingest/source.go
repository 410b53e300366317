// Package ingest normalizes heterogeneous expense input, manual form
// entries and OCR-extracted receipts, into the canonical expense the
// ledger engine consumes. OCR output is noisy by nature; the adapter's job
// is graceful degradation, not rejection.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tidytab/internal/core"
)

const (
	defaultMerchant = "Unknown Merchant"
	defaultItemName = "Unknown Item"
)

// Source is the tagged union of raw expense shapes. Exactly two variants
// exist: ManualSource and OCRSource.
type Source interface {
	isSource()
}

// ManualSource is a user-typed expense. Items are optional; an expense
// without items is split evenly across the whole tab when applied.
type ManualSource struct {
	Description string
	AmountCents int64
	PaidBy      string
	CreatedBy   string
	ReceiptURL  string
	Items       []ManualItem
}

// ManualItem is one optional line of a manual expense. Zero values get
// the same defaulting the original entry form applied: quantity 1,
// total price computed from unit price, assignment to all members.
type ManualItem struct {
	Name            string
	Quantity        int64
	UnitPriceCents  int64
	TotalPriceCents int64
	AssignedTo      []string
}

// OCRSource wraps an already-parsed receipt-OCR result.
type OCRSource struct {
	Result     OCRResult
	PaidBy     string
	CreatedBy  string
	ReceiptURL string
}

func (ManualSource) isSource() {}
func (OCRSource) isSource()    {}

// Normalize builds the canonical expense for a source, assigning a fresh
// id and CreatedAt. Item assignment defaults to the tab's membership at
// ingestion time and is fixed from then on.
func Normalize(src Source, tab core.Tab, now time.Time) (core.Expense, error) {
	switch s := src.(type) {
	case ManualSource:
		return normalizeManual(s, tab, now)
	case OCRSource:
		return normalizeOCR(s, tab, now)
	default:
		return core.Expense{}, fmt.Errorf("%w: unknown expense source %T", core.ErrInvalidExpense, src)
	}
}

func normalizeManual(s ManualSource, tab core.Tab, now time.Time) (core.Expense, error) {
	if s.AmountCents <= 0 {
		return core.Expense{}, fmt.Errorf("%w: non-positive amount", core.ErrInvalidExpense)
	}
	if strings.TrimSpace(s.Description) == "" {
		return core.Expense{}, fmt.Errorf("%w: empty description", core.ErrInvalidExpense)
	}

	e := core.Expense{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(s.Description),
		Amount:      core.Money{Cents: s.AmountCents},
		Date:        now,
		PaidBy:      s.PaidBy,
		ReceiptURL:  s.ReceiptURL,
		CreatedAt:   now,
		CreatedBy:   s.CreatedBy,
	}
	for _, it := range s.Items {
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		total := it.TotalPriceCents
		if total == 0 {
			total = it.UnitPriceCents * qty
		}
		assigned := it.AssignedTo
		if len(assigned) == 0 {
			assigned = append([]string(nil), tab.Members...)
		}
		e.Items = append(e.Items, core.ExpenseItem{
			Name:       it.Name,
			Quantity:   qty,
			UnitPrice:  core.Money{Cents: it.UnitPriceCents},
			TotalPrice: core.Money{Cents: total},
			AssignedTo: assigned,
		})
	}
	return e, nil
}

func normalizeOCR(s OCRSource, tab core.Tab, now time.Time) (core.Expense, error) {
	merchant := strings.TrimSpace(s.Result.MerchantName)
	if merchant == "" {
		merchant = defaultMerchant
	}

	e := core.Expense{
		ID:          uuid.NewString(),
		Description: merchant,
		Amount:      core.Money{Cents: s.Result.TotalCents},
		Date:        now,
		PaidBy:      s.PaidBy,
		ReceiptURL:  s.ReceiptURL,
		CreatedAt:   now,
		CreatedBy:   s.CreatedBy,
	}
	var itemSum int64
	for _, li := range s.Result.LineItems {
		name := strings.TrimSpace(li.Name)
		if name == "" {
			name = defaultItemName
		}
		qty := li.Quantity
		if qty < 1 {
			qty = 1
		}
		total := li.TotalCents
		if total == 0 {
			total = li.UnitCents * qty
		}
		itemSum += total
		e.Items = append(e.Items, core.ExpenseItem{
			Name:       name,
			Quantity:   qty,
			UnitPrice:  core.Money{Cents: li.UnitCents},
			TotalPrice: core.Money{Cents: total},
			// Receipt items default to an even split across whoever is
			// in the tab right now.
			AssignedTo: append([]string(nil), tab.Members...),
		})
	}
	// A missing receipt total falls back to the line item sum.
	if e.Amount.Cents == 0 {
		e.Amount = core.Money{Cents: itemSum}
	}
	return e, nil
}
