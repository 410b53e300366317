package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	StatusActive   TabStatus = "active"
	StatusResolved TabStatus = "resolved"
)

const (
	CategoryRestaurant TabCategory = "restaurant"
	CategoryActivities TabCategory = "activities"
	CategoryOther      TabCategory = "other"
)

type (
	TabStatus   string
	TabCategory string

	// Identity is the caller's identity as supplied by the external
	// identity provider. The core trusts it as given.
	Identity struct {
		UID         string
		Email       string
		DisplayName string
		PhotoURL    string
	}

	// Member is a user's participation record within one tab. Profile
	// fields are snapshots taken at join time and never re-synced.
	// Balance is the net signed position: positive means the tab owes
	// this member money, negative means this member owes the tab.
	Member struct {
		UID         string    `json:"uid"`
		Email       string    `json:"email"`
		DisplayName string    `json:"displayName,omitempty"`
		PhotoURL    string    `json:"photoURL,omitempty"`
		Balance     Money     `json:"balance"`
		JoinedAt    time.Time `json:"joinedAt"`
	}

	// ExpenseItem is one line within an expense. TotalPrice is
	// authoritative: when it comes straight from a receipt it wins over
	// UnitPrice*Quantity. AssignedTo is fixed when the item is built and
	// does not follow later membership changes.
	ExpenseItem struct {
		Name       string   `json:"name"`
		Quantity   int64    `json:"quantity"`
		UnitPrice  Money    `json:"unitPrice"`
		TotalPrice Money    `json:"totalPrice"`
		AssignedTo []string `json:"assignedTo"`
	}

	// Expense is one recorded cost event. Expenses are immutable once
	// applied; a mistake is corrected with a compensating entry, never an
	// edit.
	Expense struct {
		ID          string        `json:"id"`
		Description string        `json:"description"`
		Amount      Money         `json:"amount"`
		Date        time.Time     `json:"date"`
		PaidBy      string        `json:"paidBy"`
		Items       []ExpenseItem `json:"items,omitempty"`
		ReceiptURL  string        `json:"receiptURL,omitempty"`
		CreatedAt   time.Time     `json:"createdAt"`
		CreatedBy   string        `json:"createdBy"`
	}

	// Tab is the aggregate root: one shared-expense session with its
	// members, expense log and derived projections. Members preserves
	// join order; MemberDetails always has exactly the same uid set.
	// Version is the optimistic-concurrency token maintained by the
	// store; every committed write bumps it.
	Tab struct {
		ID            string            `json:"id"`
		Name          string            `json:"name"`
		Description   string            `json:"description,omitempty"`
		Category      TabCategory       `json:"category"`
		Date          time.Time         `json:"date"`
		CreatedAt     time.Time         `json:"createdAt"`
		CreatedBy     Member            `json:"createdBy"`
		Members       []string          `json:"members"`
		MemberDetails map[string]Member `json:"memberDetails"`
		Expenses      []Expense         `json:"expenses"`
		TotalAmount   Money             `json:"totalAmount"`
		Status        TabStatus         `json:"status"`
		ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
		Version       int64             `json:"version"`
	}

	// CreateTabInput carries the caller-supplied fields for a new tab.
	CreateTabInput struct {
		Name        string
		Description string
		Category    TabCategory
		Date        time.Time
	}
)

func (s TabStatus) IsValid() bool {
	return s == StatusActive || s == StatusResolved
}

func (c TabCategory) IsValid() bool {
	switch c {
	case CategoryRestaurant, CategoryActivities, CategoryOther:
		return true
	default:
		return false
	}
}

func (id Identity) Validate() error {
	if strings.TrimSpace(id.UID) == "" {
		return fmt.Errorf("%w: identity without uid", ErrInvalidState)
	}
	return nil
}

func (it ExpenseItem) Validate() error {
	if it.Quantity < 1 {
		return fmt.Errorf("%w: item %q has quantity %d", ErrInvalidExpense, it.Name, it.Quantity)
	}
	if it.TotalPrice.Cents < 0 {
		return fmt.Errorf("%w: item %q has negative price", ErrInvalidExpense, it.Name)
	}
	if len(it.AssignedTo) == 0 {
		return fmt.Errorf("%w: item %q assigned to nobody", ErrInvalidExpense, it.Name)
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidExpense)
	}
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("%w: empty description", ErrInvalidExpense)
	}
	if len(e.Description) > 200 {
		return fmt.Errorf("%w: description too long (max 200 characters)", ErrInvalidExpense)
	}
	if err := e.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: non-positive amount", ErrInvalidExpense)
	}
	if strings.TrimSpace(e.PaidBy) == "" {
		return fmt.Errorf("%w: missing payer", ErrInvalidExpense)
	}
	for _, it := range e.Items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (in CreateTabInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: empty tab name", ErrInvalidState)
	}
	if len(in.Name) > 100 {
		return fmt.Errorf("%w: tab name too long (max 100 characters)", ErrInvalidState)
	}
	if !in.Category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidState, in.Category)
	}
	return nil
}

// clone returns a deep copy of the aggregate so ledger and lifecycle
// operations can keep value semantics: readers of the input never observe
// a mutation.
func (t Tab) clone() Tab {
	out := t
	out.Members = append([]string(nil), t.Members...)
	out.MemberDetails = make(map[string]Member, len(t.MemberDetails))
	for uid, m := range t.MemberDetails {
		out.MemberDetails[uid] = m
	}
	out.Expenses = append([]Expense(nil), t.Expenses...)
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}
