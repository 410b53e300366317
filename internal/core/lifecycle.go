package core

import (
	"fmt"
	"time"
)

// NewTab builds a fresh aggregate with the creator as its sole member.
// The id is assigned by the store layer before this is called; the core
// never generates tab ids itself.
func NewTab(id string, in CreateTabInput, creator Identity, now time.Time) (Tab, error) {
	if id == "" {
		return Tab{}, fmt.Errorf("%w: tab without id", ErrInvalidState)
	}
	if err := in.Validate(); err != nil {
		return Tab{}, err
	}
	if err := creator.Validate(); err != nil {
		return Tab{}, err
	}
	member := MemberFromIdentity(creator, now)
	date := in.Date
	if date.IsZero() {
		date = now
	}
	return Tab{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Date:        date,
		CreatedAt:   now,
		CreatedBy:   member,
		Members:     []string{creator.UID},
		MemberDetails: map[string]Member{
			creator.UID: member,
		},
		Expenses:    []Expense{},
		TotalAmount: Money{},
		Status:      StatusActive,
	}, nil
}

// Join adds the identity to the tab's membership. Joining is idempotent:
// an existing member gets the aggregate back unchanged and joined=false.
// There is no leave operation; membership only grows.
func Join(tab Tab, id Identity, now time.Time) (Tab, bool, error) {
	if err := id.Validate(); err != nil {
		return tab, false, err
	}
	if tab.IsMember(id.UID) {
		return tab, false, nil
	}
	out := tab.clone()
	member := MemberFromIdentity(id, now)
	out.Members = append(out.Members, id.UID)
	out.MemberDetails[id.UID] = member
	return out, true, nil
}

// Resolve moves an active tab to resolved and stamps ResolvedAt.
func Resolve(tab Tab, now time.Time) (Tab, error) {
	if tab.Status == StatusResolved {
		return tab, fmt.Errorf("%w: tab %s already resolved", ErrInvalidTransition, tab.ID)
	}
	out := tab.clone()
	out.Status = StatusResolved
	out.ResolvedAt = &now
	return out, nil
}

// Reopen moves a resolved tab back to active and clears ResolvedAt.
func Reopen(tab Tab) (Tab, error) {
	if tab.Status != StatusResolved {
		return tab, fmt.Errorf("%w: tab %s is not resolved", ErrInvalidTransition, tab.ID)
	}
	out := tab.clone()
	out.Status = StatusActive
	out.ResolvedAt = nil
	return out, nil
}
