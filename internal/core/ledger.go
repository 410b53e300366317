package core

import "fmt"

// ApplyExpense posts one expense to the tab and returns the updated
// aggregate. The input is never mutated; callers persist the result with a
// conditional write keyed on the prior version.
//
// Splitting: each item's price is divided by the number of assigned
// members using integer cents. The per-head share is the floored quotient
// and the remainder cents are charged to the payer, so the sum of all
// balances stays exactly zero after every successful call. An expense
// without items is treated as a single item covering the full amount,
// assigned to every member at the moment it is applied.
func ApplyExpense(tab Tab, e Expense) (Tab, error) {
	if len(tab.Members) == 0 {
		return tab, fmt.Errorf("%w: tab %s has no members", ErrInvalidState, tab.ID)
	}
	if err := e.Validate(); err != nil {
		return tab, err
	}
	if !tab.IsMember(e.PaidBy) {
		return tab, fmt.Errorf("%w: payer %s is not a member of tab %s", ErrInvalidExpense, e.PaidBy, tab.ID)
	}
	for _, existing := range tab.Expenses {
		if existing.ID == e.ID {
			return tab, fmt.Errorf("%w: duplicate expense id %s", ErrInvalidExpense, e.ID)
		}
	}

	items := effectiveItems(tab, e)
	for _, it := range items {
		for _, uid := range it.AssignedTo {
			if !tab.IsMember(uid) {
				return tab, fmt.Errorf("%w: item %q assigned to non-member %s", ErrInvalidExpense, it.Name, uid)
			}
		}
	}

	out := tab.clone()
	balances := balancesOf(out)
	for _, it := range items {
		splitItem(balances, it, e.PaidBy)
	}
	for uid, cents := range balances {
		m := out.MemberDetails[uid]
		m.Balance = Money{Cents: cents}
		out.MemberDetails[uid] = m
	}
	out.Expenses = append(out.Expenses, e)
	out.TotalAmount.Cents += e.Amount.Cents
	return out, nil
}

// effectiveItems resolves the expense into the item list the split runs
// on. Manual expenses without items become one implicit item assigned to
// the current membership, snapshotted now, not at creation time.
func effectiveItems(tab Tab, e Expense) []ExpenseItem {
	if len(e.Items) > 0 {
		return e.Items
	}
	return []ExpenseItem{{
		Name:       e.Description,
		Quantity:   1,
		UnitPrice:  e.Amount,
		TotalPrice: e.Amount,
		AssignedTo: append([]string(nil), tab.Members...),
	}}
}

// splitItem applies one item to the running balances. Every assigned
// member except the payer is debited the floored per-head share; the payer
// is credited what the others owe. When the payer consumes part of the
// item their own share (plus the rounding remainder) is subtracted from
// the credit; when they do not, the remainder reduces the credit instead.
// Either way the debits and the credit cancel exactly.
func splitItem(balances map[string]int64, it ExpenseItem, payer string) {
	n := int64(len(it.AssignedTo))
	if n == 0 {
		return
	}
	base := it.TotalPrice.Cents / n
	rem := it.TotalPrice.Cents - base*n

	payerAssigned := false
	for _, uid := range it.AssignedTo {
		if uid == payer {
			payerAssigned = true
			continue
		}
		balances[uid] -= base
	}
	if payerAssigned {
		balances[payer] += it.TotalPrice.Cents - (base + rem)
	} else {
		balances[payer] += base * n
	}
}

func balancesOf(tab Tab) map[string]int64 {
	balances := make(map[string]int64, len(tab.MemberDetails))
	for uid, m := range tab.MemberDetails {
		balances[uid] = m.Balance.Cents
	}
	return balances
}

// RecomputeBalances replays the full expense log over zeroed balances and
// returns the resulting per-member positions. Posting is deterministic, so
// the result must match the stored projections; the audit worker uses this
// to detect drift.
//
// An expense without items was split across the membership at the moment
// it was applied. Members are never removed, so that set is exactly the
// members whose JoinedAt does not come after the expense's CreatedAt.
func RecomputeBalances(tab Tab) map[string]int64 {
	balances := make(map[string]int64, len(tab.MemberDetails))
	for uid := range tab.MemberDetails {
		balances[uid] = 0
	}
	for _, e := range tab.Expenses {
		items := e.Items
		if len(items) == 0 {
			items = []ExpenseItem{{
				Name:       e.Description,
				Quantity:   1,
				UnitPrice:  e.Amount,
				TotalPrice: e.Amount,
				AssignedTo: membersAsOf(tab, e),
			}}
		}
		for _, it := range items {
			splitItem(balances, it, e.PaidBy)
		}
	}
	return balances
}

func membersAsOf(tab Tab, e Expense) []string {
	uids := make([]string, 0, len(tab.Members))
	for _, uid := range tab.Members {
		m, ok := tab.MemberDetails[uid]
		if !ok {
			continue
		}
		if !m.JoinedAt.After(e.CreatedAt) {
			uids = append(uids, uid)
		}
	}
	return uids
}

// CheckInvariants verifies the aggregate-level invariants: balances sum to
// zero, member list and detail map agree, the running total matches the
// expense log and expense ids are distinct.
func CheckInvariants(tab Tab) error {
	var sum int64
	for _, m := range tab.MemberDetails {
		sum += m.Balance.Cents
	}
	if sum != 0 {
		return fmt.Errorf("%w: balances sum to %d cents", ErrInvalidState, sum)
	}
	if len(tab.Members) != len(tab.MemberDetails) {
		return fmt.Errorf("%w: %d member uids but %d detail records", ErrInvalidState, len(tab.Members), len(tab.MemberDetails))
	}
	for _, uid := range tab.Members {
		if !tab.IsMember(uid) {
			return fmt.Errorf("%w: uid %s missing from member details", ErrInvalidState, uid)
		}
	}
	var total int64
	seen := make(map[string]struct{}, len(tab.Expenses))
	for _, e := range tab.Expenses {
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate expense id %s", ErrInvalidState, e.ID)
		}
		seen[e.ID] = struct{}{}
		total += e.Amount.Cents
	}
	if total != tab.TotalAmount.Cents {
		return fmt.Errorf("%w: total %d cents but expenses sum to %d", ErrInvalidState, tab.TotalAmount.Cents, total)
	}
	return nil
}
