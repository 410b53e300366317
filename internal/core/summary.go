package core

import "time"

// MemberShare is one member's net position within a settlement summary.
type MemberShare struct {
	UID         string
	DisplayName string
	Net         Money
}

// Settlement is the compact summary of a resolved tab, one share per
// member, used by the export pipeline.
type Settlement struct {
	TabID      string
	TabName    string
	Category   TabCategory
	Total      Money
	ResolvedAt time.Time
	Shares     []MemberShare
}

// SettlementOf summarizes a tab for export. Shares follow join order so
// exported rows are stable across runs.
func SettlementOf(tab Tab) Settlement {
	s := Settlement{
		TabID:    tab.ID,
		TabName:  tab.Name,
		Category: tab.Category,
		Total:    tab.TotalAmount,
	}
	if tab.ResolvedAt != nil {
		s.ResolvedAt = *tab.ResolvedAt
	}
	for _, uid := range tab.Members {
		m, ok := tab.MemberDetails[uid]
		if !ok {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = m.Email
		}
		s.Shares = append(s.Shares, MemberShare{UID: uid, DisplayName: name, Net: m.Balance})
	}
	return s
}
