package core

import "time"

// MemberFromIdentity builds a member record for a joining user: a profile
// snapshot with a zero balance. Pure; identity fields are trusted as given.
func MemberFromIdentity(id Identity, now time.Time) Member {
	return Member{
		UID:         id.UID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
		Balance:     Money{},
		JoinedAt:    now,
	}
}

// IsMember reports whether uid participates in the tab.
func (t Tab) IsMember(uid string) bool {
	_, ok := t.MemberDetails[uid]
	return ok
}
