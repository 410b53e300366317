package memory

import (
	"context"
	"testing"

	"tidytab/internal/core"
)

func TestAppendSettlement(t *testing.T) {
	s := New()

	ref, err := s.AppendSettlement(context.Background(), core.Settlement{
		TabID: "tab-1",
		Shares: []core.MemberShare{
			{UID: "alice", DisplayName: "Alice", Net: core.Money{Cents: 500}},
			{UID: "bob", DisplayName: "Bob", Net: core.Money{Cents: -500}},
		},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ref != "mem:1" {
		t.Errorf("ref = %q, want mem:1", ref)
	}
	if got := len(s.Settlements()); got != 1 {
		t.Errorf("settlements = %d, want 1", got)
	}
}

func TestAppendSettlement_RejectsEmpty(t *testing.T) {
	s := New()
	if _, err := s.AppendSettlement(context.Background(), core.Settlement{TabID: "tab-1"}); err == nil {
		t.Error("expected error for settlement without shares")
	}
}
