package core

import (
	"errors"
	"testing"
	"time"
)

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		ID:          "e1",
		Description: "dinner",
		Amount:      Money{Cents: 1200},
		PaidBy:      "u1",
		CreatedAt:   time.Now(),
		CreatedBy:   "u1",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{Description: "a", Amount: Money{Cents: 1}, PaidBy: "u1"},                // no id
		{ID: "e", Description: "", Amount: Money{Cents: 1}, PaidBy: "u1"},        // empty description
		{ID: "e", Description: "a", Amount: Money{Cents: 0}, PaidBy: "u1"},       // zero amount
		{ID: "e", Description: "a", Amount: Money{Cents: 1}, PaidBy: ""},         // no payer
		{ID: "e", Description: "a", Amount: Money{Cents: 1}, PaidBy: "u1", Items: []ExpenseItem{{Name: "x", Quantity: 1, TotalPrice: Money{Cents: 1}}}}, // item assigned to nobody
		{ID: "e", Description: "a", Amount: Money{Cents: 1}, PaidBy: "u1", Items: []ExpenseItem{{Name: "x", Quantity: 0, TotalPrice: Money{Cents: 1}, AssignedTo: []string{"u1"}}}}, // zero quantity
	}
	for i, e := range bads {
		err := e.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrInvalidExpense) {
			t.Fatalf("case %d expected ErrInvalidExpense, got %v", i, err)
		}
	}
}

func TestCreateTabInputValidate(t *testing.T) {
	good := CreateTabInput{Name: "Ski trip", Category: CategoryActivities}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []CreateTabInput{
		{Name: "", Category: CategoryOther},
		{Name: "x", Category: TabCategory("party")},
	}
	for i, in := range cases {
		if err := in.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestTabCategoryIsValid(t *testing.T) {
	for _, c := range []TabCategory{CategoryRestaurant, CategoryActivities, CategoryOther} {
		if !c.IsValid() {
			t.Fatalf("%q should be valid", c)
		}
	}
	if TabCategory("groceries").IsValid() {
		t.Fatal("unknown category should be invalid")
	}
}

func TestCloneIsDeep(t *testing.T) {
	tab, err := NewTab("t1", CreateTabInput{Name: "Dinner", Category: CategoryRestaurant}, Identity{UID: "u1", Email: "u1@example.com"}, time.Now())
	if err != nil {
		t.Fatalf("new tab: %v", err)
	}
	out := tab.clone()
	out.Members = append(out.Members, "u2")
	out.MemberDetails["u2"] = Member{UID: "u2"}

	if len(tab.Members) != 1 || len(tab.MemberDetails) != 1 {
		t.Fatalf("clone mutated the original: %v", tab.Members)
	}
}
