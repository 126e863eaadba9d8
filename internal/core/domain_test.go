package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Description: "UBER RIDE #1234",
		Amount:      decimal.RequireFromString("24.50"),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []struct {
		tx    Transaction
		field string
	}{
		{Transaction{Description: "   ", Amount: decimal.NewFromInt(1)}, "description"},
		{Transaction{Description: "a", Amount: decimal.Zero}, "amount"},
		{Transaction{Description: "a", Amount: decimal.NewFromInt(-3)}, "amount"},
	}
	for i, tc := range bads {
		err := tc.tx.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d expected ValidationError, got %v", i, err)
		}
		if verr.Field != tc.field {
			t.Fatalf("case %d expected field %s, got %s", i, tc.field, verr.Field)
		}
	}
}

func TestLabeledTransactionValidate(t *testing.T) {
	lt := LabeledTransaction{
		Transaction: Transaction{Description: "netflix", Amount: decimal.NewFromInt(15)},
		Category:    Entertainment,
	}
	if err := lt.Validate(DefaultCategories); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	lt.Category = "Travel"
	if err := lt.Validate(DefaultCategories); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	set := CategorySet(DefaultCategories)
	got, err := set.ParseCategory(" food ")
	if err != nil || got != Food {
		t.Fatalf("expected Food, got %q (err=%v)", got, err)
	}
	if _, err := set.ParseCategory("groceries"); err == nil {
		t.Fatalf("expected error for unknown label")
	}
	if !Income.IsKnown() || Category("Nope").IsKnown() {
		t.Fatalf("IsKnown mismatch")
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-03-15", NewDate(2024, 3, 15), true},
		{"2024-03-15T10:30:00Z", NewDate(2024, 3, 15), true},
		{"", time.Time{}, true},
		{"15/03/2024", time.Time{}, false},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(tc.want) {
				t.Fatalf("%q expected %v, got %v (err=%v)", tc.in, tc.want, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}
