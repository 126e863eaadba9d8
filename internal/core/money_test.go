package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{".5", "0.5", true},
		{" 24.50 ", "24.5", true},
		{"1500", "1500", true},
		{"-1", "", false},
		{"+1", "", false},
		{"0", "", false},
		{"0.00", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1e3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.String() != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %s", tc.in, got)
		}
	}
}

func TestAmountFromFloat(t *testing.T) {
	if got := AmountFromFloat(24.5).String(); got != "24.5" {
		t.Fatalf("expected 24.5, got %s", got)
	}
	if got := AmountFromFloat(5.754).String(); got != "5.75" {
		t.Fatalf("expected 5.75, got %s", got)
	}
}

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in  json.Number
		out string
		ok  bool
	}{
		{"1.005", "1.005", true},
		{"0.004", "0.004", true},
		{"24.50", "24.5", true},
		{"1500", "1500", true},
		{"-3", "-3", true},
		{"", "", false},
		{"twelve", "", false},
	}
	for _, tc := range cases {
		got, err := ParseNumber(tc.in)
		if tc.ok {
			if err != nil || got.String() != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != "amount" || !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected amount ValidationError, got %v", tc.in, err)
		}
	}
}
