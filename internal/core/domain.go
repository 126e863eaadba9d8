package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Food          Category = "Food"
	Transport     Category = "Transport"
	Shopping      Category = "Shopping"
	Entertainment Category = "Entertainment"
	Utilities     Category = "Utilities"
	Healthcare    Category = "Healthcare"
	Income        Category = "Income"
	Other         Category = "Other"
)

// DateLayout is the ISO calendar date format used at every boundary.
const DateLayout = "2006-01-02"

type (
	// Category is one label of the closed spending-class set.
	Category string

	// Transaction is a single transaction to categorize. A zero Date means
	// "not supplied"; extraction then uses the processing date.
	Transaction struct {
		Description string
		Amount      decimal.Decimal
		Date        time.Time
		UserID      string
	}

	// LabeledTransaction is a historical transaction with its known category.
	LabeledTransaction struct {
		Transaction
		Category Category
	}
)

// DefaultCategories is the label set the engine is built around, in
// presentation order.
var DefaultCategories = []Category{
	Food, Transport, Shopping, Entertainment, Utilities, Healthcare, Income, Other,
}

var (
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCategory  = errors.New("invalid category")
)

// ValidationError reports a malformed caller request.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// String implements fmt.Stringer
func (c Category) String() string {
	return string(c)
}

// IsKnown reports whether c belongs to DefaultCategories.
func (c Category) IsKnown() bool {
	return CategorySet(DefaultCategories).Contains(c)
}

// CategorySet is an ordered closed label set.
type CategorySet []Category

// Contains reports whether c is part of the set.
func (s CategorySet) Contains(c Category) bool {
	for _, k := range s {
		if k == c {
			return true
		}
	}
	return false
}

// ParseCategory matches a label case-insensitively against the set and
// returns its canonical spelling.
func (s CategorySet) ParseCategory(raw string) (Category, error) {
	raw = strings.TrimSpace(raw)
	for _, k := range s {
		if strings.EqualFold(string(k), raw) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// Validate checks the fields a caller must provide.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return &ValidationError{Field: "description", Reason: "must not be empty", Err: ErrEmptyDescription}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive", Err: ErrInvalidAmount}
	}
	return nil
}

func (lt LabeledTransaction) Validate(labels CategorySet) error {
	if err := lt.Transaction.Validate(); err != nil {
		return err
	}
	if !labels.Contains(lt.Category) {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown label %q", lt.Category), Err: ErrInvalidCategory}
	}
	return nil
}

// ParseDate parses an ISO calendar date. Empty input yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	// Accept timestamps too; only the calendar part is kept.
	if len(s) > len(DateLayout) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// NewDate creates a UTC calendar date.
func NewDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
