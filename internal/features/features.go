// Package features derives the feature record consumed by the classifier
// pipeline. The same Extract function runs at training and inference time;
// any change to it invalidates every persisted model artifact.
package features

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Keywords is the merchant vocabulary behind the has_<keyword> flags. It is
// part of the model artifact contract and is checked when an artifact loads.
var Keywords = []string{
	"uber", "amazon", "netflix", "starbucks", "mcdonalds",
	"walmart", "target", "gas", "groceries", "restaurant",
}

// baseNumeric lists the non-keyword numeric columns in vector order.
var baseNumeric = []string{
	"amount", "description_length", "word_count", "has_digits",
	"amount_log", "month", "day_of_week",
}

var ErrInvalidAmount = errors.New("amount must be a positive number")

// ExtractionError is returned when a single transaction cannot be turned into
// a feature record.
type ExtractionError struct {
	Amount float64
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("feature extraction: amount %v: %v", e.Amount, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Record is the structured representation of one transaction.
type Record struct {
	Description       string
	Amount            float64
	DescriptionLength int
	WordCount         int
	HasDigits         int
	AmountLog         float64
	Month             int
	DayOfWeek         int // 0 = Monday .. 6 = Sunday
	KeywordFlags      []int
}

// Extractor holds the clock used when no date is supplied.
type Extractor struct {
	Now func() time.Time
}

var defaultExtractor = Extractor{Now: time.Now}

// Extract derives a Record using the wall clock for missing dates.
func Extract(description string, amount float64, date time.Time) (Record, error) {
	return defaultExtractor.Extract(description, amount, date)
}

// Extract derives a Record. A zero date means "not supplied".
func (x Extractor) Extract(description string, amount float64, date time.Time) (Record, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return Record{}, &ExtractionError{Amount: amount, Err: ErrInvalidAmount}
	}
	if date.IsZero() {
		now := time.Now
		if x.Now != nil {
			now = x.Now
		}
		date = now()
	}

	lower := strings.ToLower(description)
	flags := make([]int, len(Keywords))
	for i, kw := range Keywords {
		if strings.Contains(lower, kw) {
			flags[i] = 1
		}
	}

	return Record{
		Description:       lower,
		Amount:            amount,
		DescriptionLength: utf8.RuneCountInString(description),
		WordCount:         len(strings.Fields(description)),
		HasDigits:         boolInt(strings.IndexFunc(description, unicode.IsDigit) >= 0),
		AmountLog:         math.Log1p(amount),
		Month:             int(date.Month()),
		DayOfWeek:         (int(date.Weekday()) + 6) % 7,
		KeywordFlags:      flags,
	}, nil
}

// NumericNames returns the numeric column names in the order of Numeric.
func NumericNames() []string {
	names := make([]string, 0, len(baseNumeric)+len(Keywords))
	names = append(names, baseNumeric...)
	for _, kw := range Keywords {
		names = append(names, "has_"+kw)
	}
	return names
}

// Numeric returns every non-text feature as a float column vector.
func (r Record) Numeric() []float64 {
	out := make([]float64, 0, len(baseNumeric)+len(r.KeywordFlags))
	out = append(out,
		r.Amount,
		float64(r.DescriptionLength),
		float64(r.WordCount),
		float64(r.HasDigits),
		r.AmountLog,
		float64(r.Month),
		float64(r.DayOfWeek),
	)
	for _, f := range r.KeywordFlags {
		out = append(out, float64(f))
	}
	return out
}

// Fields returns the record as a keyed mapping, the shape logged and exposed
// to callers that inspect features.
func (r Record) Fields() map[string]any {
	m := map[string]any{"description": r.Description}
	for i, name := range NumericNames() {
		m[name] = r.Numeric()[i]
	}
	return m
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
