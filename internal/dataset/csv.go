package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"txcat/internal/core"
)

// Header columns of the training-data contract. Other columns (for example
// payment_method) are accepted and ignored.
const (
	ColumnDate        = "date"
	ColumnDescription = "description"
	ColumnAmount      = "amount"
	ColumnCategory    = "category"
	ColumnUserID      = "user_id"
)

var requiredColumns = []string{ColumnDate, ColumnDescription, ColumnAmount, ColumnCategory}

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// RowError locates a malformed row. Line is 1-based and counts the header.
type RowError struct {
	Line  int
	Field string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Field, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// CSVSource reads a labeled CSV file.
type CSVSource struct {
	path   string
	labels core.CategorySet
}

func NewCSVSource(path string, labels core.CategorySet) *CSVSource {
	return &CSVSource{path: path, labels: labels}
}

func (s *CSVSource) Name() string { return string(KindCSV) }

func (s *CSVSource) Load(ctx context.Context) ([]core.LabeledTransaction, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f, s.labels)
}

// ReadCSV parses labeled rows. Amounts that are not positive are kept so the
// trainer can skip and count them; anything that is not a number at all is
// a RowError.
func ReadCSV(ctx context.Context, r io.Reader, labels core.CategorySet) ([]core.LabeledTransaction, error) {
	if len(labels) == 0 {
		labels = core.DefaultCategories
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	p, err := newRowParser(header, labels)
	if err != nil {
		return nil, err
	}

	var out []core.LabeledTransaction
	for line := 2; ; line++ {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		lt, err := p.parse(rec, line)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, nil
}

// rowParser maps header names to positions.
type rowParser struct {
	cols   map[string]int
	labels core.CategorySet
}

func newRowParser(header []string, labels core.CategorySet) (*rowParser, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s; got headers=%v", ErrMissingColumn, strings.Join(missing, ","), header)
	}
	return &rowParser{cols: cols, labels: labels}, nil
}

func (p *rowParser) get(row []string, col string) string {
	i, ok := p.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (p *rowParser) parse(row []string, line int) (core.LabeledTransaction, error) {
	desc := p.get(row, ColumnDescription)
	if desc == "" {
		return core.LabeledTransaction{}, &RowError{Line: line, Field: ColumnDescription, Err: core.ErrEmptyDescription}
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(p.get(row, ColumnAmount), ",", "."))
	if err != nil {
		return core.LabeledTransaction{}, &RowError{Line: line, Field: ColumnAmount, Err: core.ErrInvalidAmount}
	}
	date, err := core.ParseDate(p.get(row, ColumnDate))
	if err != nil {
		return core.LabeledTransaction{}, &RowError{Line: line, Field: ColumnDate, Err: err}
	}
	category := p.get(row, ColumnCategory)
	if category == "" {
		return core.LabeledTransaction{}, &RowError{Line: line, Field: ColumnCategory, Err: core.ErrInvalidCategory}
	}
	return core.LabeledTransaction{
		Transaction: core.Transaction{
			Description: desc,
			Amount:      amount,
			Date:        date,
			UserID:      p.get(row, ColumnUserID),
		},
		Category: canonicalCategory(p.labels, category),
	}, nil
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
