package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"txcat/internal/core"
)

// amountPrecision is the number of decimal places kept from BigQuery NUMERIC.
const amountPrecision = 9

var tableNameRe = regexp.MustCompile("^[A-Za-z0-9_.-]+$")

// bigQueryRow mirrors the columns selected by BigQuerySource.
type bigQueryRow struct {
	Date        bigquery.NullDate   `bigquery:"date"`
	Description string              `bigquery:"description"`
	Amount      *big.Rat            `bigquery:"amount"`
	Category    string              `bigquery:"category"`
	UserID      bigquery.NullString `bigquery:"user_id"`
}

// BigQuerySource reads labeled rows from a table with the CSV column names.
type BigQuerySource struct {
	client *bigquery.Client
	table  string
	labels core.CategorySet
}

// NewBigQuerySource connects with Application Default Credentials. table is
// dataset.table or project.dataset.table.
func NewBigQuerySource(ctx context.Context, projectID, table string, labels core.CategorySet) (*BigQuerySource, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid BigQuery table name %q", table)
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &BigQuerySource{client: client, table: table, labels: labels}, nil
}

func (s *BigQuerySource) Name() string { return string(KindBigQuery) }

func (s *BigQuerySource) Close() error {
	return s.client.Close()
}

func (s *BigQuerySource) Load(ctx context.Context) ([]core.LabeledTransaction, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT date, description, amount, category, user_id
		FROM `+"`%s`"+`
		WHERE description IS NOT NULL AND category IS NOT NULL
		ORDER BY date`, s.table))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var out []core.LabeledTransaction
	for {
		var r bigQueryRow
		err := it.Next(&r)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating rows: %w", err)
		}
		out = append(out, r.labeled(s.labels))
	}
	return out, nil
}

func (r bigQueryRow) labeled(labels core.CategorySet) core.LabeledTransaction {
	amount := decimal.Zero
	if r.Amount != nil {
		amount = decimal.NewFromBigRat(r.Amount, amountPrecision)
	}
	lt := core.LabeledTransaction{
		Transaction: core.Transaction{
			Description: r.Description,
			Amount:      amount,
			UserID:      r.UserID.StringVal,
		},
		Category: canonicalCategory(labels, r.Category),
	}
	if r.Date.Valid {
		lt.Date = civilToTime(r.Date.Date)
	}
	return lt
}

func civilToTime(d civil.Date) time.Time {
	return core.NewDate(d.Year, int(d.Month), d.Day)
}
