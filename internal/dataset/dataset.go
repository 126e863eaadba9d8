// Package dataset loads labeled training transactions from the supported
// sources.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"txcat/internal/core"
	logfields "txcat/internal/log"
	"txcat/internal/storage"
)

// Source yields the full labeled dataset.
type Source interface {
	Load(ctx context.Context) ([]core.LabeledTransaction, error)
	Name() string
}

// CleanupFunc releases resources held by a source.
type CleanupFunc func() error

// Kind selects a source implementation.
type Kind string

const (
	KindCSV      Kind = "csv"
	KindSQLite   Kind = "sqlite"
	KindBigQuery Kind = "bigquery"
	KindSheets   Kind = "sheets"
	KindMemory   Kind = "memory"
)

// String implements fmt.Stringer
func (k Kind) String() string {
	return string(k)
}

// IsValid returns true if the source kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindCSV, KindSQLite, KindBigQuery, KindSheets, KindMemory:
		return true
	default:
		return false
	}
}

// Config holds the settings for every source kind; only the fields of the
// selected Kind are read.
type Config struct {
	Kind Kind

	// CSV
	Path string

	// SQLite
	SQLiteDBPath string

	// BigQuery
	BigQueryProject string
	BigQueryTable   string

	// Google Sheets
	SpreadsheetID string
	SheetName     string

	// Memory
	Rows []core.LabeledTransaction

	// Labels canonicalizes category spelling. Unknown labels are passed
	// through for the trainer to reject.
	Labels core.CategorySet
}

// Validate checks that the selected kind has what it needs.
func (c Config) Validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("invalid dataset source: %s", c.Kind)
	}
	var problems []string
	switch c.Kind {
	case KindCSV:
		if c.Path == "" {
			problems = append(problems, "dataset path is required for csv source")
		}
	case KindSQLite:
		if c.SQLiteDBPath == "" {
			problems = append(problems, "SQLite database path is required for sqlite source")
		}
	case KindBigQuery:
		if c.BigQueryProject == "" {
			problems = append(problems, "BigQuery project is required for bigquery source")
		}
		if c.BigQueryTable == "" {
			problems = append(problems, "BigQuery table is required for bigquery source")
		}
	case KindSheets:
		if c.SpreadsheetID == "" {
			problems = append(problems, "Google Spreadsheet ID is required for sheets source")
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Open builds the configured source. The returned cleanup may be nil.
func Open(ctx context.Context, cfg Config) (Source, CleanupFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = core.DefaultCategories
	}

	logger := slog.Default().With(logfields.FieldComponent, logfields.ComponentDataset)

	switch cfg.Kind {
	case KindCSV:
		logger.InfoContext(ctx, "Using CSV dataset", "path", cfg.Path)
		return NewCSVSource(cfg.Path, cfg.Labels), nil, nil
	case KindSQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		logger.InfoContext(ctx, "Using SQLite dataset", "db_path", cfg.SQLiteDBPath)
		return NewSQLiteSource(repo), repo.Close, nil
	case KindBigQuery:
		src, err := NewBigQuerySource(ctx, cfg.BigQueryProject, cfg.BigQueryTable, cfg.Labels)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize BigQuery client: %w", err)
		}
		logger.InfoContext(ctx, "Using BigQuery dataset", "project", cfg.BigQueryProject, "table", cfg.BigQueryTable)
		return src, src.Close, nil
	case KindSheets:
		src, err := NewSheetsSource(ctx, cfg.SpreadsheetID, cfg.SheetName, cfg.Labels)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		logger.InfoContext(ctx, "Using Google Sheets dataset", "sheet", src.sheetName)
		return src, nil, nil
	case KindMemory:
		return NewMemorySource(cfg.Rows), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dataset source: %s", cfg.Kind)
	}
}

// SQLiteSource reads rows previously imported into the SQLite store.
type SQLiteSource struct {
	repo *storage.SQLiteRepository
}

func NewSQLiteSource(repo *storage.SQLiteRepository) *SQLiteSource {
	return &SQLiteSource{repo: repo}
}

func (s *SQLiteSource) Name() string { return string(KindSQLite) }

func (s *SQLiteSource) Load(ctx context.Context) ([]core.LabeledTransaction, error) {
	return s.repo.ListLabeled(ctx)
}

// MemorySource serves a fixed slice; used by tests and embedding callers.
type MemorySource struct {
	rows []core.LabeledTransaction
}

func NewMemorySource(rows []core.LabeledTransaction) *MemorySource {
	return &MemorySource{rows: rows}
}

func (s *MemorySource) Name() string { return string(KindMemory) }

func (s *MemorySource) Load(ctx context.Context) ([]core.LabeledTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]core.LabeledTransaction(nil), s.rows...), nil
}

// canonicalCategory returns the set's spelling of raw, or raw itself.
func canonicalCategory(labels core.CategorySet, raw string) core.Category {
	if c, err := labels.ParseCategory(raw); err == nil {
		return c
	}
	return core.Category(strings.TrimSpace(raw))
}
