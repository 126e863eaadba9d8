// Package storage keeps labeled training data and the training-run registry
// in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"txcat/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNoTrainingRuns is returned when the registry is empty.
var ErrNoTrainingRuns = errors.New("no training runs recorded")

// TrainingRun is one row of the training-run registry.
type TrainingRun struct {
	ID               string
	ModelVersion     string
	Classifier       string
	SelectionPolicy  string
	SelectionScore   float64
	HeldoutAccuracy  float64
	TrainSize        int
	TestSize         int
	SkippedRows      int
	Candidates       json.RawMessage
	ArtifactLocation string
	CreatedAt        time.Time
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertLabeled stores rows in one transaction and returns how many were
// written.
func (r *SQLiteRepository) InsertLabeled(ctx context.Context, rows []core.LabeledTransaction) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO labeled_transactions (description, amount, date, category, user_id) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Description, row.Amount.String(), formatDate(row.Date), string(row.Category), row.UserID); err != nil {
			return 0, fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Labeled transactions saved to SQLite", "count", len(rows))
	return len(rows), nil
}

// ListLabeled returns every stored row in insertion order.
func (r *SQLiteRepository) ListLabeled(ctx context.Context) ([]core.LabeledTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT description, amount, date, category, user_id FROM labeled_transactions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query labeled transactions: %w", err)
	}
	defer rows.Close()

	var out []core.LabeledTransaction
	for rows.Next() {
		var desc, amount, date, category, userID string
		if err := rows.Scan(&desc, &amount, &date, &category, &userID); err != nil {
			return nil, fmt.Errorf("scan labeled transaction: %w", err)
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("stored amount %q: %w", amount, err)
		}
		d, err := core.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("stored date %q: %w", date, err)
		}
		out = append(out, core.LabeledTransaction{
			Transaction: core.Transaction{Description: desc, Amount: amt, Date: d, UserID: userID},
			Category:    core.Category(category),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labeled transactions: %w", err)
	}
	return out, nil
}

// CountByCategory returns the number of stored rows per label.
func (r *SQLiteRepository) CountByCategory(ctx context.Context) (map[core.Category]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM labeled_transactions GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.Category]int)
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts[core.Category(c)] = n
	}
	return counts, rows.Err()
}

// RecordTrainingRun appends a run to the registry.
func (r *SQLiteRepository) RecordTrainingRun(ctx context.Context, run TrainingRun) error {
	if run.ID == "" {
		return errors.New("training run id is required")
	}
	candidates := run.Candidates
	if len(candidates) == 0 {
		candidates = json.RawMessage("[]")
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO training_runs (
			id, model_version, classifier, selection_policy, selection_score,
			heldout_accuracy, train_size, test_size, skipped_rows,
			candidates_json, artifact_location, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ModelVersion, run.Classifier, run.SelectionPolicy, run.SelectionScore,
		run.HeldoutAccuracy, run.TrainSize, run.TestSize, run.SkippedRows,
		string(candidates), run.ArtifactLocation, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert training run: %w", err)
	}

	slog.InfoContext(ctx, "Training run recorded",
		"id", run.ID,
		"model_version", run.ModelVersion,
		"classifier", run.Classifier,
		"heldout_accuracy", run.HeldoutAccuracy)
	return nil
}

// ListTrainingRuns returns up to limit runs, newest first.
func (r *SQLiteRepository) ListTrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, model_version, classifier, selection_policy, selection_score,
		       heldout_accuracy, train_size, test_size, skipped_rows,
		       candidates_json, artifact_location, created_at
		FROM training_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query training runs: %w", err)
	}
	defer rows.Close()

	var out []TrainingRun
	for rows.Next() {
		var run TrainingRun
		var candidates string
		if err := rows.Scan(&run.ID, &run.ModelVersion, &run.Classifier, &run.SelectionPolicy, &run.SelectionScore,
			&run.HeldoutAccuracy, &run.TrainSize, &run.TestSize, &run.SkippedRows,
			&candidates, &run.ArtifactLocation, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		run.Candidates = json.RawMessage(candidates)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training runs: %w", err)
	}
	return out, nil
}

// LatestTrainingRun returns the most recent run or ErrNoTrainingRuns.
func (r *SQLiteRepository) LatestTrainingRun(ctx context.Context) (TrainingRun, error) {
	runs, err := r.ListTrainingRuns(ctx, 1)
	if err != nil {
		return TrainingRun{}, err
	}
	if len(runs) == 0 {
		return TrainingRun{}, ErrNoTrainingRuns
	}
	return runs[0], nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(core.DateLayout)
}
