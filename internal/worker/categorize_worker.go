// Package worker turns queued categorization requests into published
// results.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"txcat/internal/amqp"
	"txcat/internal/core"
	"txcat/internal/insights"
	logfields "txcat/internal/log"
	"txcat/internal/predictor"
)

// BatchPredictor is the part of the predictor the worker needs.
type BatchPredictor interface {
	PredictBatch(ctx context.Context, txs []core.Transaction) ([]predictor.BatchItem, error)
}

// ResultPublisher delivers results back to the broker.
type ResultPublisher interface {
	PublishResult(ctx context.Context, res *amqp.CategorizeResult) error
}

// CategorizeWorker handles categorization requests from AMQP
type CategorizeWorker struct {
	predictor BatchPredictor
	publisher ResultPublisher
	topN      int
	now       func() time.Time
}

func NewCategorizeWorker(p BatchPredictor, pub ResultPublisher, topN int) *CategorizeWorker {
	if topN <= 0 {
		topN = insights.DefaultTopN
	}
	return &CategorizeWorker{predictor: p, publisher: pub, topN: topN, now: time.Now}
}

// HandleRequest categorizes a batch and publishes the result. Invalid items
// are reported in the result; an error is returned only when the batch as a
// whole could not be processed or published, so the delivery is retried.
func (w *CategorizeWorker) HandleRequest(ctx context.Context, req *amqp.CategorizeRequest) error {
	started := time.Now()
	logger := slog.Default().With(
		logfields.FieldComponent, logfields.ComponentWorker,
		logfields.FieldRequestID, req.RequestID)

	res := &amqp.CategorizeResult{
		RequestID:   req.RequestID,
		Predictions: make([]amqp.Prediction, 0, len(req.Transactions)),
		Timestamp:   w.now(),
	}

	// Rejected items keep their index in the result and are left out of
	// scoring and insights.
	txs := make([]core.Transaction, 0, len(req.Transactions))
	positions := make([]int, 0, len(req.Transactions))
	for i, t := range req.Transactions {
		tx, err := toTransaction(ctx, logger, i, t)
		if err != nil {
			res.Errors = append(res.Errors, amqp.ItemError{Index: i, Error: err.Error()})
			continue
		}
		txs = append(txs, tx)
		positions = append(positions, i)
	}

	items, err := w.predictor.PredictBatch(ctx, txs)
	if err != nil {
		return fmt.Errorf("predict batch: %w", err)
	}

	for j, it := range items {
		i := positions[j]
		if it.Err != nil {
			res.Errors = append(res.Errors, amqp.ItemError{Index: i, Error: it.Err.Error()})
			continue
		}
		res.Predictions = append(res.Predictions, toPrediction(i, req.Transactions[i], it.Result))
	}
	sort.Slice(res.Errors, func(a, b int) bool { return res.Errors[a].Index < res.Errors[b].Index })
	summary := insights.Summarize(insights.FromBatch(txs, items), w.topN)
	res.Insights = insights.NewReport(summary)

	if err := w.publisher.PublishResult(ctx, res); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}

	logger.InfoContext(ctx, "Categorization request completed",
		logfields.FieldBatchSize, len(req.Transactions),
		"predicted", len(res.Predictions),
		"rejected", len(res.Errors),
		logfields.FieldDuration, time.Since(started).Milliseconds())
	return nil
}

func toTransaction(ctx context.Context, logger *slog.Logger, i int, t amqp.Transaction) (core.Transaction, error) {
	amount, err := core.ParseNumber(t.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	tx := core.Transaction{
		Description: strings.TrimSpace(t.Description),
		Amount:      amount,
		UserID:      strings.TrimSpace(t.UserID),
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if t.Date != "" {
		d, err := core.ParseDate(t.Date)
		if err != nil {
			logger.WarnContext(ctx, "Unparseable date, using processing date",
				logfields.FieldIndex, i, "date", t.Date)
		} else {
			tx.Date = d
		}
	}
	return tx, nil
}

func toPrediction(i int, t amqp.Transaction, r predictor.Result) amqp.Prediction {
	probs := make(map[string]float64, len(r.Probabilities))
	for c, p := range r.Probabilities {
		probs[string(c)] = p
	}
	return amqp.Prediction{
		Index:             i,
		Description:       t.Description,
		Amount:            t.Amount,
		UserID:            t.UserID,
		PredictedCategory: string(r.Category),
		Confidence:        r.Confidence,
		Probabilities:     probs,
		Source:            string(r.Source),
		Degraded:          r.Degraded,
		ModelVersion:      r.ModelVersion,
	}
}
