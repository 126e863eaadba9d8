package worker

import (
	"context"
	"errors"
	"testing"

	"txcat/internal/amqp"
	"txcat/internal/core"
	"txcat/internal/predictor"
)

type recordingPublisher struct {
	results []*amqp.CategorizeResult
	err     error
}

func (p *recordingPublisher) PublishResult(ctx context.Context, res *amqp.CategorizeResult) error {
	if p.err != nil {
		return p.err
	}
	p.results = append(p.results, res)
	return nil
}

func fallbackPredictor(t *testing.T) *predictor.Predictor {
	t.Helper()
	p := predictor.New(predictor.Config{Workers: 2})
	p.Load(context.Background(), nil)
	return p
}

func TestHandleRequest(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewCategorizeWorker(fallbackPredictor(t), pub, 0)

	req := &amqp.CategorizeRequest{
		RequestID: "req-1",
		Transactions: []amqp.Transaction{
			{Description: "UBER RIDE #1234", Amount: "24.50", Date: "2024-03-15"},
			{Description: "BROKEN", Amount: "0"},
			{Description: "STARBUCKS COFFEE", Amount: "5.75", Date: "not-a-date"},
			{Description: "UNKNOWN MERCHANT XYZ", Amount: "1500"},
		},
	}
	if err := w.HandleRequest(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.results) != 1 {
		t.Fatalf("expected one published result, got %d", len(pub.results))
	}
	res := pub.results[0]
	if res.RequestID != "req-1" {
		t.Fatalf("unexpected request id %q", res.RequestID)
	}
	if len(res.Predictions) != 3 || len(res.Errors) != 1 || res.Errors[0].Index != 1 {
		t.Fatalf("unexpected outcome: %d predictions, errors %+v", len(res.Predictions), res.Errors)
	}
	want := map[int]string{0: "Transport", 2: "Food", 3: "Income"}
	for _, p := range res.Predictions {
		if want[p.Index] != p.PredictedCategory {
			t.Fatalf("item %d: expected %s, got %s", p.Index, want[p.Index], p.PredictedCategory)
		}
		if p.Source != string(predictor.SourceFallback) {
			t.Fatalf("item %d: expected fallback source, got %s", p.Index, p.Source)
		}
	}
	if res.Insights.TotalTransactions != 3 || res.Insights.TotalSpent != 1530.25 {
		t.Fatalf("unexpected insights %+v", res.Insights)
	}
	if len(res.Insights.TopCategories) != 3 || res.Insights.TopCategories[0].Category != core.Income {
		t.Fatalf("unexpected top categories %+v", res.Insights.TopCategories)
	}
}

func TestHandleRequestRejectsInvalidItems(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewCategorizeWorker(fallbackPredictor(t), pub, 3)

	req := &amqp.CategorizeRequest{
		RequestID: "req-5",
		Transactions: []amqp.Transaction{
			{Description: "", Amount: "2500"},
			{Description: "UBER RIDE", Amount: "24.50"},
			{Description: "   ", Amount: "12"},
			{Description: "LYFT", Amount: "twelve"},
			{Description: "NETFLIX", Amount: ""},
		},
	}
	if err := w.HandleRequest(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}
	res := pub.results[0]
	if len(res.Predictions) != 1 || res.Predictions[0].Index != 1 {
		t.Fatalf("expected only item 1 to be categorized, got %+v", res.Predictions)
	}
	wantErr := []int{0, 2, 3, 4}
	if len(res.Errors) != len(wantErr) {
		t.Fatalf("expected errors for %v, got %+v", wantErr, res.Errors)
	}
	for i, idx := range wantErr {
		if res.Errors[i].Index != idx {
			t.Fatalf("error %d: expected index %d, got %+v", i, idx, res.Errors[i])
		}
	}
	if res.Insights.TotalTransactions != 1 || res.Insights.TotalSpent != 24.5 {
		t.Fatalf("rejected items must not reach insights: %+v", res.Insights)
	}
	if _, ok := res.Insights.CategorySummary[core.Income]; ok {
		t.Fatalf("empty description must not be categorized as income: %+v", res.Insights.CategorySummary)
	}
}

func TestHandleRequestKeepsExactAmounts(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewCategorizeWorker(fallbackPredictor(t), pub, 3)

	req := &amqp.CategorizeRequest{
		RequestID: "req-6",
		Transactions: []amqp.Transaction{
			{Description: "STARBUCKS COFFEE", Amount: "1.005"},
			{Description: "STARBUCKS COFFEE", Amount: "1.005"},
			{Description: "UNKNOWN MERCHANT XYZ", Amount: "0.004"},
		},
	}
	if err := w.HandleRequest(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}
	res := pub.results[0]
	if len(res.Errors) != 0 || len(res.Predictions) != 3 {
		t.Fatalf("sub-cent amounts must be accepted: predictions %d, errors %+v", len(res.Predictions), res.Errors)
	}
	if res.Predictions[0].Amount != "1.005" {
		t.Fatalf("amount must be echoed as sent, got %q", res.Predictions[0].Amount)
	}
	if res.Insights.TotalSpent != 2.01 {
		t.Fatalf("expected total 2.01, got %v", res.Insights.TotalSpent)
	}
	if got := res.Insights.CategorySummary[core.Food]; got != 2.01 {
		t.Fatalf("expected Food total 2.01, got %v", got)
	}
}

func TestHandleRequestPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection closed")}
	w := NewCategorizeWorker(fallbackPredictor(t), pub, 3)

	req := &amqp.CategorizeRequest{RequestID: "req-2", Transactions: []amqp.Transaction{{Description: "LYFT", Amount: "12"}}}
	if err := w.HandleRequest(context.Background(), req); err == nil {
		t.Fatalf("expected publish failure to be returned for requeue")
	}
}

func TestHandleRequestNotReady(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewCategorizeWorker(predictor.New(predictor.Config{}), pub, 3)

	err := w.HandleRequest(context.Background(), &amqp.CategorizeRequest{RequestID: "req-3"})
	if !errors.Is(err, predictor.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if len(pub.results) != 0 {
		t.Fatalf("nothing must be published before the predictor is ready")
	}
}

func TestHandleRequestEmptyBatch(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewCategorizeWorker(fallbackPredictor(t), pub, 3)

	if err := w.HandleRequest(context.Background(), &amqp.CategorizeRequest{RequestID: "req-4"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	res := pub.results[0]
	if len(res.Predictions) != 0 || res.Insights.TotalTransactions != 0 || res.Insights.TotalSpent != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}
