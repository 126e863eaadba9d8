package insights

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"txcat/internal/core"
	"txcat/internal/predictor"
)

func entry(cat core.Category, amount string, conf float64, src predictor.Source) Entry {
	return Entry{
		Result: predictor.Result{Category: cat, Confidence: conf, Source: src},
		Amount: decimal.RequireFromString(amount),
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, 3)
	if s.Count != 0 || !s.TotalAmount.IsZero() || !s.MeanAmount.IsZero() || s.MeanConfidence != 0 {
		t.Fatalf("expected zero summary, got %+v", s)
	}
	if len(s.ByCategory) != 0 || len(s.TopCategories) != 0 || len(s.BySource) != 0 {
		t.Fatalf("expected empty collections, got %+v", s)
	}
}

func TestSummarizeFallbackBatch(t *testing.T) {
	p := predictor.New(predictor.Config{})
	p.Load(context.Background(), nil)
	txs := []core.Transaction{
		{Description: "UBER RIDE #1234", Amount: decimal.RequireFromString("24.50")},
		{Description: "STARBUCKS COFFEE", Amount: decimal.RequireFromString("5.75")},
		{Description: "UNKNOWN MERCHANT XYZ", Amount: decimal.RequireFromString("1500")},
	}
	items, err := p.PredictBatch(context.Background(), txs)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	s := Summarize(FromBatch(txs, items), DefaultTopN)
	if !s.TotalAmount.Equal(decimal.RequireFromString("1530.25")) {
		t.Fatalf("expected total 1530.25, got %s", s.TotalAmount)
	}
	if len(s.ByCategory) != 3 {
		t.Fatalf("expected 3 categories, got %+v", s.ByCategory)
	}
	for _, ct := range s.ByCategory {
		if ct.Count != 1 {
			t.Fatalf("expected count 1 for %s, got %d", ct.Category, ct.Count)
		}
	}
	if s.TopCategories[0].Category != core.Income {
		t.Fatalf("expected Income on top, got %s", s.TopCategories[0].Category)
	}
	if s.BySource[string(predictor.SourceFallback)] != 3 {
		t.Fatalf("expected 3 fallback results, got %v", s.BySource)
	}
}

func TestSummarizeAggregates(t *testing.T) {
	entries := []Entry{
		entry(core.Food, "10.10", 0.9, predictor.SourceModel),
		entry(core.Transport, "30.00", 0.8, predictor.SourceModel),
		entry(core.Food, "19.90", 0.7, predictor.SourceModel),
		entry(core.Shopping, "30.00", 0.6, predictor.SourceFallback),
		entry(core.Other, "2.00", 0.5, predictor.SourceFallback),
	}
	s := Summarize(entries, 3)

	if s.Count != 5 || !s.TotalAmount.Equal(decimal.RequireFromString("92")) {
		t.Fatalf("unexpected totals: %+v", s)
	}
	sum := decimal.Zero
	for _, ct := range s.ByCategory {
		sum = sum.Add(ct.Total)
	}
	if !sum.Equal(s.TotalAmount) {
		t.Fatalf("category totals %s do not add up to %s", sum, s.TotalAmount)
	}
	food, ok := s.CategoryTotal(core.Food)
	if !ok || !food.Total.Equal(decimal.NewFromInt(30)) || food.Count != 2 {
		t.Fatalf("unexpected food total %+v", food)
	}
	if _, ok := s.CategoryTotal(core.Healthcare); ok {
		t.Fatalf("absent categories must be omitted")
	}

	// Food, Transport and Shopping tie at 30; first-seen order breaks it.
	want := []core.Category{core.Food, core.Transport, core.Shopping}
	if len(s.TopCategories) != 3 {
		t.Fatalf("expected 3 top categories, got %d", len(s.TopCategories))
	}
	for i, c := range want {
		if s.TopCategories[i].Category != c {
			t.Fatalf("top[%d]: expected %s, got %s", i, c, s.TopCategories[i].Category)
		}
	}

	if !s.MinAmount.Equal(decimal.NewFromInt(2)) || !s.MaxAmount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected min/max %s/%s", s.MinAmount, s.MaxAmount)
	}
	if !s.MeanAmount.Equal(decimal.RequireFromString("18.4")) {
		t.Fatalf("unexpected mean %s", s.MeanAmount)
	}
	if s.MeanConfidence < 0.6999 || s.MeanConfidence > 0.7001 {
		t.Fatalf("unexpected mean confidence %v", s.MeanConfidence)
	}
	if s.BySource["model"] != 3 || s.BySource["fallback"] != 2 {
		t.Fatalf("unexpected source counts %v", s.BySource)
	}
}

func TestSummarizeTopNBound(t *testing.T) {
	var entries []Entry
	for i, c := range core.DefaultCategories {
		entries = append(entries, entry(c, decimal.NewFromInt(int64(i+1)).String(), 0.5, predictor.SourceModel))
	}
	s := Summarize(entries, 2)
	if len(s.TopCategories) != 2 || s.TopCategories[0].Category != core.Other {
		t.Fatalf("unexpected top categories %+v", s.TopCategories)
	}
	for i := 1; i < len(s.TopCategories); i++ {
		if s.TopCategories[i].Total.GreaterThan(s.TopCategories[i-1].Total) {
			t.Fatalf("top categories not descending")
		}
	}
	if d := Summarize(entries, 0); len(d.TopCategories) != DefaultTopN {
		t.Fatalf("expected default top-N of %d, got %d", DefaultTopN, len(d.TopCategories))
	}
}
