// Package insights reduces a batch of categorized transactions to summary
// statistics.
package insights

import (
	"sort"

	"github.com/shopspring/decimal"

	"txcat/internal/core"
	"txcat/internal/predictor"
)

// DefaultTopN is the number of top categories reported by default.
const DefaultTopN = 3

// Entry pairs a prediction with the amount it was made for.
type Entry struct {
	Result predictor.Result
	Amount decimal.Decimal
}

// Summarize aggregates entries. Amounts are summed exactly, so rankings are
// not affected by rounding. An empty input yields a zero summary.
func Summarize(entries []Entry, topN int) core.InsightSummary {
	if topN <= 0 {
		topN = DefaultTopN
	}
	s := core.InsightSummary{
		TotalAmount:   decimal.Zero,
		MeanAmount:    decimal.Zero,
		MinAmount:     decimal.Zero,
		MaxAmount:     decimal.Zero,
		ByCategory:    []core.CategoryTotal{},
		TopCategories: []core.CategoryTotal{},
		BySource:      map[string]int{},
	}
	if len(entries) == 0 {
		return s
	}

	index := make(map[core.Category]int)
	var confidence float64
	for i, e := range entries {
		s.TotalAmount = s.TotalAmount.Add(e.Amount)
		if i == 0 || e.Amount.LessThan(s.MinAmount) {
			s.MinAmount = e.Amount
		}
		if i == 0 || e.Amount.GreaterThan(s.MaxAmount) {
			s.MaxAmount = e.Amount
		}
		confidence += e.Result.Confidence
		s.BySource[string(e.Result.Source)]++

		j, ok := index[e.Result.Category]
		if !ok {
			j = len(s.ByCategory)
			index[e.Result.Category] = j
			s.ByCategory = append(s.ByCategory, core.CategoryTotal{Category: e.Result.Category, Total: decimal.Zero})
		}
		s.ByCategory[j].Total = s.ByCategory[j].Total.Add(e.Amount)
		s.ByCategory[j].Count++
	}

	n := len(entries)
	s.Count = n
	s.MeanAmount = s.TotalAmount.Div(decimal.NewFromInt(int64(n)))
	s.MeanConfidence = confidence / float64(n)

	top := append([]core.CategoryTotal(nil), s.ByCategory...)
	// Stable sort keeps first-seen order among equal totals.
	sort.SliceStable(top, func(i, j int) bool { return top[i].Total.GreaterThan(top[j].Total) })
	if len(top) > topN {
		top = top[:topN]
	}
	s.TopCategories = top
	return s
}

// FromBatch pairs batch outcomes with their transactions, skipping items
// that failed.
func FromBatch(txs []core.Transaction, items []predictor.BatchItem) []Entry {
	out := make([]Entry, 0, len(items))
	for i, it := range items {
		if it.Err != nil || i >= len(txs) {
			continue
		}
		out = append(out, Entry{Result: it.Result, Amount: txs[i].Amount})
	}
	return out
}
