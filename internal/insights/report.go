package insights

import (
	"github.com/shopspring/decimal"

	"txcat/internal/core"
)

// TopCategory is one ranked entry of a Report.
type TopCategory struct {
	Category core.Category `json:"category"`
	Total    float64       `json:"total"`
	Count    int           `json:"count"`
}

// Report is the JSON form of an InsightSummary. Amounts are rounded to
// cents only here, after exact aggregation.
type Report struct {
	TotalTransactions  int                       `json:"total_transactions"`
	TotalSpent         float64                   `json:"total_spent"`
	CategorySummary    map[core.Category]float64 `json:"category_summary"`
	CategoryCounts     map[core.Category]int     `json:"category_counts"`
	TopCategories      []TopCategory             `json:"top_categories"`
	AverageTransaction float64                   `json:"average_transaction"`
	MinTransaction     float64                   `json:"min_transaction"`
	MaxTransaction     float64                   `json:"max_transaction"`
	MeanConfidence     float64                   `json:"mean_confidence"`
	BySource           map[string]int            `json:"by_source"`
}

func NewReport(s core.InsightSummary) Report {
	r := Report{
		TotalTransactions:  s.Count,
		TotalSpent:         cents(s.TotalAmount),
		CategorySummary:    make(map[core.Category]float64, len(s.ByCategory)),
		CategoryCounts:     make(map[core.Category]int, len(s.ByCategory)),
		TopCategories:      make([]TopCategory, 0, len(s.TopCategories)),
		AverageTransaction: cents(s.MeanAmount),
		MinTransaction:     cents(s.MinAmount),
		MaxTransaction:     cents(s.MaxAmount),
		MeanConfidence:     s.MeanConfidence,
		BySource:           s.BySource,
	}
	if r.BySource == nil {
		r.BySource = map[string]int{}
	}
	for _, ct := range s.ByCategory {
		r.CategorySummary[ct.Category] = cents(ct.Total)
		r.CategoryCounts[ct.Category] = ct.Count
	}
	for _, ct := range s.TopCategories {
		r.TopCategories = append(r.TopCategories, TopCategory{Category: ct.Category, Total: cents(ct.Total), Count: ct.Count})
	}
	return r
}

func cents(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
