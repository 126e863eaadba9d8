package core

import "github.com/shopspring/decimal"

// CategoryTotal represents an amount aggregated by category.
type CategoryTotal struct {
	Category Category        `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// InsightSummary is the aggregate over a batch of categorized transactions.
// ByCategory holds only the categories that appear, in first-seen order.
type InsightSummary struct {
	Count          int             `json:"total_transactions"`
	TotalAmount    decimal.Decimal `json:"total_spent"`
	ByCategory     []CategoryTotal `json:"category_summary"`
	TopCategories  []CategoryTotal `json:"top_categories"`
	MeanAmount     decimal.Decimal `json:"average_transaction"`
	MinAmount      decimal.Decimal `json:"min_amount"`
	MaxAmount      decimal.Decimal `json:"max_amount"`
	MeanConfidence float64         `json:"mean_confidence"`
	BySource       map[string]int  `json:"by_source"`
}

// CategoryTotal looks up the aggregate for c.
func (s InsightSummary) CategoryTotal(c Category) (CategoryTotal, bool) {
	for _, ct := range s.ByCategory {
		if ct.Category == c {
			return ct, true
		}
	}
	return CategoryTotal{}, false
}
