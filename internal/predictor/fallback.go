package predictor

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"txcat/internal/core"
)

const (
	// DefaultFallbackConfidence is the fixed confidence of rule-based results.
	DefaultFallbackConfidence = 0.6
)

// DefaultIncomeThreshold is the amount from which an unmatched transaction
// is treated as income.
var DefaultIncomeThreshold = decimal.NewFromInt(1000)

// Rule maps merchant keyword substrings to a category.
type Rule struct {
	Category core.Category `yaml:"category"`
	Keywords []string      `yaml:"keywords"`
}

// Rules is the ordered keyword classifier used when no model is available.
// The first rule with a matching keyword wins.
type Rules struct {
	Rules           []Rule
	IncomeThreshold decimal.Decimal
	Confidence      float64
	Categories      core.CategorySet
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	return &Rules{
		Rules: []Rule{
			{core.Transport, []string{"uber", "lyft", "taxi", "cab fare", "metro", "transit", "parking", "gas station", "shell oil", "exxon", "chevron", "bus fare", "toll"}},
			{core.Food, []string{"starbucks", "mcdonalds", "restaurant", "coffee", "pizza", "groceries", "grocery", "whole foods", "chipotle", "dominos", "subway", "lunch", "dinner", "cafe", "bakery", "burger"}},
			{core.Shopping, []string{"amazon", "walmart", "target", "best buy", "apple store", "clothing", "electronics", "home depot", "ikea", "ebay"}},
			{core.Entertainment, []string{"netflix", "spotify", "cinema", "theatre", "theater", "concert", "ticketmaster", "hulu", "disney"}},
			{core.Utilities, []string{"electric", "water bill", "internet", "phone bill", "con edison", "verizon", "comcast", "at&t", "utility"}},
			{core.Healthcare, []string{"pharmacy", "cvs", "walgreens", "hospital", "medical", "doctor", "dentist", "clinic"}},
		},
		IncomeThreshold: DefaultIncomeThreshold,
		Confidence:      DefaultFallbackConfidence,
		Categories:      core.DefaultCategories,
	}
}

type rulesFile struct {
	Confidence      float64 `yaml:"confidence"`
	IncomeThreshold string  `yaml:"income_threshold"`
	Rules           []Rule  `yaml:"rules"`
}

// LoadRules reads a YAML rule file. Omitted settings keep their defaults;
// a non-empty rules list replaces the built-in one.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback rules: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fallback rules: %w", err)
	}
	r := DefaultRules()
	if f.Confidence != 0 {
		r.Confidence = f.Confidence
	}
	if f.IncomeThreshold != "" {
		th, err := core.ParseAmount(f.IncomeThreshold)
		if err != nil {
			return nil, fmt.Errorf("fallback rules: income_threshold %q: %w", f.IncomeThreshold, err)
		}
		r.IncomeThreshold = th
	}
	if len(f.Rules) > 0 {
		r.Rules = make([]Rule, 0, len(f.Rules))
		for _, rule := range f.Rules {
			cat, err := r.Categories.ParseCategory(string(rule.Category))
			if err != nil {
				return nil, fmt.Errorf("fallback rules: %w", err)
			}
			kws := make([]string, 0, len(rule.Keywords))
			for _, kw := range rule.Keywords {
				if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
					kws = append(kws, kw)
				}
			}
			r.Rules = append(r.Rules, Rule{Category: cat, Keywords: kws})
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rules) Validate() error {
	var errs []string
	if r.Confidence <= 0 || r.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("confidence %v must be in (0, 1]", r.Confidence))
	}
	if !r.IncomeThreshold.IsPositive() {
		errs = append(errs, "income_threshold must be positive")
	}
	for _, c := range []core.Category{core.Income, core.Other} {
		if !r.Categories.Contains(c) {
			errs = append(errs, fmt.Sprintf("category set lacks %s", c))
		}
	}
	for i, rule := range r.Rules {
		if !r.Categories.Contains(rule.Category) {
			errs = append(errs, fmt.Sprintf("rule %d: unknown category %q", i, rule.Category))
		}
		if len(rule.Keywords) == 0 {
			errs = append(errs, fmt.Sprintf("rule %d: no keywords", i))
		}
	}
	if len(errs) > 0 {
		return errors.New("invalid fallback rules: " + strings.Join(errs, "; "))
	}
	return nil
}

// Categorize assigns exactly one category. It is total: any description and
// any amount, including zero or negative, yield a result.
func (r *Rules) Categorize(description string, amount decimal.Decimal) Result {
	desc := strings.ToLower(description)
	category := core.Other
	matched := false
	for _, rule := range r.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(desc, kw) {
				category, matched = rule.Category, true
				break
			}
		}
		if matched {
			break
		}
	}
	if !matched && amount.GreaterThanOrEqual(r.IncomeThreshold) {
		category = core.Income
	}
	return Result{
		Category:      category,
		Confidence:    r.Confidence,
		Probabilities: r.distribution(category),
		Source:        SourceFallback,
	}
}

// distribution gives the chosen category the fixed confidence and spreads
// the remainder evenly over the other categories.
func (r *Rules) distribution(chosen core.Category) map[core.Category]float64 {
	dist := make(map[core.Category]float64, len(r.Categories))
	others := len(r.Categories) - 1
	for _, c := range r.Categories {
		if c == chosen {
			dist[c] = r.Confidence
		} else if others > 0 {
			dist[c] = (1 - r.Confidence) / float64(others)
		}
	}
	return dist
}
