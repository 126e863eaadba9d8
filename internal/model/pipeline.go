package model

import (
	"errors"
	"fmt"

	"txcat/internal/core"
	"txcat/internal/features"
)

// Preprocessor is the two-branch feature stage: TF-IDF over the description
// and standard scaling over the numeric columns.
type Preprocessor struct {
	Text    *Vectorizer
	Numeric *Scaler
}

// FitPreprocessor fits both branches on the training records.
func FitPreprocessor(records []features.Record, maxFeatures int) *Preprocessor {
	docs := make([][]string, len(records))
	rows := make([][]float64, len(records))
	for i, r := range records {
		docs[i] = Analyze(r.Description, DefaultNgramMax)
		rows[i] = r.Numeric()
	}
	return &Preprocessor{
		Text:    FitVectorizer(docs, DefaultNgramMax, maxFeatures),
		Numeric: FitScaler(rows),
	}
}

// Width is the length of every Sample.Features vector.
func (p *Preprocessor) Width() int {
	return p.Text.Width() + p.Numeric.Width()
}

// Transform turns a record into a classifier sample.
func (p *Preprocessor) Transform(r features.Record) (Sample, error) {
	numeric := r.Numeric()
	if len(numeric) != p.Numeric.Width() {
		return Sample{}, fmt.Errorf("preprocess: expected %d numeric columns, got %d", p.Numeric.Width(), len(numeric))
	}
	terms := Analyze(r.Description, p.Text.NgramMax)
	out := make([]float64, p.Width())
	p.Text.Transform(terms, out[:p.Text.Width()])
	p.Numeric.Transform(numeric, out[p.Text.Width():])
	return Sample{Features: out, Terms: terms}, nil
}

// TransformAll transforms records in order.
func (p *Preprocessor) TransformAll(records []features.Record) ([]Sample, error) {
	out := make([]Sample, len(records))
	for i, r := range records {
		s, err := p.Transform(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// Pipeline couples preprocessing with a fitted classifier and the ordered
// label set its class indices refer to.
type Pipeline struct {
	Preprocessor *Preprocessor
	Classifier   Classifier
	Labels       []core.Category
}

// Predict scores one feature record and returns the arg-max label and the
// full distribution keyed by label.
func (p *Pipeline) Predict(r features.Record) (core.Category, map[core.Category]float64, error) {
	s, err := p.Preprocessor.Transform(r)
	if err != nil {
		return "", nil, err
	}
	proba, err := p.Classifier.PredictProba(s)
	if err != nil {
		return "", nil, err
	}
	if len(proba) != len(p.Labels) {
		return "", nil, fmt.Errorf("classifier returned %d probabilities for %d labels", len(proba), len(p.Labels))
	}
	dist := make(map[core.Category]float64, len(proba))
	for k, v := range proba {
		dist[p.Labels[k]] = v
	}
	return p.Labels[ArgMax(proba)], dist, nil
}

// Bind attaches runtime resources the classifier needs after decoding.
func (p *Pipeline) Bind() error {
	if b, ok := p.Classifier.(Binder); ok {
		return b.Bind()
	}
	return nil
}

// Close releases resources acquired by Bind.
func (p *Pipeline) Close() error {
	if c, ok := p.Classifier.(Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Pipeline) validate() error {
	switch {
	case p.Preprocessor == nil || p.Preprocessor.Text == nil || p.Preprocessor.Numeric == nil:
		return errors.New("pipeline has no preprocessor")
	case p.Classifier == nil:
		return errors.New("pipeline has no classifier")
	case len(p.Labels) < 2:
		return fmt.Errorf("pipeline has %d labels", len(p.Labels))
	case p.Preprocessor.Numeric.Width() != len(features.NumericNames()):
		return fmt.Errorf("pipeline scales %d numeric columns, extractor produces %d",
			p.Preprocessor.Numeric.Width(), len(features.NumericNames()))
	}
	for _, l := range p.Labels {
		if !l.IsKnown() {
			return fmt.Errorf("pipeline label %q is not a known category", l)
		}
	}
	return nil
}
