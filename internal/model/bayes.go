package model

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/jbrukh/bayesian"
)

func init() {
	gob.Register(&Bayes{})
}

// ErrNoTerms is returned when the training samples carry no description
// terms, which leaves every class prior at zero.
var ErrNoTerms = errors.New("no description terms to learn from")

// Bayes is a multinomial naive Bayes over the description n-grams. It
// ignores the numeric columns.
type Bayes struct {
	nb *bayesian.Classifier
}

func NewBayes() *Bayes { return &Bayes{} }

func (b *Bayes) Kind() string { return KindBayes }

func (b *Bayes) Fit(samples []Sample, labels []int, classes int) error {
	if err := checkFitInput(samples, labels, classes); err != nil {
		return fmt.Errorf("bayes: %w", err)
	}
	names := make([]bayesian.Class, classes)
	for k := range names {
		names[k] = classOf(k)
	}
	nb := bayesian.NewClassifier(names...)
	learned := 0
	for i, s := range samples {
		if len(s.Terms) == 0 {
			continue
		}
		nb.Learn(s.Terms, classOf(labels[i]))
		learned++
	}
	if learned == 0 {
		return fmt.Errorf("bayes: %w", ErrNoTerms)
	}
	b.nb = nb
	return nil
}

func (b *Bayes) PredictProba(s Sample) ([]float64, error) {
	if b.nb == nil {
		return nil, ErrNotFitted
	}
	scores, _, _ := b.nb.LogScores(s.Terms)
	finite := false
	for _, v := range scores {
		if math.IsNaN(v) {
			return nil, errors.New("bayes: NaN class score")
		}
		if !math.IsInf(v, -1) {
			finite = true
		}
	}
	if !finite {
		return nil, fmt.Errorf("bayes: every class score is -Inf: %w", ErrNoTerms)
	}
	return softmax(scores), nil
}

// GobEncode stores the classifier in the library's own gob format.
func (b *Bayes) GobEncode() ([]byte, error) {
	if b.nb == nil {
		return nil, ErrNotFitted
	}
	var buf bytes.Buffer
	if err := b.nb.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("bayes: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Bayes) GobDecode(data []byte) error {
	nb, err := bayesian.NewClassifierFromReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("bayes: decode: %w", err)
	}
	b.nb = nb
	return nil
}

func classOf(k int) bayesian.Class {
	return bayesian.Class(strconv.Itoa(k))
}
