// Package model holds the preprocessing stages, the classifier variants and
// the versioned artifact that packages them for the Predictor.
package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Classifier kinds selectable by configuration.
const (
	KindLogistic = "logistic"
	KindForest   = "forest"
	KindBoosting = "boosting"
	KindBayes    = "bayes"
	KindVoting   = "voting"
	KindONNX     = "onnx"
)

var (
	ErrUnknownKind = errors.New("unknown classifier kind")
	ErrNotFitted   = errors.New("classifier not fitted")
)

// Sample is one preprocessed transaction.
type Sample struct {
	// Features holds the TF-IDF columns followed by the scaled numeric columns.
	Features []float64
	// Terms holds the analyzed description n-grams.
	Terms []string
}

// Classifier is the capability every variant provides. PredictProba returns
// one probability per class index, summing to 1.
type Classifier interface {
	Kind() string
	Fit(samples []Sample, labels []int, classes int) error
	PredictProba(s Sample) ([]float64, error)
}

// Binder is implemented by classifiers that hold runtime resources which
// cannot be serialized and must be attached after decoding.
type Binder interface {
	Bind() error
}

// Closer releases runtime resources acquired by Bind.
type Closer interface {
	Close() error
}

// Options tunes classifier construction. Zero values select defaults.
type Options struct {
	Seed int64

	Epochs       int
	LearningRate float64
	L2           float64

	Trees    int
	MaxDepth int
	MinLeaf  int

	Rounds int
}

// New constructs an unfitted classifier of the given kind. Composite and
// externally trained kinds have their own constructors.
func New(kind string, opts Options) (Classifier, error) {
	switch kind {
	case KindLogistic:
		return NewLogistic(opts), nil
	case KindForest:
		return NewForest(opts), nil
	case KindBoosting:
		return NewBoosting(opts), nil
	case KindBayes:
		return NewBayes(), nil
	case KindVoting, KindONNX:
		return nil, fmt.Errorf("%w: %s needs a dedicated constructor", ErrUnknownKind, kind)
	default:
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownKind, kind, sortedKinds())
	}
}

// Kinds lists the kinds New can construct.
func Kinds() []string {
	return []string{KindLogistic, KindForest, KindBoosting, KindBayes}
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		if v > maxZ {
			maxZ = v
		}
	}
	out := make([]float64, len(z))
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ArgMax returns the index of the largest value; the first wins ties.
func ArgMax(p []float64) int {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

func checkFitInput(samples []Sample, labels []int, classes int) error {
	if len(samples) == 0 {
		return errors.New("no samples")
	}
	if len(samples) != len(labels) {
		return fmt.Errorf("%d samples but %d labels", len(samples), len(labels))
	}
	if classes < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", classes)
	}
	for _, y := range labels {
		if y < 0 || y >= classes {
			return fmt.Errorf("label index %d out of range", y)
		}
	}
	return nil
}

// Accuracy scores c on samples and returns the share predicted correctly.
func Accuracy(c Classifier, samples []Sample, labels []int) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	correct := 0
	for i, s := range samples {
		p, err := c.PredictProba(s)
		if err != nil {
			return 0, err
		}
		if ArgMax(p) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(samples)), nil
}

// nonZero lists the non-zero column indices of each row, used by variants
// that iterate mostly-empty TF-IDF rows.
func nonZero(samples []Sample) [][]int {
	out := make([][]int, len(samples))
	for i, s := range samples {
		idx := make([]int, 0, 32)
		for j, x := range s.Features {
			if x != 0 {
				idx = append(idx, j)
			}
		}
		out[i] = idx
	}
	return out
}

// sortedKinds is used in error messages.
func sortedKinds() []string {
	k := Kinds()
	sort.Strings(k)
	return k
}
