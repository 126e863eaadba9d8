package model

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/jbrukh/bayesian"

	"txcat/internal/core"
	"txcat/internal/features"
)

var testLabels = []core.Category{core.Food, core.Transport, core.Entertainment}

// toyData builds a small separable dataset: each label has its own merchant
// words and amount range.
func toyData(t *testing.T) ([]features.Record, []int) {
	t.Helper()
	merchants := [][]string{
		{"starbucks coffee", "mcdonalds order", "pizza restaurant", "burger diner"},
		{"uber ride", "lyft trip", "metro card", "taxi fare"},
		{"netflix subscription", "spotify premium", "cinema tickets", "steam games"},
	}
	amounts := []float64{8, 25, 14}
	date := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	var recs []features.Record
	var ys []int
	for y, list := range merchants {
		for i := 0; i < 12; i++ {
			desc := fmt.Sprintf("%s %d", list[i%len(list)], 100+i)
			r, err := features.Extract(desc, amounts[y]+float64(i%3), date.AddDate(0, 0, i))
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			recs = append(recs, r)
			ys = append(ys, y)
		}
	}
	return recs, ys
}

func toySamples(t *testing.T) (*Preprocessor, []Sample, []int) {
	t.Helper()
	recs, ys := toyData(t)
	pre := FitPreprocessor(recs, DefaultMaxFeatures)
	samples, err := pre.TransformAll(recs)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	return pre, samples, ys
}

func TestAnalyze(t *testing.T) {
	got := Analyze("UBER Ride #1234 a", 2)
	want := []string{"uber", "ride", "1234", "uber ride", "ride 1234"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestVectorizer(t *testing.T) {
	docs := [][]string{
		Analyze("coffee shop", 1),
		Analyze("coffee beans", 1),
		Analyze("tea shop", 1),
	}
	v := FitVectorizer(docs, 1, 3)
	// coffee and shop appear twice, beans and tea once; the tie keeps beans.
	want := []string{"beans", "coffee", "shop"}
	if fmt.Sprint(v.Vocabulary) != fmt.Sprint(want) {
		t.Fatalf("expected vocabulary %v, got %v", want, v.Vocabulary)
	}
	row := make([]float64, v.Width())
	v.Transform(Analyze("coffee coffee shop", 1), row)
	var norm float64
	for _, x := range row {
		norm += x * x
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Fatalf("row not L2-normalized: %v", row)
	}
	if row[0] != 0 || row[1] <= row[2] {
		t.Fatalf("unexpected weights %v", row)
	}

	empty := make([]float64, v.Width())
	v.Transform(Analyze("unseen words", 1), empty)
	for _, x := range empty {
		if x != 0 {
			t.Fatalf("unseen terms must produce a zero row, got %v", empty)
		}
	}
}

func TestScaler(t *testing.T) {
	s := FitScaler([][]float64{{1, 5}, {3, 5}})
	dst := make([]float64, 2)
	s.Transform([]float64{3, 5}, dst)
	if dst[0] != 1 || dst[1] != 0 {
		t.Fatalf("unexpected scaled row %v", dst)
	}
}

func TestClassifiersLearnSeparableData(t *testing.T) {
	_, samples, ys := toySamples(t)
	opts := Options{Seed: 42, Trees: 15, Rounds: 15, Epochs: 150}
	for _, kind := range Kinds() {
		t.Run(kind, func(t *testing.T) {
			c, err := New(kind, opts)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if err := c.Fit(samples, ys, len(testLabels)); err != nil {
				t.Fatalf("fit: %v", err)
			}
			acc, err := Accuracy(c, samples, ys)
			if err != nil {
				t.Fatalf("accuracy: %v", err)
			}
			if acc < 0.9 {
				t.Fatalf("training accuracy too low: %.2f", acc)
			}
			p, _ := c.PredictProba(samples[0])
			var sum float64
			for _, v := range p {
				if v < 0 || v > 1 {
					t.Fatalf("probability out of range: %v", p)
				}
				sum += v
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Fatalf("probabilities sum to %v", sum)
			}
		})
	}
}

func TestForestDeterministic(t *testing.T) {
	_, samples, ys := toySamples(t)
	a, b := NewForest(Options{Seed: 7, Trees: 8}), NewForest(Options{Seed: 7, Trees: 8})
	if err := a.Fit(samples, ys, 3); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(samples, ys, 3); err != nil {
		t.Fatal(err)
	}
	for _, s := range samples {
		pa, _ := a.PredictProba(s)
		pb, _ := b.PredictProba(s)
		if fmt.Sprint(pa) != fmt.Sprint(pb) {
			t.Fatalf("same seed produced different forests")
		}
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	_, samples, ys := toySamples(t)
	if err := NewLogistic(Options{}).Fit(samples, ys[:3], 3); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	if err := NewBayes().Fit(samples, ys, 1); err == nil {
		t.Fatalf("expected error for a single class")
	}
	if _, err := NewLogistic(Options{}).PredictProba(samples[0]); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
	if _, err := New("svm", Options{}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestBayesWithoutTerms(t *testing.T) {
	samples := []Sample{
		{Features: []float64{1, 0}},
		{Features: []float64{0, 1}},
		{Features: []float64{1, 1}, Terms: []string{}},
	}
	if err := NewBayes().Fit(samples, []int{0, 1, 0}, 2); !errors.Is(err, ErrNoTerms) {
		t.Fatalf("expected ErrNoTerms from Fit, got %v", err)
	}

	empty := &Bayes{nb: bayesian.NewClassifier(classOf(0), classOf(1))}
	p, err := empty.PredictProba(Sample{Terms: []string{"uber"}})
	if !errors.Is(err, ErrNoTerms) {
		t.Fatalf("expected ErrNoTerms from PredictProba, got %v (p=%v)", err, p)
	}
}

type constClassifier struct{ p []float64 }

func (c constClassifier) Kind() string                           { return "const" }
func (c constClassifier) Fit([]Sample, []int, int) error         { return nil }
func (c constClassifier) PredictProba(Sample) ([]float64, error) { return c.p, nil }

func TestVotingAverages(t *testing.T) {
	v := NewVoting(constClassifier{[]float64{1, 0}}, constClassifier{[]float64{0.5, 0.5}})
	p, err := v.PredictProba(Sample{})
	if err != nil {
		t.Fatal(err)
	}
	if p[0] != 0.75 || p[1] != 0.25 {
		t.Fatalf("unexpected average %v", p)
	}
}

func fittedArtifact(t *testing.T, kind string) (*Artifact, []features.Record) {
	t.Helper()
	recs, ys := toyData(t)
	pre := FitPreprocessor(recs, DefaultMaxFeatures)
	samples, err := pre.TransformAll(recs)
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(kind, Options{Seed: 1, Trees: 5, Rounds: 5, Epochs: 50})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Fit(samples, ys, len(testLabels)); err != nil {
		t.Fatal(err)
	}
	p := &Pipeline{Preprocessor: pre, Classifier: c, Labels: testLabels}
	return NewArtifact(p, Evaluation{Classifier: kind, SelectionPolicy: "heldout"}), recs
}

func TestArtifactRoundTrip(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind, func(t *testing.T) {
			a, recs := fittedArtifact(t, kind)
			data, err := Marshal(a)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			b, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if b.Version != a.Version || b.Evaluation.Classifier != kind {
				t.Fatalf("metadata lost: %+v", b)
			}
			for _, r := range recs[:6] {
				ca, pa, err := a.Pipeline.Predict(r)
				if err != nil {
					t.Fatal(err)
				}
				cb, pb, err := b.Pipeline.Predict(r)
				if err != nil {
					t.Fatal(err)
				}
				if ca != cb || math.Abs(pa[ca]-pb[cb]) > 1e-12 {
					t.Fatalf("decoded pipeline disagrees: %s/%v vs %s/%v", ca, pa[ca], cb, pb[cb])
				}
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	a, _ := fittedArtifact(t, KindLogistic)
	good, err := Marshal(a)
	if err != nil {
		t.Fatal(err)
	}

	foreign := append([]byte("PK\x03\x04"), good...)
	if _, err := Unmarshal(foreign); !errors.Is(err, ErrCorruptArtifact) {
		t.Fatalf("foreign header: expected ErrCorruptArtifact, got %v", err)
	}

	future := bytes.Clone(good)
	future[len(artifactMagic)] = FormatVersion + 1
	if _, err := Unmarshal(future); !errors.Is(err, ErrIncompatibleArtifact) {
		t.Fatalf("future version: expected ErrIncompatibleArtifact, got %v", err)
	}

	if _, err := Unmarshal(good[:len(good)/2]); !errors.Is(err, ErrCorruptArtifact) {
		t.Fatalf("truncated: expected ErrCorruptArtifact, got %v", err)
	}

	a.Keywords = append(a.Keywords, "paypal")
	drift, err := Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(drift); !errors.Is(err, ErrIncompatibleArtifact) {
		t.Fatalf("keyword drift: expected ErrIncompatibleArtifact, got %v", err)
	}
}
