package model

import (
	"encoding/gob"
	"fmt"
)

func init() {
	gob.Register(&Logistic{})
}

// Logistic is a multinomial logistic regression trained with full-batch
// gradient descent and an L2 penalty.
type Logistic struct {
	Epochs       int
	LearningRate float64
	L2           float64

	Weights [][]float64 // classes x features
	Bias    []float64
}

func NewLogistic(opts Options) *Logistic {
	l := &Logistic{Epochs: 300, LearningRate: 0.5, L2: 1e-3}
	if opts.Epochs > 0 {
		l.Epochs = opts.Epochs
	}
	if opts.LearningRate > 0 {
		l.LearningRate = opts.LearningRate
	}
	if opts.L2 > 0 {
		l.L2 = opts.L2
	}
	return l
}

func (l *Logistic) Kind() string { return KindLogistic }

func (l *Logistic) Fit(samples []Sample, labels []int, classes int) error {
	if err := checkFitInput(samples, labels, classes); err != nil {
		return fmt.Errorf("logistic: %w", err)
	}
	width := len(samples[0].Features)
	w := make([][]float64, classes)
	grad := make([][]float64, classes)
	for k := range w {
		w[k] = make([]float64, width)
		grad[k] = make([]float64, width)
	}
	b := make([]float64, classes)
	gb := make([]float64, classes)
	nz := nonZero(samples)
	n := float64(len(samples))
	z := make([]float64, classes)

	for epoch := 0; epoch < l.Epochs; epoch++ {
		for k := range grad {
			clear(grad[k])
		}
		clear(gb)
		for i, s := range samples {
			for k := 0; k < classes; k++ {
				z[k] = b[k]
				for _, j := range nz[i] {
					z[k] += w[k][j] * s.Features[j]
				}
			}
			p := softmax(z)
			for k := 0; k < classes; k++ {
				d := p[k]
				if labels[i] == k {
					d -= 1
				}
				gb[k] += d
				for _, j := range nz[i] {
					grad[k][j] += d * s.Features[j]
				}
			}
		}
		for k := 0; k < classes; k++ {
			for j := range w[k] {
				w[k][j] -= l.LearningRate * (grad[k][j]/n + l.L2*w[k][j])
			}
			b[k] -= l.LearningRate * gb[k] / n
		}
	}
	l.Weights, l.Bias = w, b
	return nil
}

func (l *Logistic) PredictProba(s Sample) ([]float64, error) {
	if len(l.Weights) == 0 {
		return nil, ErrNotFitted
	}
	if len(s.Features) != len(l.Weights[0]) {
		return nil, fmt.Errorf("logistic: expected %d features, got %d", len(l.Weights[0]), len(s.Features))
	}
	z := make([]float64, len(l.Weights))
	for k, wk := range l.Weights {
		z[k] = l.Bias[k]
		for j, x := range s.Features {
			if x != 0 {
				z[k] += wk[j] * x
			}
		}
	}
	return softmax(z), nil
}
