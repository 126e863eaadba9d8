package model

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
)

func init() {
	gob.Register(&Boosting{})
}

// Boosting is a gradient-boosted ensemble of shallow regression trees
// fitted to the multinomial deviance, one tree per class per round.
type Boosting struct {
	NumRounds    int
	LearningRate float64
	MaxDepth     int
	MinLeaf      int
	Seed         int64

	Classes int
	Width   int
	Init    []float64
	Rounds  [][]*Tree // round x class
}

func NewBoosting(opts Options) *Boosting {
	b := &Boosting{NumRounds: 60, LearningRate: 0.1, MaxDepth: 3, MinLeaf: 2, Seed: opts.Seed}
	if opts.Rounds > 0 {
		b.NumRounds = opts.Rounds
	}
	if opts.LearningRate > 0 {
		b.LearningRate = opts.LearningRate
	}
	if opts.MaxDepth > 0 {
		b.MaxDepth = opts.MaxDepth
	}
	if opts.MinLeaf > 0 {
		b.MinLeaf = opts.MinLeaf
	}
	return b
}

func (b *Boosting) Kind() string { return KindBoosting }

func (b *Boosting) Fit(samples []Sample, labels []int, classes int) error {
	if err := checkFitInput(samples, labels, classes); err != nil {
		return fmt.Errorf("boosting: %w", err)
	}
	x := featureMatrix(samples)
	n, width := len(x), len(x[0])

	prior := make([]float64, classes)
	for _, y := range labels {
		prior[y]++
	}
	base := make([]float64, classes)
	for k := range base {
		base[k] = math.Log(math.Max(prior[k], 1) / float64(n))
	}

	score := make([][]float64, n)
	for i := range score {
		score[i] = append([]float64(nil), base...)
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	// Twice sqrt(d) candidate features keeps wide TF-IDF inputs tractable.
	maxFeatures := 2 * int(math.Sqrt(float64(width)))
	rng := rand.New(rand.NewSource(b.Seed))
	scale := float64(classes-1) / float64(classes)

	rounds := make([][]*Tree, 0, b.NumRounds)
	residual := make([]float64, n)
	for m := 0; m < b.NumRounds; m++ {
		prob := make([][]float64, n)
		for i := range prob {
			prob[i] = softmax(score[i])
		}
		trees := make([]*Tree, classes)
		for k := 0; k < classes; k++ {
			for i := range residual {
				y := 0.0
				if labels[i] == k {
					y = 1
				}
				residual[i] = y - prob[i][k]
			}
			crit := &mseCriterion{
				target: residual,
				leafFn: func(leaf []int) float64 {
					var num, den float64
					for _, r := range leaf {
						v := residual[r]
						num += v
						den += math.Abs(v) * (1 - math.Abs(v))
					}
					if den < 1e-12 {
						return 0
					}
					return scale * num / den
				},
			}
			grower := &treeGrower{
				x:           x,
				crit:        crit,
				maxDepth:    b.MaxDepth,
				minLeaf:     b.MinLeaf,
				maxFeatures: maxFeatures,
				rng:         rng,
			}
			trees[k] = grower.grow(rows)
			for i := range score {
				score[i][k] += b.LearningRate * trees[k].Leaf(x[i])[0]
			}
		}
		rounds = append(rounds, trees)
	}

	b.Classes, b.Width, b.Init, b.Rounds = classes, width, base, rounds
	return nil
}

func (b *Boosting) PredictProba(s Sample) ([]float64, error) {
	if len(b.Init) == 0 {
		return nil, ErrNotFitted
	}
	if len(s.Features) != b.Width {
		return nil, fmt.Errorf("boosting: expected %d features, got %d", b.Width, len(s.Features))
	}
	score := append([]float64(nil), b.Init...)
	for _, trees := range b.Rounds {
		for k, t := range trees {
			score[k] += b.LearningRate * t.Leaf(s.Features)[0]
		}
	}
	return softmax(score), nil
}
