package model

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(&Forest{})
}

// Forest is a random forest of Gini trees grown on bootstrap samples with
// sqrt(d) candidate features per split. Probabilities are the mean leaf
// class distribution across trees.
type Forest struct {
	NumTrees int
	MaxDepth int
	MinLeaf  int
	Seed     int64

	Classes int
	Width   int
	Trees   []*Tree
}

func NewForest(opts Options) *Forest {
	f := &Forest{NumTrees: 100, MaxDepth: 16, MinLeaf: 1, Seed: opts.Seed}
	if opts.Trees > 0 {
		f.NumTrees = opts.Trees
	}
	if opts.MaxDepth > 0 {
		f.MaxDepth = opts.MaxDepth
	}
	if opts.MinLeaf > 0 {
		f.MinLeaf = opts.MinLeaf
	}
	return f
}

func (f *Forest) Kind() string { return KindForest }

func (f *Forest) Fit(samples []Sample, labels []int, classes int) error {
	if err := checkFitInput(samples, labels, classes); err != nil {
		return fmt.Errorf("forest: %w", err)
	}
	x := featureMatrix(samples)
	width := len(x[0])
	maxFeatures := int(math.Sqrt(float64(width)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	trees := make([]*Tree, f.NumTrees)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range trees {
		g.Go(func() error {
			// Per-tree seeds keep the result independent of scheduling.
			rng := rand.New(rand.NewSource(f.Seed + int64(t)*7919))
			rows := make([]int, len(x))
			for i := range rows {
				rows[i] = rng.Intn(len(x))
			}
			grower := &treeGrower{
				x:           x,
				crit:        newGini(labels, classes),
				maxDepth:    f.MaxDepth,
				minLeaf:     f.MinLeaf,
				maxFeatures: maxFeatures,
				rng:         rng,
			}
			trees[t] = grower.grow(rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Classes, f.Width, f.Trees = classes, width, trees
	return nil
}

func (f *Forest) PredictProba(s Sample) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	if len(s.Features) != f.Width {
		return nil, fmt.Errorf("forest: expected %d features, got %d", f.Width, len(s.Features))
	}
	out := make([]float64, f.Classes)
	for _, t := range f.Trees {
		for k, p := range t.Leaf(s.Features) {
			out[k] += p
		}
	}
	for k := range out {
		out[k] /= float64(len(f.Trees))
	}
	return out, nil
}

func featureMatrix(samples []Sample) [][]float64 {
	x := make([][]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Features
	}
	return x
}
