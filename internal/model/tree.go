package model

import (
	"math"
	"math/rand"
	"sort"
)

// Tree is a binary decision tree stored as flat node arrays. Leaves have
// Feature -1 and carry Value; internal nodes route x[Feature] <= Threshold
// to Left.
type Tree struct {
	Feature   []int
	Threshold []float64
	Left      []int
	Right     []int
	Value     [][]float64
}

func (t *Tree) addNode() int {
	t.Feature = append(t.Feature, -1)
	t.Threshold = append(t.Threshold, 0)
	t.Left = append(t.Left, -1)
	t.Right = append(t.Right, -1)
	t.Value = append(t.Value, nil)
	return len(t.Feature) - 1
}

// Leaf returns the value of the leaf x falls into.
func (t *Tree) Leaf(x []float64) []float64 {
	node := 0
	for t.Feature[node] >= 0 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return t.Value[node]
}

// splitCriterion abstracts the impurity bookkeeping of a CART split so the
// same growth loop serves classification and regression trees.
type splitCriterion interface {
	// reset prepares the criterion for a scan over rows, all on the right.
	reset(rows []int)
	// move shifts row from the right side to the left side.
	move(row int)
	// cost is the weighted impurity of the current partition.
	cost() float64
	// total is the impurity of the unsplit node.
	total(rows []int) float64
	// leaf computes the value stored at a leaf holding rows.
	leaf(rows []int) []float64
}

type treeGrower struct {
	x           [][]float64
	crit        splitCriterion
	maxDepth    int
	minLeaf     int
	maxFeatures int
	rng         *rand.Rand
	tree        *Tree
}

func (g *treeGrower) grow(rows []int) *Tree {
	g.tree = &Tree{}
	g.build(rows, 0)
	return g.tree
}

func (g *treeGrower) build(rows []int, depth int) int {
	node := g.tree.addNode()
	if depth >= g.maxDepth || len(rows) < 2*g.minLeaf {
		g.tree.Value[node] = g.crit.leaf(rows)
		return node
	}
	parent := g.crit.total(rows)
	if parent <= 1e-12 {
		g.tree.Value[node] = g.crit.leaf(rows)
		return node
	}

	feature, threshold, best := -1, 0.0, parent
	width := len(g.x[rows[0]])
	sorted := make([]int, len(rows))
	for _, f := range g.candidateFeatures(width) {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(a, b int) bool { return g.x[sorted[a]][f] < g.x[sorted[b]][f] })
		if g.x[sorted[0]][f] == g.x[sorted[len(sorted)-1]][f] {
			continue
		}
		g.crit.reset(sorted)
		for i := 0; i < len(sorted)-1; i++ {
			g.crit.move(sorted[i])
			lo, hi := g.x[sorted[i]][f], g.x[sorted[i+1]][f]
			if lo == hi || i+1 < g.minLeaf || len(sorted)-i-1 < g.minLeaf {
				continue
			}
			if c := g.crit.cost(); c < best-1e-12 {
				feature, threshold, best = f, lo+(hi-lo)/2, c
			}
		}
	}
	if feature < 0 {
		g.tree.Value[node] = g.crit.leaf(rows)
		return node
	}

	var left, right []int
	for _, r := range rows {
		if g.x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	g.tree.Feature[node] = feature
	g.tree.Threshold[node] = threshold
	l := g.build(left, depth+1)
	r := g.build(right, depth+1)
	g.tree.Left[node] = l
	g.tree.Right[node] = r
	return node
}

func (g *treeGrower) candidateFeatures(width int) []int {
	if g.maxFeatures <= 0 || g.maxFeatures >= width {
		all := make([]int, width)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return g.rng.Perm(width)[:g.maxFeatures]
}

// giniCriterion scores classification splits.
type giniCriterion struct {
	labels  []int
	classes int

	left, right   []float64
	nLeft, nRight float64
}

func newGini(labels []int, classes int) *giniCriterion {
	return &giniCriterion{
		labels:  labels,
		classes: classes,
		left:    make([]float64, classes),
		right:   make([]float64, classes),
	}
}

func (c *giniCriterion) reset(rows []int) {
	clear(c.left)
	clear(c.right)
	for _, r := range rows {
		c.right[c.labels[r]]++
	}
	c.nLeft, c.nRight = 0, float64(len(rows))
}

func (c *giniCriterion) move(row int) {
	y := c.labels[row]
	c.left[y]++
	c.right[y]--
	c.nLeft++
	c.nRight--
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, v := range counts {
		p := v / n
		g -= p * p
	}
	return g
}

func (c *giniCriterion) cost() float64 {
	n := c.nLeft + c.nRight
	return (c.nLeft*gini(c.left, c.nLeft) + c.nRight*gini(c.right, c.nRight)) / n
}

func (c *giniCriterion) total(rows []int) float64 {
	c.reset(rows)
	return gini(c.right, c.nRight)
}

func (c *giniCriterion) leaf(rows []int) []float64 {
	dist := make([]float64, c.classes)
	for _, r := range rows {
		dist[c.labels[r]]++
	}
	for k := range dist {
		dist[k] /= float64(len(rows))
	}
	return dist
}

// mseCriterion scores regression splits on target values; leaves are
// computed by leafFn so boosting can plug in its Newton step.
type mseCriterion struct {
	target []float64
	leafFn func(rows []int) float64

	sumL, sqL, nL float64
	sumR, sqR, nR float64
}

func (c *mseCriterion) reset(rows []int) {
	c.sumL, c.sqL, c.nL = 0, 0, 0
	c.sumR, c.sqR, c.nR = 0, 0, float64(len(rows))
	for _, r := range rows {
		v := c.target[r]
		c.sumR += v
		c.sqR += v * v
	}
}

func (c *mseCriterion) move(row int) {
	v := c.target[row]
	c.sumL += v
	c.sqL += v * v
	c.nL++
	c.sumR -= v
	c.sqR -= v * v
	c.nR--
}

func sse(sum, sq, n float64) float64 {
	if n == 0 {
		return 0
	}
	return math.Max(0, sq-sum*sum/n)
}

func (c *mseCriterion) cost() float64 {
	return (sse(c.sumL, c.sqL, c.nL) + sse(c.sumR, c.sqR, c.nR)) / (c.nL + c.nR)
}

func (c *mseCriterion) total(rows []int) float64 {
	c.reset(rows)
	return sse(c.sumR, c.sqR, c.nR) / c.nR
}

func (c *mseCriterion) leaf(rows []int) []float64 {
	return []float64{c.leafFn(rows)}
}
