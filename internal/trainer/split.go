package trainer

import (
	"math"
	"math/rand"
	"sort"
)

// stratifiedSplit partitions row indices per class so that every class has
// at least one row on each side. Classes must have two or more rows.
func stratifiedSplit(labels []int, classes int, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	for _, rows := range byClass(labels, classes) {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		nTest := int(math.Round(testFraction * float64(len(rows))))
		nTest = max(1, min(nTest, len(rows)-1))
		test = append(test, rows[:nTest]...)
		train = append(train, rows[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// stratifiedFolds deals each class's shuffled rows round-robin into k folds.
// The returned slices index into labels.
func stratifiedFolds(labels []int, classes, k int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed))
	folds := make([][]int, k)
	next := 0
	for _, rows := range byClass(labels, classes) {
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		for _, r := range rows {
			folds[next%k] = append(folds[next%k], r)
			next++
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

func byClass(labels []int, classes int) [][]int {
	out := make([][]int, classes)
	for i, y := range labels {
		out[y] = append(out[y], i)
	}
	return out
}

func classCounts(labels []int, classes int) []int {
	counts := make([]int, classes)
	for _, y := range labels {
		counts[y]++
	}
	return counts
}

func pick[T any](xs []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}

func complement(n int, idx []int) []int {
	in := make([]bool, n)
	for _, i := range idx {
		in[i] = true
	}
	out := make([]int, 0, n-len(idx))
	for i := 0; i < n; i++ {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}
