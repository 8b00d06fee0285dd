package anomaly

import (
	"math"
	"math/rand"
)

// eulerGamma for the average-path-length normalizer.
const eulerGamma = 0.5772156649015329

// forest is an isolation forest over standardized feature vectors. Each
// tree isolates points with axis-parallel random splits; points that
// isolate in short paths are outliers.
type forest struct {
	trees  []*treeNode
	norm   float64 // c(subsample), the expected path length normalizer
	maxLen int     // depth cap per tree
}

type treeNode struct {
	feature int
	split   float64
	left    *treeNode
	right   *treeNode

	// size is the number of training points that reached this external
	// node; non-zero only on leaves.
	size int
}

// fitForest builds the ensemble from the given rows. Rows must already be
// standardized and imputed; each tree trains on a random subsample.
func fitForest(rows [][]float64, trees, subsample int, rng *rand.Rand) *forest {
	if subsample > len(rows) {
		subsample = len(rows)
	}
	depthCap := int(math.Ceil(math.Log2(float64(subsample)))) + 1

	f := &forest{
		trees:  make([]*treeNode, 0, trees),
		norm:   avgPathLength(subsample),
		maxLen: depthCap,
	}
	for i := 0; i < trees; i++ {
		sample := make([][]float64, subsample)
		for j := range sample {
			sample[j] = rows[rng.Intn(len(rows))]
		}
		f.trees = append(f.trees, buildTree(sample, 0, depthCap, rng))
	}
	return f
}

func buildTree(rows [][]float64, depth, depthCap int, rng *rand.Rand) *treeNode {
	if depth >= depthCap || len(rows) <= 1 || allIdentical(rows) {
		return &treeNode{size: len(rows)}
	}

	nFeatures := len(rows[0])
	// Pick a feature with spread; give up after a few attempts on
	// degenerate data.
	for attempt := 0; attempt < nFeatures; attempt++ {
		feat := rng.Intn(nFeatures)
		lo, hi := rows[0][feat], rows[0][feat]
		for _, row := range rows[1:] {
			if row[feat] < lo {
				lo = row[feat]
			}
			if row[feat] > hi {
				hi = row[feat]
			}
		}
		if hi <= lo {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)

		var left, right [][]float64
		for _, row := range rows {
			if row[feat] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &treeNode{
			feature: feat,
			split:   split,
			left:    buildTree(left, depth+1, depthCap, rng),
			right:   buildTree(right, depth+1, depthCap, rng),
		}
	}
	return &treeNode{size: len(rows)}
}

// score returns the normalized anomaly score in [0,1]: 2^(-E[h(x)]/c(n)).
// Scores near 1 mean the point isolates quickly; ~0.5 is unremarkable.
func (f *forest) score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, x, 0)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/f.norm)
}

func pathLength(n *treeNode, x []float64, depth int) float64 {
	if n.left == nil {
		// External node: add the expected path of an unsplit subtree.
		return float64(depth) + avgPathLength(n.size)
	}
	if x[n.feature] < n.split {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(rows [][]float64) bool {
	for _, row := range rows[1:] {
		for j, v := range row {
			if v != rows[0][j] {
				return false
			}
		}
	}
	return true
}
