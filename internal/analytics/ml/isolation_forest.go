// Package ml provides the isolation forest, the one learned detector in
// the analytics suite.
//
// An isolation forest isolates observations by recursively splitting on
// random features at random thresholds. Anomalous points need fewer
// splits to isolate, so short average path lengths produce scores near
// 1 while normal points settle near or below 0.5. Unlike the detectors
// in internal/analytics/detect the forest must be fitted before it can
// score; an unfitted forest scores everything 0.
package ml

import (
	"math"
	"math/rand"
	"time"
)

// Defaults applied when configuration leaves a knob unset.
const (
	DefaultTrees          = 100
	DefaultSubSampleSize  = 256
	DefaultScoreThreshold = 0.7
)

// Point is one observation in feature space.
type Point struct {
	Features []float64
}

// Result is the outcome of scoring one point.
type Result struct {
	Score      float64 // 0 to 1, higher is more isolated
	PathLength float64 // average splits to isolation across trees
}

// isolationTree is a single randomized split tree.
type isolationTree struct {
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	isLeaf       bool
}

// IsolationForest scores points by how quickly random splits isolate
// them. Not safe for concurrent use; callers own one forest per series.
type IsolationForest struct {
	trees      []*isolationTree
	numTrees   int
	sampleSize int
	maxDepth   int
	dims       int
	fittedN    int
	rng        *rand.Rand
}

// NewIsolationForest builds a forest with numTrees trees, each grown on
// a random subsample of at most subSampleSize points. Tree depth is
// capped at ceil(log2(subSampleSize)). Non-positive arguments fall back
// to the package defaults.
func NewIsolationForest(numTrees, subSampleSize int) *IsolationForest {
	if numTrees <= 0 {
		numTrees = DefaultTrees
	}
	if subSampleSize <= 0 {
		subSampleSize = DefaultSubSampleSize
	}
	return &IsolationForest{
		numTrees:   numTrees,
		sampleSize: subSampleSize,
		maxDepth:   int(math.Ceil(math.Log2(float64(subSampleSize)))),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Trained reports whether Fit has produced any trees.
func (f *IsolationForest) Trained() bool { return len(f.trees) > 0 }

// Fit grows the forest from the given points, replacing any previous
// fit. Points without features are dropped; when every point is
// degenerate the forest stays untrained.
func (f *IsolationForest) Fit(points []Point) {
	f.trees = nil

	clean := make([]Point, 0, len(points))
	dims := -1
	for _, p := range points {
		if len(p.Features) == 0 {
			continue
		}
		if dims == -1 || len(p.Features) < dims {
			dims = len(p.Features)
		}
		clean = append(clean, p)
	}
	if len(clean) == 0 {
		return
	}

	f.dims = dims
	f.fittedN = f.sampleSize
	if f.fittedN > len(clean) {
		f.fittedN = len(clean)
	}

	f.trees = make([]*isolationTree, 0, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		f.trees = append(f.trees, f.buildTree(f.sample(clean), 0))
	}
}

// Predict scores one point. An untrained forest scores 0; trained
// scores always land in (0, 1].
func (f *IsolationForest) Predict(point Point) Result {
	if !f.Trained() {
		return Result{Score: 0}
	}

	total := 0.0
	for _, tree := range f.trees {
		total += f.pathLength(tree, point, 0)
	}
	avgPath := total / float64(len(f.trees))

	// score = 2^(-avgPath / c(n)) with c the expected path length of an
	// unsuccessful BST search over the subsample.
	c := avgUnsuccessfulSearch(f.fittedN)
	if c == 0 {
		return Result{Score: 0, PathLength: avgPath}
	}

	return Result{
		Score:      math.Pow(2, -avgPath/c),
		PathLength: avgPath,
	}
}

// sample draws a random subsample of the fitted size.
func (f *IsolationForest) sample(points []Point) []Point {
	shuffled := make([]Point, len(points))
	copy(shuffled, points)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := f.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:f.fittedN]
}

// buildTree recursively grows one isolation tree.
func (f *IsolationForest) buildTree(points []Point, depth int) *isolationTree {
	if len(points) <= 1 || depth >= f.maxDepth || f.allIdentical(points) {
		return &isolationTree{size: len(points), isLeaf: true}
	}

	splitFeature := f.rng.Intn(f.dims)
	minVal, maxVal := featureRange(points, splitFeature)
	if minVal == maxVal {
		return &isolationTree{size: len(points), isLeaf: true}
	}
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	var left, right []Point
	for _, p := range points {
		if p.Features[splitFeature] < splitValue {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(points), isLeaf: true}
	}

	return &isolationTree{
		splitFeature: splitFeature,
		splitValue:   splitValue,
		left:         f.buildTree(left, depth+1),
		right:        f.buildTree(right, depth+1),
		size:         len(points),
	}
}

// pathLength walks the point down one tree. Leaves holding more than
// one point add the analytic estimate for the splits that were never
// made.
func (f *IsolationForest) pathLength(tree *isolationTree, point Point, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + avgUnsuccessfulSearch(tree.size)
	}
	if tree.splitFeature >= len(point.Features) {
		return float64(depth) + avgUnsuccessfulSearch(tree.size)
	}
	if point.Features[tree.splitFeature] < tree.splitValue {
		return f.pathLength(tree.left, point, depth+1)
	}
	return f.pathLength(tree.right, point, depth+1)
}

func (f *IsolationForest) allIdentical(points []Point) bool {
	for i := 1; i < len(points); i++ {
		for j := 0; j < f.dims; j++ {
			if math.Abs(points[i].Features[j]-points[0].Features[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(points []Point, feature int) (float64, float64) {
	minVal := points[0].Features[feature]
	maxVal := points[0].Features[feature]
	for _, p := range points {
		v := p.Features[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

// avgUnsuccessfulSearch is c(n) = 2H(n-1) - 2(n-1)/n, the expected path
// length of an unsuccessful search in a BST of n nodes. Zero for n <= 1.
func avgUnsuccessfulSearch(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*harmonic(n-1) - 2*float64(n-1)/float64(n)
}

// harmonic approximates the nth harmonic number.
func harmonic(n int) float64 {
	// H(n) ≈ ln(n) + γ (Euler-Mascheroni constant)
	return math.Log(float64(n)) + 0.5772156649
}
