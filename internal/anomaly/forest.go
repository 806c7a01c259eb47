package anomaly

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

const eulerGamma = 0.5772156649015329

// ForestConfig holds isolation forest parameters
type ForestConfig struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// Forest is an isolation forest fitted on a single batch of rows. It is
// built, used and discarded within one detection call.
type Forest struct {
	cfg        ForestConfig
	trees      []*node
	sampleSize int
	threshold  float64
}

type node struct {
	feature int
	split   float64
	left    *node
	right   *node
	size    int
}

func (n *node) isLeaf() bool {
	return n.left == nil
}

// Fit grows the trees and derives the outlier threshold from the training
// scores. Each tree gets its own seed drawn up front from cfg.Seed, so the
// result does not depend on goroutine scheduling.
func Fit(ctx context.Context, cfg ForestConfig, data [][]float64) (*Forest, error) {
	if len(data) < 2 {
		return nil, errors.New("isolation forest needs at least 2 rows")
	}
	if cfg.Trees < 1 {
		return nil, errors.New("isolation forest needs at least 1 tree")
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, errors.New("contamination must be in (0, 0.5]")
	}
	width := len(data[0])
	for _, row := range data {
		if len(row) != width {
			return nil, errors.New("rows must all have the same number of features")
		}
	}

	sampleSize := cfg.SampleSize
	if sampleSize <= 0 || sampleSize > len(data) {
		sampleSize = len(data)
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	master := rand.New(rand.NewSource(cfg.Seed))
	seeds := make([]int64, cfg.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	f := &Forest{cfg: cfg, trees: make([]*node, cfg.Trees), sampleSize: sampleSize}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range f.trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			idx := rng.Perm(len(data))[:sampleSize]
			f.trees[i] = grow(rng, data, idx, 0, heightLimit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores, err := f.Score(ctx, data)
	if err != nil {
		return nil, err
	}
	f.threshold = percentile(scores, 100*(1-cfg.Contamination))
	return f, nil
}

func grow(rng *rand.Rand, data [][]float64, idx []int, depth, limit int) *node {
	if depth >= limit || len(idx) <= 1 {
		return &node{size: len(idx)}
	}

	width := len(data[idx[0]])
	candidates := make([]int, 0, width)
	mins := make([]float64, width)
	maxs := make([]float64, width)
	for f := 0; f < width; f++ {
		lo, hi := data[idx[0]][f], data[idx[0]][f]
		for _, i := range idx[1:] {
			v := data[i][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		mins[f], maxs[f] = lo, hi
		if hi > lo {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(idx)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := mins[feature] + rng.Float64()*(maxs[feature]-mins[feature])

	var left, right []int
	for _, i := range idx {
		if data[i][feature] <= split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &node{
		feature: feature,
		split:   split,
		size:    len(idx),
		left:    grow(rng, data, left, depth+1, limit),
		right:   grow(rng, data, right, depth+1, limit),
	}
}

func pathLength(n *node, row []float64) float64 {
	depth := 0.0
	for !n.isLeaf() {
		if row[n.feature] <= n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// Score returns the anomaly score 2^(-E[h(x)]/c(psi)) of each row, in (0, 1].
// Higher is more anomalous.
func (f *Forest) Score(ctx context.Context, data [][]float64) ([]float64, error) {
	scores := make([]float64, len(data))
	norm := averagePathLength(f.sampleSize)

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(data) + workers - 1) / workers
	if chunk < 64 {
		chunk = 64
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(data); start += chunk {
		start, end := start, start+chunk
		if end > len(data) {
			end = len(data)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				var total float64
				for _, t := range f.trees {
					total += pathLength(t, data[i])
				}
				mean := total / float64(len(f.trees))
				if norm == 0 {
					scores[i] = 1
					continue
				}
				scores[i] = math.Pow(2, -mean/norm)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// Predict labels each row; true means outlier
func (f *Forest) Predict(ctx context.Context, data [][]float64) ([]bool, error) {
	scores, err := f.Score(ctx, data)
	if err != nil {
		return nil, err
	}
	labels := make([]bool, len(scores))
	for i, s := range scores {
		labels[i] = s > f.threshold
	}
	return labels, nil
}

// Threshold is the score above which a row is an outlier
func (f *Forest) Threshold() float64 {
	return f.threshold
}

// percentile uses linear interpolation between closest ranks
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
