package forecast

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// treeNode is a node of a regression tree. Leaves carry the already shrunk
// output value.
type treeNode struct {
	leaf        bool
	value       float64
	feature     int
	threshold   float64
	left, right int
	defaultLeft bool // branch taken when the feature value is missing
}

type regressionTree struct {
	nodes []treeNode
}

func (t *regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.nodes[i]
		if n.leaf {
			return n.value
		}
		v := x[n.feature]
		switch {
		case math.IsNaN(v):
			if n.defaultLeft {
				i = n.left
			} else {
				i = n.right
			}
		case v < n.threshold:
			i = n.left
		default:
			i = n.right
		}
	}
}

// treeParams are the growth limits of one tree.
type treeParams struct {
	maxDepth       int
	lambda         float64
	minChildWeight float64
	shrinkage      float64
}

// splitCandidate is the best split found on one feature.
type splitCandidate struct {
	valid     bool
	gain      float64
	feature   int
	threshold float64
}

// treeBuilder grows one tree on the gradient statistics of a boosting round.
type treeBuilder struct {
	x        [][]float64
	grad     []float64
	hess     []float64
	features []int
	params   treeParams
	tree     *regressionTree
}

func growTree(ctx context.Context, x [][]float64, grad, hess []float64, rows, features []int, params treeParams) (*regressionTree, error) {
	b := &treeBuilder{
		x:        x,
		grad:     grad,
		hess:     hess,
		features: features,
		params:   params,
		tree:     &regressionTree{},
	}
	if _, err := b.build(ctx, rows, 0); err != nil {
		return nil, err
	}
	return b.tree, nil
}

func (b *treeBuilder) sums(rows []int) (g, h float64) {
	for _, i := range rows {
		g += b.grad[i]
		h += b.hess[i]
	}
	return g, h
}

func (b *treeBuilder) score(g, h float64) float64 {
	return g * g / (h + b.params.lambda)
}

// build appends the subtree for rows and returns its node index.
func (b *treeBuilder) build(ctx context.Context, rows []int, depth int) (int, error) {
	g, h := b.sums(rows)
	idx := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, treeNode{
		leaf:  true,
		value: -g / (h + b.params.lambda) * b.params.shrinkage,
	})

	if depth >= b.params.maxDepth || len(rows) < 2 {
		return idx, nil
	}

	best, err := b.bestSplit(ctx, rows, g, h)
	if err != nil {
		return 0, err
	}
	if !best.valid || best.gain <= 0 {
		return idx, nil
	}

	var left, right []int
	for _, i := range rows {
		if b.x[i][best.feature] < best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l, err := b.build(ctx, left, depth+1)
	if err != nil {
		return 0, err
	}
	r, err := b.build(ctx, right, depth+1)
	if err != nil {
		return 0, err
	}
	b.tree.nodes[idx] = treeNode{
		feature:     best.feature,
		threshold:   best.threshold,
		left:        l,
		right:       r,
		defaultLeft: len(left) >= len(right),
	}
	return idx, nil
}

// bestSplit scans every sampled feature concurrently. The reduction walks the
// candidates in feature order so ties resolve the same way on every run.
func (b *treeBuilder) bestSplit(ctx context.Context, rows []int, g, h float64) (splitCandidate, error) {
	candidates := make([]splitCandidate, len(b.features))
	eg, ctx := errgroup.WithContext(ctx)
	for k, f := range b.features {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			candidates[k] = b.scanFeature(rows, f, g, h)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return splitCandidate{}, err
	}

	var best splitCandidate
	for _, c := range candidates {
		if c.valid && (!best.valid || c.gain > best.gain) {
			best = c
		}
	}
	return best, nil
}

// scanFeature is the exact greedy search on one feature: rows are sorted by value
// and every boundary between two distinct values is tried.
func (b *treeBuilder) scanFeature(rows []int, feature int, g, h float64) splitCandidate {
	sorted := make([]int, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return b.x[sorted[i]][feature] < b.x[sorted[j]][feature]
	})

	parent := b.score(g, h)
	best := splitCandidate{feature: feature}
	var gl, hl float64
	for k := 0; k < len(sorted)-1; k++ {
		i := sorted[k]
		gl += b.grad[i]
		hl += b.hess[i]

		cur, next := b.x[i][feature], b.x[sorted[k+1]][feature]
		if cur == next {
			continue
		}
		gr, hr := g-gl, h-hl
		if hl < b.params.minChildWeight || hr < b.params.minChildWeight {
			continue
		}
		gain := 0.5 * (b.score(gl, hl) + b.score(gr, hr) - parent)
		if !best.valid || gain > best.gain {
			best.valid = true
			best.gain = gain
			best.threshold = cur + (next-cur)/2
		}
	}
	return best
}
