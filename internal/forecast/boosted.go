package forecast

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

// BoostedConfig parameterises BoostedTrees.
type BoostedConfig struct {
	Trees          int
	LearningRate   float64
	MaxDepth       int
	Subsample      float64 // share of rows sampled per tree
	ColSample      float64 // share of features sampled per tree
	Lambda         float64 // L2 regularisation on leaf weights
	MinChildWeight float64
	Seed           uint64
	MinRows        int // counters with fewer complete rows are skipped
}

func DefaultBoostedConfig() BoostedConfig {
	return BoostedConfig{
		Trees:          300,
		LearningRate:   0.05,
		MaxDepth:       4,
		Subsample:      0.8,
		ColSample:      0.8,
		Lambda:         1,
		MinChildWeight: 1,
		Seed:           42,
		MinRows:        100,
	}
}

// BoostedTrees is a gradient boosted ensemble of regression trees with a squared
// error objective. It gives a point estimate only.
type BoostedTrees struct {
	cfg BoostedConfig
}

func NewBoostedTrees(cfg BoostedConfig) *BoostedTrees {
	return &BoostedTrees{cfg: cfg}
}

func (m *BoostedTrees) Name() string  { return ModelXGBoost }
func (m *BoostedTrees) Table() string { return TableXGBoost }

type boostedFit struct {
	counterID string
	base      float64
	trees     []*regressionTree
}

// Fit trains the ensemble on the complete rows of one counter. Below MinRows it
// returns an *InsufficientTrainingRowsError.
func (m *BoostedTrees) Fit(ctx context.Context, counterID string, rows []FeatureRow) (Fitted, error) {
	train := CompleteRows(rows)
	if len(train) < m.cfg.MinRows || len(train) == 0 {
		return nil, &InsufficientTrainingRowsError{CounterID: counterID, Rows: len(train), Min: m.cfg.MinRows}
	}

	n := len(train)
	x := make([][]float64, n)
	y := make([]float64, n)
	for i, r := range train {
		x[i] = r.Vector()
		y[i] = *r.Target
	}

	fit := &boostedFit{counterID: counterID, base: stat.Mean(y, nil)}
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = fit.base
	}

	rng := rand.New(rand.NewPCG(m.cfg.Seed, m.cfg.Seed))
	nFeatures := len(FeatureNames)
	nCols := max(1, int(m.cfg.ColSample*float64(nFeatures)))
	params := treeParams{
		maxDepth:       m.cfg.MaxDepth,
		lambda:         m.cfg.Lambda,
		minChildWeight: m.cfg.MinChildWeight,
		shrinkage:      m.cfg.LearningRate,
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	for i := range hess {
		hess[i] = 1
	}

	fit.trees = make([]*regressionTree, 0, m.cfg.Trees)
	for t := 0; t < m.cfg.Trees; t++ {
		for i := range grad {
			grad[i] = pred[i] - y[i]
		}

		sample := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if m.cfg.Subsample >= 1 || rng.Float64() < m.cfg.Subsample {
				sample = append(sample, i)
			}
		}
		if len(sample) == 0 {
			continue
		}
		features := rng.Perm(nFeatures)[:nCols]

		tree, err := growTree(ctx, x, grad, hess, sample, features, params)
		if err != nil {
			return nil, fmt.Errorf("grow tree %d for counter %s: %w", t, counterID, err)
		}
		fit.trees = append(fit.trees, tree)
		for i := range pred {
			pred[i] += tree.predict(x[i])
		}
	}
	return fit, nil
}

// Predict returns one prediction per row. Missing weather values follow the
// default branch of each split.
func (f *boostedFit) Predict(rows []FeatureRow) []Prediction {
	out := make([]Prediction, 0, len(rows))
	for _, r := range rows {
		x := r.Vector()
		yhat := f.base
		for _, t := range f.trees {
			yhat += t.predict(x)
		}
		out = append(out, Prediction{
			CounterID: f.counterID,
			Timestamp: r.Timestamp.UTC(),
			YHat:      yhat,
		})
	}
	return out
}
