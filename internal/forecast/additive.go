package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// AdditiveConfig parameterises AdditiveModel.
type AdditiveConfig struct {
	Changepoints          int
	ChangepointRange      float64 // share of the history that may hold changepoints
	ChangepointPriorScale float64
	SeasonalityPriorScale float64
	RegressorPriorScale   float64
	DailyOrder            int // Fourier order of the daily seasonality, 0 disables it
	WeeklyOrder           int // Fourier order of the weekly seasonality, 0 disables it
	IntervalWidth         float64
}

// DefaultAdditiveConfig has daily and weekly seasonality and no yearly term.
func DefaultAdditiveConfig() AdditiveConfig {
	return AdditiveConfig{
		Changepoints:          25,
		ChangepointRange:      0.8,
		ChangepointPriorScale: 0.05,
		SeasonalityPriorScale: 10,
		RegressorPriorScale:   10,
		DailyOrder:            4,
		WeeklyOrder:           3,
		IntervalWidth:         0.8,
	}
}

const (
	// noiseScale is the assumed observation noise on the scaled target; it turns
	// prior scales into ridge penalties.
	noiseScale = 0.1
	// trendPenalty keeps the intercept and base slope practically unpenalised.
	trendPenalty = 1e-8

	secondsPerDay = 86400.0
)

// regressorOrder is the order regressors enter the design matrix. Every regressor
// is its own linear term.
var regressorOrder = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"precipitation",
	"wind_speed_10m",
	"is_holiday",
	"day_of_week",
	"hour",
}

// appendRegressors appends the regressor values of r to dst in regressorOrder.
func appendRegressors(dst []float64, r FeatureRow) []float64 {
	return append(dst,
		*r.Temperature,
		*r.Humidity,
		*r.Precipitation,
		*r.WindSpeed,
		float64(r.IsHoliday),
		float64(r.DayOfWeek),
		float64(r.Hour),
	)
}

// AdditiveModel is a decomposable time-series regression: piecewise-linear trend
// with changepoints, Fourier daily and weekly seasonality, and one additive linear
// term per regressor. Coefficients are the MAP estimate under Gaussian priors,
// which is a ridge regression with one penalty per column. Bounds come from the
// residual scale.
type AdditiveModel struct {
	cfg AdditiveConfig
}

func NewAdditiveModel(cfg AdditiveConfig) *AdditiveModel {
	return &AdditiveModel{cfg: cfg}
}

func (m *AdditiveModel) Name() string  { return ModelProphet }
func (m *AdditiveModel) Table() string { return TableProphet }

// standardizer holds the mean/scale of one regressor. Binary regressors are left
// as they are.
type standardizer struct {
	mean, std float64
}

func newStandardizer(values []float64) standardizer {
	binary := true
	for _, v := range values {
		if v != 0 && v != 1 {
			binary = false
			break
		}
	}
	if binary {
		return standardizer{mean: 0, std: 1}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	return standardizer{mean: mean, std: std}
}

func (s standardizer) apply(v float64) float64 {
	return (v - s.mean) / s.std
}

// additiveFit is a trained AdditiveModel for one counter.
type additiveFit struct {
	cfg       AdditiveConfig
	counterID string

	start        time.Time
	span         float64 // seconds between first and last training row
	yScale       float64
	changepoints []float64 // in scaled time
	regressors   []standardizer

	beta  *mat.VecDense
	sigma float64 // residual standard deviation, target units
	z     float64 // half-width of the interval in sigmas
}

// Fit trains the model on the complete rows of one counter.
func (m *AdditiveModel) Fit(ctx context.Context, counterID string, rows []FeatureRow) (Fitted, error) {
	train := CompleteRows(rows)
	if len(train) == 0 {
		return nil, &EmptyTrainingSetError{CounterID: counterID}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(train, func(i, j int) bool { return train[i].Timestamp.Before(train[j].Timestamp) })

	n := len(train)
	f := &additiveFit{cfg: m.cfg, counterID: counterID, start: train[0].Timestamp}
	f.span = train[n-1].Timestamp.Sub(f.start).Seconds()
	if f.span <= 0 {
		f.span = 1
	}

	y := make([]float64, n)
	for i, r := range train {
		y[i] = *r.Target
	}
	f.yScale = math.Max(math.Abs(floats.Max(y)), math.Abs(floats.Min(y)))
	if f.yScale == 0 {
		f.yScale = 1
	}
	scaledY := make([]float64, n)
	floats.ScaleTo(scaledY, 1/f.yScale, y)

	f.changepoints = f.placeChangepoints(train)

	k := len(regressorOrder)
	flat := make([]float64, 0, n*k)
	for _, r := range train {
		flat = appendRegressors(flat, r)
	}
	regs := mat.NewDense(n, k, flat)
	f.regressors = make([]standardizer, k)
	column := make([]float64, n)
	for j := range f.regressors {
		mat.Col(column, j, regs)
		f.regressors[j] = newStandardizer(column)
	}

	p := f.width()
	x := mat.NewDense(n, p, nil)
	for i, r := range train {
		x.SetRow(i, f.designRow(r))
	}

	beta, err := solveRidge(x, mat.NewVecDense(n, scaledY), f.penalties())
	if err != nil {
		return nil, fmt.Errorf("fit additive model for counter %s: %w", counterID, err)
	}
	f.beta = beta

	var fitted mat.VecDense
	fitted.MulVec(x, beta)
	resid := make([]float64, n)
	for i := range resid {
		resid[i] = (scaledY[i] - fitted.AtVec(i)) * f.yScale
	}
	f.sigma = 0
	if n > 1 {
		f.sigma = stat.StdDev(resid, nil)
	}
	f.z = distuv.UnitNormal.Quantile(0.5 + m.cfg.IntervalWidth/2)
	return f, nil
}

// placeChangepoints spreads the changepoints uniformly over the first
// ChangepointRange of the training rows, on row positions.
func (f *additiveFit) placeChangepoints(train []FeatureRow) []float64 {
	histSize := int(math.Floor(float64(len(train)) * f.cfg.ChangepointRange))
	k := f.cfg.Changepoints
	if k > histSize-1 {
		k = histSize - 1
	}
	if k <= 0 {
		return nil
	}
	cps := make([]float64, 0, k)
	step := float64(histSize-1) / float64(k)
	for i := 1; i <= k; i++ {
		idx := int(math.Round(step * float64(i)))
		cps = append(cps, f.scaledTime(train[idx].Timestamp))
	}
	return cps
}

func (f *additiveFit) scaledTime(ts time.Time) float64 {
	return ts.Sub(f.start).Seconds() / f.span
}

func (f *additiveFit) width() int {
	return 2 + len(f.changepoints) + 2*f.cfg.DailyOrder + 2*f.cfg.WeeklyOrder + len(regressorOrder)
}

// designRow is shared by training and prediction so both see the same terms.
func (f *additiveFit) designRow(r FeatureRow) []float64 {
	row := make([]float64, 0, f.width())
	t := f.scaledTime(r.Timestamp)
	row = append(row, 1, t)
	for _, s := range f.changepoints {
		row = append(row, math.Max(0, t-s))
	}

	days := float64(r.Timestamp.Unix()) / secondsPerDay
	row = appendFourier(row, days, 1, f.cfg.DailyOrder)
	row = appendFourier(row, days, 7, f.cfg.WeeklyOrder)

	at := len(row)
	row = appendRegressors(row, r)
	for j, s := range f.regressors {
		row[at+j] = s.apply(row[at+j])
	}
	return row
}

func appendFourier(row []float64, days, period float64, order int) []float64 {
	for k := 1; k <= order; k++ {
		arg := 2 * math.Pi * float64(k) * days / period
		row = append(row, math.Sin(arg), math.Cos(arg))
	}
	return row
}

func (f *additiveFit) penalties() []float64 {
	pen := make([]float64, 0, f.width())
	pen = append(pen, trendPenalty, trendPenalty)
	for range f.changepoints {
		pen = append(pen, priorPenalty(f.cfg.ChangepointPriorScale))
	}
	for i := 0; i < 2*(f.cfg.DailyOrder+f.cfg.WeeklyOrder); i++ {
		pen = append(pen, priorPenalty(f.cfg.SeasonalityPriorScale))
	}
	for range regressorOrder {
		pen = append(pen, priorPenalty(f.cfg.RegressorPriorScale))
	}
	return pen
}

func priorPenalty(scale float64) float64 {
	return (noiseScale * noiseScale) / (scale * scale)
}

// solveRidge solves (XᵀX + diag(pen)) β = Xᵀy.
func solveRidge(x *mat.Dense, y *mat.VecDense, pen []float64) (*mat.VecDense, error) {
	_, p := x.Dims()

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	for j := 0; j < p; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+pen[j])
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	beta := mat.NewVecDense(p, nil)
	var chol mat.Cholesky
	if chol.Factorize(&xtx) {
		if err := chol.SolveVecTo(beta, &xty); err == nil {
			return beta, nil
		}
	}
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, err
	}
	return beta, nil
}

// Predict returns yhat and the interval for every row with complete regressors.
// Rows with a missing weather value are left out.
func (f *additiveFit) Predict(rows []FeatureRow) []Prediction {
	out := make([]Prediction, 0, len(rows))
	half := f.z * f.sigma
	for _, r := range rows {
		if !r.HasRegressors() {
			continue
		}
		yhat := mat.Dot(mat.NewVecDense(f.width(), f.designRow(r)), f.beta) * f.yScale
		lower, upper := yhat-half, yhat+half
		out = append(out, Prediction{
			CounterID: f.counterID,
			Timestamp: r.Timestamp.UTC(),
			YHat:      yhat,
			YHatLower: &lower,
			YHatUpper: &upper,
		})
	}
	return out
}
