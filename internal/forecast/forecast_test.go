package forecast

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

// fakeStore is an in-memory Store for predictor tests.
type fakeStore struct {
	mu sync.Mutex

	weather  []weather.HourlyWeather
	forecast []weather.HourlyWeather
	holidays []calendar.Holiday
	bikes    map[string][]traffic.HourlyReading

	bikeCalls  int
	failTables map[string]error
	written    map[string][]Prediction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bikes:      make(map[string][]traffic.HourlyReading),
		failTables: make(map[string]error),
		written:    make(map[string][]Prediction),
	}
}

func (s *fakeStore) ListWeatherHourly(ctx context.Context) ([]weather.HourlyWeather, error) {
	return s.weather, nil
}

func (s *fakeStore) ListWeatherForecast(ctx context.Context) ([]weather.HourlyWeather, error) {
	return s.forecast, nil
}

func (s *fakeStore) ListHolidays(ctx context.Context) ([]calendar.Holiday, error) {
	return s.holidays, nil
}

func (s *fakeStore) ListBikeHourly(ctx context.Context, counterID string) ([]traffic.HourlyReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bikeCalls++
	return s.bikes[counterID], nil
}

func (s *fakeStore) ReplacePredictions(ctx context.Context, table string, rows []Prediction) (common.UpsertResult, error) {
	if err := s.failTables[table]; err != nil {
		return common.UpsertResult{}, err
	}
	s.written[table] = rows
	return common.NewUpsertResult(table, len(rows)), nil
}

var historyStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func completeWeather(ts time.Time, temp float64) weather.HourlyWeather {
	return weather.HourlyWeather{
		Timestamp:     ts,
		Temperature:   weather.Float(temp),
		Humidity:      weather.Float(70),
		Precipitation: weather.Float(0),
		WindSpeed:     weather.Float(10),
	}
}

func weatherSeries(start time.Time, hours int) []weather.HourlyWeather {
	rows := make([]weather.HourlyWeather, hours)
	for i := range rows {
		ts := start.Add(time.Duration(i) * time.Hour)
		rows[i] = completeWeather(ts, 8+6*math.Sin(2*math.Pi*float64(ts.Hour())/24))
	}
	return rows
}

func readingSeries(counterID string, start time.Time, hours int) []traffic.HourlyReading {
	rows := make([]traffic.HourlyReading, hours)
	for i := range rows {
		ts := start.Add(time.Duration(i) * time.Hour)
		base := 20.0
		if h := ts.Hour(); h >= 7 && h <= 19 {
			base = 150
		}
		if ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
			base /= 2
		}
		rows[i] = traffic.HourlyReading{CounterID: counterID, Timestamp: ts, Intensity: int(base) + i%7}
	}
	return rows
}

func TestFeaturesAgreeBetweenTrainingAndPrediction(t *testing.T) {
	holidays := calendar.NewHolidaySet([]calendar.Holiday{{Date: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), Name: "test"}})
	monday := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	for h := 0; h < 7*24; h++ {
		ts := monday.Add(time.Duration(h) * time.Hour)
		trainRow := JoinReadings([]traffic.HourlyReading{{CounterID: "c", Timestamp: ts, Intensity: 1}}, NewWeatherIndex(nil), holidays)[0]
		predRow := JoinForecast([]weather.HourlyWeather{{Timestamp: ts}}, holidays)[0]

		if trainRow.Features != predRow.Features {
			t.Fatalf("features differ at %v: train=%+v predict=%+v", ts, trainRow.Features, predRow.Features)
		}
		if trainRow.Hour != ts.Hour() {
			t.Errorf("hour = %d, want %d", trainRow.Hour, ts.Hour())
		}
		if want := h / 24; trainRow.DayOfWeek != want {
			t.Errorf("day of week at %v = %d, want %d", ts, trainRow.DayOfWeek, want)
		}
		if wantHoliday := h < 24; (trainRow.IsHoliday == 1) != wantHoliday {
			t.Errorf("is_holiday at %v = %d", ts, trainRow.IsHoliday)
		}
	}
}

func TestJoinReadingsKeepsEveryReading(t *testing.T) {
	readings := readingSeries("c", historyStart, 50)

	// Every other hour, with a duplicate hour.
	var series []weather.HourlyWeather
	for i := 0; i < 50; i += 2 {
		series = append(series, completeWeather(historyStart.Add(time.Duration(i)*time.Hour), float64(i)))
	}
	series = append(series, completeWeather(historyStart, 99))

	rows := JoinReadings(readings, NewWeatherIndex(series), calendar.NewHolidaySet(nil))
	if len(rows) != len(readings) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(readings))
	}
	for i, r := range rows {
		if !r.Timestamp.Equal(readings[i].Timestamp) {
			t.Fatalf("row %d out of order", i)
		}
		if i%2 == 1 && r.Temperature != nil {
			t.Errorf("row %d should have nil weather", i)
		}
	}
	if *rows[0].Temperature != 0 {
		t.Errorf("first weather row should win, got %v", *rows[0].Temperature)
	}
	if got := len(CompleteRows(rows)); got != 25 {
		t.Errorf("complete rows = %d, want 25", got)
	}
}

func TestWeatherIndexMatchesExactTimestampOnly(t *testing.T) {
	ix := NewWeatherIndex([]weather.HourlyWeather{
		completeWeather(historyStart.Add(30*time.Minute), 12),
	})
	if _, ok := ix.Lookup(historyStart); ok {
		t.Error("00:30 weather matched the 00:00 reading")
	}
	if _, ok := ix.Lookup(historyStart.Add(30 * time.Minute)); !ok {
		t.Error("exact timestamp not found")
	}

	rows := JoinReadings(readingSeries("c", historyStart, 1), ix, calendar.NewHolidaySet(nil))
	if len(rows) != 1 || rows[0].Temperature != nil {
		t.Errorf("row = %+v, want nil weather", rows)
	}
}

func trainingRows(n int) []FeatureRow {
	readings := readingSeries("c", historyStart, n)
	return JoinReadings(readings, NewWeatherIndex(weatherSeries(historyStart, n)), calendar.NewHolidaySet(nil))
}

func TestBoostedTreesMinimumRowsBoundary(t *testing.T) {
	m := NewBoostedTrees(DefaultBoostedConfig())

	if _, err := m.Fit(context.Background(), "c", trainingRows(100)); err != nil {
		t.Fatalf("100 rows should train, got %v", err)
	}

	_, err := m.Fit(context.Background(), "c", trainingRows(99))
	var short *InsufficientTrainingRowsError
	if !errors.As(err, &short) {
		t.Fatalf("99 rows: expected InsufficientTrainingRowsError, got %v", err)
	}
	if short.Rows != 99 || short.Min != 100 || short.CounterID != "c" {
		t.Errorf("unexpected error fields %+v", short)
	}

	_, err = m.Fit(context.Background(), "c", nil)
	if !errors.As(err, &short) {
		t.Fatalf("0 rows: expected InsufficientTrainingRowsError, got %v", err)
	}
}

func TestAdditiveModelEmptyTrainingSet(t *testing.T) {
	m := NewAdditiveModel(DefaultAdditiveConfig())

	_, err := m.Fit(context.Background(), "c", nil)
	var empty *EmptyTrainingSetError
	if !errors.As(err, &empty) || empty.CounterID != "c" {
		t.Fatalf("expected EmptyTrainingSetError for c, got %v", err)
	}

	// Readings without any weather leave no complete row.
	rows := JoinReadings(readingSeries("c", historyStart, 200), NewWeatherIndex(nil), calendar.NewHolidaySet(nil))
	if _, err := m.Fit(context.Background(), "c", rows); !errors.As(err, &empty) {
		t.Fatalf("expected EmptyTrainingSetError, got %v", err)
	}
}

func TestAdditiveModelLearnsLinearRegressor(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	var rows []FeatureRow
	for i := 0; i < 24*30; i++ {
		ts := historyStart.Add(time.Duration(i) * time.Hour)
		temp := rng.Float64() * 30
		y := 20 + 3*temp
		rows = append(rows, FeatureRow{
			Timestamp:     ts,
			Target:        &y,
			Features:      calendar.DeriveFeatures(ts, calendar.NewHolidaySet(nil)),
			Temperature:   weather.Float(temp),
			Humidity:      weather.Float(60),
			Precipitation: weather.Float(0),
			WindSpeed:     weather.Float(5),
		})
	}

	fitted, err := NewAdditiveModel(DefaultAdditiveConfig()).Fit(context.Background(), "c", rows)
	if err != nil {
		t.Fatalf("Fit error: %v", err)
	}

	next := historyStart.Add(24 * 30 * time.Hour)
	future := JoinForecast([]weather.HourlyWeather{
		completeWeather(next, 10),
		completeWeather(next.Add(time.Hour), 20),
		{Timestamp: next.Add(2 * time.Hour)},
	}, calendar.NewHolidaySet(nil))
	for i := range future {
		if future[i].HasRegressors() {
			future[i].Humidity = weather.Float(60)
			future[i].WindSpeed = weather.Float(5)
		}
	}

	preds := fitted.Predict(future)
	if len(preds) != 2 {
		t.Fatalf("len(preds) = %d, want 2 (row without weather dropped)", len(preds))
	}
	for i, want := range []float64{50, 80} {
		if math.Abs(preds[i].YHat-want) > 2 {
			t.Errorf("pred %d = %.2f, want about %.0f", i, preds[i].YHat, want)
		}
	}
}

func TestAdditiveModelStandardizesEachRegressorColumn(t *testing.T) {
	rows := trainingRows(24 * 7)
	fitted, err := NewAdditiveModel(DefaultAdditiveConfig()).Fit(context.Background(), "c", rows)
	if err != nil {
		t.Fatalf("Fit error: %v", err)
	}
	f := fitted.(*additiveFit)

	var temps, hours []float64
	for _, r := range rows {
		temps = append(temps, *r.Temperature)
		hours = append(hours, float64(r.Hour))
	}
	tempMean, tempStd := stat.MeanStdDev(temps, nil)
	hourMean, _ := stat.MeanStdDev(hours, nil)

	if got := f.regressors[0]; math.Abs(got.mean-tempMean) > 1e-9 || math.Abs(got.std-tempStd) > 1e-9 {
		t.Errorf("temperature standardizer = %+v, want mean %.4f std %.4f", got, tempMean, tempStd)
	}
	// Constant humidity keeps a unit scale.
	if got := f.regressors[1]; got.std != 1 {
		t.Errorf("humidity std = %v, want 1", got.std)
	}
	// is_holiday is binary and left as is.
	if got := f.regressors[4]; got.mean != 0 || got.std != 1 {
		t.Errorf("is_holiday standardizer = %+v, want identity", got)
	}
	if got := f.regressors[6]; math.Abs(got.mean-hourMean) > 1e-9 {
		t.Errorf("hour mean = %v, want %v", got.mean, hourMean)
	}
}

func TestBoostedTreesLearnsStep(t *testing.T) {
	var rows []FeatureRow
	for i := 0; i < 24*14; i++ {
		ts := historyStart.Add(time.Duration(i) * time.Hour)
		y := 10.0
		if ts.Hour() >= 12 {
			y = 100
		}
		rows = append(rows, FeatureRow{
			Timestamp:     ts,
			Target:        &y,
			Features:      calendar.DeriveFeatures(ts, calendar.NewHolidaySet(nil)),
			Temperature:   weather.Float(12),
			Humidity:      weather.Float(60),
			Precipitation: weather.Float(0),
			WindSpeed:     weather.Float(5),
		})
	}

	fitted, err := NewBoostedTrees(DefaultBoostedConfig()).Fit(context.Background(), "c", rows)
	if err != nil {
		t.Fatalf("Fit error: %v", err)
	}

	next := historyStart.Add(24 * 14 * time.Hour)
	future := []FeatureRow{rows[3], rows[15], {Timestamp: next.Add(15 * time.Hour), Features: calendar.DeriveFeatures(next.Add(15*time.Hour), calendar.NewHolidaySet(nil))}}
	preds := fitted.Predict(future)
	if len(preds) != 3 {
		t.Fatalf("len(preds) = %d, want 3 (missing weather still predicted)", len(preds))
	}
	if math.Abs(preds[0].YHat-10) > 5 || math.Abs(preds[1].YHat-100) > 5 {
		t.Errorf("preds = %.2f / %.2f, want about 10 / 100", preds[0].YHat, preds[1].YHat)
	}
	if preds[0].YHatLower != nil || preds[0].YHatUpper != nil {
		t.Error("boosted trees should not set bounds")
	}

	again, err := NewBoostedTrees(DefaultBoostedConfig()).Fit(context.Background(), "c", rows)
	if err != nil {
		t.Fatalf("second Fit error: %v", err)
	}
	if got := again.Predict(future[:1])[0].YHat; got != preds[0].YHat {
		t.Errorf("fixed seed should be reproducible: %v != %v", got, preds[0].YHat)
	}
}

// scenarioStore is one counter with 2000 hourly readings (about 3 months), full
// weather coverage, one holiday inside the range and a 24 hour forecast for
// tomorrow.
func scenarioStore(now time.Time) *fakeStore {
	s := newFakeStore()
	s.bikes["c1"] = readingSeries("c1", historyStart, 2000)
	s.weather = weatherSeries(historyStart, 2000)
	s.holidays = []calendar.Holiday{{Date: time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), Name: "test", Year: 2025}}
	s.forecast = weatherSeries(weather.TomorrowUTC(now), 24)
	return s
}

func TestPredictorEndToEnd(t *testing.T) {
	now := historyStart.Add(2000 * time.Hour)
	s := scenarioStore(now)

	report, err := NewPredictor(s, DefaultModels(), nil, zerolog.Nop()).Run(context.Background(), []string{"c1"}, now)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	for _, table := range []string{TableProphet, TableXGBoost} {
		rows := s.written[table]
		if len(rows) != 24 {
			t.Fatalf("%s: %d rows, want 24", table, len(rows))
		}
		if report.Persisted[table] != 24 {
			t.Errorf("%s: report says %d rows", table, report.Persisted[table])
		}
		for i, r := range rows {
			want := weather.TomorrowUTC(now).Add(time.Duration(i) * time.Hour)
			if r.CounterID != "c1" || !r.Timestamp.Equal(want) {
				t.Errorf("%s row %d = %s@%v, want c1@%v", table, i, r.CounterID, r.Timestamp, want)
			}
		}
	}

	for _, r := range s.written[TableProphet] {
		if r.YHatLower == nil || r.YHatUpper == nil {
			t.Fatal("additive predictions must carry bounds")
		}
		if !(*r.YHatLower <= r.YHat && r.YHat <= *r.YHatUpper) {
			t.Errorf("bounds violated: %v <= %v <= %v", *r.YHatLower, r.YHat, *r.YHatUpper)
		}
	}
}

type spyModel struct {
	fits int
}

func (m *spyModel) Name() string  { return "spy" }
func (m *spyModel) Table() string { return "spy_table" }
func (m *spyModel) Fit(ctx context.Context, counterID string, rows []FeatureRow) (Fitted, error) {
	m.fits++
	return nil, errors.New("not implemented")
}

func TestPredictorEmptyForecastFailsBeforeTraining(t *testing.T) {
	now := historyStart.Add(2000 * time.Hour)
	s := scenarioStore(now)
	s.forecast = weatherSeries(historyStart, 48) // stale feed

	spy := &spyModel{}
	counters := []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9", "c10"}
	_, err := NewPredictor(s, []Model{spy}, nil, zerolog.Nop()).Run(context.Background(), counters, now)

	var emptyErr *weather.EmptyForecastError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("expected EmptyForecastError, got %v", err)
	}
	if spy.fits != 0 || s.bikeCalls != 0 {
		t.Errorf("no counter should be touched: fits=%d bike loads=%d", spy.fits, s.bikeCalls)
	}
}

func TestPredictorMissingSharedData(t *testing.T) {
	now := historyStart.Add(2000 * time.Hour)

	tests := []struct {
		name  string
		setup func(*fakeStore)
		table string
	}{
		{"no weather history", func(s *fakeStore) { s.weather = nil }, TableWeatherHourly},
		{"no holidays", func(s *fakeStore) { s.holidays = nil }, TableHolidays},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := scenarioStore(now)
			tt.setup(s)
			_, err := NewPredictor(s, DefaultModels(), nil, zerolog.Nop()).Run(context.Background(), []string{"c1"}, now)
			var missing *MissingSourceDataError
			if !errors.As(err, &missing) || missing.Table != tt.table {
				t.Fatalf("expected MissingSourceDataError for %s, got %v", tt.table, err)
			}
			if !strings.Contains(err.Error(), tt.table) {
				t.Errorf("message %q should name the table", err.Error())
			}
		})
	}
}

func TestPredictorSkipsCountersAndIsolatesTables(t *testing.T) {
	now := historyStart.Add(2000 * time.Hour)
	s := scenarioStore(now)
	s.bikes["short"] = readingSeries("short", historyStart, 50) // trains A, skips B
	s.failTables[TableProphet] = errors.New("connection reset")

	var published []Batch
	pub := publisherFunc(func(ctx context.Context, b Batch) error {
		published = append(published, b)
		return nil
	})

	report, err := NewPredictor(s, DefaultModels(), pub, zerolog.Nop()).Run(context.Background(), []string{"missing", "short", "c1"}, now)
	if err == nil || !strings.Contains(err.Error(), TableProphet) {
		t.Fatalf("expected persist error naming %s, got %v", TableProphet, err)
	}
	if got := len(s.written[TableXGBoost]); got != 24 {
		t.Errorf("%s rows = %d, want 24 (c1 only)", TableXGBoost, got)
	}
	if got := report.Skipped[ModelXGBoost]; len(got) != 2 || got[0] != "missing" || got[1] != "short" {
		t.Errorf("xgboost skipped = %v, want [missing short]", got)
	}
	if got := report.Skipped[ModelProphet]; len(got) != 1 || got[0] != "missing" {
		t.Errorf("prophet skipped = %v, want [missing]", got)
	}
	if len(published) != 1 || published[0].Table != TableXGBoost || published[0].RunID != report.RunID {
		t.Errorf("unexpected published batches %+v", published)
	}
}

type publisherFunc func(ctx context.Context, b Batch) error

func (f publisherFunc) Publish(ctx context.Context, b Batch) error { return f(ctx, b) }

func TestPredictionJSONUsesNaiveUTC(t *testing.T) {
	lower, upper := 1.0, 3.0
	p := Prediction{
		CounterID: "c",
		Timestamp: time.Date(2025, 4, 11, 2, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
		YHat:      2,
		YHatLower: &lower,
		YHatUpper: &upper,
	}
	b, err := p.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	if !strings.Contains(string(b), `"timestamp_utc":"2025-04-11T00:00:00"`) {
		t.Errorf("unexpected json %s", b)
	}
}
