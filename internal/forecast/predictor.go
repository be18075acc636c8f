package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/metrics"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

// Source tables read by a prediction run.
const (
	TableWeatherHourly   = "weather_hourly"
	TableHolidays        = "holidays"
	TableWeatherForecast = "weather_forecast_hourly"
)

// Store is what a prediction run reads from and writes to.
type Store interface {
	ListWeatherHourly(ctx context.Context) ([]weather.HourlyWeather, error)
	ListWeatherForecast(ctx context.Context) ([]weather.HourlyWeather, error)
	ListHolidays(ctx context.Context) ([]calendar.Holiday, error)
	ListBikeHourly(ctx context.Context, counterID string) ([]traffic.HourlyReading, error)
	ReplacePredictions(ctx context.Context, table string, rows []Prediction) (common.UpsertResult, error)
}

// Batch is the persisted output of one model variant in one run.
type Batch struct {
	RunID string       `json:"run_id"`
	Model string       `json:"model"`
	Table string       `json:"table"`
	Rows  []Prediction `json:"rows"`
}

// Publisher announces persisted batches.
type Publisher interface {
	Publish(ctx context.Context, batch Batch) error
}

// RunReport summarises a prediction run.
type RunReport struct {
	RunID     string
	Target    time.Time           // first hour of the forecast window
	Persisted map[string]int      // table -> rows written
	Skipped   map[string][]string // model -> counter ids
}

// Predictor trains every model for every counter and persists one batch per
// model.
type Predictor struct {
	store     Store
	models    []Model
	publisher Publisher
	log       zerolog.Logger
}

// NewPredictor creates a Predictor. publisher may be nil.
func NewPredictor(store Store, models []Model, publisher Publisher, log zerolog.Logger) *Predictor {
	return &Predictor{
		store:     store,
		models:    models,
		publisher: publisher,
		log:       log.With().Str("component", "predictor").Logger(),
	}
}

// DefaultModels returns the additive and the boosted tree variants with their
// default settings.
func DefaultModels() []Model {
	return []Model{
		NewAdditiveModel(DefaultAdditiveConfig()),
		NewBoostedTrees(DefaultBoostedConfig()),
	}
}

// shared holds the read-only inputs reused by every counter.
type shared struct {
	index    WeatherIndex
	holidays calendar.HolidaySet
	future   []FeatureRow
	target   time.Time
}

// Run predicts tomorrow (relative to now, UTC) for counterIDs. Shared inputs are
// loaded and checked before any model is trained; an error there aborts the run.
// Per-counter failures are logged and skipped. Persisting one model's batch does
// not depend on the other; their errors are joined.
func (p *Predictor) Run(ctx context.Context, counterIDs []string, now time.Time) (RunReport, error) {
	started := time.Now()
	defer func() { metrics.RunDuration.Observe(time.Since(started).Seconds()) }()

	report := RunReport{
		RunID:     uuid.NewString(),
		Persisted: make(map[string]int),
		Skipped:   make(map[string][]string),
	}
	log := p.log.With().Str("run_id", report.RunID).Logger()

	in, err := p.loadShared(ctx, now)
	if err != nil {
		return report, err
	}
	report.Target = in.target
	log.Info().
		Int("weather_hours", in.index.Len()).
		Int("holidays", in.holidays.Len()).
		Time("target", in.target).
		Int("counters", len(counterIDs)).
		Msg("shared inputs loaded")

	batches := make(map[string][]Prediction, len(p.models))
	for _, id := range counterIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		clog := log.With().Str("counter_id", id).Logger()

		readings, err := p.store.ListBikeHourly(ctx, id)
		if err != nil {
			clog.Warn().Err(err).Msg("skipping counter: cannot load bike history")
			p.skipAll(&report, id, metrics.OutcomeFailed)
			continue
		}
		if len(readings) == 0 {
			clog.Warn().Msg("skipping counter: no bike data in bike_hourly")
			p.skipAll(&report, id, metrics.OutcomeSkipped)
			continue
		}

		rows := JoinReadings(readings, in.index, in.holidays)
		clog.Info().Int("readings", len(readings)).Int("complete_rows", len(CompleteRows(rows))).Msg("training set built")

		for _, m := range p.models {
			preds, err := p.fitAndPredict(ctx, m, id, rows, in.future)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return report, ctxErr
				}
				var empty *EmptyTrainingSetError
				var short *InsufficientTrainingRowsError
				outcome := metrics.OutcomeFailed
				if errors.As(err, &empty) || errors.As(err, &short) {
					outcome = metrics.OutcomeSkipped
				}
				clog.Warn().Err(err).Str("model", m.Name()).Msg("skipping counter for model")
				metrics.CountersProcessed.WithLabelValues(m.Name(), outcome).Inc()
				report.Skipped[m.Name()] = append(report.Skipped[m.Name()], id)
				continue
			}
			if dropped := len(in.future) - len(preds); dropped > 0 {
				clog.Warn().Str("model", m.Name()).Int("dropped", dropped).Msg("forecast hours without weather were not predicted")
			}
			metrics.CountersProcessed.WithLabelValues(m.Name(), metrics.OutcomeTrained).Inc()
			batches[m.Name()] = append(batches[m.Name()], preds...)
		}
	}

	var errs []error
	for _, m := range p.models {
		if err := p.persist(ctx, log, report.RunID, m, batches[m.Name()], &report); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (p *Predictor) loadShared(ctx context.Context, now time.Time) (shared, error) {
	history, err := p.store.ListWeatherHourly(ctx)
	if err != nil {
		return shared{}, fmt.Errorf("load %s: %w", TableWeatherHourly, err)
	}
	if len(history) == 0 {
		return shared{}, &MissingSourceDataError{Table: TableWeatherHourly}
	}

	holidays, err := p.store.ListHolidays(ctx)
	if err != nil {
		return shared{}, fmt.Errorf("load %s: %w", TableHolidays, err)
	}
	if len(holidays) == 0 {
		return shared{}, &MissingSourceDataError{Table: TableHolidays}
	}

	feed, err := p.store.ListWeatherForecast(ctx)
	if err != nil {
		return shared{}, fmt.Errorf("load %s: %w", TableWeatherForecast, err)
	}
	window, err := weather.SelectTomorrowWindow(feed, now)
	if err != nil {
		return shared{}, err
	}

	hs := calendar.NewHolidaySet(holidays)
	return shared{
		index:    NewWeatherIndex(history),
		holidays: hs,
		future:   JoinForecast(window, hs),
		target:   weather.TomorrowUTC(now),
	}, nil
}

func (p *Predictor) fitAndPredict(ctx context.Context, m Model, counterID string, rows, future []FeatureRow) ([]Prediction, error) {
	fitted, err := m.Fit(ctx, counterID, rows)
	if err != nil {
		return nil, err
	}
	return fitted.Predict(future), nil
}

func (p *Predictor) skipAll(report *RunReport, counterID, outcome string) {
	for _, m := range p.models {
		metrics.CountersProcessed.WithLabelValues(m.Name(), outcome).Inc()
		report.Skipped[m.Name()] = append(report.Skipped[m.Name()], counterID)
	}
}

func (p *Predictor) persist(ctx context.Context, log zerolog.Logger, runID string, m Model, rows []Prediction, report *RunReport) error {
	if len(rows) == 0 {
		log.Warn().Str("model", m.Name()).Str("table", m.Table()).Msg("no predictions produced for any counter")
		return nil
	}

	res, err := p.store.ReplacePredictions(ctx, m.Table(), rows)
	if err != nil {
		return fmt.Errorf("persist %s predictions into %s: %w", m.Name(), m.Table(), err)
	}
	report.Persisted[m.Table()] = res.Count
	metrics.PredictionsStored.WithLabelValues(m.Table()).Add(float64(res.Count))
	log.Info().Str("model", m.Name()).Str("table", res.Table).Int("rows", res.Count).Msg("predictions stored")

	if p.publisher == nil {
		return nil
	}
	batch := Batch{RunID: runID, Model: m.Name(), Table: m.Table(), Rows: rows}
	if err := p.publisher.Publish(ctx, batch); err != nil {
		log.Warn().Err(err).Str("table", m.Table()).Msg("publish predictions failed")
		return nil
	}
	metrics.PredictionsPublished.Inc()
	return nil
}
