// Package pipeline sequences the daily job: optional resets, the API to CSV
// ETL, the CSV to store history reload, the forecast update and the prediction
// run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/config"
	"github.com/i474232898/bike-traffic-forecast/internal/dataset"
	"github.com/i474232898/bike-traffic-forecast/internal/forecast"
	"github.com/i474232898/bike-traffic-forecast/internal/store"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

// Bulk write sizes.
const (
	HistoryChunkSize  = 2000
	ForecastChunkSize = 500
	RegistryPageSize  = 100
)

// CounterRegistry lists counters and serves their hourly intensities.
type CounterRegistry interface {
	FetchAllCounters(ctx context.Context, limit int) ([]traffic.Counter, error)
	FetchTimeseries(ctx context.Context, counterID string, start, end time.Time) ([]traffic.HourlyReading, error)
}

// HolidayCalendar returns the public holidays of a range of years.
type HolidayCalendar interface {
	FetchRange(ctx context.Context, startYear, endYear int, zone string) ([]calendar.Holiday, error)
}

// Deps are the collaborators of a Pipeline. Publisher and Models are optional.
type Deps struct {
	Store     store.Store
	Registry  CounterRegistry
	Holidays  HolidayCalendar
	Forecast  weather.ForecastProvider
	History   weather.HistoryProvider
	Publisher forecast.Publisher
	Models    []forecast.Model
}

// Options select the optional stages of Run.
type Options struct {
	ResetAll         bool
	ResetPredictions bool
	ReloadHistory    bool
	ETL              bool
}

// Pipeline runs the stages against one store.
type Pipeline struct {
	cfg       *config.AppConfig
	store     store.Store
	registry  CounterRegistry
	holidays  HolidayCalendar
	weather   *weather.Service
	predictor *forecast.Predictor
	paths     dataset.Paths
	log       zerolog.Logger
}

// New wires a Pipeline from cfg and deps.
func New(cfg *config.AppConfig, deps Deps, log zerolog.Logger) *Pipeline {
	models := deps.Models
	if len(models) == 0 {
		models = forecast.DefaultModels()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     deps.Store,
		registry:  deps.Registry,
		holidays:  deps.Holidays,
		weather:   weather.NewService(chunkedForecastStore{deps.Store}, deps.Forecast, deps.History, cfg.Location, cfg.ForecastDays, log),
		predictor: forecast.NewPredictor(deps.Store, models, deps.Publisher, log),
		paths:     dataset.Paths{Root: cfg.DataDir},
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the selected stages in order and always finishes with the
// forecast update and the prediction run. The holiday refresh rule is
// evaluated once, against now.
func (p *Pipeline) Run(ctx context.Context, opts Options, now time.Time) (forecast.RunReport, error) {
	now = now.UTC()
	refresh := calendar.ShouldRefreshHolidays(now, p.cfg.HolidayCutoff)
	p.log.Info().
		Bool("reset_all", opts.ResetAll).
		Bool("reset_predictions", opts.ResetPredictions).
		Bool("reload_history", opts.ReloadHistory).
		Bool("etl", opts.ETL).
		Bool("refresh_holidays", refresh).
		Msg("pipeline started")

	switch {
	case opts.ResetAll:
		if err := p.Reset(ctx, store.AllTables); err != nil {
			return forecast.RunReport{}, err
		}
	case opts.ResetPredictions:
		if err := p.Reset(ctx, store.PredictionTables); err != nil {
			return forecast.RunReport{}, err
		}
	}

	if opts.ETL {
		if err := p.RunETL(ctx, now, refresh); err != nil {
			return forecast.RunReport{}, err
		}
	}
	if opts.ReloadHistory {
		if err := p.ReloadHistory(ctx, refresh); err != nil {
			return forecast.RunReport{}, err
		}
	}

	if _, err := p.UpdateForecast(ctx, now); err != nil {
		return forecast.RunReport{}, err
	}
	report, err := p.Predict(ctx, now)
	if err != nil {
		return report, err
	}
	p.log.Info().Str("run_id", report.RunID).Interface("persisted", report.Persisted).Msg("pipeline finished")
	return report, nil
}

// Reset deletes every row of the given tables.
func (p *Pipeline) Reset(ctx context.Context, tables []string) error {
	for _, table := range tables {
		n, err := p.store.DeleteAll(ctx, table)
		if err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
		p.log.Info().Str("table", table).Int64("rows", n).Msg("table cleared")
	}
	return nil
}

// UpdateForecast stores the 24 forecast hours of tomorrow.
func (p *Pipeline) UpdateForecast(ctx context.Context, now time.Time) ([]weather.HourlyWeather, error) {
	return p.weather.UpdateForecast(ctx, now)
}

// Predict trains both variants for the selected counters and stores tomorrow's
// predictions.
func (p *Pipeline) Predict(ctx context.Context, now time.Time) (forecast.RunReport, error) {
	return p.predictor.Run(ctx, p.cfg.SelectedCounters, now)
}
