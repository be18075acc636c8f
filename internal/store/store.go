// Package store persists the counters, readings, weather, holidays and
// predictions tables.
package store

import (
	"context"
	"errors"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/forecast"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

// Table names.
const (
	TableCounters        = "counters"
	TableBikeHourly      = "bike_hourly"
	TableWeatherHourly   = forecast.TableWeatherHourly
	TableWeatherForecast = forecast.TableWeatherForecast
	TableHolidays        = forecast.TableHolidays
	TableProphet         = forecast.TableProphet
	TableXGBoost         = forecast.TableXGBoost
)

// AllTables lists every table in reset order, derived tables first.
var AllTables = []string{
	TableProphet,
	TableXGBoost,
	TableWeatherForecast,
	TableBikeHourly,
	TableWeatherHourly,
	TableHolidays,
	TableCounters,
}

// PredictionTables are cleared together with the forecast on a predictions reset.
var PredictionTables = []string{TableWeatherForecast, TableProphet, TableXGBoost}

var (
	// ErrUnknownTable is returned for a table name this store does not manage.
	ErrUnknownTable = errors.New("unknown table")
)

// Store is the persistence adapter. Every upsert is idempotent on the table's
// unique key.
type Store interface {
	Migrate(ctx context.Context) error
	Close()

	UpsertCounters(ctx context.Context, rows []traffic.Counter) (common.UpsertResult, error)
	UpsertBikeHourly(ctx context.Context, rows []traffic.HourlyReading) (common.UpsertResult, error)
	UpsertWeatherHourly(ctx context.Context, rows []weather.HourlyWeather) (common.UpsertResult, error)
	UpsertWeatherForecast(ctx context.Context, rows []weather.HourlyWeather) (common.UpsertResult, error)
	UpsertHolidays(ctx context.Context, rows []calendar.Holiday) (common.UpsertResult, error)
	ReplacePredictions(ctx context.Context, table string, rows []forecast.Prediction) (common.UpsertResult, error)
	DeleteAll(ctx context.Context, table string) (int64, error)

	ListCounters(ctx context.Context) ([]traffic.Counter, error)
	ListBikeHourly(ctx context.Context, counterID string) ([]traffic.HourlyReading, error)
	ListWeatherHourly(ctx context.Context) ([]weather.HourlyWeather, error)
	ListWeatherForecast(ctx context.Context) ([]weather.HourlyWeather, error)
	ListHolidays(ctx context.Context) ([]calendar.Holiday, error)
	ListPredictions(ctx context.Context, table, counterID string) ([]forecast.Prediction, error)
}

func isPredictionTable(table string) bool {
	return table == TableProphet || table == TableXGBoost
}

func knownTable(table string) bool {
	for _, t := range AllTables {
		if t == table {
			return true
		}
	}
	return false
}
