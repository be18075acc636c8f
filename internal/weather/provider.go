package weather

import (
	"context"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
)

// ForecastProvider returns a multi-day hourly forecast feed in UTC.
type ForecastProvider interface {
	Name() string
	FetchHourlyForecast(ctx context.Context, loc Location, days int) ([]HourlyWeather, error)
}

// HistoryProvider returns observed hourly weather between two dates (inclusive).
type HistoryProvider interface {
	Name() string
	FetchHourlyHistory(ctx context.Context, loc Location, start, end time.Time) ([]HourlyWeather, error)
}

// ForecastStore persists the selected forecast window.
type ForecastStore interface {
	UpsertWeatherForecast(ctx context.Context, rows []HourlyWeather) (common.UpsertResult, error)
}
