package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Service fetches the city-wide weather series and keeps the forecast table
// pointed at tomorrow.
type Service struct {
	store    ForecastStore
	forecast ForecastProvider
	history  HistoryProvider
	loc      Location
	days     int
	log      zerolog.Logger
}

// NewService creates a new Service. days is the forecast horizon requested from
// the provider; it must cover tomorrow, so values below 2 are raised to 2.
func NewService(store ForecastStore, forecast ForecastProvider, history HistoryProvider, loc Location, days int, log zerolog.Logger) *Service {
	if days < 2 {
		days = 2
	}
	return &Service{
		store:    store,
		forecast: forecast,
		history:  history,
		loc:      loc,
		days:     days,
		log:      log.With().Str("component", "weather").Logger(),
	}
}

// UpdateForecast fetches the raw forecast feed, keeps the 24 slots of tomorrow
// and upserts them into the forecast table. Slots the feed did not cover are
// stored with null values.
func (s *Service) UpdateForecast(ctx context.Context, now time.Time) ([]HourlyWeather, error) {
	feed, err := s.forecast.FetchHourlyForecast(ctx, s.loc, s.days)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast from %s: %w", s.forecast.Name(), err)
	}
	feed = NormalizeSeries(feed)

	window, err := SelectTomorrowWindow(feed, now)
	if err != nil {
		return nil, err
	}

	missing := 0
	for _, r := range window {
		if !r.Complete() {
			missing++
		}
	}
	s.log.Info().
		Int("feed_rows", len(feed)).
		Int("window_rows", len(window)).
		Int("incomplete_rows", missing).
		Time("tomorrow", TomorrowUTC(now)).
		Msg("forecast window selected")

	res, err := s.store.UpsertWeatherForecast(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("store forecast window: %w", err)
	}
	s.log.Info().Str("table", res.Table).Int("rows", res.Count).Msg("forecast window stored")
	return window, nil
}

// FetchHistory returns observed hourly weather between start and end. Failures
// are returned as is: the history is shared by every counter.
func (s *Service) FetchHistory(ctx context.Context, start, end time.Time) ([]HourlyWeather, error) {
	rows, err := s.history.FetchHourlyHistory(ctx, s.loc, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch weather history from %s: %w", s.history.Name(), err)
	}
	rows = NormalizeSeries(rows)
	s.log.Info().
		Str("start", start.Format("2006-01-02")).
		Str("end", end.Format("2006-01-02")).
		Int("rows", len(rows)).
		Msg("weather history fetched")
	return rows, nil
}
