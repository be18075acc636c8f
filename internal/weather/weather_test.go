package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
)

func hourlyFeed(start time.Time, hours int) []HourlyWeather {
	feed := make([]HourlyWeather, 0, hours)
	for i := 0; i < hours; i++ {
		feed = append(feed, HourlyWeather{
			Timestamp:     start.Add(time.Duration(i) * time.Hour),
			Temperature:   Float(10 + float64(i%24)),
			Humidity:      Float(60),
			Precipitation: Float(0),
			WindSpeed:     Float(12),
		})
	}
	return feed
}

func TestSelectTomorrowWindowAlwaysReturns24Rows(t *testing.T) {
	now := time.Date(2025, 4, 10, 17, 42, 0, 0, time.UTC)
	today := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)

	tests := []struct {
		name        string
		feed        []HourlyWeather
		wantMissing int
	}{
		{"exactly tomorrow", hourlyFeed(tomorrow, 24), 0},
		{"three days", hourlyFeed(today, 72), 0},
		{"partial tomorrow", hourlyFeed(tomorrow.Add(6*time.Hour), 10), 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, err := SelectTomorrowWindow(tt.feed, now)
			if err != nil {
				t.Fatalf("SelectTomorrowWindow error: %v", err)
			}
			if len(window) != WindowHours {
				t.Fatalf("len(window) = %d, want %d", len(window), WindowHours)
			}
			missing := 0
			for i, r := range window {
				want := tomorrow.Add(time.Duration(i) * time.Hour)
				if !r.Timestamp.Equal(want) {
					t.Errorf("slot %d timestamp = %v, want %v", i, r.Timestamp, want)
				}
				if !r.Complete() {
					missing++
					if r.Temperature != nil || r.WindSpeed != nil {
						t.Errorf("slot %d should have nil values, got %+v", i, r)
					}
				}
			}
			if missing != tt.wantMissing {
				t.Errorf("missing slots = %d, want %d", missing, tt.wantMissing)
			}
		})
	}
}

func TestSelectTomorrowWindowEmptyFeed(t *testing.T) {
	now := time.Date(2025, 4, 10, 17, 0, 0, 0, time.UTC)

	for _, feed := range [][]HourlyWeather{nil, hourlyFeed(time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), 24)} {
		_, err := SelectTomorrowWindow(feed, now)
		var emptyErr *EmptyForecastError
		if !errors.As(err, &emptyErr) {
			t.Fatalf("expected EmptyForecastError, got %v", err)
		}
		if emptyErr.Date != "2025-04-11" {
			t.Errorf("Date = %q, want 2025-04-11", emptyErr.Date)
		}
	}
}

func TestSelectTomorrowWindowAcrossMonthEnd(t *testing.T) {
	now := time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC)
	if got := TomorrowUTC(now); !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("TomorrowUTC = %v, want 2024-03-01", got)
	}

	// Local time already on March 1st must not shift the UTC day.
	local := time.Date(2024, 3, 1, 0, 30, 0, 0, time.FixedZone("UTC+1", 3600))
	if got := TomorrowUTC(local); !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("TomorrowUTC(local) = %v, want 2024-03-01", got)
	}
}

func TestNormalizeSeries(t *testing.T) {
	base := time.Date(2025, 1, 1, 5, 0, 0, 0, time.UTC)
	rows := []HourlyWeather{
		{Timestamp: base.Add(time.Hour), Temperature: Float(2)},
		{Timestamp: base.Add(20 * time.Minute), Temperature: Float(1)},
		{Timestamp: base, Temperature: Float(99)},
	}
	rows = append(rows, HourlyWeather{Timestamp: base, Temperature: Float(3)})

	got := NormalizeSeries(rows)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].Timestamp.Equal(base) || *got[0].Temperature != 99 {
		t.Errorf("first = %+v, want hour %v with temperature 99", got[0], base)
	}
	if !got[1].Timestamp.Equal(base.Add(20*time.Minute)) {
		t.Errorf("second = %+v, want the off-hour row left in place", got[1])
	}
}

func TestSelectTomorrowWindowIgnoresOffHourRows(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tomorrow := TomorrowUTC(now)
	feed := []HourlyWeather{
		{Timestamp: tomorrow.Add(30 * time.Minute), Temperature: Float(5)},
		{Timestamp: tomorrow.Add(time.Hour), Temperature: Float(6)},
	}

	window, err := SelectTomorrowWindow(feed, now)
	if err != nil {
		t.Fatalf("SelectTomorrowWindow error: %v", err)
	}
	if window[0].Temperature != nil {
		t.Errorf("00:00 slot = %v, want nil: 00:30 must not match it", *window[0].Temperature)
	}
	if window[1].Temperature == nil || *window[1].Temperature != 6 {
		t.Errorf("01:00 slot = %+v, want temperature 6", window[1])
	}

	if _, err := SelectTomorrowWindow(feed[:1], now); err == nil {
		t.Error("a feed with only an off-hour row matched a slot")
	}
}

type fakeForecastProvider struct {
	feed []HourlyWeather
	err  error
}

func (f fakeForecastProvider) Name() string { return "fake" }

func (f fakeForecastProvider) FetchHourlyForecast(ctx context.Context, loc Location, days int) ([]HourlyWeather, error) {
	return f.feed, f.err
}

type fakeForecastStore struct {
	rows []HourlyWeather
}

func (s *fakeForecastStore) UpsertWeatherForecast(ctx context.Context, rows []HourlyWeather) (common.UpsertResult, error) {
	s.rows = append(s.rows, rows...)
	return common.NewUpsertResult("weather_forecast_hourly", len(rows)), nil
}

func TestServiceUpdateForecast(t *testing.T) {
	now := time.Date(2025, 4, 10, 6, 0, 0, 0, time.UTC)
	today := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

	t.Run("stores the 24 slot window", func(t *testing.T) {
		store := &fakeForecastStore{}
		svc := NewService(store, fakeForecastProvider{feed: hourlyFeed(today, 72)}, nil, Location{Lat: 43.6, Lon: 3.88}, 3, zerolog.Nop())

		window, err := svc.UpdateForecast(context.Background(), now)
		if err != nil {
			t.Fatalf("UpdateForecast error: %v", err)
		}
		if len(window) != 24 || len(store.rows) != 24 {
			t.Errorf("window=%d stored=%d, want 24/24", len(window), len(store.rows))
		}
	})

	t.Run("stale feed stores nothing", func(t *testing.T) {
		store := &fakeForecastStore{}
		svc := NewService(store, fakeForecastProvider{feed: hourlyFeed(today, 12)}, nil, Location{}, 3, zerolog.Nop())

		_, err := svc.UpdateForecast(context.Background(), now)
		var emptyErr *EmptyForecastError
		if !errors.As(err, &emptyErr) {
			t.Fatalf("expected EmptyForecastError, got %v", err)
		}
		if len(store.rows) != 0 {
			t.Errorf("stored %d rows, want 0", len(store.rows))
		}
	})

	t.Run("provider failure is returned", func(t *testing.T) {
		svc := NewService(&fakeForecastStore{}, fakeForecastProvider{err: errors.New("boom")}, nil, Location{}, 3, zerolog.Nop())
		if _, err := svc.UpdateForecast(context.Background(), now); err == nil {
			t.Error("expected error")
		}
	})
}
