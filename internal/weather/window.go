package weather

import (
	"fmt"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
)

// WindowHours is the number of hourly slots in a forecast window.
const WindowHours = 24

// EmptyForecastError means the feed has no row for the target day, usually
// because the upstream forecast has not been refreshed yet.
type EmptyForecastError struct {
	Date string
}

func (e *EmptyForecastError) Error() string {
	return fmt.Sprintf("no forecast rows for %s (UTC) in weather_forecast_hourly", e.Date)
}

// TomorrowUTC returns 00:00 UTC of the day after now's UTC date.
func TomorrowUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// SelectTomorrowWindow returns exactly the 24 hourly slots of tomorrow (UTC),
// 00:00 to 23:00. The slots are built from the clock, not from the feed, and the
// feed is left-joined onto them: an hour missing from the feed becomes a row with
// nil values instead of disappearing.
func SelectTomorrowWindow(feed []HourlyWeather, now time.Time) ([]HourlyWeather, error) {
	start := TomorrowUTC(now)

	byHour := make(map[int64]HourlyWeather, len(feed))
	for _, r := range feed {
		byHour[r.Timestamp.UTC().Unix()] = r
	}

	window := make([]HourlyWeather, WindowHours)
	matched := 0
	for i := range window {
		ts := start.Add(time.Duration(i) * time.Hour)
		row, ok := byHour[ts.Unix()]
		if ok {
			matched++
		}
		row.Timestamp = ts
		window[i] = row
	}

	if matched == 0 {
		return nil, &EmptyForecastError{Date: start.Format(common.DateLayout)}
	}
	return window, nil
}
