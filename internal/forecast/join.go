package forecast

import (
	"math"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

// FeatureNames is the column order of FeatureRow.Vector.
var FeatureNames = []string{
	"hour",
	"day_of_week",
	"is_holiday",
	"temperature_2m",
	"relative_humidity_2m",
	"precipitation",
	"wind_speed_10m",
}

// FeatureRow is one hourly slot with its calendar features, its weather and,
// for training rows, the observed intensity.
type FeatureRow struct {
	Timestamp time.Time
	Target    *float64 // nil on prediction rows
	calendar.Features

	Temperature   *float64
	Humidity      *float64
	Precipitation *float64
	WindSpeed     *float64
}

// HasRegressors reports whether every weather regressor is present. Calendar
// features are always present.
func (r FeatureRow) HasRegressors() bool {
	return r.Temperature != nil && r.Humidity != nil && r.Precipitation != nil && r.WindSpeed != nil
}

// Vector returns the regressors in FeatureNames order. Missing weather values
// are NaN.
func (r FeatureRow) Vector() []float64 {
	return []float64{
		float64(r.Hour),
		float64(r.DayOfWeek),
		float64(r.IsHoliday),
		valueOrNaN(r.Temperature),
		valueOrNaN(r.Humidity),
		valueOrNaN(r.Precipitation),
		valueOrNaN(r.WindSpeed),
	}
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// WeatherIndex looks up the city-wide weather by exact UTC hour. It is built once
// per run and shared by every counter.
type WeatherIndex struct {
	byHour map[int64]weather.HourlyWeather
}

// NewWeatherIndex indexes series by exact timestamp. The first row of a
// timestamp wins.
func NewWeatherIndex(series []weather.HourlyWeather) WeatherIndex {
	byHour := make(map[int64]weather.HourlyWeather, len(series))
	for _, w := range series {
		k := w.Timestamp.UTC().Unix()
		if _, dup := byHour[k]; dup {
			continue
		}
		byHour[k] = w
	}
	return WeatherIndex{byHour: byHour}
}

// Lookup returns the weather stamped exactly ts, if any. There is no
// nearest-hour fallback.
func (ix WeatherIndex) Lookup(ts time.Time) (weather.HourlyWeather, bool) {
	w, ok := ix.byHour[ts.UTC().Unix()]
	return w, ok
}

// Len returns the number of indexed hours.
func (ix WeatherIndex) Len() int {
	return len(ix.byHour)
}

func newFeatureRow(ts time.Time, w weather.HourlyWeather, holidays calendar.HolidaySet) FeatureRow {
	return FeatureRow{
		Timestamp:     ts.UTC(),
		Features:      calendar.DeriveFeatures(ts, holidays),
		Temperature:   w.Temperature,
		Humidity:      w.Humidity,
		Precipitation: w.Precipitation,
		WindSpeed:     w.WindSpeed,
	}
}

// JoinReadings left-joins one counter's readings with the weather index on the
// exact hour and with the holiday set on the UTC date. It returns exactly one row
// per reading, in reading order; hours without weather keep nil weather fields.
func JoinReadings(readings []traffic.HourlyReading, index WeatherIndex, holidays calendar.HolidaySet) []FeatureRow {
	rows := make([]FeatureRow, len(readings))
	for i, r := range readings {
		w, _ := index.Lookup(r.Timestamp)
		row := newFeatureRow(r.Timestamp, w, holidays)
		y := float64(r.Intensity)
		row.Target = &y
		rows[i] = row
	}
	return rows
}

// JoinForecast builds the prediction rows of a forecast window. Rows keep nil
// weather fields where the window has gaps.
func JoinForecast(window []weather.HourlyWeather, holidays calendar.HolidaySet) []FeatureRow {
	rows := make([]FeatureRow, len(window))
	for i, w := range window {
		rows[i] = newFeatureRow(w.Timestamp, w, holidays)
	}
	return rows
}

// CompleteRows keeps the training rows that have a target and every regressor.
func CompleteRows(rows []FeatureRow) []FeatureRow {
	out := make([]FeatureRow, 0, len(rows))
	for _, r := range rows {
		if r.Target != nil && r.HasRegressors() {
			out = append(out, r)
		}
	}
	return out
}
