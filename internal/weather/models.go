package weather

import (
	"encoding/json"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
)

// Location is the point the city-wide weather series is fetched for.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// HourlyWeather is one hour of the city-wide weather series. It is used both for
// observations (weather_hourly) and forecasts (weather_forecast_hourly). A nil
// field means the value is missing.
type HourlyWeather struct {
	Timestamp     time.Time `db:"timestamp_utc" json:"timestamp_utc"` // always UTC, on the hour
	Temperature   *float64  `db:"temperature_2m" json:"temperature_2m"`
	Humidity      *float64  `db:"relative_humidity_2m" json:"relative_humidity_2m"`
	Precipitation *float64  `db:"precipitation" json:"precipitation"`
	WindSpeed     *float64  `db:"wind_speed_10m" json:"wind_speed_10m"`
}

// Complete reports whether every weather value is present.
func (w HourlyWeather) Complete() bool {
	return w.Temperature != nil && w.Humidity != nil && w.Precipitation != nil && w.WindSpeed != nil
}

// Float returns a pointer to v. Handy for literals in tests and decoders.
func Float(v float64) *float64 {
	return &v
}

// MarshalJSON writes the timestamp in the naive UTC layout.
func (w HourlyWeather) MarshalJSON() ([]byte, error) {
	type alias HourlyWeather
	return json.Marshal(struct {
		Timestamp string `json:"timestamp_utc"`
		alias
	}{
		Timestamp: common.FormatUTC(w.Timestamp),
		alias:     alias(w),
	})
}
