package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

const (
	openMeteoForecastURL = "https://api.open-meteo.com/v1/forecast"
	openMeteoArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"

	openMeteoHourlyVars = "temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m"
)

// OpenMeteoProvider serves both the hourly forecast and the hourly archive of
// Open-Meteo. It implements weather.ForecastProvider and weather.HistoryProvider.
type OpenMeteoProvider struct {
	name        string
	forecastURL string
	archiveURL  string
	httpCfg     HTTPClientConfig
	circuit     *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:        "openmeteo",
		forecastURL: openMeteoForecastURL,
		archiveURL:  openMeteoArchiveURL,
		httpCfg:     DefaultHTTPConfig(client),
		circuit:     newCircuitBreaker("openmeteo"),
	}
}

// WithBaseURLs points the provider at other endpoints; used by tests.
func (p *OpenMeteoProvider) WithBaseURLs(forecastURL, archiveURL string) *OpenMeteoProvider {
	p.forecastURL = forecastURL
	p.archiveURL = archiveURL
	return p
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

// openMeteoHourly mirrors the parallel arrays of the "hourly" block. Values are
// pointers because the API sends null for hours it has no data for.
type openMeteoHourly struct {
	Time          []string   `json:"time"`
	Temperature   []*float64 `json:"temperature_2m"`
	Humidity      []*float64 `json:"relative_humidity_2m"`
	Precipitation []*float64 `json:"precipitation"`
	WindSpeed     []*float64 `json:"wind_speed_10m"`
}

type openMeteoResponse struct {
	Hourly openMeteoHourly `json:"hourly"`
}

// FetchHourlyForecast returns the raw multi-day hourly forecast feed.
func (p *OpenMeteoProvider) FetchHourlyForecast(ctx context.Context, loc weather.Location, days int) ([]weather.HourlyWeather, error) {
	values := p.baseQuery(loc)
	values.Set("forecast_days", strconv.Itoa(days))

	var payload openMeteoResponse
	if err := getJSON(ctx, p.name, p.httpCfg, p.circuit, p.forecastURL+"?"+values.Encode(), &payload); err != nil {
		return nil, err
	}
	return p.decodeHourly(payload.Hourly)
}

// FetchHourlyHistory returns observed hourly weather for the inclusive date
// range [start, end].
func (p *OpenMeteoProvider) FetchHourlyHistory(ctx context.Context, loc weather.Location, start, end time.Time) ([]weather.HourlyWeather, error) {
	values := p.baseQuery(loc)
	values.Set("start_date", start.UTC().Format(common.DateLayout))
	values.Set("end_date", end.UTC().Format(common.DateLayout))

	var payload openMeteoResponse
	if err := getJSON(ctx, p.name, p.httpCfg, p.circuit, p.archiveURL+"?"+values.Encode(), &payload); err != nil {
		return nil, err
	}
	return p.decodeHourly(payload.Hourly)
}

func (p *OpenMeteoProvider) baseQuery(loc weather.Location) url.Values {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	values.Set("hourly", openMeteoHourlyVars)
	values.Set("timezone", "UTC")
	return values
}

func (p *OpenMeteoProvider) decodeHourly(h openMeteoHourly) ([]weather.HourlyWeather, error) {
	rows := make([]weather.HourlyWeather, 0, len(h.Time))
	for i, raw := range h.Time {
		ts, err := common.ParseUTC(raw)
		if err != nil {
			return nil, &UpstreamAPIError{Source: p.name, Err: fmt.Errorf("parse time %q: %w", raw, err)}
		}
		rows = append(rows, weather.HourlyWeather{
			Timestamp:     ts,
			Temperature:   at(h.Temperature, i),
			Humidity:      at(h.Humidity, i),
			Precipitation: at(h.Precipitation, i),
			WindSpeed:     at(h.WindSpeed, i),
		})
	}
	return rows, nil
}

// at tolerates arrays shorter than the time axis.
func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
