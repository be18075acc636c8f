package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
)

const ecoCounterBaseURL = "https://portail-api-data.montpellier3m.fr"

// DefaultCounterPageSize is the page size used when walking the registry.
const DefaultCounterPageSize = 1000

// EcoCounterProvider reads the counter registry and the hourly intensity series
// from the city open data portal.
type EcoCounterProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewEcoCounterProvider(client *http.Client) *EcoCounterProvider {
	return &EcoCounterProvider{
		name:    "ecocounter",
		baseURL: ecoCounterBaseURL,
		httpCfg: DefaultHTTPConfig(client),
		circuit: newCircuitBreaker("ecocounter"),
	}
}

// WithBaseURL points the provider at another host; used by tests.
func (p *EcoCounterProvider) WithBaseURL(baseURL string) *EcoCounterProvider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

func (p *EcoCounterProvider) Name() string {
	return p.name
}

// ngsiCounter is the NGSI entity shape of the registry.
type ngsiCounter struct {
	ID   string `json:"id"`
	Name struct {
		Value *string `json:"value"`
	} `json:"name"`
	Location struct {
		Value struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"value"`
	} `json:"location"`
}

// FetchAllCounters walks the registry page by page until an empty page.
func (p *EcoCounterProvider) FetchAllCounters(ctx context.Context, limit int) ([]traffic.Counter, error) {
	if limit <= 0 {
		limit = DefaultCounterPageSize
	}

	var counters []traffic.Counter
	for offset := 0; ; offset += limit {
		values := url.Values{}
		values.Set("limit", strconv.Itoa(limit))
		values.Set("offset", strconv.Itoa(offset))

		var page []ngsiCounter
		if err := getJSON(ctx, p.name, p.httpCfg, p.circuit, p.baseURL+"/ecocounter?"+values.Encode(), &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			counters = append(counters, toCounter(e))
		}
	}
	return counters, nil
}

func toCounter(e ngsiCounter) traffic.Counter {
	c := traffic.Counter{ID: e.ID, Name: e.Name.Value}
	if coords := e.Location.Value.Coordinates; len(coords) >= 2 {
		lon, lat := coords[0], coords[1]
		c.Lon = &lon
		c.Lat = &lat
	}
	return c
}

type timeseriesResponse struct {
	EntityID string     `json:"entityId"`
	Index    []string   `json:"index"`
	Values   []*float64 `json:"values"`
}

// FetchTimeseries returns the hourly intensity of one counter between start and
// end. An empty series yields no rows and no error. Hours whose intensity is
// null are left out rather than read as zero traffic.
func (p *EcoCounterProvider) FetchTimeseries(ctx context.Context, counterID string, start, end time.Time) ([]traffic.HourlyReading, error) {
	values := url.Values{}
	values.Set("fromDate", start.UTC().Format(common.TimestampLayout))
	values.Set("toDate", end.UTC().Format(common.TimestampLayout))

	endpoint := fmt.Sprintf("%s/ecocounter_timeseries/%s/attrs/intensity?%s",
		p.baseURL, url.PathEscape(counterID), values.Encode())

	var payload timeseriesResponse
	if err := getJSON(ctx, p.name, p.httpCfg, p.circuit, endpoint, &payload); err != nil {
		return nil, err
	}

	n := min(len(payload.Index), len(payload.Values))
	readings := make([]traffic.HourlyReading, 0, n)
	for i := 0; i < n; i++ {
		if payload.Values[i] == nil {
			continue
		}
		ts, err := common.ParseUTC(payload.Index[i])
		if err != nil {
			return nil, &UpstreamAPIError{Source: p.name, Err: fmt.Errorf("counter %s: parse index %q: %w", counterID, payload.Index[i], err)}
		}
		readings = append(readings, traffic.HourlyReading{
			CounterID: counterID,
			Timestamp: ts,
			Intensity: int(*payload.Values[i]),
		})
	}
	return readings, nil
}
