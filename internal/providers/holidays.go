package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/common"
)

const holidaysBaseURL = "https://calendrier.api.gouv.fr/jours-feries"

// HolidaysProvider reads public holidays from the French government calendar API.
type HolidaysProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewHolidaysProvider(client *http.Client) *HolidaysProvider {
	return &HolidaysProvider{
		name:    "holidays",
		baseURL: holidaysBaseURL,
		httpCfg: DefaultHTTPConfig(client),
		circuit: newCircuitBreaker("holidays"),
	}
}

// WithBaseURL points the provider at another host; used by tests.
func (p *HolidaysProvider) WithBaseURL(baseURL string) *HolidaysProvider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

func (p *HolidaysProvider) Name() string {
	return p.name
}

// FetchYear returns the holidays of one year for zone, sorted by date.
func (p *HolidaysProvider) FetchYear(ctx context.Context, zone string, year int) ([]calendar.Holiday, error) {
	endpoint := fmt.Sprintf("%s/%s/%d.json", p.baseURL, url.PathEscape(zone), year)

	var payload map[string]string
	if err := getJSON(ctx, p.name, p.httpCfg, p.circuit, endpoint, &payload); err != nil {
		return nil, err
	}

	out := make([]calendar.Holiday, 0, len(payload))
	for raw, name := range payload {
		d, err := time.Parse(common.DateLayout, raw)
		if err != nil {
			return nil, &UpstreamAPIError{Source: p.name, Err: fmt.Errorf("parse date %q: %w", raw, err)}
		}
		out = append(out, calendar.Holiday{Date: d, Name: name, Year: d.Year()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// FetchRange returns the holidays of every year in [startYear, endYear].
func (p *HolidaysProvider) FetchRange(ctx context.Context, startYear, endYear int, zone string) ([]calendar.Holiday, error) {
	var all []calendar.Holiday
	for year := startYear; year <= endYear; year++ {
		hs, err := p.FetchYear(ctx, zone, year)
		if err != nil {
			return nil, err
		}
		all = append(all, hs...)
	}
	return all, nil
}
