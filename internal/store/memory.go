package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/forecast"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

type readingKey struct {
	counterID string
	unix      int64
}

// MemoryStore is a concurrency-safe in-memory Store with the same keys and
// upsert semantics as Postgres. It backs tests and dry runs.
type MemoryStore struct {
	mu sync.RWMutex

	counters    map[string]traffic.Counter
	bikes       map[readingKey]traffic.HourlyReading
	weather     map[string]map[int64]weather.HourlyWeather // table -> hour -> row
	holidays    map[string]calendar.Holiday
	predictions map[string]map[readingKey]forecast.Prediction // table -> key -> row
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]traffic.Counter),
		bikes:    make(map[readingKey]traffic.HourlyReading),
		weather: map[string]map[int64]weather.HourlyWeather{
			TableWeatherHourly:   {},
			TableWeatherForecast: {},
		},
		holidays: make(map[string]calendar.Holiday),
		predictions: map[string]map[readingKey]forecast.Prediction{
			TableProphet: {},
			TableXGBoost: {},
		},
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) UpsertCounters(ctx context.Context, rows []traffic.Counter) (common.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range rows {
		s.counters[c.ID] = c
	}
	return common.NewUpsertResult(TableCounters, len(rows)), nil
}

func (s *MemoryStore) UpsertBikeHourly(ctx context.Context, rows []traffic.HourlyReading) (common.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Timestamp = r.Timestamp.UTC()
		s.bikes[readingKey{r.CounterID, r.Timestamp.Unix()}] = r
	}
	return common.NewUpsertResult(TableBikeHourly, len(rows)), nil
}

func (s *MemoryStore) upsertWeather(table string, rows []weather.HourlyWeather) common.UpsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range rows {
		w.Timestamp = w.Timestamp.UTC()
		s.weather[table][w.Timestamp.Unix()] = w
	}
	return common.NewUpsertResult(table, len(rows))
}

func (s *MemoryStore) UpsertWeatherHourly(ctx context.Context, rows []weather.HourlyWeather) (common.UpsertResult, error) {
	return s.upsertWeather(TableWeatherHourly, rows), nil
}

func (s *MemoryStore) UpsertWeatherForecast(ctx context.Context, rows []weather.HourlyWeather) (common.UpsertResult, error) {
	return s.upsertWeather(TableWeatherForecast, rows), nil
}

func (s *MemoryStore) UpsertHolidays(ctx context.Context, rows []calendar.Holiday) (common.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range rows {
		s.holidays[h.Key()] = h
	}
	return common.NewUpsertResult(TableHolidays, len(rows)), nil
}

// ReplacePredictions drops the stored predictions of the batch's counters over
// the batch's time span, then writes rows.
func (s *MemoryStore) ReplacePredictions(ctx context.Context, table string, rows []forecast.Prediction) (common.UpsertResult, error) {
	if !isPredictionTable(table) {
		return common.UpsertResult{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(rows) == 0 {
		return common.NewUpsertResult(table, 0), nil
	}

	counters, from, to := predictionSpan(rows)
	inBatch := make(map[string]struct{}, len(counters))
	for _, id := range counters {
		inBatch[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.predictions[table]
	for k, p := range stored {
		if _, ok := inBatch[k.counterID]; ok && !p.Timestamp.Before(from) && !p.Timestamp.After(to) {
			delete(stored, k)
		}
	}
	for _, p := range rows {
		p.Timestamp = p.Timestamp.UTC()
		if table == TableXGBoost {
			p.YHatLower, p.YHatUpper = nil, nil
		}
		stored[readingKey{p.CounterID, p.Timestamp.Unix()}] = p
	}
	return common.NewUpsertResult(table, len(rows)), nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	switch table {
	case TableCounters:
		n = len(s.counters)
		s.counters = make(map[string]traffic.Counter)
	case TableBikeHourly:
		n = len(s.bikes)
		s.bikes = make(map[readingKey]traffic.HourlyReading)
	case TableWeatherHourly, TableWeatherForecast:
		n = len(s.weather[table])
		s.weather[table] = make(map[int64]weather.HourlyWeather)
	case TableHolidays:
		n = len(s.holidays)
		s.holidays = make(map[string]calendar.Holiday)
	case TableProphet, TableXGBoost:
		n = len(s.predictions[table])
		s.predictions[table] = make(map[readingKey]forecast.Prediction)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return int64(n), nil
}

func (s *MemoryStore) ListCounters(ctx context.Context) ([]traffic.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]traffic.Counter, 0, len(s.counters))
	for _, c := range s.counters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListBikeHourly(ctx context.Context, counterID string) ([]traffic.HourlyReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []traffic.HourlyReading
	for k, r := range s.bikes {
		if k.counterID == counterID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) listWeather(table string) []weather.HourlyWeather {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]weather.HourlyWeather, 0, len(s.weather[table]))
	for _, w := range s.weather[table] {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (s *MemoryStore) ListWeatherHourly(ctx context.Context) ([]weather.HourlyWeather, error) {
	return s.listWeather(TableWeatherHourly), nil
}

func (s *MemoryStore) ListWeatherForecast(ctx context.Context) ([]weather.HourlyWeather, error) {
	return s.listWeather(TableWeatherForecast), nil
}

func (s *MemoryStore) ListHolidays(ctx context.Context) ([]calendar.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]calendar.Holiday, 0, len(s.holidays))
	for _, h := range s.holidays {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) ListPredictions(ctx context.Context, table, counterID string) ([]forecast.Prediction, error) {
	if !isPredictionTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []forecast.Prediction
	for k, p := range s.predictions[table] {
		if counterID == "" || k.counterID == counterID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CounterID != out[j].CounterID {
			return out[i].CounterID < out[j].CounterID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Len returns the number of rows in table; tests use it to check idempotence.
func (s *MemoryStore) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch table {
	case TableCounters:
		return len(s.counters)
	case TableBikeHourly:
		return len(s.bikes)
	case TableWeatherHourly, TableWeatherForecast:
		return len(s.weather[table])
	case TableHolidays:
		return len(s.holidays)
	case TableProphet, TableXGBoost:
		return len(s.predictions[table])
	}
	return 0
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*Postgres)(nil)
)
