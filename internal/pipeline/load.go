package pipeline

import (
	"context"
	"fmt"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/dataset"
	"github.com/i474232898/bike-traffic-forecast/internal/store"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

// ReloadHistory clears the history tables and reloads them from the registry
// and the processed CSV files. Holidays are reloaded when the refresh rule
// fired or the table is still empty.
func (p *Pipeline) ReloadHistory(ctx context.Context, refreshHolidays bool) error {
	tables := []string{store.TableBikeHourly, store.TableWeatherHourly, store.TableCounters}
	if refreshHolidays {
		tables = append(tables, store.TableHolidays)
	}
	if err := p.Reset(ctx, tables); err != nil {
		return err
	}

	if _, err := p.LoadCounters(ctx); err != nil {
		return err
	}
	if _, err := p.LoadWeatherHistory(ctx); err != nil {
		return err
	}
	if _, err := p.LoadBikeHistory(ctx); err != nil {
		return err
	}

	if !refreshHolidays {
		existing, err := p.store.ListHolidays(ctx)
		if err != nil {
			return fmt.Errorf("list holidays: %w", err)
		}
		if len(existing) > 0 {
			p.log.Info().Int("rows", len(existing)).Msg("holidays reload skipped, already loaded")
			return nil
		}
	}
	_, err := p.LoadHolidays(ctx)
	return err
}

// LoadCounters fetches the registry and upserts the selected counters.
func (p *Pipeline) LoadCounters(ctx context.Context) (common.UpsertResult, error) {
	all, err := p.registry.FetchAllCounters(ctx, RegistryPageSize)
	if err != nil {
		return common.UpsertResult{}, fmt.Errorf("fetch counters: %w", err)
	}
	selected := traffic.FilterSelected(all, p.cfg.SelectedCounters)
	if len(selected) < len(p.cfg.SelectedCounters) {
		p.log.Warn().
			Int("selected", len(p.cfg.SelectedCounters)).
			Int("found", len(selected)).
			Msg("some selected counters are missing from the registry")
	}
	res, err := p.store.UpsertCounters(ctx, selected)
	if err != nil {
		return res, fmt.Errorf("upsert counters: %w", err)
	}
	p.logResult(res)
	return res, nil
}

// LoadBikeHistory upserts the processed readings file.
func (p *Pipeline) LoadBikeHistory(ctx context.Context) (common.UpsertResult, error) {
	rows, err := dataset.ReadReadings(p.paths.Processed(dataset.BikeProcessedFile))
	if err != nil {
		return common.UpsertResult{}, fmt.Errorf("read readings: %w", err)
	}
	res, err := upsertChunks(ctx, store.TableBikeHourly, rows, HistoryChunkSize, p.store.UpsertBikeHourly)
	if err != nil {
		return res, err
	}
	p.logResult(res)
	return res, nil
}

// LoadWeatherHistory upserts the processed weather file.
func (p *Pipeline) LoadWeatherHistory(ctx context.Context) (common.UpsertResult, error) {
	rows, err := dataset.ReadWeather(p.paths.Processed(dataset.WeatherProcessedFile))
	if err != nil {
		return common.UpsertResult{}, fmt.Errorf("read weather: %w", err)
	}
	res, err := upsertChunks(ctx, store.TableWeatherHourly, rows, HistoryChunkSize, p.store.UpsertWeatherHourly)
	if err != nil {
		return res, err
	}
	p.logResult(res)
	return res, nil
}

// LoadHolidays upserts the processed holidays file.
func (p *Pipeline) LoadHolidays(ctx context.Context) (common.UpsertResult, error) {
	rows, err := dataset.ReadHolidays(p.paths.Processed(dataset.HolidaysProcessedFile))
	if err != nil {
		return common.UpsertResult{}, fmt.Errorf("read holidays: %w", err)
	}
	res, err := p.store.UpsertHolidays(ctx, rows)
	if err != nil {
		return res, fmt.Errorf("upsert holidays: %w", err)
	}
	p.logResult(res)
	return res, nil
}

func (p *Pipeline) logResult(res common.UpsertResult) {
	p.log.Info().Str("table", res.Table).Str("status", res.Status).Int("rows", res.Count).Msg("table loaded")
}

// upsertChunks writes rows in slices of at most size and sums the counts.
func upsertChunks[T any](ctx context.Context, table string, rows []T, size int, write func(context.Context, []T) (common.UpsertResult, error)) (common.UpsertResult, error) {
	total := 0
	for _, chunk := range common.Chunks(rows, size) {
		res, err := write(ctx, chunk)
		if err != nil {
			return common.UpsertResult{}, fmt.Errorf("upsert %s (%d rows written): %w", table, total, err)
		}
		total += res.Count
	}
	return common.NewUpsertResult(table, total), nil
}

// chunkedForecastStore splits forecast writes into ForecastChunkSize batches.
type chunkedForecastStore struct {
	store store.Store
}

func (s chunkedForecastStore) UpsertWeatherForecast(ctx context.Context, rows []weather.HourlyWeather) (common.UpsertResult, error) {
	return upsertChunks(ctx, store.TableWeatherForecast, rows, ForecastChunkSize, s.store.UpsertWeatherForecast)
}
