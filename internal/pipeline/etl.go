package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/dataset"
	"github.com/i474232898/bike-traffic-forecast/internal/providers"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
)

// RunETL rebuilds the raw and processed CSV files from the upstream APIs. The
// holidays are only fetched when refreshHolidays is set or no holidays file
// exists yet.
func (p *Pipeline) RunETL(ctx context.Context, now time.Time, refreshHolidays bool) error {
	if _, err := p.BikeETL(ctx, now); err != nil {
		return err
	}
	if _, err := p.WeatherETL(ctx, now); err != nil {
		return err
	}
	if _, err := os.Stat(p.paths.Processed(dataset.HolidaysProcessedFile)); err == nil && !refreshHolidays {
		p.log.Info().Msg("holidays etl skipped, refresh cutoff not reached")
		return nil
	}
	_, err := p.HolidaysETL(ctx, now, refreshHolidays)
	return err
}

// BikeETL fetches the selected counters one calendar year at a time from
// HistoryStart to now. A chunk the registry fails to serve is logged and
// counted as empty.
func (p *Pipeline) BikeETL(ctx context.Context, now time.Time) ([]traffic.HourlyReading, error) {
	chunks := traffic.YearChunks(p.cfg.HistoryStart, common.TruncateHour(now))

	var raw []traffic.HourlyReading
	for _, id := range p.cfg.SelectedCounters {
		log := p.log.With().Str("counter_id", id).Logger()
		for _, chunk := range chunks {
			rows, err := p.registry.FetchTimeseries(ctx, id, chunk.Start, chunk.End)
			if err != nil {
				var apiErr *providers.UpstreamAPIError
				if !errors.As(err, &apiErr) {
					return nil, fmt.Errorf("fetch counter %s: %w", id, err)
				}
				log.Warn().Err(err).
					Str("start", common.FormatUTC(chunk.Start)).
					Str("end", common.FormatUTC(chunk.End)).
					Msg("chunk skipped")
				continue
			}
			if missing := chunkHours(chunk) - len(rows); missing > 0 {
				log.Info().
					Str("start", common.FormatUTC(chunk.Start)).
					Int("rows", len(rows)).
					Int("hours_without_intensity", missing).
					Msg("chunk has gaps")
			}
			raw = append(raw, rows...)
		}
	}

	if err := dataset.WriteReadings(p.paths.Raw(dataset.BikeRawFile), raw); err != nil {
		return nil, fmt.Errorf("write raw readings: %w", err)
	}
	processed := traffic.NormalizeReadings(raw)
	if err := dataset.WriteReadings(p.paths.Processed(dataset.BikeProcessedFile), processed); err != nil {
		return nil, fmt.Errorf("write processed readings: %w", err)
	}
	p.log.Info().Int("raw_rows", len(raw)).Int("rows", len(processed)).Msg("bike etl done")
	return processed, nil
}

// chunkHours is the number of whole hours in a closed chunk.
func chunkHours(r traffic.TimeRange) int {
	return int(r.End.Sub(r.Start)/time.Hour) + 1
}

// WeatherETL fetches the observed weather archive from HistoryStart to today.
func (p *Pipeline) WeatherETL(ctx context.Context, now time.Time) (int, error) {
	rows, err := p.weather.FetchHistory(ctx, p.cfg.HistoryStart, now.UTC().Truncate(24*time.Hour))
	if err != nil {
		return 0, err
	}
	if err := dataset.WriteWeather(p.paths.Raw(dataset.WeatherRawFile), rows); err != nil {
		return 0, fmt.Errorf("write raw weather: %w", err)
	}
	if err := dataset.WriteWeather(p.paths.Processed(dataset.WeatherProcessedFile), rows); err != nil {
		return 0, fmt.Errorf("write processed weather: %w", err)
	}
	p.log.Info().Int("rows", len(rows)).Msg("weather etl done")
	return len(rows), nil
}

// HolidaysETL fetches the holidays from HolidayStartYear to the current year,
// or through the coming year when the refresh rule fired.
func (p *Pipeline) HolidaysETL(ctx context.Context, now time.Time, refreshHolidays bool) (int, error) {
	endYear := now.UTC().Year()
	if refreshHolidays {
		endYear++
	}
	rows, err := p.holidays.FetchRange(ctx, p.cfg.HolidayStartYear, endYear, p.cfg.HolidayZone)
	if err != nil {
		return 0, fmt.Errorf("fetch holidays: %w", err)
	}
	if err := dataset.WriteHolidays(p.paths.Raw(dataset.HolidaysRawFile), rows); err != nil {
		return 0, fmt.Errorf("write raw holidays: %w", err)
	}
	if err := dataset.WriteHolidays(p.paths.Processed(dataset.HolidaysProcessedFile), rows); err != nil {
		return 0, fmt.Errorf("write processed holidays: %w", err)
	}
	p.log.Info().Int("rows", len(rows)).Int("end_year", endYear).Msg("holidays etl done")
	return len(rows), nil
}
