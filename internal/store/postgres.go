package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/forecast"
	"github.com/i474232898/bike-traffic-forecast/internal/metrics"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

//go:embed schema.sql
var schemaSQL string

// NewPool opens a pgx pool. Sessions run in UTC so TIMESTAMP columns hold UTC
// wall-clock values.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Postgres writes through the pgx pool (batches inside one transaction) and reads
// through sqlx on top of the same pool.
type Postgres struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
	log  zerolog.Logger
}

func NewPostgres(pool *pgxpool.Pool, log zerolog.Logger) *Postgres {
	return &Postgres{
		pool: pool,
		db:   sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"),
		log:  log.With().Str("component", "store").Logger(),
	}
}

// Close releases the sqlx handle and the pool.
func (p *Postgres) Close() {
	_ = p.db.Close()
	p.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// execBatch queues one statement per row and sends them in one transaction.
func (p *Postgres) execBatch(ctx context.Context, table, query string, n int, args func(i int) []any) (common.UpsertResult, error) {
	if n == 0 {
		return common.NewUpsertResult(table, 0), nil
	}

	batch := &pgx.Batch{}
	for i := 0; i < n; i++ {
		batch.Queue(query, args(i)...)
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return common.UpsertResult{}, fmt.Errorf("upsert %d rows into %s: %w", n, table, err)
	}

	metrics.RowsUpserted.WithLabelValues(table).Add(float64(n))
	p.log.Debug().Str("table", table).Int("rows", n).Msg("upsert done")
	return common.NewUpsertResult(table, n), nil
}

const upsertCounterSQL = `
	INSERT INTO counters (id, name, lat, lon)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		lat = EXCLUDED.lat,
		lon = EXCLUDED.lon`

func (p *Postgres) UpsertCounters(ctx context.Context, rows []traffic.Counter) (common.UpsertResult, error) {
	return p.execBatch(ctx, TableCounters, upsertCounterSQL, len(rows), func(i int) []any {
		c := rows[i]
		return []any{c.ID, c.Name, c.Lat, c.Lon}
	})
}

const upsertBikeSQL = `
	INSERT INTO bike_hourly (counter_id, timestamp_utc, intensity)
	VALUES ($1, $2, $3)
	ON CONFLICT (counter_id, timestamp_utc) DO UPDATE SET
		intensity = EXCLUDED.intensity`

func (p *Postgres) UpsertBikeHourly(ctx context.Context, rows []traffic.HourlyReading) (common.UpsertResult, error) {
	return p.execBatch(ctx, TableBikeHourly, upsertBikeSQL, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.CounterID, r.Timestamp.UTC(), r.Intensity}
	})
}

const upsertWeatherSQL = `
	INSERT INTO %s (timestamp_utc, temperature_2m, relative_humidity_2m, precipitation, wind_speed_10m)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (timestamp_utc) DO UPDATE SET
		temperature_2m = EXCLUDED.temperature_2m,
		relative_humidity_2m = EXCLUDED.relative_humidity_2m,
		precipitation = EXCLUDED.precipitation,
		wind_speed_10m = EXCLUDED.wind_speed_10m`

func (p *Postgres) upsertWeather(ctx context.Context, table string, rows []weather.HourlyWeather) (common.UpsertResult, error) {
	return p.execBatch(ctx, table, fmt.Sprintf(upsertWeatherSQL, table), len(rows), func(i int) []any {
		w := rows[i]
		return []any{w.Timestamp.UTC(), w.Temperature, w.Humidity, w.Precipitation, w.WindSpeed}
	})
}

func (p *Postgres) UpsertWeatherHourly(ctx context.Context, rows []weather.HourlyWeather) (common.UpsertResult, error) {
	return p.upsertWeather(ctx, TableWeatherHourly, rows)
}

func (p *Postgres) UpsertWeatherForecast(ctx context.Context, rows []weather.HourlyWeather) (common.UpsertResult, error) {
	return p.upsertWeather(ctx, TableWeatherForecast, rows)
}

const upsertHolidaySQL = `
	INSERT INTO holidays (date, name, year)
	VALUES ($1, $2, $3)
	ON CONFLICT (date) DO UPDATE SET
		name = EXCLUDED.name,
		year = EXCLUDED.year`

func (p *Postgres) UpsertHolidays(ctx context.Context, rows []calendar.Holiday) (common.UpsertResult, error) {
	return p.execBatch(ctx, TableHolidays, upsertHolidaySQL, len(rows), func(i int) []any {
		h := rows[i]
		return []any{h.Date, h.Name, h.Year}
	})
}

const (
	upsertProphetSQL = `
	INSERT INTO bike_predictions_hourly_prophet (counter_id, timestamp_utc, yhat, yhat_lower, yhat_upper)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (counter_id, timestamp_utc) DO UPDATE SET
		yhat = EXCLUDED.yhat,
		yhat_lower = EXCLUDED.yhat_lower,
		yhat_upper = EXCLUDED.yhat_upper`

	upsertXGBoostSQL = `
	INSERT INTO bike_predictions_hourly_xgboost (counter_id, timestamp_utc, yhat)
	VALUES ($1, $2, $3)
	ON CONFLICT (counter_id, timestamp_utc) DO UPDATE SET
		yhat = EXCLUDED.yhat`
)

// ReplacePredictions replaces, in one transaction, the predictions of the batch's
// counters over the batch's time span with rows.
func (p *Postgres) ReplacePredictions(ctx context.Context, table string, rows []forecast.Prediction) (common.UpsertResult, error) {
	if !isPredictionTable(table) {
		return common.UpsertResult{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(rows) == 0 {
		return common.NewUpsertResult(table, 0), nil
	}

	counters, from, to := predictionSpan(rows)
	batch := &pgx.Batch{}
	for _, r := range rows {
		if table == TableProphet {
			batch.Queue(upsertProphetSQL, r.CounterID, r.Timestamp.UTC(), r.YHat, r.YHatLower, r.YHatUpper)
		} else {
			batch.Queue(upsertXGBoostSQL, r.CounterID, r.Timestamp.UTC(), r.YHat)
		}
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		del := fmt.Sprintf(`DELETE FROM %s WHERE counter_id = ANY($1) AND timestamp_utc BETWEEN $2 AND $3`, table)
		if _, err := tx.Exec(ctx, del, counters, from, to); err != nil {
			return err
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return common.UpsertResult{}, fmt.Errorf("replace %d predictions in %s: %w", len(rows), table, err)
	}

	metrics.RowsUpserted.WithLabelValues(table).Add(float64(len(rows)))
	return common.NewUpsertResult(table, len(rows)), nil
}

// predictionSpan returns the distinct counters and the time span of rows.
func predictionSpan(rows []forecast.Prediction) ([]string, time.Time, time.Time) {
	seen := make(map[string]struct{})
	var counters []string
	from, to := rows[0].Timestamp.UTC(), rows[0].Timestamp.UTC()
	for _, r := range rows {
		if _, ok := seen[r.CounterID]; !ok {
			seen[r.CounterID] = struct{}{}
			counters = append(counters, r.CounterID)
		}
		ts := r.Timestamp.UTC()
		if ts.Before(from) {
			from = ts
		}
		if ts.After(to) {
			to = ts
		}
	}
	return counters, from, to
}

// DeleteAll empties table and returns the number of deleted rows.
func (p *Postgres) DeleteAll(ctx context.Context, table string) (int64, error) {
	if !knownTable(table) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	tag, err := p.pool.Exec(ctx, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("delete all from %s: %w", table, err)
	}
	p.log.Info().Str("table", table).Int64("rows", tag.RowsAffected()).Msg("table cleared")
	return tag.RowsAffected(), nil
}

func (p *Postgres) ListCounters(ctx context.Context) ([]traffic.Counter, error) {
	var rows []traffic.Counter
	if err := p.db.SelectContext(ctx, &rows, `SELECT id, name, lat, lon FROM counters ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list %s: %w", TableCounters, err)
	}
	return rows, nil
}

func (p *Postgres) ListBikeHourly(ctx context.Context, counterID string) ([]traffic.HourlyReading, error) {
	const query = `
		SELECT counter_id, timestamp_utc, intensity
		FROM bike_hourly
		WHERE counter_id = $1
		ORDER BY timestamp_utc`

	var rows []traffic.HourlyReading
	if err := p.db.SelectContext(ctx, &rows, query, counterID); err != nil {
		return nil, fmt.Errorf("list %s for counter %s: %w", TableBikeHourly, counterID, err)
	}
	return utcReadings(rows), nil
}

func (p *Postgres) listWeather(ctx context.Context, table string) ([]weather.HourlyWeather, error) {
	query := fmt.Sprintf(`
		SELECT timestamp_utc, temperature_2m, relative_humidity_2m, precipitation, wind_speed_10m
		FROM %s
		ORDER BY timestamp_utc`, table)

	var rows []weather.HourlyWeather
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	for i := range rows {
		rows[i].Timestamp = asUTC(rows[i].Timestamp)
	}
	return rows, nil
}

func (p *Postgres) ListWeatherHourly(ctx context.Context) ([]weather.HourlyWeather, error) {
	return p.listWeather(ctx, TableWeatherHourly)
}

func (p *Postgres) ListWeatherForecast(ctx context.Context) ([]weather.HourlyWeather, error) {
	return p.listWeather(ctx, TableWeatherForecast)
}

func (p *Postgres) ListHolidays(ctx context.Context) ([]calendar.Holiday, error) {
	var rows []calendar.Holiday
	if err := p.db.SelectContext(ctx, &rows, `SELECT date, name, year FROM holidays ORDER BY date`); err != nil {
		return nil, fmt.Errorf("list %s: %w", TableHolidays, err)
	}
	for i := range rows {
		rows[i].Date = asUTC(rows[i].Date)
	}
	return rows, nil
}

// ListPredictions returns the predictions of table, for one counter when
// counterID is not empty.
func (p *Postgres) ListPredictions(ctx context.Context, table, counterID string) ([]forecast.Prediction, error) {
	if !isPredictionTable(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	cols := "counter_id, timestamp_utc, yhat"
	if table == TableProphet {
		cols += ", yhat_lower, yhat_upper"
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1 = '' OR counter_id = $1)
		ORDER BY counter_id, timestamp_utc`, cols, table)

	var rows []forecast.Prediction
	if err := p.db.SelectContext(ctx, &rows, query, counterID); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	for i := range rows {
		rows[i].Timestamp = asUTC(rows[i].Timestamp)
	}
	return rows, nil
}

// asUTC reinterprets a TIMESTAMP value's wall clock as UTC.
func asUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func utcReadings(rows []traffic.HourlyReading) []traffic.HourlyReading {
	for i := range rows {
		rows[i].Timestamp = asUTC(rows[i].Timestamp)
	}
	return rows
}
