// Package dataset reads and writes the CSV files produced by the ETL and
// consumed by the history loaders.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/common"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

// File names under the raw/ and processed/ directories.
const (
	BikeRawFile           = "bike_selected_hourly_raw.csv"
	BikeProcessedFile     = "bike_selected_hourly_processed.csv"
	WeatherRawFile        = "weather_hourly_raw.csv"
	WeatherProcessedFile  = "weather_hourly_processed.csv"
	HolidaysRawFile       = "holidays_raw.csv"
	HolidaysProcessedFile = "holidays_processed.csv"
)

// ErrMissingColumn is returned when a required column has none of its accepted
// names in the header.
var ErrMissingColumn = errors.New("missing column")

// Paths resolves data files under a root directory.
type Paths struct {
	Root string
}

func (p Paths) Raw(name string) string       { return filepath.Join(p.Root, "raw", name) }
func (p Paths) Processed(name string) string { return filepath.Join(p.Root, "processed", name) }

// header maps lower-cased column names to their index.
type header map[string]int

func newHeader(cols []string) header {
	h := make(header, len(cols))
	for i, c := range cols {
		h[strings.ToLower(strings.TrimSpace(c))] = i
	}
	return h
}

// find returns the index of the first accepted name present in the header.
func (h header) find(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i, true
		}
	}
	return -1, false
}

func (h header) require(path string, names ...string) (int, error) {
	i, ok := h.find(names...)
	if !ok {
		return -1, fmt.Errorf("%s: %w %s", path, ErrMissingColumn, strings.Join(names, "|"))
	}
	return i, nil
}

func readAll(path string) (header, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	cols, err := r.Read()
	if err == io.EOF {
		return header{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return newHeader(cols), records, nil
}

// writeAll writes the header and records; a failed close is reported.
func writeAll(path string, cols []string, records [][]string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return err
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func optionalFloat(s string) (*float64, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// WriteReadings writes counter_id,timestamp_utc,intensity rows.
func WriteReadings(path string, rows []traffic.HourlyReading) error {
	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = []string{r.CounterID, common.FormatUTC(r.Timestamp), strconv.Itoa(r.Intensity)}
	}
	return writeAll(path, []string{"counter_id", "timestamp_utc", "intensity"}, records)
}

// ReadReadings reads a bike CSV. The timestamp column may be timestamp_utc or
// timestamp, the counter column counter_id, ecocounter_id or eco_id. Rows are
// normalised: one per (counter, hour), sorted.
func ReadReadings(path string) ([]traffic.HourlyReading, error) {
	h, records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	tsCol, err := h.require(path, "timestamp_utc", "timestamp")
	if err != nil {
		return nil, err
	}
	idCol, err := h.require(path, "counter_id", "ecocounter_id", "eco_id")
	if err != nil {
		return nil, err
	}
	intensityCol, err := h.require(path, "intensity")
	if err != nil {
		return nil, err
	}

	rows := make([]traffic.HourlyReading, 0, len(records))
	for n, rec := range records {
		ts, err := common.ParseUTC(cell(rec, tsCol))
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: timestamp: %w", path, n+2, err)
		}
		v, err := strconv.ParseFloat(cell(rec, intensityCol), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: intensity: %w", path, n+2, err)
		}
		rows = append(rows, traffic.HourlyReading{
			CounterID: cell(rec, idCol),
			Timestamp: ts,
			Intensity: int(v),
		})
	}
	return traffic.NormalizeReadings(rows), nil
}

var weatherColumns = []string{"timestamp_utc", "temperature_2m", "relative_humidity_2m", "precipitation", "wind_speed_10m"}

// WriteWeather writes hourly weather rows; missing values are empty cells.
func WriteWeather(path string, rows []weather.HourlyWeather) error {
	records := make([][]string, len(rows))
	for i, w := range rows {
		records[i] = []string{
			common.FormatUTC(w.Timestamp),
			formatOptional(w.Temperature),
			formatOptional(w.Humidity),
			formatOptional(w.Precipitation),
			formatOptional(w.WindSpeed),
		}
	}
	return writeAll(path, weatherColumns, records)
}

// ReadWeather reads a weather CSV. Short column names (temperature, humidity,
// wind_speed) are accepted; a column absent from the file reads as null.
func ReadWeather(path string) ([]weather.HourlyWeather, error) {
	h, records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	tsCol, err := h.require(path, "timestamp_utc", "timestamp")
	if err != nil {
		return nil, err
	}
	cols := [4]int{}
	cols[0], _ = h.find("temperature_2m", "temperature")
	cols[1], _ = h.find("relative_humidity_2m", "humidity")
	cols[2], _ = h.find("precipitation")
	cols[3], _ = h.find("wind_speed_10m", "wind_speed")

	rows := make([]weather.HourlyWeather, 0, len(records))
	for n, rec := range records {
		ts, err := common.ParseUTC(cell(rec, tsCol))
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: timestamp: %w", path, n+2, err)
		}
		var values [4]*float64
		for k, c := range cols {
			v, err := optionalFloat(cell(rec, c))
			if err != nil {
				return nil, fmt.Errorf("%s: line %d: %s: %w", path, n+2, weatherColumns[k+1], err)
			}
			values[k] = v
		}
		rows = append(rows, weather.HourlyWeather{
			Timestamp:     ts,
			Temperature:   values[0],
			Humidity:      values[1],
			Precipitation: values[2],
			WindSpeed:     values[3],
		})
	}
	return weather.NormalizeSeries(rows), nil
}

// WriteHolidays writes date,name,year rows.
func WriteHolidays(path string, rows []calendar.Holiday) error {
	records := make([][]string, len(rows))
	for i, h := range rows {
		records[i] = []string{h.Key(), h.Name, strconv.Itoa(h.Year)}
	}
	return writeAll(path, []string{"date", "name", "year"}, records)
}

// ReadHolidays reads a date,name,year CSV. A missing year is taken from the date.
func ReadHolidays(path string) ([]calendar.Holiday, error) {
	h, records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	dateCol, err := h.require(path, "date")
	if err != nil {
		return nil, err
	}
	nameCol, err := h.require(path, "name")
	if err != nil {
		return nil, err
	}
	yearCol, _ := h.find("year")

	rows := make([]calendar.Holiday, 0, len(records))
	for n, rec := range records {
		raw := cell(rec, dateCol)
		if len(raw) > len(common.DateLayout) {
			raw = raw[:len(common.DateLayout)]
		}
		d, err := time.Parse(common.DateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: date: %w", path, n+2, err)
		}
		year := d.Year()
		if s := cell(rec, yearCol); s != "" {
			if year, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("%s: line %d: year: %w", path, n+2, err)
			}
		}
		rows = append(rows, calendar.Holiday{Date: d, Name: cell(rec, nameCol), Year: year})
	}
	return rows, nil
}
