package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadReadingsAcceptsAliases(t *testing.T) {
	path := writeFile(t, "timestamp,intensity,ecocounter_id\n"+
		"2024-01-01T01:00:00+00:00,12.0,urn:b\n"+
		"2024-01-01T00:00:00,5,urn:b\n"+
		"2024-01-01 00:00:00,99,urn:b\n"+
		"2024-01-01T00:00:00,7,urn:a\n")

	rows, err := ReadReadings(path)
	if err != nil {
		t.Fatalf("ReadReadings error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3 (duplicate dropped)", len(rows))
	}
	if rows[0].CounterID != "urn:a" || rows[1].Intensity != 5 || rows[2].Intensity != 12 {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestReadReadingsMissingColumn(t *testing.T) {
	path := writeFile(t, "timestamp_utc,counter_id\n2024-01-01T00:00:00,a\n")
	if _, err := ReadReadings(path); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestReadWeatherRenamesAndNulls(t *testing.T) {
	path := writeFile(t, "timestamp,temperature,humidity,wind_speed\n"+
		"2024-01-01T00:00:00,3.5,,12\n")

	rows, err := ReadWeather(path)
	if err != nil {
		t.Fatalf("ReadWeather error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.Temperature == nil || *r.Temperature != 3.5 || r.WindSpeed == nil || *r.WindSpeed != 12 {
		t.Errorf("renamed columns not read: %+v", r)
	}
	if r.Humidity != nil || r.Precipitation != nil {
		t.Errorf("empty and absent columns should be nil: %+v", r)
	}
}

func TestWriteThenRead(t *testing.T) {
	p := Paths{Root: t.TempDir()}
	ts := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)

	readings := []traffic.HourlyReading{{CounterID: "a", Timestamp: ts, Intensity: 42}}
	if err := WriteReadings(p.Processed(BikeProcessedFile), readings); err != nil {
		t.Fatalf("WriteReadings error: %v", err)
	}
	gotReadings, err := ReadReadings(p.Processed(BikeProcessedFile))
	if err != nil || len(gotReadings) != 1 || !gotReadings[0].Timestamp.Equal(ts) {
		t.Errorf("readings = %+v, err = %v", gotReadings, err)
	}

	ws := []weather.HourlyWeather{{Timestamp: ts, Temperature: weather.Float(21.5)}}
	if err := WriteWeather(p.Raw(WeatherRawFile), ws); err != nil {
		t.Fatalf("WriteWeather error: %v", err)
	}
	raw, _ := os.ReadFile(p.Raw(WeatherRawFile))
	want := "timestamp_utc,temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m\n2024-06-01T13:00:00,21.5,,,\n"
	if string(raw) != want {
		t.Errorf("weather csv = %q, want %q", raw, want)
	}

	hs := []calendar.Holiday{{Date: time.Date(2024, 7, 14, 0, 0, 0, 0, time.UTC), Name: "14 juillet", Year: 2024}}
	if err := WriteHolidays(p.Processed(HolidaysProcessedFile), hs); err != nil {
		t.Fatalf("WriteHolidays error: %v", err)
	}
	gotHolidays, err := ReadHolidays(p.Processed(HolidaysProcessedFile))
	if err != nil || len(gotHolidays) != 1 || gotHolidays[0].Key() != "2024-07-14" || gotHolidays[0].Name != "14 juillet" {
		t.Errorf("holidays = %+v, err = %v", gotHolidays, err)
	}
}

func TestWriteAllReportsUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "raw")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	readings := []traffic.HourlyReading{{CounterID: "a", Timestamp: time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC), Intensity: 1}}
	if err := WriteReadings(filepath.Join(blocker, "bikes.csv"), readings); err == nil {
		t.Fatal("expected error when the parent is a file")
	}
}

func TestWriteAllFlushesEveryRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bikes.csv")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var readings []traffic.HourlyReading
	for i := 0; i < 500; i++ {
		readings = append(readings, traffic.HourlyReading{CounterID: "a", Timestamp: base.Add(time.Duration(i) * time.Hour), Intensity: i})
	}
	if err := WriteReadings(path, readings); err != nil {
		t.Fatalf("WriteReadings error: %v", err)
	}
	got, err := ReadReadings(path)
	if err != nil {
		t.Fatalf("ReadReadings error: %v", err)
	}
	if len(got) != len(readings) || got[len(got)-1].Intensity != 499 {
		t.Errorf("read back %d readings, want %d", len(got), len(readings))
	}
}
