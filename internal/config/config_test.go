package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "DATABASE_URL", "REDIS_URL", "PORT", "HTTP_TIMEOUT", "SELECTED_COUNTERS",
		"DEFAULT_LAT", "DEFAULT_LON", "DATA_DIR", "HISTORY_START", "HOLIDAY_ZONE",
		"HOLIDAY_START_YEAR", "HOLIDAY_REFRESH_CUTOFF", "FORECAST_DAYS", "PIPELINE_RUN_AT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.SelectedCounters) != 10 || cfg.SelectedCounters[0] != DefaultCounters[0] {
		t.Errorf("SelectedCounters = %v", cfg.SelectedCounters)
	}
	if cfg.Location.Lat != 43.6 || cfg.Location.Lon != 3.88 {
		t.Errorf("Location = %+v", cfg.Location)
	}
	if cfg.HistoryStart != time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("HistoryStart = %v", cfg.HistoryStart)
	}
	if cfg.HolidayCutoff.Month != time.December || cfg.HolidayCutoff.Day != 30 {
		t.Errorf("HolidayCutoff = %+v", cfg.HolidayCutoff)
	}
	if cfg.HTTPTimeout != 30*time.Second || cfg.ForecastDays != 3 || cfg.Port != "8080" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !errors.Is(cfg.RequireDatabase(), ErrDatabaseURLRequired) {
		t.Error("RequireDatabase should fail without DATABASE_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SELECTED_COUNTERS", " a, b ,,c")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("HOLIDAY_REFRESH_CUTOFF", "12-15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if strings.Join(cfg.SelectedCounters, "|") != "a|b|c" {
		t.Errorf("SelectedCounters = %v", cfg.SelectedCounters)
	}
	if cfg.HolidayCutoff.Day != 15 {
		t.Errorf("HolidayCutoff = %+v", cfg.HolidayCutoff)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Errorf("RequireDatabase: %v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"HTTP_TIMEOUT":       "soon",
		"DEFAULT_LAT":        "north",
		"FORECAST_DAYS":      "1",
		"HISTORY_START":      "01/01/2023",
		"APP_ENV":            "staging",
		"PIPELINE_RUN_AT":    "5am",
		"HOLIDAY_START_YEAR": "twenty",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", key, value)
			}
		})
	}
}
