package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

// DefaultCounters are the ten Montpellier EcoCounter sensors the forecasts are
// produced for.
var DefaultCounters = []string{
	"urn:ngsi-ld:EcoCounter:X2H22043034",
	"urn:ngsi-ld:EcoCounter:X2H22043035",
	"urn:ngsi-ld:EcoCounter:X2H22104768",
	"urn:ngsi-ld:EcoCounter:X2H22104774",
	"urn:ngsi-ld:EcoCounter:X2H22104775",
	"urn:ngsi-ld:EcoCounter:X2H22104776",
	"urn:ngsi-ld:EcoCounter:X2H22104773",
	"urn:ngsi-ld:EcoCounter:X2H20042635",
	"urn:ngsi-ld:EcoCounter:X2H22104769",
	"urn:ngsi-ld:EcoCounter:X2H22104766",
}

// ErrDatabaseURLRequired is returned by RequireDatabase when DATABASE_URL is unset.
var ErrDatabaseURLRequired = errors.New("DATABASE_URL is required")

// AppConfig is loaded once at startup and passed down explicitly. Nothing reads
// the environment after Load.
type AppConfig struct {
	AppEnv      string `validate:"required,oneof=development production test"`
	DatabaseURL string
	RedisURL    string
	Port        string        `validate:"required,numeric"`
	HTTPTimeout time.Duration `validate:"gt=0"`

	SelectedCounters []string `validate:"min=1,dive,required"`
	Location         weather.Location
	DataDir          string `validate:"required"`

	HistoryStart     time.Time
	HolidayZone      string `validate:"required"`
	HolidayStartYear int    `validate:"gte=1900"`
	HolidayCutoff    calendar.RefreshCutoff
	ForecastDays     int `validate:"gte=2,lte=16"`

	// PipelineRunAt is the daily UTC run time of the serve scheduler, "HH:MM".
	PipelineRunAt string `validate:"required"`
}

var validate = validator.New()

// Load reads configuration from an optional .env file and the environment,
// applying defaults.
func Load() (*AppConfig, error) {
	// A missing .env is fine: production sets real environment variables.
	_ = godotenv.Load()

	cfg := &AppConfig{
		AppEnv:        getenvDefault("APP_ENV", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		Port:          getenvDefault("PORT", "8080"),
		DataDir:       getenvDefault("DATA_DIR", "data"),
		HolidayZone:   getenvDefault("HOLIDAY_ZONE", "metropole"),
		PipelineRunAt: getenvDefault("PIPELINE_RUN_AT", "05:00"),
	}

	var err error
	if cfg.HTTPTimeout, err = time.ParseDuration(getenvDefault("HTTP_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	if cfg.Location.Lat, err = getenvFloat("DEFAULT_LAT", 43.6); err != nil {
		return nil, err
	}
	if cfg.Location.Lon, err = getenvFloat("DEFAULT_LON", 3.88); err != nil {
		return nil, err
	}
	if cfg.HolidayStartYear, err = getenvInt("HOLIDAY_START_YEAR", 2023); err != nil {
		return nil, err
	}
	if cfg.ForecastDays, err = getenvInt("FORECAST_DAYS", 3); err != nil {
		return nil, err
	}
	if cfg.HistoryStart, err = time.Parse("2006-01-02", getenvDefault("HISTORY_START", "2023-01-01")); err != nil {
		return nil, fmt.Errorf("invalid HISTORY_START: %w", err)
	}
	if cfg.HolidayCutoff, err = calendar.ParseRefreshCutoff(getenvDefault("HOLIDAY_REFRESH_CUTOFF", "12-30")); err != nil {
		return nil, err
	}
	if _, err := time.Parse("15:04", cfg.PipelineRunAt); err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_RUN_AT: %w", err)
	}

	cfg.SelectedCounters = splitList(os.Getenv("SELECTED_COUNTERS"))
	if len(cfg.SelectedCounters) == 0 {
		cfg.SelectedCounters = append([]string(nil), DefaultCounters...)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// RequireDatabase fails when the command needs Postgres but none is configured.
func (c *AppConfig) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
