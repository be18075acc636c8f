package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/i474232898/bike-traffic-forecast/internal/config"
	"github.com/i474232898/bike-traffic-forecast/internal/logger"
	"github.com/i474232898/bike-traffic-forecast/internal/notify"
	"github.com/i474232898/bike-traffic-forecast/internal/pipeline"
	"github.com/i474232898/bike-traffic-forecast/internal/providers"
	"github.com/i474232898/bike-traffic-forecast/internal/store"
)

const appName = "bike-traffic-forecast"

var dryRun bool

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Hourly bicycle traffic forecasts for the Montpellier counters",
	Long: `bike-traffic-forecast collects the EcoCounter history, the Open-Meteo weather
and the French public holidays, then predicts tomorrow's hourly traffic of every
selected counter with two models and stores the predictions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store instead of Postgres")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every command needs: the configuration, the logger, the
// store and the wired pipeline.
type app struct {
	cfg       *config.AppConfig
	log       zerolog.Logger
	store     store.Store
	pipeline  *pipeline.Pipeline
	publisher *notify.RedisPublisher
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.AppEnv).With().Str("service", appName).Logger()

	rt := &app{cfg: cfg, log: log}
	if dryRun {
		log.Info().Msg("dry run: using the in-memory store")
		rt.store = store.NewMemoryStore()
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			return nil, err
		}
		pool, err := store.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgres(pool, log)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		rt.store = pg
	}

	deps := pipeline.Deps{Store: rt.store}
	if cfg.RedisURL != "" {
		pub, err := notify.NewRedisPublisher(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, predictions will not be published")
		} else {
			rt.publisher = pub
			deps.Publisher = pub
		}
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	meteo := providers.NewOpenMeteoProvider(httpClient)
	deps.Forecast = meteo
	deps.History = meteo
	deps.Registry = providers.NewEcoCounterProvider(httpClient)
	deps.Holidays = providers.NewHolidaysProvider(httpClient)

	rt.pipeline = pipeline.New(cfg, deps, log)
	return rt, nil
}

func (rt *app) Close() {
	if rt.publisher != nil {
		if err := rt.publisher.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("close redis")
		}
	}
	rt.store.Close()
}

// withApp adapts a command body that needs an app into a cobra RunE.
func withApp(fn func(cmd *cobra.Command, rt *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, rt)
	}
}
