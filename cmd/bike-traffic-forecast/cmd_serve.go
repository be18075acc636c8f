package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/bike-traffic-forecast/internal/api/http"
	"github.com/i474232898/bike-traffic-forecast/internal/pipeline"
	"github.com/i474232898/bike-traffic-forecast/internal/scheduler"
)

const pipelineTimeout = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and run the pipeline daily",
	Long: `Start the HTTP API over the stored counters, forecast and predictions, and
schedule the daily pipeline at PIPELINE_RUN_AT (UTC).`,
	RunE: withApp(runServe),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, rt *app) error {
	// Scheduler that runs the forecast update and the predictions every day.
	sched := scheduler.New(rt.cfg.PipelineRunAt, pipelineTimeout, func(ctx context.Context, now time.Time) error {
		_, err := rt.pipeline.Run(ctx, pipeline.Options{}, now)
		return err
	}, rt.log)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	server := httpapi.NewApp(rt.store, httpapi.Config{AppName: appName, AccessLog: true})

	go func() {
		rt.log.Info().Str("port", rt.cfg.Port).Msg("http server listening")
		if err := server.Listen(":" + rt.cfg.Port); err != nil {
			rt.log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		rt.log.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}
