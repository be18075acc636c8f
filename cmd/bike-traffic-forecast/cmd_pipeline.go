package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/bike-traffic-forecast/internal/calendar"
	"github.com/i474232898/bike-traffic-forecast/internal/pipeline"
	"github.com/i474232898/bike-traffic-forecast/internal/store"
)

var pipelineOpts pipeline.Options

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the daily pipeline",
	Long: `Optionally reset tables, rebuild the CSV files from the APIs and reload the
history, then update tomorrow's weather forecast and store the predictions.`,
	RunE: withApp(func(cmd *cobra.Command, rt *app) error {
		report, err := rt.pipeline.Run(cmd.Context(), pipelineOpts, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %v\n", report.RunID, report.Persisted)
		return nil
	}),
}

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Rebuild the raw and processed CSV files from the APIs",
	RunE: withApp(func(cmd *cobra.Command, rt *app) error {
		now := time.Now().UTC()
		return rt.pipeline.RunETL(cmd.Context(), now, forceHolidays || calendar.ShouldRefreshHolidays(now, rt.cfg.HolidayCutoff))
	}),
}

var forceHolidays bool

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Reload counters, weather, bike history and holidays into the store",
	RunE: withApp(func(cmd *cobra.Command, rt *app) error {
		now := time.Now().UTC()
		return rt.pipeline.ReloadHistory(cmd.Context(), forceHolidays || calendar.ShouldRefreshHolidays(now, rt.cfg.HolidayCutoff))
	}),
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Store tomorrow's hourly weather forecast",
	RunE: withApp(func(cmd *cobra.Command, rt *app) error {
		rows, err := rt.pipeline.UpdateForecast(cmd.Context(), time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d forecast hours stored\n", len(rows))
		return nil
	}),
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Train both models and store tomorrow's predictions",
	RunE: withApp(func(cmd *cobra.Command, rt *app) error {
		report, err := rt.pipeline.Predict(cmd.Context(), time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %v, skipped %v\n", report.RunID, report.Persisted, report.Skipped)
		return nil
	}),
}

var resetAll bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the forecast and prediction tables, or every table with --all",
	RunE: withApp(func(cmd *cobra.Command, rt *app) error {
		tables := store.PredictionTables
		if resetAll {
			tables = store.AllTables
		}
		return rt.pipeline.Reset(cmd.Context(), tables)
	}),
}

func init() {
	f := pipelineCmd.Flags()
	f.BoolVar(&pipelineOpts.ResetAll, "reset-all", false, "clear every table first")
	f.BoolVar(&pipelineOpts.ResetPredictions, "reset-predictions", false, "clear the forecast and prediction tables first")
	f.BoolVar(&pipelineOpts.ReloadHistory, "reload-history", false, "reload counters, holidays, weather and bikes from the CSV files")
	f.BoolVar(&pipelineOpts.ETL, "etl", false, "rebuild the CSV files from the APIs first")

	etlCmd.Flags().BoolVar(&forceHolidays, "holidays", false, "fetch the holidays even before the refresh cutoff")
	loadCmd.Flags().BoolVar(&forceHolidays, "holidays", false, "reload the holidays even before the refresh cutoff")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "clear every table")

	rootCmd.AddCommand(pipelineCmd, etlCmd, loadCmd, forecastCmd, predictCmd, resetCmd)
}
