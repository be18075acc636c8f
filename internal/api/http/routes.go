package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/bike-traffic-forecast/internal/forecast"
	"github.com/i474232898/bike-traffic-forecast/internal/traffic"
	"github.com/i474232898/bike-traffic-forecast/internal/weather"
)

var validate = validator.New()

// modelTables maps the model query parameter to its predictions table.
var modelTables = map[string]string{
	forecast.ModelProphet: forecast.TableProphet,
	forecast.ModelXGBoost: forecast.TableXGBoost,
}

// Reader is the read side of the store served by the API.
type Reader interface {
	ListCounters(ctx context.Context) ([]traffic.Counter, error)
	ListPredictions(ctx context.Context, table, counterID string) ([]forecast.Prediction, error)
	ListWeatherForecast(ctx context.Context) ([]weather.HourlyWeather, error)
}

// Config tunes the Fiber app.
type Config struct {
	AppName   string
	AccessLog bool
}

// NewApp builds the Fiber app with health, metrics and the read API.
func NewApp(reader Reader, cfg Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	if cfg.AccessLog {
		app.Use(logger.New())
	}
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": cfg.AppName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	RegisterRoutes(app, reader)
	return app
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, reader Reader) {
	v1 := app.Group("/api/v1")

	v1.Get("/counters", func(c *fiber.Ctx) error {
		counters, err := reader.ListCounters(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch counters")
		}
		return c.JSON(fiber.Map{"counters": emptyIfNil(counters)})
	})

	v1.Get("/predictions", func(c *fiber.Ctx) error {
		var req predictionsQuery
		req.bind(c)
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		table := modelTables[req.Model]
		rows, err := reader.ListPredictions(c.UserContext(), table, req.CounterID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch predictions")
		}
		if len(rows) == 0 && req.CounterID != "" {
			return fiber.NewError(fiber.StatusNotFound, "no predictions for requested counter")
		}

		return c.JSON(fiber.Map{
			"model":       req.Model,
			"table":       table,
			"counter_id":  req.CounterID,
			"predictions": emptyIfNil(rows),
		})
	})

	v1.Get("/weather/forecast", func(c *fiber.Ctx) error {
		rows, err := reader.ListWeatherForecast(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather forecast")
		}
		return c.JSON(fiber.Map{"forecast": emptyIfNil(rows)})
	})
}

// predictionsQuery holds query parameters for the predictions endpoint. An
// empty counter id selects every counter.
type predictionsQuery struct {
	CounterID string
	Model     string `validate:"required,oneof=prophet xgboost"`
}

func (q *predictionsQuery) bind(c *fiber.Ctx) {
	q.CounterID = c.Query("counter_id")
	q.Model = c.Query("model", forecast.ModelProphet)
}

// emptyIfNil keeps empty lists as [] rather than null in responses.
func emptyIfNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
