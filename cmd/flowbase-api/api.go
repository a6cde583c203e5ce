// Package main provides the Flowbase API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/flowbase/pkg/cmd"
	"github.com/dukex/flowbase/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	runtime  *cmd.Runtime
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime) *API {
	return &API{
		logger:   logger,
		runtime:  runtime,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.runtime.Workflows, a.runtime.Executions, a.validate, a.runtime.Registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowbase API")
	})

	handlers.Routes(app)

	return app
}

func (a *API) Start(port int) error {
	a.logger.Info("Listening", "port", port)

	return a.App().Listen(":" + strconv.Itoa(port))
}
