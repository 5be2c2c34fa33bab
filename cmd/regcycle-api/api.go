// Package main provides the Regcycle API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/persistence"
	"github.com/dukex/regcycle/pkg/presence"
	"github.com/dukex/regcycle/pkg/services"
	"github.com/dukex/regcycle/pkg/validation"
	"github.com/dukex/regcycle/pkg/versioning"
	"github.com/dukex/regcycle/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger   *slog.Logger
	handlers *web.APIHandlers
}

// NewAPI wires the services. A non-nil presence registry must not be running yet.
func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	resolver *versioning.Resolver,
	locks *locking.Manager,
	registry *presence.Registry,
	opts ...services.Option,
) *API {
	opts = append([]services.Option{services.WithValidator(validation.New())}, opts...)
	if registry != nil {
		opts = append(opts, services.WithPresence(registry))
	}

	handlers := web.NewAPIHandlers(
		services.NewCycle(persistence, resolver, locks, logger, opts...),
		services.NewControls(persistence, logger, opts...),
		services.NewReconciliation(persistence, logger, opts...),
		services.NewPersonal(persistence, logger, opts...),
		services.NewValidator(),
	)

	return &API{
		logger:   logger,
		handlers: handlers,
	}
}

func (a *API) App() *fiber.App {
	app := web.NewApp()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Regcycle API")
	})

	a.handlers.Register(app)

	return app
}

// Start serves until ctx is done, then drains in-flight requests.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			a.logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
