// Package main provides the Outreach API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/dispatcher"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/engine"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/eventbus"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/otelhelper"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/ratelimit"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/registry"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/scheduler"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/services"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/store"
	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger   *slog.Logger
	store    store.Store
	registry *registry.Registry
	eventBus eventbus.EventBus
	limiter  *ratelimit.Limiter
}

func NewAPI(
	logger *slog.Logger,
	workflowStore store.Store,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	limiter *ratelimit.Limiter,
) *API {
	return &API{
		logger:   logger,
		store:    workflowStore,
		registry: registry,
		eventBus: eventBus,
		limiter:  limiter,
	}
}

func (a *API) App(ctx context.Context) (*fiber.App, *scheduler.Scheduler) {
	tracer := a.tracer(ctx)

	disp := dispatcher.NewDispatcher(a.registry, a.logger, tracer)
	eng := engine.NewEngine(a.store, a.limiter, disp, a.eventBus, a.logger, tracer)
	service := services.NewOutreach(a.store, eng, a.logger)
	sched := scheduler.NewScheduler(service, a.logger)

	handlers := web.NewAPIHandlers(service, a.registry, sched)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Outreach API")
	})

	handlers.RegisterRoutes(app)

	return app, sched
}

func (a *API) Start(ctx context.Context, port int) error {
	app, sched := a.App(ctx)

	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := sched.Stop(stopCtx); err != nil {
			a.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
		}
	}()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}

func (a *API) tracer(ctx context.Context) trace.Tracer {
	tracer, err := otelhelper.NewTracer(ctx, "outreach-api")
	if err != nil {
		a.logger.WarnContext(ctx, "Tracing disabled, collector unavailable", "error", err)

		return noop.NewTracerProvider().Tracer("outreach-api")
	}

	return tracer
}
