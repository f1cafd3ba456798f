package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/haatos/simple-cd/internal"
	"github.com/haatos/simple-cd/internal/app"
	"github.com/haatos/simple-cd/internal/handler"
	"github.com/haatos/simple-cd/internal/logging"
	"github.com/haatos/simple-cd/internal/service"
	"github.com/haatos/simple-cd/internal/settings"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	if err := settings.ReadDotenv(internal.DotEnvPath); err != nil {
		log.Fatal(err)
	}
	settings.Settings = settings.NewSettings()

	logger, err := logging.New(settings.Settings.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := internal.InitializeConfiguration(internal.ConfigPath); err != nil {
		return err
	}

	a, err := app.New(ctx, settings.Settings, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.RunService.RecoverRuns(ctx); err != nil {
		return err
	}
	if err := a.RunService.LoadPipelines(settings.Settings.PipelinesDir); err != nil {
		return err
	}
	a.RunService.StartRunQueues()
	defer a.RunService.Shutdown()

	scheduler, err := service.NewScheduler()
	if err != nil {
		return err
	}
	var pruner service.CachePruner
	if a.Cache != nil {
		pruner = a.Cache
	}
	if err := service.ScheduleMaintenance(
		scheduler,
		a.RunService,
		internal.Config.RunRetentionHours.Duration(),
		pruner,
		internal.Config.CacheRetentionHours.Duration(),
		logger,
	); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	e := setupEcho(logger)
	handler.SetupRunRoutes(e.Group(""), a.RunService, a.APIKeyService)

	logger.Info("listening", zap.String("port", settings.Settings.Port))
	return internal.GracefulShutdown(ctx, e, settings.Settings.Port, logger)
}

func setupEcho(logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewErrorHandler(logger)
	e.Use(
		middleware.Recover(),
		handler.RequestLogger(logger),
		middleware.BodyLimit("1M"),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	return e
}
