package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"modelpixie/internal/adapter/repo"
	"modelpixie/internal/http/handlers"
	"modelpixie/internal/http/httpapi"
	"modelpixie/internal/infra"
	"modelpixie/internal/middleware"
	"modelpixie/internal/notify"
	imageprovider "modelpixie/internal/providers/image"
	"modelpixie/internal/providers/mesh"
	"modelpixie/internal/providers/payment"
	"modelpixie/internal/providers/prompt"
	"modelpixie/internal/services"
	"modelpixie/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	jobs := repo.NewJobRepository(dbpool)
	credits := repo.NewCreditRepository(dbpool)
	payments := repo.NewPaymentRepository(dbpool)
	feedback := repo.NewFeedbackRepository(dbpool)

	var images imageprovider.Generator = imageprovider.NewClient(imageprovider.Options{
		BaseURL: cfg.ImageBaseURL,
		APIKey:  cfg.ImageAPIKey,
		Model:   cfg.ImageModel,
	})
	var meshes mesh.Provider = mesh.NewClient(mesh.Options{
		BaseURL: cfg.MeshBaseURL,
		APIKey:  cfg.MeshAPIKey,
	})
	if cfg.AppEnv == "development" && cfg.ImageAPIKey == "" {
		logger.Warn().Msg("image api key missing, using synthetic asset generation")
		images = imageprovider.NewStaticGenerator()
	}
	if cfg.AppEnv == "development" && cfg.MeshAPIKey == "" {
		logger.Warn().Msg("mesh api key missing, using synthetic mesh provider")
		meshes = mesh.NewStaticProvider()
	}

	notifier := notify.NewNotifier(cfg.WorkflowWebhookURL, logger)
	jobService := services.NewJobService(jobs, credits, images, prompt.NewStaticEnhancer(), meshes, store, notifier, logger)
	creditService := services.NewCreditService(credits, logger)
	feedbackService := services.NewFeedbackService(feedback, jobs)

	app := &handlers.App{
		Config:   cfg,
		Logger:   logger,
		Jobs:     jobService,
		Credits:  creditService,
		Feedback: feedbackService,
		Payments: payments,
		Checkout: payment.NewClient(payment.Options{APIKey: cfg.PaymentAPIKey}),
		Store:    store,
	}

	limiter := middleware.NewFixedWindow(cfg.RateLimitPerMin, time.Minute)
	router := httpapi.NewRouter(app, limiter)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
