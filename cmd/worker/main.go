// The worker advances processing jobs without a connected client: it polls
// the mesh provider for every job awaiting completion and errors out jobs
// stuck beyond the stale threshold on a cron schedule.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"modelpixie/internal/adapter/repo"
	"modelpixie/internal/infra"
	"modelpixie/internal/notify"
	imageprovider "modelpixie/internal/providers/image"
	"modelpixie/internal/providers/mesh"
	"modelpixie/internal/providers/prompt"
	"modelpixie/internal/services"
	"modelpixie/internal/storage"
)

const pollBatchSize = 50

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	jobs := repo.NewJobRepository(pool)
	credits := repo.NewCreditRepository(pool)

	var meshes mesh.Provider = mesh.NewClient(mesh.Options{
		BaseURL: cfg.MeshBaseURL,
		APIKey:  cfg.MeshAPIKey,
	})
	if cfg.AppEnv == "development" && cfg.MeshAPIKey == "" {
		logger.Warn().Msg("worker: mesh api key missing, using synthetic mesh provider")
		meshes = mesh.NewStaticProvider()
	}

	notifier := notify.NewNotifier(cfg.WorkflowWebhookURL, logger)
	jobService := services.NewJobService(
		jobs,
		credits,
		imageprovider.NewStaticGenerator(),
		prompt.NewStaticEnhancer(),
		meshes,
		store,
		notifier,
		logger,
	)

	sweeper := cron.New()
	_, err = sweeper.AddFunc(cfg.StaleJobSweepSpec, func() {
		swept, err := jobService.SweepStale(ctx, cfg.StaleJobMaxAge)
		if err != nil {
			logger.Error().Err(err).Msg("worker: stale job sweep failed")
			return
		}
		if swept > 0 {
			logger.Info().Int64("count", swept).Msg("worker: stale jobs errored out")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: invalid sweep schedule")
	}
	sweeper.Start()
	defer sweeper.Stop()

	logger.Info().Dur("interval", cfg.PollInterval).Msg("worker: started")
	if err := run(ctx, jobService, cfg.PollInterval, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func run(ctx context.Context, jobService *services.JobService, interval time.Duration, logger infra.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := jobService.PollProcessing(ctx, pollBatchSize); err != nil {
			logger.Error().Err(err).Msg("worker: poll cycle failed")
		}
	}
}
