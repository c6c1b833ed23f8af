package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"petdance/internal/adapter/repo"
	httpapi "petdance/internal/http"
	"petdance/internal/http/handlers"
	"petdance/internal/infra"
	"petdance/internal/infra/geoip"
	"petdance/internal/orchestrator"
	"petdance/internal/providers/billing"
	"petdance/internal/providers/inference"
	"petdance/internal/storage"
	"petdance/internal/webhook"
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

	jobs := repo.NewJobRepository(dbpool)
	users := repo.NewUserRepository(dbpool)

	store, err := storage.NewObjectStore(storage.Options{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		UseSSL:    cfg.StorageUseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	inferenceClient := inference.NewClient(inference.Options{
		Token:        cfg.InferenceToken,
		BaseURL:      cfg.InferenceBaseURL,
		ModelVersion: cfg.InferenceVersion,
		Logger:       &logger,
	})

	billingClient := billing.NewClient(billing.Options{
		APIKey:  cfg.BillingAPIKey,
		BaseURL: cfg.BillingBaseURL,
		Logger:  &logger,
	})

	gate := orchestrator.NewGate(billingClient, jobs, users, cfg.FreeDailyLimit, logger)

	orch := orchestrator.NewService(orchestrator.Options{
		Jobs:        jobs,
		Users:       users,
		Store:       store,
		Inference:   inferenceClient,
		Gate:        gate,
		CallbackURL: cfg.CallbackBaseURL,
		UploadTTL:   cfg.UploadURLTTL,
		ResultTTL:   cfg.ResultURLTTL,
		Logger:      logger,
	})

	verifier := webhook.NewVerifier(cfg.WebhookSecret)

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	app := handlers.NewApp(orch, verifier, logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
		GeoIP:           resolver,
	})

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
