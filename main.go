package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/config"
	"github.com/classml-io/classml-engine/pkg/database"
	"github.com/classml-io/classml-engine/pkg/handlers"
	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/notifications"
	"github.com/classml-io/classml-engine/pkg/providers"
	"github.com/classml-io/classml-engine/pkg/repositories"
	"github.com/classml-io/classml-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("numbers_service", cfg.Providers.NumbersURL),
		zap.Bool("notifications", cfg.Notifications.Enabled()),
		zap.Bool("sweeper", cfg.Sweeper.Enabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	// Repositories
	credentialsRepo := repositories.NewCredentialsRepository(db)
	classifierRepo := repositories.NewClassifierRepository(db)
	scratchKeyRepo := repositories.NewScratchKeyRepository(db)
	projectRepo := repositories.NewProjectRepository(db)
	trainingRepo := repositories.NewTrainingRepository(db)
	tenantRepo := repositories.NewTenantRepository(db)

	// Provider clients
	trainingProviders := map[models.ServiceType]providers.TrainingProvider{
		models.ServiceConversation:      providers.NewConversationClient(cfg.Providers.RequestTimeout(), logger),
		models.ServiceVisualRecognition: providers.NewVisualClient(cfg.Providers.ImageTimeout(), logger),
		models.ServiceNumbers: providers.NewNumbersClient(
			cfg.Providers.NumbersURL,
			cfg.Providers.NumbersUser,
			cfg.Providers.NumbersPassword,
			cfg.Providers.RequestTimeout(),
			logger),
	}

	notifier, err := notifications.NewNotifier(cfg.Notifications, tenantRepo, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}

	// Services
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	selector := services.NewCredentialsSelector(credentialsRepo, rng, logger)
	trainingService := services.NewTrainingService(
		trainingRepo, credentialsRepo, classifierRepo, scratchKeyRepo, tenantRepo,
		trainingProviders, selector, notifier,
		&http.Client{Timeout: cfg.Providers.ImageTimeout()},
		logger)
	expiryService := services.NewExpiryService(
		credentialsRepo, classifierRepo, scratchKeyRepo, projectRepo, trainingProviders, logger)
	projectService := services.NewProjectService(
		projectRepo, classifierRepo, trainingRepo, expiryService, logger)
	scratchService := services.NewScratchService(
		projectRepo, scratchKeyRepo, trainingRepo, trainingProviders,
		rand.New(rand.NewSource(time.Now().UnixNano()+1)), logger)

	if cfg.Sweeper.Enabled {
		expiryService.RunScheduler(ctx, cfg.Sweeper.Interval())
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewProjectHandler(projectService, scratchService, trainingService, logger).RegisterRoutes(mux)
	handlers.NewScratchHandler(scratchService, trainingService, logger).RegisterRoutes(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting classml-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
