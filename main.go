package main

import (
	"database/sql"
	"log"

	"unibox/internal/aggregator"
	"unibox/internal/config"
	"unibox/internal/handler"
	"unibox/internal/linker"
	"unibox/internal/logger"
	"unibox/internal/model"
	"unibox/internal/provider"
	"unibox/internal/provider/gmail"
	"unibox/internal/provider/outlook"
	"unibox/internal/repository"
	"unibox/internal/repository/memory"
	"unibox/internal/repository/postgres"
	"unibox/internal/router"
	"unibox/internal/service"
	"unibox/internal/syncer"
	"unibox/internal/token"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal("Config validation failed:", err)
	}

	// Initialize logger
	appLogger := logger.New()

	// Initialize repositories (conditionally use postgres or in-memory based on DATABASE_URL)
	var userRepo repository.UserRepository
	var accountRepo repository.AccountRepository
	var emailRepo repository.EmailRepository
	var stateRepo repository.SyncStateRepository

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		defer db.Close()

		userRepo = postgres.NewPostgresUserRepository(db)
		accountRepo = postgres.NewPostgresAccountRepository(db)
		emailRepo = postgres.NewPostgresEmailRepository(db)
		stateRepo = postgres.NewPostgresSyncStateRepository(db)

		// Initialize database tables
		if err := postgres.InitializeDatabase(db); err != nil {
			log.Fatal("Failed to initialize database:", err)
		}

		appLogger.Info("Using PostgreSQL repositories")
	} else {
		userRepo = memory.NewInMemoryUserRepository()
		accountRepo = memory.NewInMemoryAccountRepository()
		emailRepo = memory.NewInMemoryEmailRepository()
		stateRepo = memory.NewInMemorySyncStateRepository()

		appLogger.Info("Using in-memory repositories")
	}

	// Token service, adapters and aggregation
	tokenService := token.NewService(accountRepo, cfg, appLogger)
	adapters := newAdapterFactory(appLogger)
	agg := aggregator.New(emailRepo, tokenService, adapters, appLogger)

	// Credential acquisition: loopback surface plus the code-exchange path
	surface := linker.NewLoopbackFactory("127.0.0.1:0", appLogger)
	accountLinker := linker.New(
		tokenService,
		accountRepo,
		surface,
		linker.FetchProfile,
		cfg.BaseURL,
		cfg.BaseURL+"/callback",
		appLogger,
	)

	// Background cache sync
	syncJob := syncer.NewSyncJob(
		userRepo,
		accountRepo,
		emailRepo,
		stateRepo,
		tokenService,
		adapters,
		appLogger,
		cfg.SyncMinInterval,
		cfg.SyncMinInterval,
		cfg.MaxFetchEmails,
	)

	// Initialize services
	authService := service.NewAuthService(userRepo, appLogger)
	accountService := service.NewAccountService(accountRepo, accountLinker, tokenService, linker.FetchProfile, cfg.BaseURL+"/callback", appLogger)
	emailService := service.NewEmailService(emailRepo, accountRepo, agg, tokenService, adapters, syncJob, appLogger)

	// Initialize handlers
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	authHandler := handler.NewAuthHandler(authService, cfg, e.Logger)
	accountHandler := handler.NewAccountHandler(accountService, authHandler, e.Logger)
	emailHandler := handler.NewEmailHandler(emailService, authHandler, e.Logger)

	// Setup routes
	router.SetupRoutes(e, authHandler, accountHandler, emailHandler)

	// Start the background sync job
	go syncJob.Start()
	defer syncJob.Stop()

	// Start server
	appLogger.Info("Starting server on port", cfg.Port)
	if err := e.Start(":" + cfg.Port); err != nil {
		appLogger.Error("Failed to start server:", err)
	}
}

// newAdapterFactory builds per-request provider adapters keyed off the
// account's provider kind, with the access token injected explicitly.
func newAdapterFactory(appLogger *logger.Logger) aggregator.AdapterFactory {
	return func(account *model.ConnectedAccount, accessToken string) provider.Adapter {
		switch account.Provider {
		case model.ProviderOutlook:
			adapter, err := outlook.NewClient(accessToken, account.ID, appLogger)
			if err != nil {
				appLogger.Error("Failed to create Outlook adapter:", err)
				return provider.Unavailable(err)
			}
			return adapter
		default:
			adapter, err := gmail.NewClient(accessToken, account.ID, appLogger)
			if err != nil {
				appLogger.Error("Failed to create Gmail adapter:", err)
				return provider.Unavailable(err)
			}
			return adapter
		}
	}
}
