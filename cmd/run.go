package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"csmbot/application"
	"csmbot/bot"
	"csmbot/config"
	"csmbot/database"
	"csmbot/domain/interfaces"
	"csmbot/domain/services"
	"csmbot/events"
	"csmbot/infrastructure"
	"csmbot/infrastructure/observability"
	"csmbot/repository"
)

// shutdownTimeout bounds flushing metrics on exit
const shutdownTimeout = 10 * time.Second

// Run initializes and starts the application
func Run(ctx context.Context) error {
	log.Println("Starting csmbot...")

	// Load configuration
	cfg := config.Get()
	cfg.ConfigureLogging()

	return run(ctx, cfg, observability.NewMetricsProvider(cfg))
}

// run wires the components and blocks until ctx is done.
// Every resource opened here is released on return, including on startup failures.
func run(ctx context.Context, cfg *config.Config, metrics *observability.MetricsProvider) error {
	// Initialize metrics
	log.Println("Initializing metrics provider...")
	if err := metrics.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer shutdownMetrics(metrics)

	// Initialize property store
	log.Printf("Opening %s property store...", cfg.StorageBackend)
	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)
	log.Println("Property store opened successfully")

	// Load configured guilds; unreadable settings are fatal
	properties, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load guild properties: %w", err)
	}
	registry := application.NewRegistry()
	registry.Load(properties)
	log.Printf("Loaded %d configured guilds", len(properties))

	if err := metrics.ObserveActiveDialogs(registry.ActiveWizards); err != nil {
		return err
	}

	// Initialize event bus
	log.Println("Initializing event bus...")
	eventBus := events.NewBus()
	log.Println("Event bus initialized successfully")

	// Forward events to NATS when configured
	if servers := cfg.NATSServerList(); len(servers) > 0 {
		log.Printf("Connecting to NATS at %v...", servers)
		natsClient := infrastructure.NewNATSClient(servers)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := natsClient.Connect(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer closeNATS(natsClient)

		infrastructure.NewNATSEventPublisher(natsClient, infrastructure.NewEventSubjectMapper(), metrics).Attach(eventBus)
		log.Println("NATS event forwarding enabled")
	}

	serverQuerier := infrastructure.NewBattleMetricsClient(cfg.BattleMetricsURL, cfg.BattleMetricsToken)

	// Initialize Discord bot
	log.Println("Initializing Discord bot...")
	discordBot, err := bot.New(bot.Config{Token: cfg.DiscordToken})
	if err != nil {
		return fmt.Errorf("failed to initialize Discord bot: %w", err)
	}

	onboarding := application.NewOnboarding(registry, discordBot.Platform(), serverQuerier, store, eventBus, metrics,
		application.OnboardingConfig{
			Greeting: cfg.GreetingMessage,
			Prefix:   cfg.CommandPrefix,
			GameID:   cfg.GameID,
		})
	if err := discordBot.Open(onboarding); err != nil {
		return fmt.Errorf("failed to initialize Discord bot: %w", err)
	}
	log.Println("Discord bot initialized successfully")

	// Start background workers
	worker := application.NewReconciliationWorker(
		registry,
		services.NewReconciler(discordBot.Platform(), serverQuerier),
		store,
		eventBus,
		metrics,
		cfg.GuildTimeoutDuration(),
	)
	stopWorker := worker.Start(ctx, cfg.ReconcileInterval())
	log.Printf("Reconciliation worker started (every %s)", cfg.ReconcileInterval())

	// Wait for context cancellation
	log.Printf("Bot is running in %s mode...", cfg.Environment)
	<-ctx.Done()

	log.Println("Shutting down bot...")

	stopWorker()
	log.Println("Background workers stopped")

	if err := discordBot.Close(); err != nil {
		log.Printf("Error closing Discord bot: %v", err)
	}
	return nil
}

// openStore returns the configured PropertyStore and, for postgres, the pool behind it
func openStore(ctx context.Context, cfg *config.Config) (interfaces.PropertyStore, *database.DB, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendPostgres:
		databaseURL := cfg.GetDatabaseURL()

		log.Println("Running database migrations...")
		if err := database.RunMigrationsWithURL(databaseURL); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		log.Println("Connecting to database...")
		db, err := database.NewConnection(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Println("Database connection established successfully")
		return repository.NewPostgresPropertyStore(db), db, nil

	default:
		store, err := repository.NewFilePropertyStore(cfg.PropertiesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open properties file: %w", err)
		}
		return store, nil, nil
	}
}

func shutdownMetrics(metrics *observability.MetricsProvider) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := metrics.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down metrics: %v", err)
	}
}

func closeDB(db *database.DB) {
	if db == nil {
		return
	}
	log.Println("Closing database connection...")
	db.Close()
}

func closeNATS(client *infrastructure.NATSClient) {
	if err := client.Close(); err != nil {
		log.Printf("Error closing NATS connection: %v", err)
	}
}
