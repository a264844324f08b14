package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"csmbot/database"

	log "github.com/sirupsen/logrus"
)

// Storage backends
const (
	StorageBackendFile     = "file"
	StorageBackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// Discord configuration
	DiscordToken    string
	GreetingMessage string // Probe message sent when joining a guild
	CommandPrefix   string // Marker in front of setup dialog commands

	// Reconciliation configuration
	BackgroundCycle int // Seconds between reconciliation ticks
	GuildTimeout    int // Seconds one guild may take inside a tick

	// BattleMetrics configuration
	BattleMetricsURL   string
	BattleMetricsToken string // Optional bearer token
	GameID             string // Game a tracked server must belong to

	// Storage configuration
	StorageBackend string // "file" or "postgres"
	PropertiesFile string
	DatabaseURL    string
	DatabaseName   string

	// NATS configuration
	NATSServers string // NATS server addresses (comma-separated); empty disables forwarding

	// OpenTelemetry configuration
	OTelEnabled              bool
	OTelServiceName          string
	OTelExporterType         string // "console", "otlp" or "none"
	OTelOTLPEndpoint         string
	OTelExportIntervalMillis int

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL constructs the full database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// ReconcileInterval is the pause between reconciliation ticks
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.BackgroundCycle) * time.Second
}

// GuildTimeoutDuration bounds the work done for one guild inside a tick
func (c *Config) GuildTimeoutDuration() time.Duration {
	return time.Duration(c.GuildTimeout) * time.Second
}

// NATSServerList splits NATSServers into individual URLs
func (c *Config) NATSServerList() []string {
	var servers []string
	for _, s := range strings.Split(c.NATSServers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

// ConfigureLogging applies LogLevel and LogFormat to the global logrus logger
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("log_level", c.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		// Discord
		DiscordToken:    os.Getenv("DISCORD_TOKEN"),
		GreetingMessage: getEnvWithDefault("GREETING_MESSAGE", "Hello! I am the server monitor bot."),
		CommandPrefix:   getEnvWithDefault("COMMAND_PREFIX", "/csm"),

		// Reconciliation
		BackgroundCycle: getIntWithDefault("BACKGROUND_CYCLE", 60),
		GuildTimeout:    getIntWithDefault("GUILD_TIMEOUT", 30),

		// BattleMetrics
		BattleMetricsURL:   strings.TrimRight(getEnvWithDefault("BATTLEMETRICS_URL", "https://api.battlemetrics.com"), "/"),
		BattleMetricsToken: os.Getenv("BATTLEMETRICS_TOKEN"),
		GameID:             getEnvWithDefault("GAME_ID", "conanexiles"),

		// Storage
		StorageBackend: StorageBackendFromEnv(),
		PropertiesFile: getEnvWithDefault("PROPERTIES_FILE", "properties.json"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseName:   os.Getenv("DATABASE_NAME"),

		// NATS
		NATSServers: os.Getenv("NATS_SERVERS"),

		// OpenTelemetry
		OTelEnabled:              getEnvWithDefault("OTEL_ENABLED", "false") == "true",
		OTelServiceName:          getEnvWithDefault("OTEL_SERVICE_NAME", "csmbot"),
		OTelExporterType:         getEnvWithDefault("OTEL_EXPORTER_TYPE", "console"),
		OTelOTLPEndpoint:         getEnvWithDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelExportIntervalMillis: getIntWithDefault("OTEL_EXPORT_INTERVAL_MS", 60000),

		// Logging
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "text"),

		// Environment
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
	}

	if config.BackgroundCycle <= 0 {
		return nil, fmt.Errorf("BACKGROUND_CYCLE must be positive, got %d", config.BackgroundCycle)
	}
	if config.GuildTimeout <= 0 {
		return nil, fmt.Errorf("GUILD_TIMEOUT must be positive, got %d", config.GuildTimeout)
	}
	if strings.TrimSpace(config.CommandPrefix) == "" {
		return nil, fmt.Errorf("COMMAND_PREFIX cannot be blank")
	}

	switch config.StorageBackend {
	case StorageBackendFile:
		if config.PropertiesFile == "" {
			return nil, fmt.Errorf("PROPERTIES_FILE is required for the file backend")
		}
	case StorageBackendPostgres:
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", config.StorageBackend)
	}

	if config.Environment != "test" && config.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}

	return config, nil
}

// StorageBackendFromEnv reads STORAGE_BACKEND without loading the rest of the configuration
func StorageBackendFromEnv() string {
	return strings.ToLower(getEnvWithDefault("STORAGE_BACKEND", StorageBackendFile))
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntWithDefault parses an integer environment variable, keeping the default when unset or malformed
func getIntWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("Ignoring malformed integer setting")
		return defaultValue
	}
	return parsed
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		DiscordToken:             "test-token",
		GreetingMessage:          "Hello! I am the server monitor bot.",
		CommandPrefix:            "/csm",
		BackgroundCycle:          60,
		GuildTimeout:             30,
		BattleMetricsURL:         "https://api.battlemetrics.com",
		GameID:                   "conanexiles",
		StorageBackend:           StorageBackendFile,
		PropertiesFile:           "properties.json",
		OTelServiceName:          "csmbot",
		OTelExporterType:         "none",
		OTelExportIntervalMillis: 60000,
		LogLevel:                 "info",
		LogFormat:                "text",
		Environment:              "test",
	}
}
