package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ChairsideAI/Chairside/internal/api"
	"github.com/ChairsideAI/Chairside/internal/auth"
	"github.com/ChairsideAI/Chairside/internal/billing"
	"github.com/ChairsideAI/Chairside/internal/genai"
	"github.com/ChairsideAI/Chairside/internal/notify"
	"github.com/ChairsideAI/Chairside/internal/resolver"
	"github.com/ChairsideAI/Chairside/internal/store"
	"github.com/ChairsideAI/Chairside/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Chairside state data
	DefaultStateDir = "/var/lib/chairside"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "chairside.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	deps, err := buildDeps(flags, st)
	if err != nil {
		slog.Error("Failed to wire modules", "error", err)
		os.Exit(1)
	}

	apiOpts := buildAPIOptions(flags)
	server, err := api.NewServer(deps, apiOpts...)
	if err != nil {
		slog.Error("Failed to build API server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Chairside with configured modules")
	if err := server.Run(ctx); err != nil {
		slog.Error("Chairside failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Chairside exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	StateDir          string
	OpenAIKey         string
	APIAddr           string
	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string
	CheckoutEndpoint  string
	CheckoutAPIKey    string
	TwilioSID         string
	TwilioToken       string
	TwilioFrom        string
	LeadAlertNumber   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          util.GetEnv("CHAIRSIDE_STATE_DIR", DefaultStateDir),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		APIAddr:           os.Getenv("API_ADDR"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminUsername:     util.GetEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		CheckoutEndpoint:  os.Getenv("CHECKOUT_ENDPOINT"),
		CheckoutAPIKey:    os.Getenv("CHECKOUT_API_KEY"),
		TwilioSID:         os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        os.Getenv("TWILIO_FROM_NUMBER"),
		LeadAlertNumber:   os.Getenv("LEAD_ALERT_NUMBER"),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CHAIRSIDE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"JWT_SECRET_SET", config.JWTSecret != "",
		"ADMIN_USERNAME_SET", config.AdminUsername != "",
		"CHECKOUT_ENDPOINT_SET", config.CheckoutEndpoint != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "")

	return config
}

// envConfig carries the settings that have no flag equivalent.
var envConfig Config

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	envConfig = config
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for Chairside data (overrides $CHAIRSIDE_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr)

	// Follow an overridden state directory when the DSN still points at the default file.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStore selects and opens the storage backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildDeps wires the remaining modules around the store.
func buildDeps(flags Flags, st store.Store) (api.Deps, error) {
	deps := api.Deps{
		Store:    st,
		Resolver: resolver.Default(),
	}

	authenticator, err := auth.New(
		auth.WithAdminCredentials(envConfig.AdminUsername, envConfig.AdminPasswordHash),
		auth.WithJWTSecret(envConfig.JWTSecret),
	)
	if err != nil {
		return api.Deps{}, err
	}
	deps.Auth = authenticator

	if *flags.openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return api.Deps{}, err
		}
		deps.GenAI = client
	} else {
		slog.Warn("No OpenAI API key configured; chat falls back to templates only")
	}

	if envConfig.CheckoutEndpoint != "" {
		checkout, err := billing.NewClient(
			billing.WithEndpoint(envConfig.CheckoutEndpoint),
			billing.WithAPIKey(envConfig.CheckoutAPIKey),
		)
		if err != nil {
			return api.Deps{}, err
		}
		deps.Checkout = checkout
	} else {
		slog.Warn("No checkout endpoint configured; signup submission disabled")
	}

	if util.ParseBoolEnv("LEAD_ALERTS_ENABLED", true) && envConfig.TwilioSID != "" && envConfig.TwilioToken != "" {
		notifier, err := notify.NewClient(
			notify.WithAccountSID(envConfig.TwilioSID),
			notify.WithAuthToken(envConfig.TwilioToken),
			notify.WithFromNumber(envConfig.TwilioFrom),
			notify.WithToNumber(envConfig.LeadAlertNumber),
		)
		if err != nil {
			return api.Deps{}, err
		}
		deps.Notifier = notifier
	} else {
		slog.Debug("Twilio not configured; lead alerts disabled")
	}

	return deps, nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
