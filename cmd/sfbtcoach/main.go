package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kindpath/sfbtcoach/internal/alerts"
	"github.com/kindpath/sfbtcoach/internal/api"
	"github.com/kindpath/sfbtcoach/internal/flow"
	"github.com/kindpath/sfbtcoach/internal/genai"
	"github.com/kindpath/sfbtcoach/internal/retrieval"
	"github.com/kindpath/sfbtcoach/internal/store"
	"github.com/kindpath/sfbtcoach/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SFBTCoach state data
	DefaultStateDir = "/var/lib/sfbtcoach"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "sfbtcoach.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping SFBTCoach with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "mock", config.MockLLM)

	if err := run(config, flags); err != nil {
		slog.Error("SFBTCoach failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SFBTCoach exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	APIAddr     string

	APIKey      string
	APIBaseURL  string
	APIModel    string
	Temperature float64
	NumCtx      int
	MaxTokens   int
	APITimeout  time.Duration

	EnableWebRetrieval bool
	WebTopK            int
	WebSearchPages     int
	WebTimeout         time.Duration
	WebPreferBaidu     bool
	MaxContextChars    int

	MockLLM bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir *string
	dbDSN    *string
	apiKey   *string
	apiAddr  *string
	mock     *bool
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
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("SFBTCOACH_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),

		APIKey:      os.Getenv("API_KEY"),
		APIBaseURL:  os.Getenv("API_BASE_URL"),
		APIModel:    os.Getenv("API_MODEL"),
		Temperature: util.ParseFloatEnv("TEMPERATURE", genai.DefaultTemperature),
		NumCtx:      util.ParseIntEnv("API_NUM_CTX", genai.DefaultContextWindow),
		MaxTokens:   util.ParseIntEnv("API_MAX_TOKENS", genai.DefaultMaxCompletionTokens),
		APITimeout:  time.Duration(util.ParseIntEnv("API_TIMEOUT", int(genai.DefaultTimeout/time.Second))) * time.Second,

		EnableWebRetrieval: util.ParseBoolEnv("ENABLE_WEB_RETRIEVAL_DEFAULT", false),
		WebTopK:            util.ParseIntEnv("WEB_RETRIEVAL_TOP_K", retrieval.DefaultWebTopK),
		WebSearchPages:     util.ParseIntEnv("WEB_RETRIEVAL_PAGES", retrieval.DefaultWebSearchPages),
		WebTimeout:         time.Duration(util.ParseIntEnv("WEB_RETRIEVAL_TIMEOUT", int(retrieval.DefaultWebTimeout/time.Second))) * time.Second,
		WebPreferBaidu:     util.ParseBoolEnv("WEB_PREFER_BAIDU", false),
		MaxContextChars:    util.ParseIntEnv("MAX_CONTEXT_CHARS", retrieval.DefaultMaxContextChars),

		MockLLM: util.ParseBoolEnv("MOCK_LLM", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SFBTCOACH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("SFBTCOACH_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SFBTCOACH_STATE_DIR", config.StateDir,
		"API_KEY_SET", config.APIKey != "",
		"API_MODEL", config.APIModel,
		"API_ADDR", config.APIAddr,
		"ENABLE_WEB_RETRIEVAL_DEFAULT", config.EnableWebRetrieval,
		"MOCK_LLM", config.MockLLM)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir: flag.String("state-dir", config.StateDir, "Directory for state data (database, caches)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "Database DSN (SQLite path or PostgreSQL URL)"),
		apiKey:   flag.String("api-key", config.APIKey, "Completion API key"),
		apiAddr:  flag.String("addr", config.APIAddr, "API listen address"),
		mock:     flag.Bool("mock", config.MockLLM, "Run with a canned reply instead of the completion API"),
	}
	flag.Parse()
	return flags
}

// ensureDirectoriesExist creates the state directory when the database
// lives on the local filesystem.
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "sqlite" {
		return nil
	}
	if err := os.MkdirAll(*flags.stateDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Dir(*flags.dbDSN), 0o755)
}

// buildStore selects the storage backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("buildStore: using PostgreSQL backend")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("buildStore: using SQLite backend", "path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildGenAIOptions assembles the completion client options.
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	opts := []genai.Option{
		genai.WithTemperature(config.Temperature),
		genai.WithContextWindow(config.NumCtx),
		genai.WithMaxCompletionTokens(config.MaxTokens),
		genai.WithTimeout(config.APITimeout),
	}
	if *flags.apiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.apiKey))
	}
	if config.APIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.APIBaseURL))
	}
	if config.APIModel != "" {
		opts = append(opts, genai.WithModel(config.APIModel))
	}
	return opts
}

// buildRetrievalOptions assembles the web searcher options.
func buildRetrievalOptions(config Config) []retrieval.SERPOption {
	return []retrieval.SERPOption{
		retrieval.WithTopK(config.WebTopK),
		retrieval.WithPages(config.WebSearchPages),
		retrieval.WithSearchTimeout(config.WebTimeout),
		retrieval.WithPreferBaidu(config.WebPreferBaidu),
	}
}

func run(config Config, flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	var client genai.ClientInterface
	if !config.MockLLM && !*flags.mock {
		client, err = genai.NewClient(buildGenAIOptions(config, flags)...)
		if err != nil {
			return err
		}
	} else {
		// Mock mode needs a client only for the temperature accessor.
		client = genai.NoopClient(config.Temperature)
	}

	searcher := retrieval.NewSERPSearcher(buildRetrievalOptions(config)...)
	local := retrieval.NewKnowledgeRetriever(st)
	blender := retrieval.NewBlender(searcher, local, config.MaxContextChars)

	registry := alerts.NewRegistry()

	dialogue := flow.NewDialogueFlow(st, client, blender, registry,
		flow.WithWebRetrievalDefault(config.EnableWebRetrieval),
		flow.WithMockMode(config.MockLLM || *flags.mock),
	)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(dialogue, st, registry, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}
