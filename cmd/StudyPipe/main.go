package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/StudyPipe/internal/api"
	"github.com/BTreeMap/StudyPipe/internal/dedup"
	"github.com/BTreeMap/StudyPipe/internal/flow"
	"github.com/BTreeMap/StudyPipe/internal/genai"
	"github.com/BTreeMap/StudyPipe/internal/lockfile"
	"github.com/BTreeMap/StudyPipe/internal/media"
	"github.com/BTreeMap/StudyPipe/internal/messaging"
	"github.com/BTreeMap/StudyPipe/internal/phone"
	"github.com/BTreeMap/StudyPipe/internal/retention"
	"github.com/BTreeMap/StudyPipe/internal/store"
	"github.com/BTreeMap/StudyPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/StudyPipe/internal/util"
	"github.com/BTreeMap/StudyPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for StudyPipe state data.
	DefaultStateDir = "/var/lib/studypipe"
	// DefaultAppDBFileName is the default SQLite application database filename.
	DefaultAppDBFileName = "studypipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename.
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	initializeLogger(*flags.logLevel)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping StudyPipe", "state_dir", *flags.stateDir, "api_addr", *flags.apiAddr,
		"twilio", config.TwilioAccountSID != "", "whatsapp", *flags.whatsapp, "redis", config.RedisURL != "")
	if err := run(ctx, config, flags); err != nil {
		slog.Error("StudyPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("StudyPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	OpenAIKey        string
	OpenAIBaseURL    string
	TextModel        string
	VisionModel      string
	GenAIDebug       bool
	TutorPromptFile  string
	SalesPromptFile  string
	APIAddr          string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string
	WhatsAppEnabled  bool
	RedisURL         string
	CountryCode      string
	HistoryWindow    int
	LogLevel         string
	GenericFields    api.FieldPaths
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	waDSN     *string
	openaiKey *string
	apiAddr   *string
	whatsapp  *bool
	logLevel  *string
}

// initializeLogger sets up structured text logging at the configured level.
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:         util.GetEnv("STUDYPIPE_STATE_DIR", DefaultStateDir),
		ApplicationDBDSN: util.GetEnv("DATABASE_URL", ""),
		WhatsAppDBDSN:    util.GetEnv("WHATSAPP_DB_DSN", ""),
		OpenAIKey:        util.GetEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    util.GetEnv("OPENAI_BASE_URL", ""),
		TextModel:        util.GetEnv("STUDYPIPE_TEXT_MODEL", ""),
		VisionModel:      util.GetEnv("STUDYPIPE_VISION_MODEL", ""),
		GenAIDebug:       util.ParseBoolEnv("STUDYPIPE_GENAI_DEBUG", false),
		TutorPromptFile:  util.GetEnv("STUDYPIPE_TUTOR_PROMPT_FILE", ""),
		SalesPromptFile:  util.GetEnv("STUDYPIPE_SALES_PROMPT_FILE", ""),
		APIAddr:          util.GetEnv("API_ADDR", api.DefaultAddr),
		TwilioAccountSID: util.GetEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  util.GetEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: util.GetEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookURL: util.GetEnv("TWILIO_WEBHOOK_URL", ""),
		WhatsAppEnabled:  util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		RedisURL:         util.GetEnv("REDIS_URL", ""),
		CountryCode:      util.GetEnv("STUDYPIPE_DEFAULT_COUNTRY_CODE", phone.DefaultCountryCode),
		HistoryWindow:    util.ParseIntEnv("STUDYPIPE_HISTORY_WINDOW", flow.DefaultHistoryWindow),
		LogLevel:         util.GetEnv("STUDYPIPE_LOG_LEVEL", "debug"),
		GenericFields: api.FieldPaths{
			Text:      util.GetEnv("GENERIC_WEBHOOK_TEXT_PATH", ""),
			Name:      util.GetEnv("GENERIC_WEBHOOK_NAME_PATH", ""),
			Phone:     util.GetEnv("GENERIC_WEBHOOK_PHONE_PATH", ""),
			Image:     util.GetEnv("GENERIC_WEBHOOK_IMAGE_PATH", ""),
			MessageID: util.GetEnv("GENERIC_WEBHOOK_ID_PATH", ""),
		},
	}
	config.ApplicationDBDSN = defaultIfEmpty(config.ApplicationDBDSN, defaultAppDSN(config.StateDir))
	config.WhatsAppDBDSN = defaultIfEmpty(config.WhatsAppDBDSN, defaultWhatsAppDSN(config.StateDir))

	slog.Debug("environment variables loaded",
		"STUDYPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"WHATSAPP_ENABLED", config.WhatsAppEnabled,
		"REDIS_URL_SET", config.RedisURL != "",
		"API_ADDR", config.APIAddr)
	return config
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

func defaultIfEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, os.Args[1:], config)
}

func parseFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		qrOutput:  fs.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:   fs.Bool("numeric-code", false, "print the raw WhatsApp login code instead of a QR code"),
		stateDir:  fs.String("state-dir", config.StateDir, "state directory (overrides $STUDYPIPE_STATE_DIR)"),
		dbDSN:     fs.String("db-dsn", config.ApplicationDBDSN, "application database DSN (overrides $DATABASE_URL)"),
		waDSN:     fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		openaiKey: fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		whatsapp:  fs.Bool("whatsapp", config.WhatsAppEnabled, "enable the WhatsApp transport (overrides $WHATSAPP_ENABLED)"),
		logLevel:  fs.String("log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $STUDYPIPE_LOG_LEVEL)"),
	}
	if err := fs.Parse(args); err != nil {
		slog.Warn("flag parsing failed", "error", err)
	}

	// A state-dir flag moves the default databases along with it.
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == defaultAppDSN(config.StateDir) {
			*flags.dbDSN = defaultAppDSN(*flags.stateDir)
		}
		if *flags.waDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.waDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
	}
	return flags
}

// ensureDirectoriesExist creates the directories of file-based databases.
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.waDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(sqlitePath(dsn))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// sqlitePath strips the file: scheme and query from a SQLite DSN.
func sqlitePath(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}

// needsStateLock reports whether any configured database lives on local disk.
func needsStateLock(flags Flags) bool {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		return true
	}
	return *flags.whatsapp && store.DetectDSNType(*flags.waDSN) != "postgres"
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return []store.Option{store.WithPostgresDSN(*flags.dbDSN)}
	}
	return []store.Option{store.WithSQLiteDSN(*flags.dbDSN)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(*flags.openaiKey),
		genai.WithDebugMode(config.GenAIDebug),
		genai.WithStateDir(*flags.stateDir),
	}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	if config.TextModel != "" {
		opts = append(opts, genai.WithTextModel(config.TextModel))
	}
	if config.VisionModel != "" {
		opts = append(opts, genai.WithVisionModel(config.VisionModel))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.waDSN)}
	if *flags.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	opts := []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithGenericFields(config.GenericFields),
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, api.WithTwilioAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioWebhookURL != "" {
		opts = append(opts, api.WithTwilioWebhookURL(config.TwilioWebhookURL))
	}
	return opts
}

// buildMediaOptions authenticates media fetches against Twilio when configured.
func buildMediaOptions(config Config) []media.Option {
	if config.TwilioAccountSID != "" && config.TwilioAuthToken != "" {
		return []media.Option{media.WithBasicAuth(config.TwilioAccountSID, config.TwilioAuthToken)}
	}
	return nil
}

// run wires every module and blocks until ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	if needsStateLock(flags) {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	gaClient, err := genai.NewClient(buildGenAIOptions(config, flags)...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	generator := flow.NewReplyGenerator(gaClient,
		flow.WithTutorPromptFile(config.TutorPromptFile),
		flow.WithSalesPromptFile(config.SalesPromptFile),
	)
	if err := generator.LoadSystemPrompts(); err != nil {
		return err
	}

	router := flow.NewRouter(st, generator,
		flow.WithRetention(retention.NewManager(st, gaClient)),
		flow.WithImageNormalizer(media.NewNormalizer(buildMediaOptions(config)...)),
		flow.WithHistoryWindow(config.HistoryWindow),
		flow.WithCountryCode(config.CountryCode),
	)

	var deduper store.DedupRepo = st
	var healthChecks = map[string]api.HealthCheck{}
	if pinger, ok := st.(interface{ Ping(context.Context) error }); ok {
		healthChecks["database"] = pinger.Ping
	}
	if config.RedisURL != "" {
		redisClient, err := dedup.NewClient(config.RedisURL)
		if err != nil {
			return err
		}
		rd := dedup.NewRedisDeduper(redisClient)
		defer rd.Close()
		if err := rd.Ping(ctx); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		deduper = rd
		healthChecks["redis"] = rd.Ping
	}
	handler := messaging.NewInboundHandler(router, messaging.WithDeduper(deduper))

	var services []messaging.Service
	var twilioSvc *messaging.TwilioService
	if config.TwilioAccountSID != "" {
		twClient, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFromNumber),
		)
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		twilioSvc = messaging.NewTwilioService(twClient)
		services = append(services, twilioSvc)
	}
	if *flags.whatsapp {
		waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		defer waClient.Disconnect()
		services = append(services, messaging.NewWhatsAppService(waClient))
	}

	server := api.NewServer(handler, twilioSvc, buildAPIOptions(config, flags)...)
	for name, check := range healthChecks {
		server.AddHealthCheck(name, check)
	}

	err = server.Run(ctx, services...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
