// Package main provides the Setlistify CLI application entry point.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"setlistify/internal/core"
	"setlistify/internal/flood"
	httpserver "setlistify/internal/http"
	"setlistify/internal/imaging"
	"setlistify/internal/llm"
	"setlistify/internal/setlistfm"
	"setlistify/internal/spotify"
	"setlistify/internal/store"
)

const (
	version           = "1.0.0"
	envPrefix         = "SETLISTIFY"
	defaultServerHost = "0.0.0.0"
	noneProvider      = "none"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "setlistify",
	Short: "Setlistify - Concert setlists → Spotify playlists",
	Long: `Setlistify turns setlist.fm concert setlists into Spotify playlists. It resolves every
song against the Spotify catalog, lets you filter covers, repeats and taped intros, and can
predict an upcoming setlist from an artist's recent shows with an LLM.`,
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize Setlistify with your Spotify account",
	RunE:  runAuth,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-redirect-url", "", "Spotify OAuth redirect URL")
	flags.String("spotify-token-path", "./spotify_token.json", "Spotify token storage path")
	flags.String("setlistfm-api-key", "", "setlist.fm API key")
	flags.String("setlistfm-base-url", "https://api.setlist.fm/rest/1.0", "setlist.fm API base URL")
	flags.Float64("setlistfm-requests-per-sec", 2, "setlist.fm request rate limit (0 disables)")
	flags.Int("setlistfm-max-retries", 3, "setlist.fm retries on 429 and 5xx responses")
	flags.String("llm-provider", noneProvider, "LLM provider (openai, anthropic, ollama, none)")
	flags.String("llm-model", "", "LLM model name")
	flags.String("llm-api-key", "", "LLM API key")
	flags.String("llm-base-url", "", "LLM base URL (Ollama)")
	flags.String("server-host", defaultServerHost, "HTTP server host")
	flags.Int("server-port", 8080, "HTTP server port")
	flags.String("database-path", "./setlistify.db", "SQLite database path")
	flags.Int("daily-quota", core.DefaultDailyQuota, "Predictions per user per UTC day")
	flags.Int("resolve-concurrency", core.DefaultResolveConcurrency, "Concurrent Spotify lookups per setlist")
	flags.Int("max-setlist-pages", core.DefaultMaxSetlistPages, "Pages of setlist history fetched per artist")
	flags.Int("flood-limit-per-minute", core.DefaultFloodLimitPerMinute, "Maximum API calls per user per minute on expensive endpoints")
	flags.Int("track-cache-size", core.DefaultTrackCacheSize, "Number of resolved tracks kept in memory")
	flags.Bool("public-playlists", false, "Create public playlists by default")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(serveCmd, authCmd, newExportCmd(), newPredictCmd())
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureSpotify(cfg)
	configureSetlistFM(cfg)
	configureLLM(cfg)
	configureApp(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
	cfg.Store.DatabasePath = viper.GetString("database-path")
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	cfg.Spotify.TokenPath = viper.GetString("spotify-token-path")
	if cfg.Spotify.TokenPath == "" {
		cfg.Spotify.TokenPath = "./spotify_token.json"
	}

	if cfg.Spotify.RedirectURL == "" {
		serverHost := cfg.Server.Host
		if serverHost == defaultServerHost {
			serverHost = "127.0.0.1" // Use localhost for OAuth callback
		}
		cfg.Spotify.RedirectURL = fmt.Sprintf("http://%s:%d/callback", serverHost, cfg.Server.Port)
	}
}

func configureSetlistFM(cfg *core.Config) {
	cfg.SetlistFM.APIKey = viper.GetString("setlistfm-api-key")
	if baseURL := viper.GetString("setlistfm-base-url"); baseURL != "" {
		cfg.SetlistFM.BaseURL = baseURL
	}
	cfg.SetlistFM.RequestsPerSec = viper.GetFloat64("setlistfm-requests-per-sec")
	cfg.SetlistFM.MaxRetries = viper.GetInt("setlistfm-max-retries")
}

func configureLLM(cfg *core.Config) {
	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")
}

func configureApp(cfg *core.Config) {
	cfg.App.DailyQuota = positiveOr(viper.GetInt("daily-quota"), core.DefaultDailyQuota)
	cfg.App.ResolveConcurrency = positiveOr(viper.GetInt("resolve-concurrency"), core.DefaultResolveConcurrency)
	cfg.App.MaxSetlistPages = positiveOr(viper.GetInt("max-setlist-pages"), core.DefaultMaxSetlistPages)
	cfg.App.TrackCacheSize = positiveOr(viper.GetInt("track-cache-size"), core.DefaultTrackCacheSize)
	// zero disables throttling
	cfg.App.FloodLimitPerMinute = viper.GetInt("flood-limit-per-minute")
	cfg.App.PublicPlaylists = viper.GetBool("public-playlists")
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "text") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig(needSetlistFM bool) error {
	if err := validateSpotifyConfig(); err != nil {
		return err
	}

	if needSetlistFM && config.SetlistFM.APIKey == "" {
		return errors.New("setlist.fm API key is required")
	}

	return validateLLMConfig()
}

func validateSpotifyConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}

	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}

	return nil
}

func validateLLMConfig() error {
	if config.LLM.Provider != noneProvider && config.LLM.Provider != "" {
		if config.LLM.APIKey == "" && config.LLM.Provider != "ollama" {
			return fmt.Errorf("LLM API key is required for provider: %s", config.LLM.Provider)
		}
	}
	return nil
}

// services holds everything the commands share.
type services struct {
	db        *sql.DB
	spotify   *spotify.Client
	predictor *llm.Provider
	playlists *store.PlaylistStore
	pipeline  *core.Pipeline
	metrics   *httpserver.Metrics
}

func (s *services) Close() {
	if err := s.db.Close(); err != nil {
		logger.Debug("Failed to close database", zap.Error(err))
	}
}

func initializeServices(ctx context.Context) (*services, error) {
	db, err := store.Open(config.Store.DatabasePath)
	if err != nil {
		return nil, err
	}

	spotifyClient := spotify.NewClient(&config.Spotify, logger.Named("spotify"))
	if authErr := spotifyClient.Authenticate(ctx); authErr != nil {
		db.Close()
		if errors.Is(authErr, core.ErrUnauthorized) {
			return nil, fmt.Errorf("failed to authenticate with Spotify (run `setlistify auth`): %w", authErr)
		}
		return nil, fmt.Errorf("failed to authenticate with Spotify: %w", authErr)
	}

	predictor, err := llm.NewProvider(&config.LLM, logger.Named("llm"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	metrics := httpserver.NewMetrics(predictor.Name())
	transcoder := imaging.NewTranscoder(logger.Named("imaging"),
		imaging.WithIterationObserver(metrics.ObserveTranscodePasses))

	resolver := core.NewTrackResolver(spotifyClient,
		store.NewTrackCache(config.App.TrackCacheSize, store.DefaultFalsePositiveRate),
		config.App.ResolveConcurrency, logger.Named("resolver"))
	resolver.SetMetrics(metrics)

	publisher := core.NewPlaylistPublisher(spotifyClient, transcoder, logger.Named("publisher"))
	publisher.SetMetrics(metrics)

	playlists := store.NewPlaylistStore(db)

	deps := core.PipelineDeps{
		Concerts:  setlistfm.NewClient(&config.SetlistFM, logger.Named("setlistfm")),
		Resolver:  resolver,
		Publisher: publisher,
		Quota:     store.NewQuotaStore(db, config.App.DailyQuota),
		Playlists: playlists,
		Metrics:   metrics,
		MaxPages:  config.App.MaxSetlistPages,
	}
	if predictor.Enabled() {
		deps.Predictor = predictor
	}

	return &services{
		db:        db,
		spotify:   spotifyClient,
		predictor: predictor,
		playlists: playlists,
		pipeline:  core.NewPipeline(deps, logger.Named("pipeline")),
		metrics:   metrics,
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting Setlistify",
		zap.String("version", version),
		zap.String("llm_provider", config.LLM.Provider),
		zap.String("database", config.Store.DatabasePath))

	if err := validateConfig(true); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.Close()

	throttle := flood.New(config.App.FloodLimitPerMinute)
	defer throttle.Stop()

	api := httpserver.NewAPI(httpserver.APIDeps{
		Pipeline:        svcs.pipeline,
		Playlists:       svcs.playlists,
		Throttle:        throttle,
		Metrics:         svcs.metrics,
		PublicPlaylists: config.App.PublicPlaylists,
	}, logger.Named("api"))
	server := httpserver.NewServer(&config.Server, api, svcs.metrics, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gCtx)
	})

	logger.Info("Setlistify started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)),
		zap.Bool("predictions", svcs.predictor.Enabled()))

	if err := g.Wait(); err != nil {
		logger.Error("Setlistify stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Setlistify stopped gracefully")
	return nil
}

func runAuth(cmd *cobra.Command, _ []string) error {
	if err := validateSpotifyConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := spotify.NewClient(&config.Spotify, logger.Named("spotify"))
	if err := client.Login(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Token saved to %s\n", config.Spotify.TokenPath)
	return nil
}
