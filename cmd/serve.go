package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/talentai/talentai/internal/ai"
	"github.com/talentai/talentai/internal/ai/gemini"
	"github.com/talentai/talentai/internal/ai/mock"
	"github.com/talentai/talentai/internal/cache"
	"github.com/talentai/talentai/internal/logger"
	"github.com/talentai/talentai/internal/ratelimit"
	"github.com/talentai/talentai/internal/secrets"
	"github.com/talentai/talentai/internal/server"
	"github.com/talentai/talentai/internal/talent"
)

const defaultAddr = ":8080"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the talentai HTTP API",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", "", "listen address (default is :8080)")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

// serve is the HTTP API command.
func serve(_ *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		config = &Config{}
	}

	logger.Info("starting the talentai api", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	store, ttl, err := buildCache(ctx, config.Cache)
	if err != nil {
		logger.Fatal("building the analysis cache", zap.Error(err))
	}

	generator, err := buildGenerator(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building the gemini client", zap.Error(err))
	}

	deps := server.Deps{
		Fallback:      mock.New(),
		Talent:        buildTalent(config.AI, generator, logger),
		Cache:         store,
		SelfieLimiter: buildLimiter(limitConfig(config.Limits, true)),
		TextLimiter:   buildLimiter(limitConfig(config.Limits, false)),
		Logger:        logger,
		CacheTTL:      ttl,
	}

	if generator != nil {
		deps.Remote = newRemoteAnalyzer(generator, config.AI, logger)
		deps.Probe = generator
	} else {
		logger.Warn("gemini api key is not configured, serving mock analysis only",
			zap.String("hint", "set GEMINI_API_KEY or ai.gemini.api-key-file in the configuration file"),
		)
	}

	srv, err := server.New(deps)
	if err != nil {
		logger.Fatal("building the server", zap.Error(err))
	}

	addr := defaultAddr
	if config.Server != nil && strings.TrimSpace(config.Server.Addr) != "" {
		addr = strings.TrimSpace(config.Server.Addr)
	}

	logger.Info("listening", zap.String("addr", addr))
	if err := srv.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// buildCache selects the analysis cache backend. The in-memory store is the
// default; redis is opt-in for multi-instance deployments.
func buildCache(ctx context.Context, cfg *CacheConfig) (cache.Store, time.Duration, error) {
	ttl := cache.DefaultTTL
	if cfg != nil && cfg.TTL > 0 {
		ttl = cfg.TTL
	}

	backend := "memory"
	if cfg != nil && strings.TrimSpace(cfg.Backend) != "" {
		backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	}

	switch backend {
	case "memory":
		return cache.NewMemory(), ttl, nil
	case "redis":
		if cfg == nil || cfg.Redis == nil || strings.TrimSpace(cfg.Redis.Addr) == "" {
			return nil, 0, fmt.Errorf("cache.redis.addr is required for the redis backend")
		}

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, 0, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}

		return cache.NewRedis(client), ttl, nil
	default:
		return nil, 0, fmt.Errorf("unsupported cache backend: %s", backend)
	}
}

func limitConfig(cfg *LimitsConfig, selfie bool) *LimitConfig {
	if cfg == nil {
		return nil
	}
	if selfie {
		return cfg.Selfie
	}
	return cfg.Text
}

func buildLimiter(cfg *LimitConfig) *ratelimit.Limiter {
	if cfg == nil {
		return ratelimit.New(0, 0)
	}
	return ratelimit.New(cfg.MaxRequests, cfg.Window)
}

// buildGenerator returns a nil generator when no API key is configured; the
// callers then run in fallback-only mode.
func buildGenerator(ctx context.Context, cfg *AIConfig, log *zap.Logger) (*gemini.Generator, error) {
	if cfg != nil {
		provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
		if provider != "" && provider != gemini.Provider {
			return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
		}
	}

	var geminiCfg GeminiConfig
	if cfg != nil && cfg.Gemini != nil {
		geminiCfg = *cfg.Gemini
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: geminiCfg.APIKey,
		File:  geminiCfg.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		log.Debug("no gemini api key resolved", zap.Error(err))
		return nil, nil
	}

	return gemini.NewGenerator(ctx, apiKey, geminiCfg.Model)
}

func buildTalent(cfg *AIConfig, generator *gemini.Generator, log *zap.Logger) *talent.Service {
	if generator == nil {
		return talent.NewService(nil, log, maxLogLength(cfg))
	}

	svcLogger := logger.WithCommonFields(log, gemini.Provider, generator.Model())
	return talent.NewService(generator, svcLogger, maxLogLength(cfg))
}

func maxLogLength(cfg *AIConfig) int {
	if cfg == nil || cfg.Gemini == nil {
		return 0
	}
	return cfg.Gemini.MaxLogLength
}

// newRemoteAnalyzer pairs the generator with the selfie analyzer, shared by the
// serve and verify commands.
func newRemoteAnalyzer(generator *gemini.Generator, cfg *AIConfig, log *zap.Logger) ai.SelfieAnalyzer {
	if generator == nil {
		return nil
	}
	return gemini.NewAnalyzer(generator, log, maxLogLength(cfg))
}
