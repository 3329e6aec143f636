package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/talentai/talentai/internal/ai/mock"
	"github.com/talentai/talentai/internal/cache"
	"github.com/talentai/talentai/internal/logger"
	"github.com/talentai/talentai/internal/verify"
)

const (
	PromptRetry = "Retry verification"
	PromptQuit  = "Quit"
)

var retryPrompt = promptui.Select{
	Label: "Verification did not pass. Proceed?",
	Items: []string{PromptRetry, PromptQuit},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run a selfie verification session against a directory of captured frames",
	Run: func(cmd *cobra.Command, _ []string) {
		runVerify(cmd)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringP("frames", "f", "", "directory with captured selfie frames (jpg/png)")
	verifyCmd.Flags().String("client-id", "", "rate limiting key, defaults to anonymous")
	verifyCmd.MarkFlagRequired("frames")
}

// runVerify drives verification sessions until one passes or the user quits.
func runVerify(cmd *cobra.Command) {
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

	generator, err := buildGenerator(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building the gemini client", zap.Error(err))
	}
	if generator == nil {
		logger.Warn("gemini api key is not configured, verdicts come from the heuristic analyzer only")
	}

	opts := verifyOptions(config.Verify)
	if clientID := cmd.Flag("client-id").Value.String(); clientID != "" {
		opts.ClientID = clientID
	}

	deps := verify.Deps{
		Source:   &verify.DirectorySource{Dir: cmd.Flag("frames").Value.String()},
		Remote:   newRemoteAnalyzer(generator, config.AI, logger),
		Fallback: mock.New(),
		Cache:    cache.NewMemory(),
		Limiter:  buildLimiter(limitConfig(config.Limits, true)),
		Logger:   logger,
	}

	for {
		verified, err := runSession(ctx, deps, opts, logger)
		if err != nil {
			if errors.Is(err, verify.ErrDeviceUnavailable) {
				logger.Fatal("camera unavailable", zap.Error(err))
			}
			if !errors.Is(err, verify.ErrInsufficientEvidence) {
				logger.Fatal("verification session failed", zap.Error(err))
			}
			logger.Warn("verification inconclusive", zap.Error(err))
		}

		if verified {
			return
		}

		_, action, err := retryPrompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if action == PromptQuit {
			logger.Info("exiting", zap.String("reason", "got quit from prompt"))
			return
		}
	}
}

// runSession executes one single-use session and reports whether it passed.
func runSession(ctx context.Context, deps verify.Deps, opts verify.Options, logger *zap.Logger) (bool, error) {
	onProgress := func(p verify.Progress) {
		fmt.Printf("[%d/%d] %s\n", p.Sample, p.Total, p.Instruction)
	}

	session, err := verify.NewSession(deps, opts, onProgress)
	if err != nil {
		return false, err
	}

	result, err := session.Run(ctx)
	if err != nil {
		return false, err
	}

	logger.Info("verification result",
		zap.Bool("verified", result.IsVerified),
		zap.Bool("adult", result.IsAdult),
		zap.Int("estimated_age", result.EstimatedAge),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("used_fallback", result.UsedFallback),
	)

	return result.Verified(), nil
}

func verifyOptions(cfg *VerifyConfig) verify.Options {
	opts := verify.DefaultOptions()
	if cfg == nil {
		return opts
	}

	if cfg.Samples > 0 {
		opts.Samples = cfg.Samples
	}
	if cfg.Interval > 0 {
		opts.Interval = cfg.Interval
	}
	if cfg.ConsensusThreshold > 0 && cfg.ConsensusThreshold <= 1 {
		opts.ConsensusThreshold = cfg.ConsensusThreshold
	}
	if cfg.MinValidVerdicts > 0 {
		opts.MinValidVerdicts = cfg.MinValidVerdicts
	}
	if cfg.AnalysisTimeout > 0 {
		opts.AnalysisTimeout = cfg.AnalysisTimeout
	}
	if cfg.QuotaCooldown > 0 {
		opts.QuotaCooldown = cfg.QuotaCooldown
	}

	return opts
}
