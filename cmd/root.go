// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"embedwrap/internal/classify"
	"embedwrap/internal/config"
	"embedwrap/internal/httputil"
	"embedwrap/internal/preview"
	"embedwrap/internal/rehydrate"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagConfig      string
	flagBase        string
	flagPageURL     string
	flagTopics      string
	flagTopicInline bool
	flagExpandDelay time.Duration
	flagDebug       bool
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

var rootCmd = &cobra.Command{
	Use:   "embedwrap",
	Short: "Turn plain links in rendered posts into inline media",
	Long: `Embedwrap rewrites the links inside a post's content block into video
players, YouTube/Vimeo embeds and preview cards.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: $XDG_CONFIG_HOME/embedwrap/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&flagBase, "base", "b", "", "Forum base URL for previews")
	rootCmd.PersistentFlags().StringVarP(&flagPageURL, "page-url", "u", "", "URL of the page the post is shown on")
	rootCmd.PersistentFlags().StringVar(&flagTopics, "topic-previews", "", "Topic previews: remote | local")
	rootCmd.PersistentFlags().BoolVar(&flagTopicInline, "topic-inline", false, "Preview topic links inside prose too")
	rootCmd.PersistentFlags().DurationVar(&flagExpandDelay, "expand-delay", -1, "Delay before expanding preview cards")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.AddCommand(rehydrateCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagBase != "" {
		cfg.Base = flagBase
	}
	if flagPageURL != "" {
		cfg.PageURL = flagPageURL
	}
	if flagTopics != "" {
		cfg.TopicPreviews = flagTopics
	}
	if flagTopicInline {
		cfg.TopicRequiresStandalone = false
	}
	if flagExpandDelay >= 0 {
		cfg.ExpandDelay = flagExpandDelay
	}
	if flagDebug {
		cfg.Debug = true
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return nil
}

// newRehydrator wires the pipeline from the loaded configuration.
func newRehydrator() (*rehydrate.Rehydrator, error) {
	classifier, err := classify.New(cfg.ExtraMediaPatterns)
	if err != nil {
		return nil, fmt.Errorf("building classifier: %w", err)
	}

	creds := httputil.Credentials{APIKey: cfg.APIKey, APIUsername: cfg.APIUsername}
	base := cfg.BaseURL()

	opts := rehydrate.Options{
		Classifier: classifier,
		Previews: preview.NewFetcher(base, preview.Options{
			Client:      httputil.NewClient(cfg.FetchTimeout),
			Credentials: creds,
			Logger:      logger,
		}),
		TopicMode:        rehydrate.TopicMode(strings.ToLower(cfg.TopicPreviews)),
		TopicInline:      !cfg.TopicRequiresStandalone,
		Expander:         &preview.Expander{Delay: cfg.ExpandDelay, Logger: logger},
		BlockConcurrency: cfg.BlockConcurrency,
		Logger:           logger,
	}
	if opts.TopicMode == rehydrate.TopicLocal {
		opts.Topics = preview.NewTopicFetcher(base, preview.TopicOptions{
			Timeout:     cfg.FetchTimeout,
			Retries:     cfg.TopicRetries,
			Credentials: creds,
			Logger:      logger,
		})
	}

	logger.Debug("pipeline ready",
		"base", base,
		"topic_previews", cfg.TopicPreviews,
		"rules", len(classifier.Rules()),
		"only_stream", cfg.OnlyStream)
	return rehydrate.New(opts), nil
}

// pageURL is the configured page URL, or the forum root when none is set.
func pageURL() string {
	if cfg.PageURL != "" {
		return cfg.PageURL
	}
	return cfg.BaseURL() + "/"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "embedwrap %s\n", Version)
	},
}
