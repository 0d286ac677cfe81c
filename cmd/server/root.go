package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheUltimateAbsol/technews/internal/config"
	"github.com/TheUltimateAbsol/technews/internal/forest"
	"github.com/TheUltimateAbsol/technews/internal/logging"
	"github.com/TheUltimateAbsol/technews/internal/scraper"
)

// globalOptions are the flags shared by every subcommand
type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "technews",
		Short: "Scrape forum threads into bounded comment forests",
		Long: `technews polls forum sources for hot posts, reduces each comment
thread to a bounded forest of the best replies and serves the results
over HTTP.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(opts),
		newScrapeCommand(opts),
		newBuildCommand(),
	)
	return cmd
}

// load reads the configuration and builds the logger it asks for
func (o *globalOptions) load() (*config.Loader, *config.Config, *zap.Logger, error) {
	loader := config.NewLoader(o.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if file := loader.ConfigFileUsed(); file != "" {
		logger.Info("Loaded config", zap.String("file", file))
	}
	return loader, cfg, logger, nil
}

// newSources creates a source for every enabled section of the config
func newSources(cfg *config.Config, logger *zap.Logger) ([]scraper.Source, error) {
	base := scraper.CollectorOptions{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   config.Duration(cfg.Scraper.Timeout),
	}

	var sources []scraper.Source
	if s := cfg.Scraper.Sources.Scored; s.Enabled {
		opts := base
		opts.Delay = config.Duration(s.RequestDelay)
		src, err := scraper.NewScoredSource(scraper.ScoredOptions{
			BaseURL:    s.BaseURL,
			Community:  s.Community,
			PostLimit:  s.PostLimit,
			RootParent: s.RootParentID(),
			Collector:  opts,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("scored source: %w", err)
		}
		sources = append(sources, src)
	}
	if r := cfg.Scraper.Sources.Reddit; r.Enabled {
		opts := base
		opts.Delay = config.Duration(r.RequestDelay)
		src, err := scraper.NewRedditSource(scraper.RedditOptions{
			BaseURL:    r.BaseURL,
			Subreddits: r.Subreddits,
			Listing:    r.Listing,
			PostLimit:  r.PostLimit,
			MaxAge:     config.Duration(r.MaxAge),
			Collector:  opts,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("reddit source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// forestConfigs returns the global forest limits and the per-source overrides
func forestConfigs(cfg *config.Config) (forest.Config, map[string]forest.Config, error) {
	base, err := cfg.Forest.Build()
	if err != nil {
		return forest.Config{}, nil, err
	}

	overrides := map[string]forest.Config{}
	for name, fc := range map[string]*config.ForestConfig{
		scraper.ScoredSourceName: cfg.Scraper.Sources.Scored.Forest,
		scraper.RedditSourceName: cfg.Scraper.Sources.Reddit.Forest,
	} {
		if fc == nil {
			continue
		}
		if overrides[name], err = fc.Build(); err != nil {
			return forest.Config{}, nil, fmt.Errorf("%s forest: %w", name, err)
		}
	}
	return base, overrides, nil
}
