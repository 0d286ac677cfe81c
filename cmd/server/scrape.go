package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheUltimateAbsol/technews/internal/report"
	"github.com/TheUltimateAbsol/technews/internal/scraper"
	"github.com/TheUltimateAbsol/technews/internal/storage"
)

func newScrapeCommand(opts *globalOptions) *cobra.Command {
	var (
		out    string
		format string
		save   bool
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run one scrape and write the posts to a report file",
		Long: `Scrape fetches every enabled source once and writes the posts with
their comment forests to a JSON, YAML or HTML report. With --save the
posts are also stored, and posts already stored are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if out == "" {
				out = cfg.Report.Path
			}
			if format == "" {
				format = cfg.Report.Format
			}
			var f report.Format
			if format != "" {
				if f, err = report.ParseFormat(format); err != nil {
					return err
				}
			}

			var store storage.Storage
			if save {
				s, err := storage.NewSQLiteStorage(cfg.Storage.Path)
				if err != nil {
					return err
				}
				defer s.Close()
				store = s
			}

			sources, err := newSources(cfg, logger)
			if err != nil {
				return err
			}
			base, overrides, err := forestConfigs(cfg)
			if err != nil {
				return err
			}
			sc := scraper.New(sources, store, base, logger)
			sc.SetForestConfig(base, overrides)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			posts, err := sc.ScrapeNew(ctx)
			if err != nil {
				return err
			}
			if save && len(posts) > 0 {
				if err := sc.SavePosts(posts); err != nil {
					return err
				}
			}

			if err := report.WriteFile(out, f, posts); err != nil {
				return err
			}
			logger.Info("Wrote report", zap.String("path", out), zap.Int("posts", len(posts)))
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d posts to %s\n", len(posts), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "report file (default report.path)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "json, yaml or html (default from the file extension)")
	cmd.Flags().BoolVar(&save, "save", false, "store the posts and skip ones already stored")
	return cmd
}
