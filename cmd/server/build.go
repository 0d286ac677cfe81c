package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheUltimateAbsol/technews/internal/forest"
	"github.com/TheUltimateAbsol/technews/internal/models"
)

func newBuildCommand() *cobra.Command {
	defaults := forest.DefaultConfig()
	var (
		cfg      = defaults
		fields   string
		sentinel string
	)

	cmd := &cobra.Command{
		Use:   "build [records.json]",
		Short: "Build a comment forest from a JSON array of comment records",
		Long: `Build reads flat comment records (id, comment_parent_id, score,
author, raw_content, created) from a file or stdin and prints the
bounded comment forest as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var records []models.CommentRecord
			if err := json.NewDecoder(in).Decode(&records); err != nil {
				return fmt.Errorf("decode comment records: %w", err)
			}

			if cfg.MaxDepth < 1 {
				return fmt.Errorf("--max-depth must be at least 1")
			}
			if cfg.RootLimit < 0 || cfg.BranchLimit < 0 {
				return fmt.Errorf("limits must not be negative")
			}
			p, err := forest.ParseFieldPolicy(fields)
			if err != nil {
				return err
			}
			cfg.Fields = p
			cfg.Sentinel = models.CommentID(sentinel)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "    ")
			return enc.Encode(forest.Build(records, cfg))
		},
	}
	cmd.Flags().IntVar(&cfg.RootLimit, "root-limit", defaults.RootLimit, "maximum top-level comments")
	cmd.Flags().IntVar(&cfg.BranchLimit, "branch-limit", defaults.BranchLimit, "maximum replies kept per comment")
	cmd.Flags().IntVar(&cfg.MaxDepth, "max-depth", defaults.MaxDepth, "tree height")
	cmd.Flags().StringVar(&fields, "fields", defaults.Fields.String(), "basic, full, or a list such as score,created")
	cmd.Flags().StringVar(&sentinel, "sentinel", string(defaults.Sentinel), "parent id of top-level comments")
	return cmd
}
