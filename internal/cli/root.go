package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/ksuid"
	"github.com/spf13/cobra"

	"gdeltsync/internal/config"
	"gdeltsync/internal/extraction"
	"gdeltsync/internal/fetch"
	"gdeltsync/internal/infra/logger"
	"gdeltsync/internal/journal"
	"gdeltsync/internal/pipeline"
	"gdeltsync/internal/platform"
	"gdeltsync/internal/scrape"
	"gdeltsync/internal/uploader"
)

type contextKey string

const configContextKey contextKey = "gdeltsyncconfig"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "gdeltsync",
		Short: "Download GDELT export files and upload them to a bucket via an external copy tool",
		Long: `gdeltsync scrapes the GDELT events index page for links whose name
contains "export", downloads each file into a local directory (resumable by
re-running; completed files are never re-fetched), extracts CSV members from
zip archives, and hands every resulting file to an external copy tool such as
gsutil. Individual link failures are logged and skipped; the run itself keeps
going.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			// Flag names use dashes, config keys use underscores, so bind
			// each flag to its key explicitly.
			bindings := map[string]string{
				"bucket":        "bucket",
				"dest_prefix":   "dest-prefix",
				"downloads_dir": "downloads-dir",
				"index_url":     "index-url",
				"dry_run":       "dry-run",
				"cleanup":       "cleanup",
				"max_items":     "max-items",
			}
			for key, name := range bindings {
				f := cmd.Flags().Lookup(name)
				if f == nil {
					continue
				}
				if err := cfg.Viper().BindPFlag(key, f); err != nil {
					return err
				}
			}
			if err := cfg.Reload(); err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)

			return nil
		},
		RunE: runSync,
	}
)

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configContextKey).(*config.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateForRun(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Path, cfg.Log.Level, cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := platform.ValidateDependencies(cfg.Tool, cfg.DryRun); err != nil {
		return err
	}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer jnl.Close()
	}

	p := pipeline.New(
		cfg,
		log,
		scrape.New(cfg.IndexURL, cfg.HTTP.IndexTimeout),
		fetch.New(cfg.DownloadsDir, cfg.HTTP.DownloadTimeout),
		extraction.NewCSVZip(),
		uploader.New(cfg.Tool, cfg.Bucket, cfg.DestPrefix, cfg.DryRun),
		jnl,
	)

	report, err := p.Run(cmd.Context(), ksuid.New().String())
	if err != nil {
		return err
	}

	log.Info("Run %s finished: %d/%d links processed, %d failed.",
		report.RunID, report.Processed, report.LinksFound, report.Failures())

	// Per-item failures are not a run failure: exit 0 once the loop completed.
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, optional)")
	rootCmd.Flags().String("bucket", "", "destination bucket, e.g. gs://my-bucket (required)")
	rootCmd.Flags().String("dest-prefix", "", "optional destination prefix inside the bucket (e.g. data/)")
	rootCmd.Flags().String("downloads-dir", "downloads", "local downloads directory")
	rootCmd.Flags().String("index-url", config.DefaultIndexURL, "index page to scrape for export links")
	rootCmd.Flags().Bool("dry-run", false, "print copy commands without executing them")
	rootCmd.Flags().Bool("cleanup", false, "delete zip archives after their CSVs are uploaded")
	rootCmd.Flags().Int("max-items", 0, "stop after this many links (0 = unlimited)")
}
