// Package cli contains all CLI commands for the notifier.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/app"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/config"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/logger"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/storage"
)

var (
	dryRun     bool
	acceptAll  bool
	unattended bool
	sourceIDs  []int64
)

// rootCmd runs the reconcile pipeline when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Notify search engines about new and changed URLs",
	Long: `notifier reconciles registered feeds and sitemaps against its local state
and submits new or modified URLs to an IndexNow-compatible endpoint.

Example usage:
  notifier                       # reconcile all sources once
  notifier --source 3            # reconcile a single source
  notifier --dry-run             # show what would be submitted
  notifier sources add <url>     # register a feed or sitemap
  notifier sources list          # show registered sources`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner, err := app.New(ctx, cfg, logger.Std{}, app.Options{
			DryRun: dryRun,
			Accept: acceptance(cmd.InOrStdin(), cmd.OutOrStdout()),
		})
		if err != nil {
			return err
		}
		defer runner.Close()

		return runner.Run(ctx, sourceIDs)
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "report planned submissions without sending them")
	rootCmd.Flags().BoolVarP(&acceptAll, "yes", "y", false, "submit first-run URL sets without asking")
	rootCmd.Flags().BoolVar(&unattended, "unattended", false, "never prompt; record first-run sets without submitting")
	rootCmd.Flags().Int64SliceVar(&sourceIDs, "source", nil, "limit the run to these source ids (repeatable)")
}

// acceptance resolves the first-run submission policy from flags. The default
// is an interactive prompt; --yes and --unattended both suppress it.
func acceptance(in io.Reader, out io.Writer) app.Acceptance {
	if acceptAll {
		return app.AcceptAll
	}
	if unattended {
		return app.DeclineAll
	}

	reader := bufio.NewReader(in)
	return func(src domain.Source, pending int) bool {
		fmt.Fprintf(out, "source %d (%s): submit all %d discovered URLs? [y/N]: ", src.ID, src.SourceURL, pending)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}

// loadConfig loads configuration and initializes the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := logger.Init(cfg); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// openStore loads config and opens the storage backend for management
// commands that do not need the full pipeline.
func openStore() (*config.Config, storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	return cfg, store, nil
}

func closeStore(store storage.Store) {
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close storage: %v\n", err)
	}
}
