package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/sources"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/discovery"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

var (
	addKind      string
	addKey       string
	addHost      string
	addEngine    string
	addSkipProbe bool
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage registered feeds and sitemaps",
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Register a feed or sitemap source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := domain.SourceKind(strings.ToLower(strings.TrimSpace(addKind)))
		if !kind.Valid() {
			return fmt.Errorf("--kind must be %q or %q", domain.KindFeed, domain.KindSitemap)
		}
		if strings.TrimSpace(addKey) == "" {
			return fmt.Errorf("--key is required")
		}

		normalized, err := sources.NormalizeURL(args[0])
		if err != nil {
			return err
		}

		host := strings.TrimSpace(addHost)
		if host == "" {
			if host, err = sources.DeriveHost(normalized); err != nil {
				return err
			}
		}
		engine := strings.TrimSpace(addEngine)
		if engine == "" {
			engine = sources.DefaultSearchEngine
		}

		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(store)

		exists, err := store.SourceExists(normalized)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("source %s is already registered", normalized)
		}

		if !addSkipProbe {
			client := httpclient.NewRestyClient(cfg.FetchTimeout, cfg.UserAgent)
			if err := sources.Probe(cmd.Context(), client, normalized); err != nil {
				return fmt.Errorf("source is not reachable (use --skip-probe to register anyway): %w", err)
			}
		}

		id, err := store.AddSource(domain.Source{
			Kind:         kind,
			SourceURL:    normalized,
			APIKey:       strings.TrimSpace(addKey),
			Host:         host,
			SearchEngine: engine,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "registered source %d: %s (%s)\n", id, normalized, kind)
		return nil
	},
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(store)

		srcs, err := store.Sources()
		if err != nil {
			return err
		}
		if len(srcs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no sources registered")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tURL\tHOST\tENGINE\tFIRST RUN")
		for _, src := range srcs {
			state := "pending"
			if src.FirstRunCompleted {
				state = "done"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				src.ID, src.Kind, src.SourceURL, src.Host, src.SearchEngine, state)
		}
		return w.Flush()
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a source and its URL records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid source id %q", args[0])
		}

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(store)

		if err := store.RemoveSource(id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed source %d\n", id)
		return nil
	},
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import sources from a YAML or JSON file",
	Long: `Import upserts sources declared in a file, matching on URL.
Existing sources keep their id and first-run state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcs, err := sources.LoadFile(args[0])
		if err != nil {
			return err
		}

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(store)

		added, updated, err := sources.Import(store, srcs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d sources (%d added, %d updated)\n", added+updated, added, updated)
		return nil
	},
}

var sourcesDiscoverCmd = &cobra.Command{
	Use:   "discover <page-url>",
	Short: "Find feed links advertised by an HTML page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := httpclient.NewRestyClient(cfg.FetchTimeout, cfg.UserAgent)
		links, err := discovery.Discover(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		if len(links) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no feed links found")
			return nil
		}
		for _, link := range links {
			fmt.Fprintln(cmd.OutOrStdout(), link)
		}
		return nil
	},
}

func init() {
	sourcesAddCmd.Flags().StringVar(&addKind, "kind", "", "source kind: feed or sitemap")
	sourcesAddCmd.Flags().StringVar(&addKey, "key", "", "IndexNow API key for this source's host")
	sourcesAddCmd.Flags().StringVar(&addHost, "host", "", "host to declare in submissions (default: derived from url)")
	sourcesAddCmd.Flags().StringVar(&addEngine, "engine", "", "IndexNow endpoint host (default: "+sources.DefaultSearchEngine+")")
	sourcesAddCmd.Flags().BoolVar(&addSkipProbe, "skip-probe", false, "skip the reachability check")
	_ = sourcesAddCmd.MarkFlagRequired("kind")
	_ = sourcesAddCmd.MarkFlagRequired("key")

	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesRemoveCmd)
	sourcesCmd.AddCommand(sourcesImportCmd)
	sourcesCmd.AddCommand(sourcesDiscoverCmd)
	rootCmd.AddCommand(sourcesCmd)
}
