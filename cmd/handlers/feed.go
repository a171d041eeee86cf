package handlers

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"infodigest/internal/config"
	"infodigest/internal/feeds"
	"infodigest/internal/logger"
)

// NewFeedCmd creates the feed management command.
func NewFeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Manage RSS/Atom feed sources",
		Long: `Manage the feed catalog.

Subcommands:
  add       Add a new feed source
  remove    Remove a feed source
  list      List all feed sources
  enable    Enable a feed
  disable   Disable a feed`,
	}

	cmd.AddCommand(newFeedAddCmd())
	cmd.AddCommand(newFeedRemoveCmd())
	cmd.AddCommand(newFeedListCmd())
	cmd.AddCommand(newFeedToggleCmd("enable", true))
	cmd.AddCommand(newFeedToggleCmd("disable", false))
	return cmd
}

// openRegistry loads just the feed catalog, without building the rest of the
// application.
func openRegistry() (*feeds.Registry, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	return feeds.NewRegistry(cfg.App.FeedsFile)
}

func newFeedAddCmd() *cobra.Command {
	var (
		name     string
		category string
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "add <feed-url>",
		Short: "Add a new RSS/Atom feed source",
		Long: `Add a feed to the catalog. With --validate the feed is fetched and
parsed first so broken URLs are rejected up front.

Examples:
  infodigest feed add https://hnrss.org/newest --name "Hacker News"
  infodigest feed add https://arxiv.org/rss/cs.AI --category research --validate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return err
			}
			url := args[0]
			if validate {
				if err := registry.Validate(cmd.Context(), url); err != nil {
					return fmt.Errorf("feed validation failed: %w", err)
				}
			}
			if name == "" {
				name = url
			}
			if err := registry.Add(name, url, category); err != nil {
				return err
			}
			fmt.Printf("Added feed %s\n", url)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the feed")
	cmd.Flags().StringVar(&category, "category", "", "feed category")
	cmd.Flags().BoolVar(&validate, "validate", false, "fetch and parse the feed before adding")
	return cmd
}

func newFeedRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name-or-url>",
		Short: "Remove a feed source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return err
			}
			if err := registry.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed feed %s\n", args[0])
			return nil
		},
	}
}

func newFeedListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all feed sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return err
			}
			catalog := registry.List()
			if len(catalog) == 0 {
				fmt.Println("No feeds configured.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tENABLED\tURL")
			for _, f := range catalog {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", f.Name, f.Category, f.Enabled, f.URL)
			}
			return w.Flush()
		},
	}
}

func newFeedToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name-or-url>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return err
			}
			if err := registry.SetEnabled(args[0], enabled); err != nil {
				return err
			}
			fmt.Printf("Feed %s %sd\n", args[0], use)
			return nil
		},
	}
}
