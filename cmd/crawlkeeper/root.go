package main

import (
	"fmt"
	"log/slog"
	"os"

	crawllog "github.com/nao1215/crawlkeeper/internal/log"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for crawlkeeper.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlkeeper",
		Short: "Resumable web crawler with a persistent frontier",
		Long: `crawlkeeper crawls web sites from one or more root URLs and records every
URL it discovers in a persistent frontier before fetching it.

Stop a crawl at any time: running it again with the same job resumes from
the frontier instead of starting over. Failed URLs are retried until they
reach the per-URL failure limit and are then abandoned.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .crawlkeeper in current, XDG config or home directory)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getBoolFlag reads a flag from the command or, failing that, from the
// root's persistent flags.
func getBoolFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// getStringFlag is getBoolFlag for string flags.
func getStringFlag(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetString(name)
		if err != nil {
			return ""
		}
	}
	return v
}

// setupLogger creates the redacting logger selected by --verbose and
// --log-json. Logs go to stderr so reports on stdout stay clean.
func setupLogger(cmd *cobra.Command) *slog.Logger {
	return crawllog.NewLogger(cmd.ErrOrStderr(), crawllog.Options{
		Verbose: getBoolFlag(cmd, "verbose"),
		JSON:    getBoolFlag(cmd, "log-json"),
	})
}
