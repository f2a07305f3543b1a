package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command. Without -c it prints the usage and
// exits successfully.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "minispider",
		Short: "Breadth-first crawler that downloads media files",
		Long: `minispider crawls the seed URLs of a spider configuration breadth-first,
follows links up to max_depth and stores every media file it finds
(jpg by default) in output_directory.

Transport defaults (timeout, CA bundle, TLS ciphers, logging) come from
the settings file named by MINISPIDER_SETTINGS, or settings.yaml in the
XDG config directory.

Examples:
  # Crawl with a configuration file
  minispider -c spider.conf

  # Write a sample configuration
  minispider init

  # List previous crawls
  minispider history`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runRootCmd,
	}
	cmd.SetVersionTemplate("minispider version {{.Version}}\n")

	cmd.Flags().StringP("conf", "c", "", "Spider configuration file (INI or YAML)")
	cmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")

	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// runRootCmd runs a crawl, or prints the usage when no configuration is
// given.
func runRootCmd(cmd *cobra.Command, _ []string) error {
	confPath, err := cmd.Flags().GetString("conf")
	if err != nil {
		return err
	}
	if confPath == "" {
		return cmd.Help()
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}

	return runCrawl(cmd.Context(), crawlOptions{
		confPath: confPath,
		verbose:  verbose,
		stdout:   cmd.OutOrStdout(),
		stderr:   cmd.ErrOrStderr(),
	})
}

// Execute runs the root command. SIGINT and SIGTERM stop a running crawl
// gracefully; the report is still written.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
