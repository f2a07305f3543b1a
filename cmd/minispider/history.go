package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/minispider/internal/config"
	"github.com/nao1215/minispider/internal/database"
	"github.com/nao1215/minispider/internal/report"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
// This command reads past crawls from the catalog.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past crawls stored in the catalog",
		Long: `History reads the crawl catalog written by previous runs.

Without arguments it lists every run, newest first. With a run ID it
renders the stored report of that run.

Examples:
  # List all runs
  minispider history

  # Show the report of one run as Markdown
  minispider history --format markdown 0f8fad5b-d9cb-469f-a165-70867728950e

  # List the pages processed by a run
  minispider history --pages 0f8fad5b-d9cb-469f-a165-70867728950e

  # Find every run that stored a file with this SHA3-256 digest
  minispider history --digest 3a985da74fe225b2...

  # Check whether a URL was fetched during the last day
  minispider history --url http://example.com/ --within 24h`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().String("catalog", config.XDGDataDir(),
		"Directory of the crawl catalog")
	cmd.Flags().StringP("format", "f", report.FormatText,
		"Report format: text, json or markdown")
	cmd.Flags().BoolP("pages", "p", false,
		"List the pages of the given run instead of its report")
	cmd.Flags().StringP("digest", "d", "",
		"List stored media files with this SHA3-256 digest")
	cmd.Flags().String("url", "",
		"Check whether this URL was fetched recently")
	cmd.Flags().Duration("within", 24*time.Hour,
		"Time window used with --url")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	catalogDir, err := cmd.Flags().GetString("catalog")
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	pages, err := cmd.Flags().GetBool("pages")
	if err != nil {
		return err
	}
	digest, err := cmd.Flags().GetString("digest")
	if err != nil {
		return err
	}
	rawURL, err := cmd.Flags().GetString("url")
	if err != nil {
		return err
	}
	within, err := cmd.Flags().GetDuration("within")
	if err != nil {
		return err
	}

	// Validate arguments before opening the catalog.
	if pages && len(args) == 0 {
		return errors.New("--pages requires a run ID")
	}

	db, err := database.Open(catalogDir, database.Options{EnableWAL: true})
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	switch {
	case digest != "":
		return listMediaByDigest(ctx, out, db, digest)
	case rawURL != "":
		return checkRecentCrawl(ctx, out, db, rawURL, within)
	case len(args) == 0:
		return listRuns(ctx, out, db)
	case pages:
		return listRunPages(ctx, out, db, args[0])
	default:
		return showRunReport(ctx, out, db, args[0], format)
	}
}

// listRuns prints one line per run, newest first.
func listRuns(ctx context.Context, out io.Writer, db *database.CrawlDB) error {
	runs, err := db.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No crawl runs found in the catalog.")
		fmt.Fprintln(out, "\nUse 'minispider -c spider.conf' to start a crawl.")
		return nil
	}

	fmt.Fprintf(out, "Crawl runs (%d):\n\n", len(runs))
	fmt.Fprintf(out, "  %-36s  %-19s  %-20s  %6s  %6s  %6s\n", "ID", "Started", "Stopped", "Pages", "Media", "Errors")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 102))

	for _, run := range runs {
		stopReason := run.StopReason
		if stopReason == "" {
			stopReason = "unfinished"
		}
		fmt.Fprintf(out, "  %-36s  %-19s  %-20s  %6d  %6d  %6d\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			stopReason,
			run.Pages,
			run.Media,
			run.Errors,
		)
	}

	fmt.Fprintln(out, "\nUse 'minispider history <id>' to show the report of a run.")
	return nil
}

// showRunReport renders the stored report of a run.
func showRunReport(ctx context.Context, out io.Writer, db *database.CrawlDB, id, format string) error {
	crawlReport, err := db.GetRunReport(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return fmt.Errorf("no finished run with ID %s", id)
		}
		return fmt.Errorf("failed to read run %s: %w", id, err)
	}

	writer, err := report.New(format, out, getVersion())
	if err != nil {
		return err
	}
	_, err = writer.Write(crawlReport)
	return err
}

// listRunPages prints the pages processed by a run.
func listRunPages(ctx context.Context, out io.Writer, db *database.CrawlDB, id string) error {
	pages, err := db.GetPages(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list pages of run %s: %w", id, err)
	}
	if len(pages) == 0 {
		fmt.Fprintf(out, "No pages recorded for run %s\n", id)
		return nil
	}

	fmt.Fprintf(out, "Pages of run %s (%d):\n\n", id, len(pages))
	for _, page := range pages {
		status := "---"
		if page.StatusCode > 0 {
			status = strconv.Itoa(page.StatusCode)
		}
		line := fmt.Sprintf("  [%s] d=%d %-13s %s", status, page.Depth, page.Outcome, page.URL)
		if page.Error != "" {
			line += " (" + page.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// listMediaByDigest prints every stored media file with the digest.
func listMediaByDigest(ctx context.Context, out io.Writer, db *database.CrawlDB, digest string) error {
	media, err := db.FindMediaByDigest(ctx, strings.ToLower(digest))
	if err != nil {
		return fmt.Errorf("failed to search media: %w", err)
	}
	if len(media) == 0 {
		fmt.Fprintf(out, "No media found with digest %s\n", digest)
		return nil
	}

	fmt.Fprintf(out, "Media with digest %s (%d):\n\n", digest, len(media))
	for _, m := range media {
		fmt.Fprintf(out, "  %s  %s -> %s\n", m.FetchedAt.Local().Format("2006-01-02 15:04:05"), m.URL, m.Path)
	}
	return nil
}

// checkRecentCrawl reports whether rawURL was fetched within d.
func checkRecentCrawl(ctx context.Context, out io.Writer, db *database.CrawlDB, rawURL string, d time.Duration) error {
	recent, err := db.HasRecentCrawl(ctx, rawURL, d)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", rawURL, err)
	}
	if recent {
		fmt.Fprintf(out, "%s was fetched within the last %s\n", rawURL, d)
	} else {
		fmt.Fprintf(out, "%s was not fetched within the last %s\n", rawURL, d)
	}
	return nil
}
