package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/minispider/internal/async"
	"github.com/nao1215/minispider/internal/config"
	"github.com/nao1215/minispider/internal/crawler"
	"github.com/nao1215/minispider/internal/database"
	"github.com/nao1215/minispider/internal/extractor"
	applog "github.com/nao1215/minispider/internal/log"
	"github.com/nao1215/minispider/internal/metrics"
	"github.com/nao1215/minispider/internal/model"
	"github.com/nao1215/minispider/internal/report"
	"github.com/nao1215/minispider/internal/transport"
)

// crawlOptions are the command line inputs of a crawl.
type crawlOptions struct {
	confPath     string
	settingsPath string
	verbose      bool
	stdout       io.Writer
	stderr       io.Writer
}

// loadConfig builds the crawl configuration: built-in defaults, then the
// settings file, then the spider configuration file.
func loadConfig(opts crawlOptions) (*config.Config, error) {
	cfg := config.NewConfig()

	settings, err := config.LoadSettings(opts.settingsPath)
	if err != nil {
		return nil, fmt.Errorf("settings error: %w", err)
	}
	cfg.ApplySettings(settings)

	if err := config.LoadSpiderConf(opts.confPath, cfg); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	cfg.Verbose = opts.verbose

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// runCrawl runs one crawl and writes its report. An interrupted crawl still
// writes the report and returns nil.
func runCrawl(ctx context.Context, opts crawlOptions) error {
	if opts.settingsPath == "" {
		opts.settingsPath = config.SettingsPath()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, closer, err := applog.New(opts.stderr, applog.Options{
		Verbose: cfg.Verbose,
		Format:  cfg.Settings.LogFormat,
		Dir:     cfg.Settings.LogDir,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	for _, line := range cfg.SkippedSeeds {
		logger.Warn("skipping invalid seed url", "line", line)
	}
	if err := cfg.PrepareOutputDirectory(); err != nil {
		return err
	}

	loop, err := async.NewLoop(
		async.WithPollTimeout(cfg.CrawlTimeout),
		async.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create event loop: %w", err)
	}
	defer loop.Close()

	dialer, err := transport.NewDialer(loop,
		transport.WithCertFile(cfg.Settings.CertFile),
		transport.WithCiphers(cfg.Settings.Ciphers),
		transport.WithUserAgent(cfg.Settings.UserAgent),
		transport.WithDialerLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to set up transport: %w", err)
	}

	ext, err := buildExtractor(cfg)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	crawlOpts := []crawler.Option{
		crawler.WithConcurrency(cfg.Concurrency),
		crawler.WithMaxDepth(cfg.MaxDepth),
		crawler.WithMaxRedirect(cfg.MaxRedirect),
		crawler.WithQueueSize(cfg.QueueSize),
		crawler.WithMediaTypes(cfg.MediaTypes),
		crawler.WithMediaTarget(cfg.MediaTarget),
		crawler.WithOutputDirectory(cfg.OutputDirectory),
		crawler.WithTargetPattern(cfg.TargetPattern),
		crawler.WithCrawlInterval(cfg.CrawlInterval),
		crawler.WithLogger(logger),
	}

	startedAt := time.Now()

	var run *database.Run
	if cfg.CatalogDir != "" {
		db, err := database.Open(cfg.CatalogDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		defer db.Close()

		run, err = db.StartRun(ctx, startedAt, cfg.Seeds)
		if err != nil {
			return fmt.Errorf("failed to start catalog run: %w", err)
		}
		crawlOpts = append(crawlOpts, crawler.WithRecorder(run))
		logger.Debug("catalog run started", "run_id", run.ID(), "path", db.Path())
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	g, gctx := errgroup.WithContext(metricsCtx)
	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector()
		crawlOpts = append(crawlOpts, crawler.WithObserver(collector))
		g.Go(func() error {
			return collector.Serve(gctx, cfg.MetricsAddr)
		})
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	supervisor := crawler.New(loop, transport.NewClient(dialer), ext, crawlOpts...)
	if err := supervisor.Seed(cfg.Seeds); err != nil {
		stopMetrics()
		_ = g.Wait()
		return err
	}

	stats, crawlErr := supervisor.Run(gctx)
	stopMetrics()
	metricsErr := g.Wait()
	if crawlErr != nil {
		return fmt.Errorf("crawl failed: %w", crawlErr)
	}

	crawlReport := &model.CrawlReport{
		StartedAt:       startedAt,
		FinishedAt:      time.Now(),
		Seeds:           cfg.Seeds,
		StopReason:      string(stats.StopReason),
		Counters:        stats.Counters(),
		Failures:        stats.Failures,
		OutputDirectory: cfg.OutputDirectory,
	}
	if run != nil {
		if err := run.Finish(context.WithoutCancel(ctx), crawlReport); err != nil {
			logger.Error("failed to store crawl report", "run_id", run.ID(), "error", err)
		}
	}

	if err := outputReport(cfg, crawlReport, opts.stdout); err != nil {
		return err
	}
	if metricsErr != nil {
		return fmt.Errorf("metrics server: %w", metricsErr)
	}
	logResult(logger, stats)
	return nil
}

// buildExtractor returns the link extractor for cfg: every anchor and image
// when no rules are configured, else the XPath rules followed by the CSS
// selectors.
func buildExtractor(cfg *config.Config) (extractor.Extractor, error) {
	if len(cfg.XPathRules) == 0 && len(cfg.CSSRules) == 0 {
		return extractor.HrefExtractor{}, nil
	}

	var chain extractor.Chain
	if len(cfg.XPathRules) > 0 {
		x, err := extractor.NewXPathExtractor(cfg.XPathRules)
		if err != nil {
			return nil, err
		}
		chain = append(chain, x)
	}
	if len(cfg.CSSRules) > 0 {
		s, err := extractor.NewSelectorExtractor(cfg.CSSRules)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	return chain, nil
}

// outputReport writes the crawl report to cfg.ReportFile, or to stdout when
// no file is configured.
func outputReport(cfg *config.Config, crawlReport *model.CrawlReport, stdout io.Writer) error {
	output := stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create report directory: %w", err)
			}
		}

		// Reports list crawled URLs; keep them private to the owner.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		output = f
	}

	writer, err := report.New(cfg.ReportFormat, output, getVersion())
	if err != nil {
		return err
	}
	_, err = writer.Write(crawlReport)
	return err
}

func logResult(logger *slog.Logger, stats crawler.Stats) {
	switch {
	case stats.StopReason == crawler.StopInterrupted:
		logger.Warn("crawl interrupted", "pages", stats.Pages, "media", stats.MediaCount)
	case stats.Pages == 0 && stats.Errors > 0:
		logger.Error("every job failed", "errors", stats.Errors)
	}
}
