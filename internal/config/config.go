package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// Crawl defaults follow the [spider] section documentation; transport
// defaults can be overridden by the settings file.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "minispider"

	// DefaultOutputDirectory is where downloaded media is stored when
	// output_directory is not set. Relative to the working directory.
	DefaultOutputDirectory = "./output"

	// DefaultMaxDepth is the deepest link level whose documents are
	// expanded. Documents at this depth are still fetched.
	DefaultMaxDepth = 10

	// DefaultCrawlInterval of -1 disables throttling between fetches.
	DefaultCrawlInterval = -1

	// DefaultCrawlTimeout bounds every poll of the event loop. It is not a
	// per-connection deadline.
	DefaultCrawlTimeout = 15 * time.Second

	// DefaultConcurrency is the number of worker tasks sharing the frontier.
	DefaultConcurrency = 10

	// DefaultMaxRedirect is the number of redirect hops a job may follow.
	DefaultMaxRedirect = 3

	// DefaultQueueSize is the frontier capacity. Workers discovering links
	// suspend while the frontier is full.
	DefaultQueueSize = 10000

	// DefaultReportFormat is the crawl summary format.
	DefaultReportFormat = ReportFormatText

	// DefaultCertFile is the CA bundle used to verify TLS peers.
	DefaultCertFile = "/etc/ssl/certs/ca-certificates.crt"

	// DefaultLogFormat is the log handler format.
	DefaultLogFormat = "text"

	// SettingsEnv names the environment variable holding the settings
	// file path.
	SettingsEnv = "MINISPIDER_SETTINGS"

	// SettingsFileName is the settings file looked up in the XDG config
	// directory when SettingsEnv is unset.
	SettingsFileName = "settings.yaml"
)

// Report formats accepted by report_format.
const (
	ReportFormatText     = "text"
	ReportFormatJSON     = "json"
	ReportFormatMarkdown = "markdown"
)

// DefaultMediaTypes are the file extensions downloaded on the media path.
var DefaultMediaTypes = []string{"jpg"}

// DefaultCiphers is the TLS cipher policy, in OpenSSL notation.
var DefaultCiphers = []string{
	"ECDHE-RSA-AES128-GCM-SHA256",
	"ECDHE-ECDSA-AES128-GCM-SHA256",
	"AES128-GCM-SHA256",
}

// Config holds everything a crawl needs. It is populated by NewConfig,
// LoadSettings and LoadSpiderConf and passed explicitly; there is no global
// configuration state.
type Config struct {
	// ConfigFilePath is the spider configuration file given with -c.
	ConfigFilePath string

	// URLListFile is the file with one seed URL per line.
	URLListFile string

	// Seeds are the validated seed URLs.
	Seeds []string

	// SkippedSeeds are lines of the URL list that are not valid URLs. The
	// CLI logs them.
	SkippedSeeds []string

	// OutputDirectory is where downloaded media is stored. Created when
	// missing.
	OutputDirectory string

	// MaxDepth is the deepest level whose documents are expanded.
	MaxDepth int

	// CrawlInterval is the minimum delay between two fetches. Zero or
	// negative disables throttling.
	CrawlInterval time.Duration

	// CrawlTimeout bounds every poll of the event loop.
	CrawlTimeout time.Duration

	// TargetPattern is the target_url regular expression, compiled
	// case-insensitively. Nil follows every link.
	TargetPattern *regexp.Regexp

	// Concurrency is the number of worker tasks.
	Concurrency int

	// MaxRedirect is the redirect budget of every job.
	MaxRedirect int

	// QueueSize is the frontier capacity.
	QueueSize int

	// MediaTypes are the file extensions downloaded on the media path.
	MediaTypes []string

	// MediaTarget stops the crawl once this many media files were stored.
	// Zero means no limit.
	MediaTarget int

	// XPathRules are XPath link extraction rules. Empty means every anchor
	// and image is followed.
	XPathRules []string

	// CSSRules are CSS selector link extraction rules.
	CSSRules []string

	// ReportFormat is text, json or markdown.
	ReportFormat string

	// ReportFile is where the crawl summary is written. Empty means stdout.
	ReportFile string

	// CatalogDir is the directory of the sqlite crawl catalog. Empty
	// disables the catalog.
	CatalogDir string

	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddr string

	// Verbose enables debug logging.
	Verbose bool

	// Settings are the transport and logging settings.
	Settings Settings
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	settings := DefaultSettings()
	return &Config{
		OutputDirectory: DefaultOutputDirectory,
		MaxDepth:        DefaultMaxDepth,
		CrawlInterval:   DefaultCrawlInterval * time.Second,
		CrawlTimeout:    settings.Timeout(),
		Concurrency:     DefaultConcurrency,
		MaxRedirect:     DefaultMaxRedirect,
		QueueSize:       DefaultQueueSize,
		MediaTypes:      slices.Clone(DefaultMediaTypes),
		ReportFormat:    DefaultReportFormat,
		CatalogDir:      XDGDataDir(),
		Settings:        settings,
	}
}

// XDGDataDir returns the XDG data directory for minispider, where the
// crawl catalog lives by default.
// On Linux: ~/.local/share/minispider
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for minispider, where the
// settings file is looked up.
// On Linux: ~/.config/minispider
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid. It returns the first
// problem found.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return ErrNoSeeds
	}
	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}
	if c.CrawlTimeout <= 0 {
		return ErrInvalidCrawlTimeout
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.MaxRedirect < 0 {
		return ErrInvalidMaxRedirect
	}
	if c.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if c.MediaTarget < 0 {
		return ErrInvalidMediaTarget
	}
	switch c.ReportFormat {
	case ReportFormatText, ReportFormatJSON, ReportFormatMarkdown:
	default:
		return ErrUnknownReportFormat
	}
	return c.Settings.Validate()
}

// PrepareOutputDirectory creates the output directory when it is missing.
func (c *Config) PrepareOutputDirectory() error {
	if err := os.MkdirAll(c.OutputDirectory, 0750); err != nil {
		return fmt.Errorf("create output directory %s: %w", c.OutputDirectory, err)
	}
	return nil
}
