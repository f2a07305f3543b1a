package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and the loaders and can be
// matched with errors.Is().
var (
	// ErrNoSeeds is returned when neither url_list_file, ROOT_URLS nor the
	// legacy ROOT_URL section yields a seed URL.
	ErrNoSeeds = errors.New("no seed urls: set url_list_file in the [spider] section")

	// ErrInvalidMaxDepth is returned when max_depth is negative.
	ErrInvalidMaxDepth = errors.New("invalid max_depth: must be non-negative")

	// ErrInvalidCrawlTimeout is returned when crawl_timeout is not positive.
	// The timeout bounds every poll of the event loop.
	ErrInvalidCrawlTimeout = errors.New("invalid crawl_timeout: must be positive")

	// ErrInvalidConcurrency is returned when concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidMaxRedirect is returned when max_redirect is negative.
	ErrInvalidMaxRedirect = errors.New("invalid max_redirect: must be non-negative")

	// ErrInvalidQueueSize is returned when queue_size is not positive.
	ErrInvalidQueueSize = errors.New("invalid queue_size: must be positive")

	// ErrInvalidMediaTarget is returned when media_target is negative. Zero
	// means no limit.
	ErrInvalidMediaTarget = errors.New("invalid media_target: must be non-negative")

	// ErrUnknownReportFormat is returned for a report_format other than
	// text, json or markdown.
	ErrUnknownReportFormat = errors.New("unknown report_format: use text, json or markdown")

	// ErrUnknownLogFormat is returned for a log_format other than text or
	// json.
	ErrUnknownLogFormat = errors.New("unknown log_format: use text or json")

	// ErrConfigNotFound is returned when the configuration file does not
	// exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrUnsupportedConfig is returned when the configuration file has
	// neither a [spider] nor a [ROOT_URL] section.
	ErrUnsupportedConfig = errors.New("configuration has neither a [spider] nor a [ROOT_URL] section")

	// ErrMissingRootURL is returned when the legacy [ROOT_URL] section has no
	// root_url key.
	ErrMissingRootURL = errors.New("option root_url in section ROOT_URL is required")

	// ErrInvalidValue is returned when a key holds a value of the wrong type.
	ErrInvalidValue = errors.New("invalid configuration value")
)
