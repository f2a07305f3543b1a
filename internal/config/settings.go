package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings are process-wide defaults read from a YAML file. They cover the
// transport and logging, which the spider configuration file does not.
//
// Example settings.yaml:
//
//	timeout: 15
//	cert_file: /etc/ssl/certs/ca-certificates.crt
//	ciphers: [ECDHE-RSA-AES128-GCM-SHA256, AES128-GCM-SHA256]
//	user_agent: minispider/1.0
//	log_dir: ./log
//	log_format: json
type Settings struct {
	// TimeoutSeconds is the default crawl_timeout.
	TimeoutSeconds int `yaml:"timeout"`

	// CertFile is the CA bundle used to verify TLS peers. The system roots
	// are used when it cannot be read.
	CertFile string `yaml:"cert_file"`

	// Ciphers is the TLS cipher policy in OpenSSL notation.
	Ciphers []string `yaml:"ciphers"`

	// UserAgent overrides the User-Agent request header.
	UserAgent string `yaml:"user_agent"`

	// LogDir, when set, receives a minispider.log file in addition to
	// stderr.
	LogDir string `yaml:"log_dir"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		TimeoutSeconds: int(DefaultCrawlTimeout / time.Second),
		CertFile:       DefaultCertFile,
		Ciphers:        slices.Clone(DefaultCiphers),
		LogFormat:      DefaultLogFormat,
	}
}

// Timeout returns TimeoutSeconds as a duration.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Validate checks the settings.
func (s Settings) Validate() error {
	switch s.LogFormat {
	case "text", "json":
		return nil
	default:
		return ErrUnknownLogFormat
	}
}

// SettingsPath returns the settings file to load: the path named by
// MINISPIDER_SETTINGS, else settings.yaml in the XDG config directory. It
// returns an empty string when neither applies.
func SettingsPath() string {
	if path := os.Getenv(SettingsEnv); path != "" {
		return path
	}
	path := filepath.Join(XDGConfigDir(), SettingsFileName)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// LoadSettings reads the settings file at path over DefaultSettings. An
// empty path returns the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // User-provided settings path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return settings, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if settings.TimeoutSeconds <= 0 {
		return settings, ErrInvalidCrawlTimeout
	}
	return settings, settings.Validate()
}

// ApplySettings stores s and takes the crawl timeout default from it.
// Call it before LoadSpiderConf so that crawl_timeout still wins.
func (c *Config) ApplySettings(s Settings) {
	c.Settings = s
	c.CrawlTimeout = s.Timeout()
}
