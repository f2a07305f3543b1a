package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Sections is a parsed spider configuration: section name, then key, then
// value. Plain values are strings, or nil when empty. Keys of JSON
// sections hold decoded JSON.
type Sections map[string]map[string]any

// JSONSections are the sections whose values are JSON documents, for
// example lists of extraction rules.
var JSONSections = []string{"ROOT_URLS", "RULES_SET", "rules"}

// Section returns the section called name, matched case-insensitively.
func (s Sections) Section(name string) (map[string]any, bool) {
	if values, ok := s[name]; ok {
		return values, true
	}
	for key, values := range s {
		if strings.EqualFold(key, name) {
			return values, true
		}
	}
	return nil, false
}

func isJSONSection(name string) bool {
	return slices.ContainsFunc(JSONSections, func(s string) bool {
		return strings.EqualFold(s, name)
	})
}

// ParseINI parses a sectioned key/value file. Key names are lower-cased,
// indented lines continue the previous value and values of JSON sections
// are decoded.
func ParseINI(data []byte) (Sections, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:            true,
		AllowPythonMultilineValues: true,
		IgnoreInlineComment:        true,
		IgnoreContinuation:         true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	out := make(Sections)
	for _, sec := range f.Sections() {
		keys := sec.Keys()
		if sec.Name() == ini.DefaultSection && len(keys) == 0 {
			continue
		}
		values := make(map[string]any, len(keys))
		for _, key := range keys {
			raw := strings.TrimSpace(key.String())
			switch {
			case isJSONSection(sec.Name()):
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					return nil, fmt.Errorf("%w: [%s] %s is not valid JSON: %w", ErrInvalidValue, sec.Name(), key.Name(), err)
				}
				values[key.Name()] = v
			case raw == "":
				values[key.Name()] = nil
			default:
				values[key.Name()] = raw
			}
		}
		out[sec.Name()] = values
	}
	return out, nil
}

// ParseYAML parses a YAML spider configuration with the same sections and
// keys as the INI form.
func ParseYAML(data []byte) (Sections, error) {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	out := make(Sections, len(raw))
	for name, values := range raw {
		if values == nil {
			values = map[string]any{}
		}
		out[name] = values
	}
	return out, nil
}

// LoadSpiderConf reads the spider configuration file at path into cfg.
// Files ending in .yaml or .yml are YAML, anything else is INI.
func LoadSpiderConf(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	var secs Sections
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		secs, err = ParseYAML(data)
	default:
		secs, err = ParseINI(data)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	cfg.ConfigFilePath = path
	return cfg.Apply(secs)
}

// Apply copies parsed sections into c. Keys that are absent or empty keep
// their current value.
func (c *Config) Apply(secs Sections) error {
	spider, hasSpider := secs.Section("spider")
	legacy, hasLegacy := secs.Section("ROOT_URL")
	switch {
	case hasSpider:
		if err := c.applySpider(spider); err != nil {
			return err
		}
	case hasLegacy:
		root := stringValue(legacy["root_url"])
		if root == "" {
			return ErrMissingRootURL
		}
		seed, ok := ParseSeedURL(root)
		if !ok {
			return fmt.Errorf("%w: root_url %q is not a valid url", ErrInvalidValue, root)
		}
		c.Seeds = appendUnique(c.Seeds, seed)
	default:
		return ErrUnsupportedConfig
	}

	if roots, ok := secs.Section("ROOT_URLS"); ok {
		for _, key := range slices.Sorted(maps.Keys(roots)) {
			urls, err := stringList(roots[key])
			if err != nil {
				return fmt.Errorf("ROOT_URLS %s: %w", key, err)
			}
			for _, raw := range urls {
				if seed, ok := ParseSeedURL(raw); ok {
					c.Seeds = appendUnique(c.Seeds, seed)
				} else {
					c.SkippedSeeds = append(c.SkippedSeeds, raw)
				}
			}
		}
	}

	for _, name := range []string{"RULES_SET", "rules"} {
		rules, ok := secs.Section(name)
		if !ok {
			continue
		}
		for _, key := range slices.Sorted(maps.Keys(rules)) {
			list, err := stringList(rules[key])
			if err != nil {
				return fmt.Errorf("%s %s: %w", name, key, err)
			}
			if strings.Contains(key, "css") {
				c.CSSRules = append(c.CSSRules, list...)
			} else {
				c.XPathRules = append(c.XPathRules, list...)
			}
		}
	}
	return nil
}

func (c *Config) applySpider(values map[string]any) error {
	if path := stringValue(values["url_list_file"]); path != "" {
		seeds, skipped, err := LoadURLList(path)
		if err != nil {
			return err
		}
		c.URLListFile = path
		for _, seed := range seeds {
			c.Seeds = appendUnique(c.Seeds, seed)
		}
		c.SkippedSeeds = append(c.SkippedSeeds, skipped...)
	}
	if dir := stringValue(values["output_directory"]); dir != "" {
		c.OutputDirectory = dir
	}

	ints := []struct {
		key string
		dst *int
	}{
		{key: "max_depth", dst: &c.MaxDepth},
		{key: "concurrency", dst: &c.Concurrency},
		{key: "max_redirect", dst: &c.MaxRedirect},
		{key: "queue_size", dst: &c.QueueSize},
		{key: "media_target", dst: &c.MediaTarget},
	}
	for _, field := range ints {
		if err := setInt(values, field.key, field.dst); err != nil {
			return err
		}
	}

	var seconds int
	if ok, err := intValue(values, "crawl_interval", &seconds); err != nil {
		return err
	} else if ok {
		c.CrawlInterval = time.Duration(seconds) * time.Second
	}
	if ok, err := intValue(values, "crawl_timeout", &seconds); err != nil {
		return err
	} else if ok {
		c.CrawlTimeout = time.Duration(seconds) * time.Second
	}

	if pattern := stringValue(values["target_url"]); pattern != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return fmt.Errorf("%w: target_url: %w", ErrInvalidValue, err)
		}
		c.TargetPattern = re
	}

	if v, ok := values["media_types"]; ok && v != nil {
		types, err := stringList(v)
		if err != nil {
			return fmt.Errorf("media_types: %w", err)
		}
		c.MediaTypes = types
	}

	if format := stringValue(values["report_format"]); format != "" {
		c.ReportFormat = strings.ToLower(format)
	}
	if file := stringValue(values["report_file"]); file != "" {
		c.ReportFile = file
	}
	if dir := stringValue(values["catalog"]); dir != "" {
		switch strings.ToLower(dir) {
		case "off", "none", "false":
			c.CatalogDir = ""
		default:
			c.CatalogDir = dir
		}
	}
	if addr := stringValue(values["metrics_addr"]); addr != "" {
		c.MetricsAddr = addr
	}
	return nil
}

func setInt(values map[string]any, key string, dst *int) error {
	_, err := intValue(values, key, dst)
	return err
}

// intValue stores values[key] in dst and reports whether it was set.
func intValue(values map[string]any, key string, dst *int) (bool, error) {
	v, ok := values[key]
	if !ok || v == nil {
		return false, nil
	}
	switch n := v.(type) {
	case int:
		*dst = n
	case float64:
		if n != float64(int(n)) {
			return false, fmt.Errorf("%w: %s = %v is not a whole number", ErrInvalidValue, key, n)
		}
		*dst = int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return false, fmt.Errorf("%w: %s = %q is not a number", ErrInvalidValue, key, n)
		}
		*dst = parsed
	default:
		return false, fmt.Errorf("%w: %s has type %T", ErrInvalidValue, key, v)
	}
	return true, nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// stringList accepts a decoded JSON or YAML list, a JSON array in a string,
// or a comma separated string.
func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: list item %v is not a string", ErrInvalidValue, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		s := strings.TrimSpace(list)
		if strings.HasPrefix(s, "[") {
			var out []string
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
			}
			return out, nil
		}
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidValue, v)
	}
}

func appendUnique(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}
