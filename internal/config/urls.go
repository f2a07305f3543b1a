package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var (
	// seedURLPattern accepts host names with a top-level domain, with or
	// without a scheme.
	seedURLPattern = regexp.MustCompile(`(?i)^((https?)://)?[a-z0-9./?:@\-_=#]+\.[a-z]{2,6}[a-z0-9.&/?:@\-_=#%~+,;]*$`)

	// seedAddrPattern accepts IPv4 literals and localhost.
	seedAddrPattern = regexp.MustCompile(`(?i)^((https?)://)?(localhost|\d{1,3}(\.\d{1,3}){3})(:\d+)?([/?#]\S*)?$`)
)

// ParseSeedURL validates one seed URL. A missing scheme defaults to http.
func ParseSeedURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || (!seedURLPattern.MatchString(raw) && !seedAddrPattern.MatchString(raw)) {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

// ReadURLList reads one seed URL per line. Blank lines and lines starting
// with # are ignored; lines that are not valid URLs are returned in
// skipped.
func ReadURLList(r io.Reader) (seeds, skipped []string, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seed, ok := ParseSeedURL(line); ok {
			seeds = appendUnique(seeds, seed)
		} else {
			skipped = append(skipped, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read url list: %w", err)
	}
	return seeds, skipped, nil
}

// LoadURLList reads the URL list file at path.
func LoadURLList(path string) (seeds, skipped []string, err error) {
	f, err := os.Open(path) //nolint:gosec // User-provided url list path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("url_list_file %s is not a valid file: %w", path, err)
		}
		return nil, nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()
	return ReadURLList(f)
}
