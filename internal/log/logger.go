package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// FileName is the log file created inside Options.Dir.
const FileName = "minispider.log"

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ErrUnknownFormat is returned by New for a format other than text or json.
var ErrUnknownFormat = errors.New("unknown log format")

// Options configures New.
type Options struct {
	// Verbose lowers the level from Info to Debug.
	Verbose bool

	// Format is FormatText or FormatJSON. Empty means text.
	Format string

	// Dir, when set, receives FileName in addition to the writer given to
	// New. The directory is created when missing.
	Dir string
}

// Level returns the minimum level for the given verbosity.
func Level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// New creates a sanitizing logger writing to w and, when opts.Dir is set,
// to a log file. The returned closer releases the file and must be called
// once logging is done; it is a no-op without a file.
func New(w io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("create log directory %s: %w", opts.Dir, err)
		}
		path := filepath.Join(opts.Dir, FileName)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // path comes from the settings file
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		w = io.MultiWriter(w, f)
		closer = f
	}

	handlerOpts := &slog.HandlerOptions{Level: Level(opts.Verbose)}
	var handler slog.Handler
	switch opts.Format {
	case "", FormatText:
		handler = slog.NewTextHandler(w, handlerOpts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
	return slog.New(NewSecureHandler(handler)), closer, nil
}

// NewSecureLogger creates a text logger with secure handling.
// The logger sanitizes sensitive information in all log output.
//
// Parameters:
//   - w: The io.Writer to write log output to (typically os.Stderr)
//   - verbose: If true, sets log level to Debug; otherwise Info
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: Level(verbose)})))
}

// NewSecureJSONLogger creates a new slog.Logger with secure handling
// that outputs JSON format. Useful for structured log aggregation.
func NewSecureJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewSecureHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: Level(verbose)})))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
