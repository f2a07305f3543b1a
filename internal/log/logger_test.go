package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json with file sink", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "log")
		var buf bytes.Buffer
		logger, closer, err := New(&buf, Options{Format: FormatJSON, Dir: dir})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		logger.Info("crawl started", "component", "crawler", "password", "hunter2")
		if err := closer.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		var record map[string]any
		if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
			t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
		}
		if record["component"] != "crawler" || record["password"] != MaskValue {
			t.Errorf("unexpected record: %v", record)
		}

		data, err := os.ReadFile(filepath.Join(dir, FileName))
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if !bytes.Equal(data, buf.Bytes()) {
			t.Errorf("file sink = %q, want %q", data, buf.String())
		}
	})

	t.Run("debug only when verbose", func(t *testing.T) {
		t.Parallel()

		var quiet, verbose bytes.Buffer
		l1, _, err := New(&quiet, Options{})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		l2, _, err := New(&verbose, Options{Verbose: true, Format: FormatText})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		l1.Debug("hidden")
		l2.Debug("shown")
		if strings.Contains(quiet.String(), "hidden") {
			t.Errorf("debug record written without verbose: %s", quiet.String())
		}
		if !strings.Contains(verbose.String(), "shown") {
			t.Errorf("debug record missing with verbose: %s", verbose.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		if _, _, err := New(&bytes.Buffer{}, Options{Format: "logfmt"}); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("New() error = %v, want ErrUnknownFormat", err)
		}
	})
}
