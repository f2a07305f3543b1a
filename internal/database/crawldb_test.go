package database

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/minispider/internal/model"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *CrawlDB {
	t.Helper()

	db, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestOpen tests database opening and creation.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		db, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dbDir, FileName)); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != filepath.Join(dbDir, FileName) {
			t.Errorf("Path() = %q", db.Path())
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "nonexistent-db")
		_, err := Open(dbDir, Options{EnableWAL: true})
		if err == nil {
			t.Fatal("expected error when CreateIfNotExists=false and database does not exist")
		}
		if !strings.Contains(err.Error(), "database not found") {
			t.Errorf("expected informative error, got %q", err.Error())
		}
		if _, statErr := os.Stat(dbDir); !os.IsNotExist(statErr) {
			t.Error("database directory should not have been created when CreateIfNotExists=false")
		}
	})

	t.Run("CreateIfNotExists=false opens existing database", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "existing-db")
		db1, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		ctx := context.Background()
		run, err := db1.StartRun(ctx, time.Now(), []string{"http://example.com/"})
		if err != nil {
			t.Fatalf("StartRun() error = %v", err)
		}
		db1.Close()

		db2, err := Open(dbDir, Options{EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to open existing database with CreateIfNotExists=false: %v", err)
		}
		defer db2.Close()

		runs, err := db2.ListRuns(ctx)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 1 || runs[0].ID != run.ID() {
			t.Errorf("expected the run to persist, got %+v", runs)
		}
	})
}

// TestDefaultOptions tests the default options values.
func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	if !opts.CreateIfNotExists {
		t.Error("expected CreateIfNotExists to be true by default")
	}
	if !opts.EnableWAL {
		t.Error("expected EnableWAL to be true by default")
	}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()
	started := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	run, err := db.StartRun(ctx, started, []string{"http://example.com/"})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if run.ID() == "" {
		t.Fatal("expected a run id")
	}

	t.Run("unfinished run has no report", func(t *testing.T) {
		if _, err := db.GetRunReport(ctx, run.ID()); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("GetRunReport() error = %v, want ErrRunNotFound", err)
		}
	})

	pages := []*model.Page{
		{URL: "http://example.com/", Depth: 0, RedirectBudget: 3, StatusCode: 200,
			ContentType: "text/html", Title: "Home", Outcome: "expanded", Links: 4, Enqueued: 3,
			FetchedAt: started, Elapsed: 120 * time.Millisecond, Hash: "abc"},
		{URL: "http://example.com/old", Depth: 1, RedirectBudget: 3, StatusCode: 301,
			Outcome: "redirected", FetchedAt: started.Add(time.Second)},
		{URL: "http://example.com/broken", Depth: 1, RedirectBudget: 3,
			Outcome: "failed", Error: "connection refused", FetchedAt: started.Add(2 * time.Second)},
	}
	for _, p := range pages {
		if err := run.RecordPage(ctx, p); err != nil {
			t.Fatalf("RecordPage() error = %v", err)
		}
	}

	t.Run("a page recorded twice keeps the latest result", func(t *testing.T) {
		retry := *pages[2]
		retry.Outcome = "expanded"
		retry.Error = ""
		retry.StatusCode = 200
		if err := run.RecordPage(ctx, &retry); err != nil {
			t.Fatalf("RecordPage() error = %v", err)
		}

		got, err := db.GetPages(ctx, run.ID())
		if err != nil {
			t.Fatalf("GetPages() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 pages, got %d", len(got))
		}
		if got[0].Title != "Home" || got[0].Elapsed != 120*time.Millisecond || got[0].Hash != "abc" {
			t.Errorf("unexpected first page: %+v", got[0])
		}
		if !got[0].FetchedAt.Equal(started) {
			t.Errorf("FetchedAt = %v, want %v", got[0].FetchedAt, started)
		}
		if got[2].Outcome != "expanded" || got[2].Error != "" {
			t.Errorf("expected the retry to replace the failure, got %+v", got[2])
		}
	})

	report := &model.CrawlReport{
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Seeds:      []string{"http://example.com/"},
		StopReason: "drained",
		Counters:   model.Counters{Pages: 3, Redirects: 1, MediaCount: 2, Errors: 1},
	}
	if err := run.Finish(ctx, report); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if report.RunID != run.ID() {
		t.Errorf("Finish() should set RunID, got %q", report.RunID)
	}

	t.Run("report round trip", func(t *testing.T) {
		got, err := db.GetRunReport(ctx, run.ID())
		if err != nil {
			t.Fatalf("GetRunReport() error = %v", err)
		}
		if got.StopReason != "drained" || got.Counters != report.Counters || got.Duration() != time.Minute {
			t.Errorf("GetRunReport() = %+v", got)
		}
	})

	t.Run("listing", func(t *testing.T) {
		runs, err := db.ListRuns(ctx)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("expected 1 run, got %d", len(runs))
		}
		meta := runs[0]
		if meta.Pages != 3 || meta.Media != 2 || meta.Errors != 1 || meta.StopReason != "drained" {
			t.Errorf("unexpected metadata: %+v", meta)
		}
		if len(meta.Seeds) != 1 || !meta.StartedAt.Equal(started) || !meta.FinishedAt.Equal(started.Add(time.Minute)) {
			t.Errorf("unexpected metadata: %+v", meta)
		}
	})

	t.Run("recent crawl", func(t *testing.T) {
		ok, err := db.HasRecentCrawl(ctx, "http://example.com/", 100*365*24*time.Hour)
		if err != nil {
			t.Fatalf("HasRecentCrawl() error = %v", err)
		}
		if !ok {
			t.Error("expected a recent crawl")
		}
		ok, err = db.HasRecentCrawl(ctx, "http://example.com/never", time.Hour)
		if err != nil {
			t.Fatalf("HasRecentCrawl() error = %v", err)
		}
		if ok {
			t.Error("expected no crawl for an unknown url")
		}
	})
}

func TestRunFinishUnknown(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	run := &Run{db: db, id: "missing"}
	err := run.Finish(context.Background(), &model.CrawlReport{FinishedAt: time.Now()})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Finish() error = %v, want ErrRunNotFound", err)
	}
}

func TestRecordMedia(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}

	var digest string
	for i := range 2 {
		run, err := db.StartRun(ctx, time.Now(), nil)
		if err != nil {
			t.Fatalf("StartRun() error = %v", err)
		}
		media := &model.Media{
			URL:       "http://example.com/a.jpg",
			Path:      "/tmp/a.jpg",
			Format:    "jpeg",
			Size:      buf.Len(),
			FetchedAt: time.Now(),
			Original:  buf.Bytes(),
			Data:      buf.Bytes(),
		}
		if err := run.RecordMedia(ctx, media); err != nil {
			t.Fatalf("RecordMedia() error = %v", err)
		}
		if len(media.Digest) != 64 {
			t.Fatalf("expected a hex sha3-256 digest, got %q", media.Digest)
		}
		if media.Exif != nil {
			t.Errorf("encoder output has no EXIF block, got %v", media.Exif)
		}
		if i > 0 && media.Digest != digest {
			t.Errorf("same bytes gave different digests: %s and %s", digest, media.Digest)
		}
		digest = media.Digest
	}

	found, err := db.FindMediaByDigest(ctx, digest)
	if err != nil {
		t.Fatalf("FindMediaByDigest() error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected the file in both runs, got %d", len(found))
	}
	if found[0].Path != "/tmp/a.jpg" || found[0].Format != "jpeg" {
		t.Errorf("unexpected media row: %+v", found[0])
	}
}

func TestExifSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not an image", data: []byte("plain text")},
		{name: "png header only", data: []byte("\x89PNG\r\n\x1a\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ExifSummary(tt.data); got != nil {
				t.Errorf("ExifSummary() = %v, want nil", got)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	for _, s := range []string{
		"2026-10-17 09:30:00.000",
		"2026-10-17 09:30:00",
		"2026-10-17T09:30:00Z",
		"2026-10-17T09:30:00",
	} {
		if got := parseTimestamp(s); !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", s, got, want)
		}
	}
	if got := parseTimestamp("yesterday"); !got.IsZero() {
		t.Errorf("parseTimestamp(invalid) = %v, want zero", got)
	}
}
