package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/minispider/internal/model"
)

// FileName is the catalog database file created inside the catalog
// directory.
const FileName = "minispider.db"

// ErrRunNotFound is returned when a run id is not in the catalog.
var ErrRunNotFound = errors.New("crawl run not found")

// CrawlDB is the crawl catalog. It records every run, every processed job
// and every stored media file.
//
// A single database file holds all runs, so media digests can be compared
// across runs.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per crawl run; the report is filled in when the run finishes
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		seeds TEXT NOT NULL,
		stop_reason TEXT,
		pages INTEGER DEFAULT 0,
		media INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		report_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- Processed crawl jobs
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		url TEXT NOT NULL,
		depth INTEGER NOT NULL,
		redirect_budget INTEGER NOT NULL,
		status_code INTEGER,
		content_type TEXT,
		title TEXT,
		outcome TEXT NOT NULL,
		links INTEGER DEFAULT 0,
		enqueued INTEGER DEFAULT 0,
		error TEXT,
		raw_hash TEXT,
		elapsed_ms INTEGER,
		fetched_at DATETIME NOT NULL,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_run ON pages(run_id);
	CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);

	-- Stored media files
	CREATE TABLE IF NOT EXISTS media (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		url TEXT NOT NULL,
		path TEXT NOT NULL,
		format TEXT,
		size INTEGER NOT NULL,
		digest TEXT NOT NULL,
		exif TEXT,
		fetched_at DATETIME NOT NULL,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_media_run ON media(run_id);
	CREATE INDEX IF NOT EXISTS idx_media_digest ON media(digest);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// Run records one crawl run. It implements the crawler's Recorder.
type Run struct {
	db *CrawlDB
	id string
}

// StartRun inserts a new run with a fresh id.
func (cdb *CrawlDB) StartRun(ctx context.Context, startedAt time.Time, seeds []string) (*Run, error) {
	seedsJSON, err := json.Marshal(seeds)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize seeds: %w", err)
	}

	id := uuid.NewString()
	query := `INSERT INTO runs (id, started_at, seeds) VALUES (?, ?, ?)`
	if _, err := cdb.db.ExecContext(ctx, query, id, formatTimestamp(startedAt), string(seedsJSON)); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return &Run{db: cdb, id: id}, nil
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// RecordPage stores a processed job. A URL processed twice in the same run
// keeps the latest result.
func (r *Run) RecordPage(ctx context.Context, page *model.Page) error {
	query := `
	INSERT INTO pages (run_id, url, depth, redirect_budget, status_code, content_type, title,
		outcome, links, enqueued, error, raw_hash, elapsed_ms, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, url) DO UPDATE SET
		depth = excluded.depth,
		redirect_budget = excluded.redirect_budget,
		status_code = excluded.status_code,
		content_type = excluded.content_type,
		title = excluded.title,
		outcome = excluded.outcome,
		links = excluded.links,
		enqueued = excluded.enqueued,
		error = excluded.error,
		raw_hash = excluded.raw_hash,
		elapsed_ms = excluded.elapsed_ms,
		fetched_at = excluded.fetched_at
	`

	_, err := r.db.db.ExecContext(ctx, query,
		r.id,
		page.URL,
		page.Depth,
		page.RedirectBudget,
		page.StatusCode,
		page.ContentType,
		page.Title,
		page.Outcome,
		page.Links,
		page.Enqueued,
		page.Error,
		page.Hash,
		page.Elapsed.Milliseconds(),
		formatTimestamp(page.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert page: %w", err)
	}
	return nil
}

// RecordMedia stores a downloaded media file. It fills in media.Digest and
// media.Exif.
func (r *Run) RecordMedia(ctx context.Context, media *model.Media) error {
	sum := sha3.Sum256(media.Data)
	media.Digest = hex.EncodeToString(sum[:])
	media.Exif = ExifSummary(media.Original)

	var exifJSON sql.NullString
	if len(media.Exif) > 0 {
		data, err := json.Marshal(media.Exif)
		if err != nil {
			return fmt.Errorf("failed to serialize exif: %w", err)
		}
		exifJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
	INSERT INTO media (run_id, url, path, format, size, digest, exif, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, url) DO UPDATE SET
		path = excluded.path,
		format = excluded.format,
		size = excluded.size,
		digest = excluded.digest,
		exif = excluded.exif,
		fetched_at = excluded.fetched_at
	`

	_, err := r.db.db.ExecContext(ctx, query,
		r.id,
		media.URL,
		media.Path,
		media.Format,
		media.Size,
		media.Digest,
		exifJSON,
		formatTimestamp(media.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert media: %w", err)
	}
	return nil
}

// Finish stores the final report of the run. report.RunID is set to the
// run id.
func (r *Run) Finish(ctx context.Context, report *model.CrawlReport) error {
	report.RunID = r.id
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	query := `
	UPDATE runs SET finished_at = ?, stop_reason = ?, pages = ?, media = ?, errors = ?, report_json = ?
	WHERE id = ?
	`
	result, err := r.db.db.ExecContext(ctx, query,
		formatTimestamp(report.FinishedAt),
		report.StopReason,
		report.Counters.Pages,
		report.Counters.MediaCount,
		report.Counters.Errors,
		string(reportJSON),
		r.id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, r.id)
	}
	return nil
}

// RunMetadata contains summary information about a run. It is used for
// listing runs without loading the full report.
type RunMetadata struct {
	// ID is the run id.
	ID string

	// StartedAt is when the run began.
	StartedAt time.Time

	// FinishedAt is zero for runs that never finished.
	FinishedAt time.Time

	// Seeds are the seed URLs of the run.
	Seeds []string

	// StopReason is empty for runs that never finished.
	StopReason string

	// Pages, Media and Errors are copied from the report counters.
	Pages  int
	Media  int
	Errors int
}

// ListRuns returns every run, newest first.
func (cdb *CrawlDB) ListRuns(ctx context.Context) ([]RunMetadata, error) {
	query := `
	SELECT id, started_at, finished_at, seeds, stop_reason, pages, media, errors
	FROM runs
	ORDER BY started_at DESC
	`

	rows, err := cdb.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var results []RunMetadata
	for rows.Next() {
		var meta RunMetadata
		var startedAt, seedsJSON string
		var finishedAt, stopReason sql.NullString

		if err := rows.Scan(&meta.ID, &startedAt, &finishedAt, &seedsJSON, &stopReason,
			&meta.Pages, &meta.Media, &meta.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		meta.StartedAt = parseTimestamp(startedAt)
		if finishedAt.Valid {
			meta.FinishedAt = parseTimestamp(finishedAt.String)
		}
		meta.StopReason = stopReason.String
		if err := json.Unmarshal([]byte(seedsJSON), &meta.Seeds); err != nil {
			meta.Seeds = nil
		}

		results = append(results, meta)
	}

	return results, rows.Err()
}

// GetRunReport returns the report stored by Run.Finish.
// ErrRunNotFound is returned for unknown ids and for runs that never
// finished.
func (cdb *CrawlDB) GetRunReport(ctx context.Context, id string) (*model.CrawlReport, error) {
	query := `SELECT report_json FROM runs WHERE id = ?`

	var reportJSON sql.NullString
	err := cdb.db.QueryRowContext(ctx, query, id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !reportJSON.Valid) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}

	var report model.CrawlReport
	if err := json.Unmarshal([]byte(reportJSON.String), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}

// GetPages returns the pages recorded for a run in insertion order.
func (cdb *CrawlDB) GetPages(ctx context.Context, runID string) ([]model.Page, error) {
	query := `
	SELECT url, depth, redirect_budget, status_code, content_type, title, outcome,
		links, enqueued, error, raw_hash, elapsed_ms, fetched_at
	FROM pages
	WHERE run_id = ?
	ORDER BY id
	`

	rows, err := cdb.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pages: %w", err)
	}
	defer rows.Close()

	var pages []model.Page
	for rows.Next() {
		var p model.Page
		var elapsedMS int64
		var fetchedAt string
		if err := rows.Scan(&p.URL, &p.Depth, &p.RedirectBudget, &p.StatusCode, &p.ContentType,
			&p.Title, &p.Outcome, &p.Links, &p.Enqueued, &p.Error, &p.Hash, &elapsedMS, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		p.FetchedAt = parseTimestamp(fetchedAt)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// FindMediaByDigest returns every stored media file with the given digest,
// across all runs, oldest first.
func (cdb *CrawlDB) FindMediaByDigest(ctx context.Context, digest string) ([]model.Media, error) {
	query := `
	SELECT url, path, format, size, digest, exif, fetched_at
	FROM media
	WHERE digest = ?
	ORDER BY id
	`

	rows, err := cdb.db.QueryContext(ctx, query, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to find media: %w", err)
	}
	defer rows.Close()

	var results []model.Media
	for rows.Next() {
		var m model.Media
		var exifJSON sql.NullString
		var fetchedAt string
		if err := rows.Scan(&m.URL, &m.Path, &m.Format, &m.Size, &m.Digest, &exifJSON, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		if exifJSON.Valid && exifJSON.String != "" {
			if err := json.Unmarshal([]byte(exifJSON.String), &m.Exif); err != nil {
				m.Exif = nil
			}
		}
		m.FetchedAt = parseTimestamp(fetchedAt)
		results = append(results, m)
	}
	return results, rows.Err()
}

// HasRecentCrawl reports whether url was fetched by any run within the
// given duration.
func (cdb *CrawlDB) HasRecentCrawl(ctx context.Context, url string, duration time.Duration) (bool, error) {
	query := `
	SELECT COUNT(*) FROM pages
	WHERE url = ? AND fetched_at > ?
	`

	since := formatTimestamp(time.Now().Add(-duration))

	var count int
	if err := cdb.db.QueryRowContext(ctx, query, url, since).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check recent crawl: %w", err)
	}
	return count > 0, nil
}

// timestampLayout is how timestamps are stored. It sorts lexically.
const timestampLayout = "2006-01-02 15:04:05.000"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timestampLayout,
	"2006-01-02 15:04:05",  // SQLite default datetime format
	"2006-01-02T15:04:05Z", // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",  // ISO 8601 without timezone
	time.RFC3339,           // Full RFC3339 format
	time.RFC3339Nano,       // RFC3339 with nanoseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
