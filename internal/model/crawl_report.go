package model

import "time"

// CrawlReport summarizes one crawl run. It is what the report writers
// render and what the catalog stores in the runs table.
type CrawlReport struct {
	// RunID identifies the run in the catalog.
	RunID string `json:"run_id"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Seeds are the URLs the crawl started from.
	Seeds []string `json:"seeds"`

	// StopReason tells why the crawl ended: "drained", "media target
	// reached" or "interrupted".
	StopReason string `json:"stop_reason"`

	// Counters are the crawl totals.
	Counters Counters `json:"counters"`

	// Failures lists failed jobs, capped by the crawler.
	Failures []Failure `json:"failures,omitempty"`

	// OutputDirectory is where media was stored.
	OutputDirectory string `json:"output_directory"`
}

// Counters are the totals of a crawl run.
type Counters struct {
	// Pages is the number of responses fetched, redirects included.
	Pages int `json:"pages"`
	// Redirects is the number of redirect targets enqueued.
	Redirects int `json:"redirects"`
	// Discovered is the number of new links enqueued from documents.
	Discovered int `json:"discovered"`
	// Dropped counts jobs abandoned for an exhausted redirect budget or an
	// exhausted media target.
	Dropped int `json:"dropped"`
	// Duplicates counts redirect targets that were already scheduled.
	Duplicates int `json:"duplicates"`
	// DepthStopped counts documents fetched at the maximum depth.
	DepthStopped int `json:"depth_stopped"`
	// Errors counts failed jobs.
	Errors int `json:"errors"`
	// MediaCount is the number of media files stored.
	MediaCount int `json:"media_count"`
	// MediaTarget is the configured media target, 0 when unlimited.
	MediaTarget int `json:"media_target"`
	// Seen is the size of the seen-URL set at the end of the run.
	Seen int `json:"seen"`
}

// Failure is one failed crawl job.
type Failure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Duration returns how long the run took.
func (r *CrawlReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
