package model

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Page is the record of one processed crawl job. Every job that reaches a
// terminal state produces a Page, including failed fetches and media jobs.
type Page struct {
	// URL is the absolute URL of the job.
	URL string `json:"url"`

	// Depth is the link distance from the seed URL.
	Depth int `json:"depth"`

	// RedirectBudget is the number of redirect hops the job still had.
	RedirectBudget int `json:"redirect_budget"`

	// StatusCode is the HTTP status code, 0 when nothing was fetched.
	StatusCode int `json:"status_code,omitempty"`

	// ContentType is the media type of the response without parameters.
	ContentType string `json:"content_type,omitempty"`

	// Title is the text of the <title> element of HTML documents.
	Title string `json:"title,omitempty"`

	// Outcome is the terminal state of the job, for example "expanded" or
	// "redirected".
	Outcome string `json:"outcome"`

	// Links is the number of links the extractor yielded.
	Links int `json:"links,omitempty"`

	// Enqueued is the number of new jobs this page added to the frontier.
	Enqueued int `json:"enqueued,omitempty"`

	// Error is the failure message for failed jobs.
	Error string `json:"error,omitempty"`

	// FetchedAt is when processing of the job started.
	FetchedAt time.Time `json:"fetched_at"`

	// Elapsed is how long the job took.
	Elapsed time.Duration `json:"elapsed"`

	// Raw holds the response body. Limited to MaxPageSize bytes.
	Raw []byte `json:"-"`

	// Hash is the hex SHA3-256 digest of Raw.
	Hash string `json:"hash,omitempty"`
}

// MaxPageSize is the maximum size of raw page content kept on a Page.
const MaxPageSize = 5 * 1024 * 1024 // 5 MB

// ComputeHash sets Hash from Raw. An empty body has no hash.
func (p *Page) ComputeHash() {
	if len(p.Raw) == 0 {
		p.Hash = ""
		return
	}
	sum := sha3.Sum256(p.Raw)
	p.Hash = hex.EncodeToString(sum[:])
}

// TruncateRaw ensures Raw does not exceed MaxPageSize.
func (p *Page) TruncateRaw() {
	if len(p.Raw) > MaxPageSize {
		p.Raw = p.Raw[:MaxPageSize]
	}
}

// IsHTML reports whether the page content type is HTML.
func (p *Page) IsHTML() bool {
	return p.ContentType == "text/html" || p.ContentType == "application/xhtml+xml"
}

// IsImage reports whether the page content type is an image.
func (p *Page) IsImage() bool {
	return strings.HasPrefix(p.ContentType, "image/")
}

// Failed reports whether the job ended with an error.
func (p *Page) Failed() bool {
	return p.Error != ""
}
