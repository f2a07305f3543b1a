package crawler

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/minispider/internal/async"
	"github.com/nao1215/minispider/internal/extractor"
	"github.com/nao1215/minispider/internal/httpcodec"
	"github.com/nao1215/minispider/internal/model"
)

const site = "http://example.com"

// fakeResponse is one scripted answer of fakeFetcher.
type fakeResponse struct {
	status      int
	location    string
	contentType string
	body        string
	err         error
}

func htmlPage(body string) fakeResponse {
	return fakeResponse{status: http.StatusOK, contentType: "text/html; charset=utf-8", body: body}
}

func links(paths ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><head><title>fixture</title></head><body>")
	for _, p := range paths {
		sb.WriteString(`<a href="` + p + `">x</a>`)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func moved(location string) fakeResponse {
	return fakeResponse{status: http.StatusMovedPermanently, location: location}
}

func mediaFile(body string) fakeResponse {
	return fakeResponse{status: http.StatusOK, contentType: "image/jpeg", body: body}
}

// fakeFetcher answers from a script keyed by URL. The last answer of a
// script repeats. Unknown URLs get a 404.
type fakeFetcher struct {
	script map[string][]fakeResponse
	calls  map[string]int
	delay  time.Duration
	opened int
	closed int
}

func newFakeFetcher(script map[string][]fakeResponse) *fakeFetcher {
	return &fakeFetcher{script: script, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(co *async.Co, target *url.URL) (*httpcodec.Response, error) {
	key := target.String()
	f.calls[key]++
	f.opened++
	defer func() { f.closed++ }()

	if f.delay > 0 {
		if err := async.Sleep(co, f.delay); err != nil {
			return nil, err
		}
	}

	answers := f.script[key]
	if len(answers) == 0 {
		return &httpcodec.Response{StatusCode: http.StatusNotFound, Header: http.Header{}, URL: target}, nil
	}
	r := answers[0]
	if len(answers) > 1 {
		f.script[key] = answers[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	header := http.Header{}
	if r.contentType != "" {
		header.Set("Content-Type", r.contentType)
	}
	if r.location != "" {
		header.Set("Location", r.location)
	}
	return &httpcodec.Response{
		StatusCode: r.status,
		Status:     http.StatusText(r.status),
		Header:     header,
		Body:       []byte(r.body),
		URL:        target,
	}, nil
}

type memStore struct {
	saved []string
	err   error
}

func (m *memStore) Save(_ context.Context, dir, name string, _ []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, name)
	return dir + "/" + name, nil
}

type memRecorder struct {
	pages []*model.Page
	media []*model.Media
}

func (r *memRecorder) RecordPage(_ context.Context, p *model.Page) error {
	r.pages = append(r.pages, p)
	return nil
}

func (r *memRecorder) RecordMedia(_ context.Context, m *model.Media) error {
	r.media = append(r.media, m)
	return nil
}

func (r *memRecorder) page(rawURL string) *model.Page {
	for _, p := range r.pages {
		if p.URL == rawURL {
			return p
		}
	}
	return nil
}

type failingExtractor struct {
	failOn string
	next   extractor.Extractor
}

func (e failingExtractor) Extract(resp *httpcodec.Response) (iter.Seq[string], error) {
	if resp.URL.String() == e.failOn {
		return nil, &extractor.ExtractionError{URL: e.failOn, Err: errors.New("broken document")}
	}
	return e.next.Extract(resp)
}

func newLoop(t *testing.T) *async.Loop {
	t.Helper()
	loop, err := async.NewLoop(async.WithPollTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	t.Cleanup(func() { _ = loop.Close() })
	return loop
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runCrawl(t *testing.T, fetcher Fetcher, seeds []string, opts ...Option) (Stats, *memRecorder, *memStore) {
	t.Helper()
	rec := &memRecorder{}
	store := &memStore{}
	base := []Option{WithLogger(quietLogger()), WithRecorder(rec), WithMediaStore(store)}
	sup := New(newLoop(t), fetcher, extractor.HrefExtractor{}, append(base, opts...)...)
	if err := sup.Seed(seeds); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	stats, err := sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return stats, rec, store
}

func siteScript() map[string][]fakeResponse {
	return map[string][]fakeResponse{
		site + "/":  {htmlPage(links("/a", "/b", "/a#frag"))},
		site + "/a": {htmlPage(links("/c", "/", "http://EXAMPLE.com:80/b"))},
		site + "/b": {htmlPage(links("/c"))},
		site + "/c": {htmlPage(links("/d"))},
		site + "/d": {htmlPage(links())},
	}
}

func TestCrawlVisitsEveryURLOnce(t *testing.T) {
	t.Parallel()

	for _, concurrency := range []int{1, 4} {
		fetcher := newFakeFetcher(siteScript())
		fetcher.delay = time.Millisecond
		stats, rec, _ := runCrawl(t, fetcher, []string{site + "/"}, WithConcurrency(concurrency))

		for _, path := range []string{"/", "/a", "/b", "/c", "/d"} {
			if got := fetcher.calls[site+path]; got != 1 {
				t.Errorf("concurrency %d: %s fetched %d times, want 1", concurrency, path, got)
			}
		}
		if stats.Pages != 5 || stats.Errors != 0 {
			t.Errorf("concurrency %d: stats = %+v", concurrency, stats)
		}
		if stats.StopReason != StopDrained {
			t.Errorf("concurrency %d: StopReason = %q, want %q", concurrency, stats.StopReason, StopDrained)
		}
		if len(rec.pages) != 5 {
			t.Errorf("concurrency %d: recorded %d pages, want 5", concurrency, len(rec.pages))
		}
		if fetcher.opened != fetcher.closed {
			t.Errorf("concurrency %d: opened %d connections, closed %d", concurrency, fetcher.opened, fetcher.closed)
		}
	}
}

func TestCrawlChildDepth(t *testing.T) {
	t.Parallel()

	_, rec, _ := runCrawl(t, newFakeFetcher(siteScript()), []string{site + "/"})
	want := map[string]int{"/": 0, "/a": 1, "/b": 1, "/c": 2, "/d": 3}
	for path, depth := range want {
		p := rec.page(site + path)
		if p == nil {
			t.Errorf("%s was not recorded", path)
			continue
		}
		if p.Depth != depth {
			t.Errorf("%s depth = %d, want %d", path, p.Depth, depth)
		}
		if p.Title != "fixture" {
			t.Errorf("%s title = %q, want fixture", path, p.Title)
		}
	}
}

func TestCrawlMaxDepth(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(siteScript())
	stats, rec, _ := runCrawl(t, fetcher, []string{site + "/"}, WithMaxDepth(1))

	if fetcher.calls[site+"/c"] != 0 {
		t.Error("/c is at depth 2 and must not be fetched with max depth 1")
	}
	if stats.DepthStopped != 2 {
		t.Errorf("DepthStopped = %d, want 2", stats.DepthStopped)
	}
	if p := rec.page(site + "/a"); p == nil || p.Outcome != OutcomeDepthStopped.String() {
		t.Errorf("/a record = %+v, want depth_stopped", p)
	}
	for _, p := range rec.pages {
		if p.Depth > 1 {
			t.Errorf("%s fetched at depth %d", p.URL, p.Depth)
		}
	}
}

func TestCrawlRedirectBudget(t *testing.T) {
	t.Parallel()

	script := func() map[string][]fakeResponse {
		return map[string][]fakeResponse{
			site + "/old": {moved("/new")},
			site + "/new": {moved("/new"), moved(site + "/new"), htmlPage(links())},
		}
	}

	t.Run("three hops within budget", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(script())
		stats, rec, _ := runCrawl(t, fetcher, []string{site + "/old"}, WithMaxRedirect(3))

		if got := fetcher.calls[site+"/new"]; got != 3 {
			t.Errorf("/new fetched %d times, want 3", got)
		}
		if stats.Redirects != 3 || stats.Dropped != 0 {
			t.Errorf("Redirects = %d, Dropped = %d, want 3 and 0", stats.Redirects, stats.Dropped)
		}
		last := rec.pages[len(rec.pages)-1]
		if last.Outcome != OutcomeExpanded.String() || last.StatusCode != http.StatusOK {
			t.Errorf("final job = %+v, want expanded 200", last)
		}

		budget := 4
		for _, p := range rec.pages {
			if p.RedirectBudget >= budget {
				t.Errorf("redirect budget did not decrease: %d after %d", p.RedirectBudget, budget)
			}
			budget = p.RedirectBudget
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		t.Parallel()

		fetcher := newFakeFetcher(script())
		stats, rec, _ := runCrawl(t, fetcher, []string{site + "/old"}, WithMaxRedirect(2))

		if got := fetcher.calls[site+"/new"]; got != 2 {
			t.Errorf("/new fetched %d times, want 2", got)
		}
		if stats.Redirects != 2 || stats.Dropped != 1 || stats.Errors != 0 {
			t.Errorf("stats = %+v, want 2 redirects, 1 dropped, no errors", stats)
		}
		last := rec.pages[len(rec.pages)-1]
		if last.Outcome != OutcomeDropped.String() || last.RedirectBudget != 0 {
			t.Errorf("final job = %+v, want dropped with budget 0", last)
		}
	})
}

func TestCrawlSelfRedirectRefetchesSeenURL(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string][]fakeResponse{
		site + "/loop": {moved("/loop")},
	})
	stats, rec, _ := runCrawl(t, fetcher, []string{site + "/loop"}, WithMaxRedirect(3))

	if got := fetcher.calls[site+"/loop"]; got != 4 {
		t.Errorf("/loop fetched %d times, want 4", got)
	}
	if stats.Redirects != 3 || stats.Dropped != 1 || stats.Duplicates != 0 {
		t.Errorf("stats = %+v, want 3 redirects, 1 dropped, no duplicates", stats)
	}
	if got := len(rec.pages); got != 4 {
		t.Errorf("recorded %d pages, want 4", got)
	}
}

func TestCrawlRedirectToScheduledURL(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string][]fakeResponse{
		site + "/":  {htmlPage(links("/a", "/b"))},
		site + "/a": {htmlPage(links())},
		site + "/b": {moved("/a")},
	})
	stats, _, _ := runCrawl(t, fetcher, []string{site + "/"}, WithConcurrency(1))

	if fetcher.calls[site+"/a"] != 1 {
		t.Errorf("/a fetched %d times, want 1", fetcher.calls[site+"/a"])
	}
	if stats.Duplicates != 1 || stats.Redirects != 0 {
		t.Errorf("Duplicates = %d, Redirects = %d, want 1 and 0", stats.Duplicates, stats.Redirects)
	}
}

func TestCrawlRedirectWithoutLocation(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string][]fakeResponse{
		site + "/": {{status: http.StatusFound}},
	})
	stats, _, _ := runCrawl(t, fetcher, []string{site + "/"})
	if stats.Errors != 1 || len(stats.Failures) != 1 {
		t.Fatalf("stats = %+v, want one failure", stats)
	}
	if !strings.Contains(stats.Failures[0].Error, ErrMissingLocation.Error()) {
		t.Errorf("failure = %q", stats.Failures[0].Error)
	}
}

func TestCrawlEmptyBody(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string][]fakeResponse{
		site + "/": {htmlPage("")},
	})
	stats, rec, _ := runCrawl(t, fetcher, []string{site + "/"})
	if stats.Pages != 1 || stats.Errors != 0 || stats.StopReason != StopDrained {
		t.Errorf("stats = %+v", stats)
	}
	if p := rec.page(site + "/"); p == nil || p.Outcome != OutcomeExpanded.String() || p.Links != 0 {
		t.Errorf("record = %+v, want expanded without links", p)
	}
}

func TestCrawlMediaTarget(t *testing.T) {
	t.Parallel()

	for _, concurrency := range []int{1, 3} {
		fetcher := newFakeFetcher(map[string][]fakeResponse{
			site + "/":          {htmlPage(links("/next", "/img/1.jpg", "/img/2.JPG", "/img/3.jpg"))},
			site + "/next":      {htmlPage(links())},
			site + "/img/1.jpg": {mediaFile("one")},
			site + "/img/2.JPG": {mediaFile("two")},
			site + "/img/3.jpg": {mediaFile("three")},
		})
		fetcher.delay = time.Millisecond
		stats, rec, store := runCrawl(t, fetcher, []string{site + "/"},
			WithConcurrency(concurrency), WithMediaTarget(2), WithMediaTypes([]string{".jpg"}))

		if stats.MediaCount != 2 || len(store.saved) != 2 || len(rec.media) != 2 {
			t.Errorf("concurrency %d: MediaCount = %d, saved %v", concurrency, stats.MediaCount, store.saved)
		}
		if fetcher.calls[site+"/img/3.jpg"] != 0 {
			t.Errorf("concurrency %d: third media file was fetched", concurrency)
		}
		if stats.StopReason != StopMediaTarget {
			t.Errorf("concurrency %d: StopReason = %q, want %q", concurrency, stats.StopReason, StopMediaTarget)
		}
		if fetcher.opened != fetcher.closed {
			t.Errorf("concurrency %d: opened %d connections, closed %d", concurrency, fetcher.opened, fetcher.closed)
		}
	}
}

func TestCrawlMediaIsPrioritized(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string][]fakeResponse{
		site + "/":        {htmlPage(links("/page", "/pic.jpg"))},
		site + "/page":    {htmlPage(links())},
		site + "/pic.jpg": {mediaFile("jpeg bytes")},
	})
	_, rec, _ := runCrawl(t, fetcher, []string{site + "/"}, WithConcurrency(1))

	if len(rec.pages) != 3 {
		t.Fatalf("recorded %d jobs, want 3", len(rec.pages))
	}
	if rec.pages[1].URL != site+"/pic.jpg" || rec.pages[1].Outcome != OutcomeMediaFetched.String() {
		t.Errorf("second job = %+v, want the media download", rec.pages[1])
	}
	if m := rec.media[0]; string(m.Original) != "jpeg bytes" || m.Path != DefaultOutputDirectory+"/pic.jpg" {
		t.Errorf("media record = %+v", m)
	}
}

func TestCrawlJobFailuresDoNotStopTheCrawl(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string][]fakeResponse{
		site + "/":        {htmlPage(links("/broken", "/refused", "/ok", "/img.jpg"))},
		site + "/broken":  {htmlPage(links("/never"))},
		site + "/refused": {{err: errors.New("connection refused")}},
		site + "/ok":      {htmlPage(links())},
		site + "/img.jpg": {mediaFile("x")},
	})
	rec := &memRecorder{}
	ext := failingExtractor{failOn: site + "/broken", next: extractor.HrefExtractor{}}
	sup := New(newLoop(t), fetcher, ext,
		WithLogger(quietLogger()), WithRecorder(rec),
		WithMediaStore(&memStore{err: errors.New("disk full")}))
	if err := sup.Seed([]string{site + "/"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	stats, err := sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Errors != 3 {
		t.Errorf("Errors = %d, want 3 (extraction, connect, storage): %+v", stats.Errors, stats.Failures)
	}
	if fetcher.calls[site+"/ok"] != 1 {
		t.Error("/ok was not crawled after earlier failures")
	}
	if p := rec.page(site + "/broken"); p == nil || !p.Failed() {
		t.Errorf("/broken record = %+v, want failure", p)
	}
	if stats.StopReason != StopDrained {
		t.Errorf("StopReason = %q", stats.StopReason)
	}
}

func TestCrawlTargetPattern(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(siteScript())
	re := regexp.MustCompile(`(?i)^http://example\.com/(a|c|d)?$`)
	runCrawl(t, fetcher, []string{site + "/"}, WithTargetPattern(re))

	if fetcher.calls[site+"/b"] != 0 {
		t.Error("/b does not match the target pattern and must not be fetched")
	}
	if fetcher.calls[site+"/d"] != 1 {
		t.Error("/d matches the target pattern and must be fetched")
	}
}

func TestCrawlInterval(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string][]fakeResponse{
		site + "/":  {htmlPage(links("/a", "/b"))},
		site + "/a": {htmlPage(links())},
		site + "/b": {htmlPage(links())},
	})
	start := time.Now()
	runCrawl(t, fetcher, []string{site + "/"}, WithConcurrency(3), WithCrawlInterval(25*time.Millisecond))
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Errorf("three fetches took %v, want at least two intervals", elapsed)
	}
}

func TestCrawlInterrupt(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string][]fakeResponse{
		site + "/": {htmlPage(links())},
	})
	fetcher.delay = 10 * time.Second
	sup := New(newLoop(t), fetcher, extractor.HrefExtractor{}, WithLogger(quietLogger()))
	if err := sup.Seed([]string{site + "/"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	stats, err := sup.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Run() did not return promptly after the context was cancelled")
	}
	if stats.StopReason != StopInterrupted {
		t.Errorf("StopReason = %q, want %q", stats.StopReason, StopInterrupted)
	}
	if stats.Errors != 0 {
		t.Errorf("cancellation counted as failure: %+v", stats.Failures)
	}
	if fetcher.opened != 1 || fetcher.closed != 1 {
		t.Errorf("opened %d, closed %d, want 1 and 1", fetcher.opened, fetcher.closed)
	}

	if _, err := sup.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRun", err)
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()

	sup := New(newLoop(t), newFakeFetcher(nil), extractor.HrefExtractor{}, WithLogger(quietLogger()), WithQueueSize(2))
	if err := sup.Seed([]string{site + "/", "HTTP://EXAMPLE.COM", site + "/x"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if sup.stats.Seeds != 2 {
		t.Errorf("Seeds = %d, want 2", sup.stats.Seeds)
	}
	if err := sup.Seed([]string{site + "/y"}); err == nil {
		t.Error("Seed() beyond the queue size should fail")
	}
}

func TestCrawlWithoutSeeds(t *testing.T) {
	t.Parallel()

	stats, rec, _ := runCrawl(t, newFakeFetcher(nil), nil)
	if stats.StopReason != StopDrained || stats.Pages != 0 || len(rec.pages) != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMediaMatcher(t *testing.T) {
	t.Parallel()

	m := NewMediaMatcher([]string{"jpg", ".PNG", " "})
	tests := []struct {
		url  string
		want bool
	}{
		{url: "http://example.com/a.jpg", want: true},
		{url: "http://example.com/dir/A.JPG?size=2", want: true},
		{url: "http://example.com/b.png", want: true},
		{url: "http://example.com/jpg", want: false},
		{url: "http://example.com/.jpg", want: false},
		{url: "http://example.com/a.jpg/", want: false},
		{url: "http://example.com/a.gif", want: false},
		{url: "http://example.com/a.html#x.jpg", want: false},
	}
	for _, tt := range tests {
		if got := m.MatchString(tt.url); got != tt.want {
			t.Errorf("MatchString(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
	if NewMediaMatcher(nil).Enabled() {
		t.Error("empty matcher reports Enabled")
	}
}

func TestDocumentTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "simple", body: "<title>Hello</title>", want: "Hello"},
		{name: "white space", body: "<title>\n  Hello \t World\n</title>", want: "Hello World"},
		{name: "svg title skipped", body: "<body><svg><title>icon</title></svg></body>", want: ""},
		{name: "no title", body: "<p>text</p>", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := &httpcodec.Response{
				Header: http.Header{"Content-Type": []string{"text/html"}},
				Body:   []byte(tt.body),
			}
			if got := documentTitle(resp); got != tt.want {
				t.Errorf("documentTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	if OutcomeMediaFetched.String() != "media_fetched" {
		t.Errorf("OutcomeMediaFetched = %q", OutcomeMediaFetched.String())
	}
	if Outcome(42).String() != "outcome(42)" {
		t.Errorf("Outcome(42) = %q", Outcome(42).String())
	}
}
