package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/minispider/internal/async"
	"github.com/nao1215/minispider/internal/frontier"
	"github.com/nao1215/minispider/internal/httpcodec"
	"github.com/nao1215/minispider/internal/model"
	"github.com/nao1215/minispider/internal/storage"
)

// Outcome is the terminal state of one crawl job.
type Outcome int

const (
	// OutcomeFailed means the job failed: connect, TLS, protocol,
	// extraction or storage error.
	OutcomeFailed Outcome = iota
	// OutcomeRedirected means the redirect target was enqueued.
	OutcomeRedirected
	// OutcomeExpanded means the document's links were extracted.
	OutcomeExpanded
	// OutcomeMediaFetched means a media file was downloaded and stored.
	OutcomeMediaFetched
	// OutcomeDepthStopped means the document sits at the maximum depth.
	OutcomeDepthStopped
	// OutcomeDropped means the job was abandoned: redirect budget
	// exhausted, redirect target already scheduled, or media target
	// already claimed.
	OutcomeDropped
	// OutcomeStopped means the crawl was stopping when the job ran.
	OutcomeStopped
)

// String returns the outcome name used in logs, metrics and the catalog.
func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeRedirected:
		return "redirected"
	case OutcomeExpanded:
		return "expanded"
	case OutcomeMediaFetched:
		return "media_fetched"
	case OutcomeDepthStopped:
		return "depth_stopped"
	case OutcomeDropped:
		return "dropped"
	case OutcomeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// work is the body of one worker task.
func (s *Supervisor) work(co *async.Co) (struct{}, error) {
	for !s.stopping {
		job, err := s.frontier.Get(co)
		if err != nil {
			return struct{}{}, err
		}
		if !s.stopping {
			s.handle(co, job)
		}
		if err := s.frontier.TaskDone(); err != nil {
			return struct{}{}, err
		}
		if co.Cancelled() {
			return struct{}{}, async.ErrCancelled
		}
	}
	return struct{}{}, nil
}

// handle runs one job and books its outcome. Job failures end here.
func (s *Supervisor) handle(co *async.Co, job frontier.Job) {
	started := time.Now()
	page := &model.Page{
		URL:            job.URL,
		Depth:          job.Depth,
		RedirectBudget: job.RedirectBudget,
		FetchedAt:      started,
	}
	s.logger.Debug("crawling", "url", job.URL, "depth", job.Depth, "seen", s.frontier.SeenCount())

	outcome, err := s.process(co, job, page)
	switch {
	case err == nil:
	case errors.Is(err, ErrMediaTargetReached):
		outcome = OutcomeStopped
		s.halt(StopMediaTarget)
	case errors.Is(err, async.ErrCancelled):
		outcome = OutcomeStopped
	default:
		outcome = OutcomeFailed
		page.Error = err.Error()
		s.addFailure(job.URL, err)
		s.logger.Warn("crawl job failed", "url", job.URL, "depth", job.Depth, "error", err)
	}

	page.Outcome = outcome.String()
	page.Elapsed = time.Since(started)
	if outcome != OutcomeStopped {
		s.recordPage(page)
	}
	s.observer.ObserveJob(outcome, page.Elapsed)
	s.observer.ObserveFrontier(s.frontier.Len(), s.frontier.SeenCount())
}

// process moves one job from Fetching to its terminal state.
func (s *Supervisor) process(co *async.Co, job frontier.Job, page *model.Page) (Outcome, error) {
	target, err := url.Parse(job.URL)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("parse job url: %w", err)
	}
	if s.media.Match(target) {
		return s.fetchMedia(co, job, target, page)
	}

	if err := s.throttle(co); err != nil {
		return OutcomeStopped, err
	}
	resp, err := s.fetcher.Fetch(co, target)
	if err != nil {
		return OutcomeFailed, err
	}
	s.stats.Pages++
	fillPage(page, resp)

	if resp.IsRedirect() {
		return s.redirect(co, job, resp, page)
	}
	if job.Depth >= s.maxDepth {
		s.stats.DepthStopped++
		s.logger.Debug("not expanding", "url", job.URL, "depth", job.Depth, "reason", ErrDepthExceeded)
		return OutcomeDepthStopped, nil
	}
	return s.expand(co, job, resp, page)
}

// redirect enqueues the Location target at the same depth with one hop
// less. A target that is already scheduled is not enqueued again, with one
// exception: when the target normalizes to the URL that was just fetched,
// that already seen URL is enqueued again. A resource answering 301 to
// itself is therefore refetched once per remaining hop, e.g. three redirects
// and a final fetch under a budget of three, and dropped when the budget is
// spent.
func (s *Supervisor) redirect(co *async.Co, job frontier.Job, resp *httpcodec.Response, page *model.Page) (Outcome, error) {
	loc := resp.Location()
	if loc == nil || (loc.Scheme != "http" && loc.Scheme != "https") {
		return OutcomeFailed, fmt.Errorf("%w: %d from %s", ErrMissingLocation, resp.StatusCode, job.URL)
	}
	loc.Fragment = ""
	next := loc.String()

	if job.RedirectBudget <= 0 {
		s.stats.Dropped++
		s.logger.Info("redirect not followed",
			"url", job.URL, "location", next, "max_redirect", s.maxRedirect, "reason", ErrRedirectBudgetExceeded)
		return OutcomeDropped, nil
	}

	self := frontier.Normalize(next) == frontier.Normalize(job.URL)
	if !s.frontier.MarkSeen(next) && !self {
		s.stats.Duplicates++
		s.logger.Debug("redirect target already scheduled", "url", job.URL, "location", next)
		return OutcomeDropped, nil
	}

	s.logger.Info("redirected", "url", job.URL, "location", next, "status", resp.StatusCode)
	if err := s.frontier.Put(co, job.Redirected(next)); err != nil {
		return OutcomeStopped, err
	}
	s.stats.Redirects++
	page.Enqueued = 1
	return OutcomeRedirected, nil
}

// expand turns every new link of a document into a child job. Media links
// are enqueued ahead of page links.
func (s *Supervisor) expand(co *async.Co, job frontier.Job, resp *httpcodec.Response, page *model.Page) (Outcome, error) {
	links, err := s.extractor.Extract(resp)
	if err != nil {
		return OutcomeFailed, err
	}

	var mediaJobs, pageJobs []frontier.Job
	for link := range links {
		page.Links++
		if s.target != nil && !s.target.MatchString(link) {
			continue
		}
		if !s.frontier.MarkSeen(link) {
			continue
		}
		child := job.Child(link, s.maxRedirect)
		if s.media.MatchString(link) {
			mediaJobs = append(mediaJobs, child)
		} else {
			pageJobs = append(pageJobs, child)
		}
	}

	for _, child := range mediaJobs {
		if err := s.frontier.PutPriority(co, child); err != nil {
			return OutcomeStopped, err
		}
		page.Enqueued++
	}
	for _, child := range pageJobs {
		if err := s.frontier.Put(co, child); err != nil {
			return OutcomeStopped, err
		}
		page.Enqueued++
	}
	s.stats.Discovered += page.Enqueued
	return OutcomeExpanded, nil
}

// fetchMedia downloads a media job and stores it. Each running download
// holds one slot of the media target, so concurrent workers never store
// more than the target.
func (s *Supervisor) fetchMedia(co *async.Co, job frontier.Job, target *url.URL, page *model.Page) (Outcome, error) {
	if s.mediaTarget > 0 {
		if s.stats.MediaCount >= s.mediaTarget {
			return OutcomeStopped, ErrMediaTargetReached
		}
		if s.stats.MediaCount+s.mediaInFlight >= s.mediaTarget {
			s.stats.Dropped++
			s.logger.Debug("media target already claimed", "url", job.URL)
			return OutcomeDropped, nil
		}
	}
	s.mediaInFlight++
	defer func() { s.mediaInFlight-- }()

	if err := s.throttle(co); err != nil {
		return OutcomeStopped, err
	}
	resp, err := s.fetcher.Fetch(co, target)
	if err != nil {
		return OutcomeFailed, err
	}
	s.stats.Pages++
	page.StatusCode = resp.StatusCode
	page.ContentType = resp.ContentType()

	if resp.IsRedirect() {
		return s.redirect(co, job, resp, page)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return OutcomeFailed, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	data, format, err := storage.Transcode(resp.Body)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("media %s: %w", job.URL, err)
	}
	path, err := s.store.Save(s.ctx, s.outputDir, storage.FilenameFromURL(target), data)
	if err != nil {
		return OutcomeFailed, err
	}

	s.stats.MediaCount++
	s.logger.Info("media stored", "url", job.URL, "path", path, "format", format, "bytes", len(data),
		"count", s.stats.MediaCount)
	s.recordMedia(&model.Media{
		URL:       job.URL,
		Path:      path,
		Format:    format,
		Size:      len(data),
		FetchedAt: time.Now(),
		Original:  resp.Body,
		Data:      data,
	})
	s.observer.ObserveMedia(len(data))

	if s.mediaTarget > 0 && s.stats.MediaCount >= s.mediaTarget {
		s.logger.Info("media target reached", "target", s.mediaTarget)
		s.halt(StopMediaTarget)
	}
	return OutcomeMediaFetched, nil
}

// throttle waits for the crawl interval. The wait suspends only the calling
// worker.
func (s *Supervisor) throttle(co *async.Co) error {
	if s.limiter == nil {
		return nil
	}
	r := s.limiter.Reserve()
	d := r.Delay()
	if d <= 0 {
		return nil
	}
	if err := async.Sleep(co, d); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

func (s *Supervisor) recordPage(page *model.Page) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordPage(context.WithoutCancel(s.ctx), page); err != nil {
		s.logger.Warn("failed to record page", "url", page.URL, "error", err)
	}
}

func (s *Supervisor) recordMedia(media *model.Media) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordMedia(context.WithoutCancel(s.ctx), media); err != nil {
		s.logger.Warn("failed to record media", "url", media.URL, "error", err)
	}
}
