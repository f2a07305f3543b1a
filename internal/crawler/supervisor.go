package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/minispider/internal/async"
	"github.com/nao1215/minispider/internal/extractor"
	"github.com/nao1215/minispider/internal/frontier"
	"github.com/nao1215/minispider/internal/httpcodec"
	"github.com/nao1215/minispider/internal/model"
	"github.com/nao1215/minispider/internal/storage"
)

const (
	// DefaultConcurrency is the number of worker tasks.
	DefaultConcurrency = 10

	// DefaultMaxDepth is the deepest level whose documents are expanded.
	DefaultMaxDepth = 10

	// DefaultMaxRedirect is the redirect budget of every new job.
	DefaultMaxRedirect = 3

	// DefaultOutputDirectory is where media is stored.
	DefaultOutputDirectory = "./output"

	// maxFailures caps Stats.Failures.
	maxFailures = 100
)

// DefaultMediaTypes are the file extensions downloaded on the media path.
var DefaultMediaTypes = []string{"jpg"}

// Fetcher fetches one URL. Implementations suspend co while waiting for the
// network and must release the connection before returning.
type Fetcher interface {
	Fetch(co *async.Co, target *url.URL) (*httpcodec.Response, error)
}

// Recorder receives a record of every processed job. Recording errors are
// logged and never stop the crawl.
type Recorder interface {
	RecordPage(ctx context.Context, page *model.Page) error
	RecordMedia(ctx context.Context, media *model.Media) error
}

// Observer is notified about crawl progress, typically to export metrics.
type Observer interface {
	ObserveJob(outcome Outcome, elapsed time.Duration)
	ObserveMedia(size int)
	ObserveFrontier(queued, seen int)
}

// StopReason tells why a crawl ended.
type StopReason string

const (
	// StopDrained means every scheduled job was processed.
	StopDrained StopReason = "drained"
	// StopMediaTarget means the media target was reached.
	StopMediaTarget StopReason = "media target reached"
	// StopInterrupted means the run context was cancelled.
	StopInterrupted StopReason = "interrupted"
)

// Stats are the counters of a crawl. They are only valid once Run returned.
type Stats struct {
	Seeds        int
	Pages        int
	Redirects    int
	Discovered   int
	Dropped      int
	Duplicates   int
	DepthStopped int
	Errors       int
	MediaCount   int
	MediaTarget  int
	Seen         int
	StopReason   StopReason
	Failures     []model.Failure
}

// Counters converts the stats to the report counters.
func (s Stats) Counters() model.Counters {
	return model.Counters{
		Pages:        s.Pages,
		Redirects:    s.Redirects,
		Discovered:   s.Discovered,
		Dropped:      s.Dropped,
		Duplicates:   s.Duplicates,
		DepthStopped: s.DepthStopped,
		Errors:       s.Errors,
		MediaCount:   s.MediaCount,
		MediaTarget:  s.MediaTarget,
		Seen:         s.Seen,
	}
}

// Supervisor runs a crawl: it owns the frontier and the worker tasks.
type Supervisor struct {
	loop      *async.Loop
	frontier  *frontier.Frontier
	fetcher   Fetcher
	extractor extractor.Extractor
	store     storage.MediaStore
	recorder  Recorder
	observer  Observer
	logger    *slog.Logger
	limiter   *rate.Limiter

	concurrency int
	maxDepth    int
	maxRedirect int
	queueSize   int
	media       MediaMatcher
	mediaTarget int
	outputDir   string
	target      *regexp.Regexp

	ctx           context.Context
	stats         Stats
	mediaInFlight int
	stopping      bool
	stop          *async.Future[StopReason]
	ran           bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithConcurrency sets the number of worker tasks. Values below 1 are
// ignored.
func WithConcurrency(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxDepth sets the maximum depth. Documents at this depth are fetched
// but their links are not followed.
func WithMaxDepth(depth int) Option {
	return func(s *Supervisor) {
		if depth >= 0 {
			s.maxDepth = depth
		}
	}
}

// WithMaxRedirect sets the redirect budget given to seed and child jobs.
func WithMaxRedirect(n int) Option {
	return func(s *Supervisor) {
		if n >= 0 {
			s.maxRedirect = n
		}
	}
}

// WithQueueSize sets the frontier capacity.
func WithQueueSize(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithMediaTypes sets the file extensions handled by the media path. An
// empty list disables media downloads.
func WithMediaTypes(exts []string) Option {
	return func(s *Supervisor) {
		s.media = NewMediaMatcher(exts)
	}
}

// WithMediaTarget stops the crawl once n media files were stored. Zero
// means no limit.
func WithMediaTarget(n int) Option {
	return func(s *Supervisor) {
		if n >= 0 {
			s.mediaTarget = n
		}
	}
}

// WithOutputDirectory sets where media files are stored.
func WithOutputDirectory(dir string) Option {
	return func(s *Supervisor) {
		if dir != "" {
			s.outputDir = dir
		}
	}
}

// WithTargetPattern only follows discovered links matching re. A nil
// pattern follows every link.
func WithTargetPattern(re *regexp.Regexp) Option {
	return func(s *Supervisor) {
		s.target = re
	}
}

// WithCrawlInterval spaces fetches by at least d across all workers. Zero
// or negative disables throttling.
func WithCrawlInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			s.limiter = nil
		}
	}
}

// WithMediaStore sets where media is persisted. Defaults to storage.FileStore.
func WithMediaStore(store storage.MediaStore) Option {
	return func(s *Supervisor) {
		if store != nil {
			s.store = store
		}
	}
}

// WithRecorder records every processed job.
func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) {
		s.recorder = r
	}
}

// WithObserver reports crawl progress to o.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Supervisor that fetches with fetcher and extracts links
// with ext. Jobs are scheduled on loop.
func New(loop *async.Loop, fetcher Fetcher, ext extractor.Extractor, opts ...Option) *Supervisor {
	s := &Supervisor{
		loop:        loop,
		fetcher:     fetcher,
		extractor:   ext,
		store:       storage.FileStore{},
		observer:    nopObserver{},
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
		maxDepth:    DefaultMaxDepth,
		maxRedirect: DefaultMaxRedirect,
		queueSize:   frontier.DefaultCapacity,
		media:       NewMediaMatcher(DefaultMediaTypes),
		outputDir:   DefaultOutputDirectory,
		ctx:         context.Background(),
		stop:        async.NewFuture[StopReason](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "crawler")
	s.frontier = frontier.New(loop, s.queueSize)
	s.stats.MediaTarget = s.mediaTarget
	return s
}

// Seed schedules the start URLs at depth 0 with the full redirect budget.
// URLs already scheduled are skipped. Seed must not be called while Run is
// in progress.
func (s *Supervisor) Seed(urls []string) error {
	for _, raw := range urls {
		if !s.frontier.MarkSeen(raw) {
			continue
		}
		job := frontier.Job{URL: raw, RedirectBudget: s.maxRedirect}
		if err := s.frontier.PutNowait(job); err != nil {
			return fmt.Errorf("seed %s: %w", raw, err)
		}
		s.stats.Seeds++
	}
	return nil
}

// Run crawls until the frontier drains, the media target is reached or ctx
// is cancelled. It drives the Loop itself and returns once every worker has
// stopped. A scheduler failure is returned as *async.FatalError.
func (s *Supervisor) Run(ctx context.Context) (Stats, error) {
	if s.ran {
		return s.stats, ErrAlreadyRun
	}
	s.ran = true
	s.ctx = ctx

	stop := context.AfterFunc(ctx, s.Interrupt)
	defer stop()

	s.logger.Info("crawl started",
		"seeds", s.stats.Seeds,
		"concurrency", s.concurrency,
		"max_depth", s.maxDepth,
		"max_redirect", s.maxRedirect,
		"media_target", s.mediaTarget)

	stats, err := async.Run(s.loop, "supervisor", s.supervise)
	if err != nil {
		return stats, err
	}
	s.logger.Info("crawl finished",
		"reason", string(stats.StopReason),
		"pages", stats.Pages,
		"media", stats.MediaCount,
		"errors", stats.Errors,
		"seen", stats.Seen)
	return stats, nil
}

// Interrupt asks a running crawl to stop. It is safe to call from any
// goroutine.
func (s *Supervisor) Interrupt() {
	s.loop.CallSoonThreadsafe(func() {
		s.halt(StopInterrupted)
	})
}

// halt resolves the stop signal once. The supervisor task resumes
// synchronously and cancels every worker.
func (s *Supervisor) halt(reason StopReason) {
	if s.stop.Done() {
		return
	}
	s.stopping = true
	_ = s.stop.SetResult(reason)
}

func (s *Supervisor) supervise(co *async.Co) (Stats, error) {
	workers := make([]*async.Task[struct{}], s.concurrency)
	for i := range workers {
		workers[i] = async.Spawn(s.loop, fmt.Sprintf("worker-%d", i), s.work)
	}
	join := async.Spawn(s.loop, "join", func(co *async.Co) (struct{}, error) {
		return struct{}{}, s.frontier.Join(co)
	})
	join.AddCallback(func(f *async.Future[struct{}]) {
		if _, err := f.Result(); err == nil {
			s.halt(StopDrained)
		}
	})

	reason, err := async.Await(co, s.stop)
	if err != nil {
		return s.finalStats(), err
	}
	s.stats.StopReason = reason

	join.Cancel()
	for _, w := range workers {
		w.Cancel()
	}
	errs, err := async.WaitAll(co, workers)
	for i, werr := range errs {
		if werr != nil && !errors.Is(werr, async.ErrCancelled) {
			s.logger.Error("worker stopped with error", "worker", workers[i].Name(), "error", werr)
		}
	}
	return s.finalStats(), err
}

func (s *Supervisor) finalStats() Stats {
	s.stats.Seen = s.frontier.SeenCount()
	return s.stats
}

func (s *Supervisor) addFailure(rawURL string, err error) {
	s.stats.Errors++
	if len(s.stats.Failures) < maxFailures {
		s.stats.Failures = append(s.stats.Failures, model.Failure{URL: rawURL, Error: err.Error()})
	}
}

type nopObserver struct{}

func (nopObserver) ObserveJob(Outcome, time.Duration) {}
func (nopObserver) ObserveMedia(int)                  {}
func (nopObserver) ObserveFrontier(int, int)          {}
