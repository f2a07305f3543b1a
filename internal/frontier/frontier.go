package frontier

import (
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"

	"github.com/nao1215/minispider/internal/async"
)

// DefaultCapacity is the maximum number of queued jobs.
const DefaultCapacity = 10000

var (
	// ErrFull is returned by PutNowait when the queue is at capacity.
	ErrFull = errors.New("frontier is full")

	// ErrTaskDoneUnderflow is returned when TaskDone is called more times
	// than jobs were enqueued.
	ErrTaskDoneUnderflow = errors.New("TaskDone called more times than jobs were queued")
)

// Job is one unit of crawl work. It is a value type and never mutated once
// enqueued; Redirected and Child derive new jobs.
type Job struct {
	// URL is the absolute address to fetch.
	URL string
	// RedirectBudget is the number of redirect hops this job may still follow.
	RedirectBudget int
	// Depth is the link distance from the seed URL.
	Depth int
}

// Redirected returns the job for a redirect target: same depth, one less
// redirect hop available.
func (j Job) Redirected(location string) Job {
	return Job{URL: location, RedirectBudget: j.RedirectBudget - 1, Depth: j.Depth}
}

// Child returns the job for a link discovered on this job's page.
func (j Job) Child(link string, budget int) Job {
	return Job{URL: link, RedirectBudget: budget, Depth: j.Depth + 1}
}

// Frontier is a bounded FIFO of crawl jobs plus the set of URLs already
// scheduled. Media jobs go through a priority lane that is drained before
// page jobs.
//
// All methods must be called from code holding the scheduler baton. Put,
// Get and Join suspend the calling task; waiters are woken through
// Loop.CallSoon so that a Put never runs another task in the middle of the
// caller's own bookkeeping.
type Frontier struct {
	loop     *async.Loop
	capacity int

	media []Job
	pages []Job

	seen       map[string]struct{}
	unfinished int

	getters []*async.Future[struct{}]
	putters []*async.Future[struct{}]
	joiners []*async.Future[struct{}]
}

// New creates a Frontier. A non-positive capacity means unbounded.
func New(loop *async.Loop, capacity int) *Frontier {
	return &Frontier{
		loop:     loop,
		capacity: capacity,
		seen:     make(map[string]struct{}),
	}
}

// Len returns the number of queued jobs.
func (f *Frontier) Len() int {
	return len(f.media) + len(f.pages)
}

// Unfinished returns the number of jobs enqueued but not yet marked done.
func (f *Frontier) Unfinished() int {
	return f.unfinished
}

func (f *Frontier) full() bool {
	return f.capacity > 0 && f.Len() >= f.capacity
}

// PutNowait enqueues job without suspending. It returns ErrFull at capacity.
func (f *Frontier) PutNowait(job Job) error {
	if f.full() {
		return ErrFull
	}
	f.push(job, false)
	return nil
}

// Put enqueues job, suspending while the queue is full.
func (f *Frontier) Put(co *async.Co, job Job) error {
	if err := f.waitForRoom(co); err != nil {
		return err
	}
	f.push(job, false)
	return nil
}

// PutPriority enqueues job ahead of every page job, suspending while the
// queue is full.
func (f *Frontier) PutPriority(co *async.Co, job Job) error {
	if err := f.waitForRoom(co); err != nil {
		return err
	}
	f.push(job, true)
	return nil
}

func (f *Frontier) waitForRoom(co *async.Co) error {
	for f.full() {
		w := async.NewFuture[struct{}]()
		f.putters = append(f.putters, w)
		if _, err := async.Await(co, w); err != nil {
			var queued bool
			if f.putters, queued = remove(f.putters, w); !queued {
				// The wakeup meant for this task is passed on.
				f.wakeOne(&f.putters)
			}
			return err
		}
	}
	return nil
}

func (f *Frontier) push(job Job, priority bool) {
	if priority {
		f.media = append(f.media, job)
	} else {
		f.pages = append(f.pages, job)
	}
	f.unfinished++
	f.wakeOne(&f.getters)
}

// Get dequeues the next job, suspending while the queue is empty. Media jobs
// are returned before page jobs.
func (f *Frontier) Get(co *async.Co) (Job, error) {
	for f.Len() == 0 {
		w := async.NewFuture[struct{}]()
		f.getters = append(f.getters, w)
		if _, err := async.Await(co, w); err != nil {
			var queued bool
			if f.getters, queued = remove(f.getters, w); !queued {
				f.wakeOne(&f.getters)
			}
			return Job{}, err
		}
	}

	var job Job
	if len(f.media) > 0 {
		job, f.media = f.media[0], f.media[1:]
	} else {
		job, f.pages = f.pages[0], f.pages[1:]
	}
	f.wakeOne(&f.putters)
	return job, nil
}

// TaskDone marks one dequeued job as processed. When every enqueued job has
// been processed, tasks suspended in Join are released.
func (f *Frontier) TaskDone() error {
	if f.unfinished <= 0 {
		return ErrTaskDoneUnderflow
	}
	f.unfinished--
	if f.unfinished == 0 {
		joiners := f.joiners
		f.joiners = nil
		for _, w := range joiners {
			f.resolveSoon(w)
		}
	}
	return nil
}

// Join suspends until every enqueued job has been marked done.
func (f *Frontier) Join(co *async.Co) error {
	for f.unfinished > 0 {
		w := async.NewFuture[struct{}]()
		f.joiners = append(f.joiners, w)
		if _, err := async.Await(co, w); err != nil {
			f.joiners, _ = remove(f.joiners, w)
			return err
		}
	}
	return nil
}

// MarkSeen adds rawURL to the seen set and reports whether it was new.
func (f *Frontier) MarkSeen(rawURL string) bool {
	key := Normalize(rawURL)
	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = struct{}{}
	return true
}

// Seen reports whether rawURL is already in the seen set.
func (f *Frontier) Seen(rawURL string) bool {
	_, ok := f.seen[Normalize(rawURL)]
	return ok
}

// SeenCount returns the size of the seen set.
func (f *Frontier) SeenCount() int {
	return len(f.seen)
}

func (f *Frontier) wakeOne(waiters *[]*async.Future[struct{}]) {
	for len(*waiters) > 0 {
		w := (*waiters)[0]
		*waiters = (*waiters)[1:]
		if !w.Done() {
			f.resolveSoon(w)
			return
		}
	}
}

func (f *Frontier) resolveSoon(w *async.Future[struct{}]) {
	f.loop.CallSoon(func() {
		_ = w.SetResult(struct{}{})
	})
}

// remove drops w from waiters and reports whether it was still queued.
func remove(waiters []*async.Future[struct{}], w *async.Future[struct{}]) ([]*async.Future[struct{}], bool) {
	for i, x := range waiters {
		if x == w {
			return append(waiters[:i], waiters[i+1:]...), true
		}
	}
	return waiters, false
}

const normalizeFlags = purell.FlagsSafe |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveFragment |
	purell.FlagRemoveDuplicateSlashes

// Normalize returns the canonical form of rawURL used for deduplication:
// lower-case scheme and host, no default port, no fragment, no dot segments
// and "/" for an empty path. Unparsable input is returned trimmed.
func Normalize(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	normalized, err := purell.NormalizeURLString(rawURL, normalizeFlags)
	if err != nil {
		return rawURL
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return normalized
	}
	if u.Host != "" && u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	return u.String()
}
