// Package crawler drives a breadth-first crawl over a frontier of URLs.
//
// # Architecture
//
// The Supervisor owns one frontier.Frontier and spawns a fixed number of
// worker tasks on an async.Loop. Each worker repeatedly takes a job from
// the frontier, runs it through the per-job state machine and marks it
// done:
//
//	Queued -> Fetching -> Redirected | Expanded | MediaFetched | DepthStopped | Dropped
//
// Redirect targets are enqueued at the same depth with one redirect hop
// less. Documents below the maximum depth are handed to an
// extractor.Extractor and every new link becomes a child job one level
// deeper. Links whose file name carries a configured media extension go
// through the frontier's priority lane and are downloaded directly instead
// of being parsed.
//
// All crawl state (frontier, seen set, counters) is touched only by code
// holding the scheduler baton, so none of it is locked.
//
// # Termination
//
// A crawl ends when the frontier drains, when the media target is reached,
// or when the run context is cancelled. In every case the Supervisor
// cancels all workers and waits for them before Run returns.
//
// # Usage
//
//	loop, _ := async.NewLoop()
//	sup := crawler.New(loop, transport.NewClient(dialer), extractor.HrefExtractor{},
//		crawler.WithMaxDepth(3), crawler.WithConcurrency(8))
//	_ = sup.Seed([]string{"https://example.com/"})
//	stats, err := sup.Run(ctx)
package crawler
