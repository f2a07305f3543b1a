// Package frontier holds the pending crawl work: a bounded job queue with a
// priority lane for media downloads, the set of URLs already scheduled, and
// join accounting so the supervisor knows when the crawl has drained.
//
// Bounded capacity provides backpressure. A worker that discovers more links
// than fit suspends in Put until another worker dequeues a job, instead of
// growing memory without limit.
package frontier
