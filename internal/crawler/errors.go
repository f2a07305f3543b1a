package crawler

import "errors"

var (
	// ErrDepthExceeded marks a document fetched at the maximum depth. Its
	// links are not expanded. It is a normal stop, not a failure.
	ErrDepthExceeded = errors.New("maximum crawl depth reached")

	// ErrRedirectBudgetExceeded marks a redirect that could not be followed
	// because the job had no redirect hops left. It is a normal stop, not a
	// failure.
	ErrRedirectBudgetExceeded = errors.New("redirect budget exhausted")

	// ErrMediaTargetReached is raised by a worker that picks up a media job
	// after the media target has been reached. It stops the whole crawl.
	ErrMediaTargetReached = errors.New("media target reached")

	// ErrMissingLocation is returned for a redirect response without a
	// usable Location header.
	ErrMissingLocation = errors.New("redirect without Location header")

	// ErrUnexpectedStatus is returned when a media download does not answer
	// with a 2xx status.
	ErrUnexpectedStatus = errors.New("unexpected status for media download")

	// ErrAlreadyRun is returned when Run is called a second time.
	ErrAlreadyRun = errors.New("supervisor already ran")
)
