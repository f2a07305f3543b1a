package transport

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nao1215/minispider/internal/async"
)

// DefaultLookupTimeout bounds a single DNS lookup.
const DefaultLookupTimeout = 15 * time.Second

// LookupFunc resolves a host name to IP addresses.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// Resolver performs DNS lookups off the event loop. The lookup itself runs on
// a helper goroutine and its result is handed back to the loop with
// CallSoonThreadsafe, so crawl state is never touched off-loop.
// Concurrent lookups of the same host share one query.
type Resolver struct {
	loop    *async.Loop
	lookup  LookupFunc
	timeout time.Duration
	group   singleflight.Group
}

// NewResolver creates a Resolver. A nil lookup uses net.DefaultResolver.
func NewResolver(loop *async.Loop, lookup LookupFunc, timeout time.Duration) *Resolver {
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		}
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Resolver{loop: loop, lookup: lookup, timeout: timeout}
}

// Resolve suspends the calling task until host is resolved. IP literals are
// returned without a lookup.
func (r *Resolver) Resolve(co *async.Co, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	f := async.NewFuture[[]net.IP]()
	ch := r.group.DoChan(host, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		return r.lookup(ctx, host)
	})
	go func() {
		res := <-ch
		r.loop.CallSoonThreadsafe(func() {
			if res.Err != nil {
				_ = f.SetError(res.Err)
				return
			}
			ips, _ := res.Val.([]net.IP)
			_ = f.SetResult(ips)
		})
	}()
	return async.Await(co, f)
}
