package async

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPollTimeout bounds a single poll call. It is not a per-connection
// deadline: it only limits how long the Loop waits between global progress
// checks when nothing becomes ready.
const DefaultPollTimeout = 15 * time.Second

// Events is a bit set of readiness conditions.
type Events uint8

const (
	// EventRead asks to be notified when the descriptor is readable.
	EventRead Events = 1 << iota
	// EventWrite asks to be notified when the descriptor is writable.
	EventWrite
)

type registration struct {
	events  Events
	onRead  func()
	onWrite func()
}

// Loop is a readiness-based event loop over poll(2). It dispatches fd
// readiness to registered callbacks, fires timers and runs functions queued
// from other goroutines.
//
// Only the goroutine running the Loop, and the task it has handed the baton
// to, may call its methods. The exception is CallSoonThreadsafe.
type Loop struct {
	pollTimeout time.Duration
	logger      *slog.Logger

	regs   map[int]*registration
	timers timerHeap
	seq    uint64

	wakeR int
	wakeW int

	mu      sync.Mutex
	pending []func()

	live     map[*Co]struct{}
	stopping bool
	closed   bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithPollTimeout sets the timeout of each poll call.
// Non-positive values keep the default.
func WithPollTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.pollTimeout = d
		}
	}
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop creates an event loop. The returned Loop owns a wakeup pipe and
// must be closed with Close.
func NewLoop(opts ...Option) (*Loop, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("failed to create wakeup pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, fmt.Errorf("failed to configure wakeup pipe: %w", err)
		}
	}

	l := &Loop{
		pollTimeout: DefaultPollTimeout,
		logger:      slog.Default(),
		regs:        make(map[int]*registration),
		wakeR:       p[0],
		wakeW:       p[1],
		live:        make(map[*Co]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// PollTimeout returns the timeout applied to each poll call.
func (l *Loop) PollTimeout() time.Duration {
	return l.pollTimeout
}

// Register starts watching fd. onRead runs when fd is readable and onWrite
// when it is writable; both may run in the same iteration.
func (l *Loop) Register(fd int, events Events, onRead, onWrite func()) error {
	if l.closed {
		return ErrLoopClosed
	}
	if _, ok := l.regs[fd]; ok {
		return fmt.Errorf("fd %d: %w", fd, ErrAlreadyRegistered)
	}
	l.regs[fd] = &registration{events: events, onRead: onRead, onWrite: onWrite}
	return nil
}

// Modify replaces the interest set and callbacks of a registered fd.
func (l *Loop) Modify(fd int, events Events, onRead, onWrite func()) error {
	reg, ok := l.regs[fd]
	if !ok {
		return fmt.Errorf("fd %d: %w", fd, ErrNotRegistered)
	}
	reg.events, reg.onRead, reg.onWrite = events, onRead, onWrite
	return nil
}

// Unregister stops watching fd. It must be called before fd is closed.
func (l *Loop) Unregister(fd int) error {
	if _, ok := l.regs[fd]; !ok {
		return fmt.Errorf("fd %d: %w", fd, ErrNotRegistered)
	}
	delete(l.regs, fd)
	return nil
}

// Registered reports whether fd is currently watched.
func (l *Loop) Registered(fd int) bool {
	_, ok := l.regs[fd]
	return ok
}

// WaitReadable returns a Future that resolves once fd is readable.
// The registration is one-shot and removed before the Future resolves.
func (l *Loop) WaitReadable(fd int) (*Future[struct{}], error) {
	f := NewFuture[struct{}]()
	err := l.Register(fd, EventRead, func() {
		_ = l.Unregister(fd)
		_ = f.SetResult(struct{}{})
	}, nil)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// WaitWritable returns a Future that resolves once fd is writable.
func (l *Loop) WaitWritable(fd int) (*Future[struct{}], error) {
	f := NewFuture[struct{}]()
	err := l.Register(fd, EventWrite, nil, func() {
		_ = l.Unregister(fd)
		_ = f.SetResult(struct{}{})
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// CallSoon queues fn to run on the next iteration.
func (l *Loop) CallSoon(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
}

// CallSoonThreadsafe queues fn from any goroutine and wakes the Loop.
func (l *Loop) CallSoonThreadsafe(fn func()) {
	l.mu.Lock()
	closed := l.closed
	if !closed {
		l.pending = append(l.pending, fn)
	}
	l.mu.Unlock()
	if closed {
		return
	}
	// EAGAIN means the pipe is already full of wakeups.
	_, _ = unix.Write(l.wakeW, []byte{0})
}

// Stop asks RunForever to return after the current iteration.
func (l *Loop) Stop() {
	l.stopping = true
}

// RunForever runs iterations until Stop is called.
func (l *Loop) RunForever() error {
	if l.closed {
		return ErrLoopClosed
	}
	defer func() { l.stopping = false }()
	for !l.stopping {
		if err := l.runOnce(); err != nil {
			return err
		}
	}
	return nil
}

// RunUntilComplete runs the Loop until task finishes and returns its result.
// A FatalError raised by any task stops the Loop and is returned.
func RunUntilComplete[T any](l *Loop, task *Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			fatal, ok := r.(*FatalError)
			if !ok {
				panic(r)
			}
			err = fatal
		}
	}()

	if !task.Done() {
		task.AddCallback(func(*Future[T]) { l.Stop() })
		if err := l.RunForever(); err != nil {
			return v, err
		}
	}
	if !task.Done() {
		return v, ErrLoopStopped
	}
	return task.Result()
}

// Run spawns fn as the root task and runs the Loop until it completes.
func Run[T any](l *Loop, name string, fn func(co *Co) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			fatal, ok := r.(*FatalError)
			if !ok {
				panic(r)
			}
			err = fatal
		}
	}()
	return RunUntilComplete(l, Spawn(l, name, fn))
}

// Close cancels every task still alive and releases the poller resources.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	for co := range l.live {
		co.cancel()
	}

	l.mu.Lock()
	l.closed = true
	l.pending = nil
	l.mu.Unlock()

	l.regs = make(map[int]*registration)
	l.timers = nil
	return errors.Join(unix.Close(l.wakeR), unix.Close(l.wakeW))
}

func (l *Loop) track(co *Co)  { l.live[co] = struct{}{} }
func (l *Loop) forget(co *Co) { delete(l.live, co) }

// runOnce performs a single poll and dispatches everything that is ready.
func (l *Loop) runOnce() error {
	timeout := l.pollTimeout
	l.mu.Lock()
	hasPending := len(l.pending) > 0
	l.mu.Unlock()
	if hasPending {
		timeout = 0
	} else if len(l.timers) > 0 {
		if until := time.Until(l.timers[0].when); until < timeout {
			timeout = max(until, 0)
		}
	}

	fds := make([]unix.PollFd, 0, len(l.regs)+1)
	fds = append(fds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
	for fd, reg := range l.regs {
		var ev int16
		if reg.events&EventRead != 0 {
			ev |= unix.POLLIN
		}
		if reg.events&EventWrite != 0 {
			ev |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}

	n, err := unix.Poll(fds, pollMillis(timeout))
	if err != nil && !errors.Is(err, unix.EINTR) {
		return fmt.Errorf("poll failed: %w", err)
	}

	if n > 0 {
		if fds[0].Revents != 0 {
			l.drainWakeups()
		}
		for _, pfd := range fds[1:] {
			if pfd.Revents != 0 {
				l.dispatch(int(pfd.Fd), pfd.Revents)
			}
		}
	}

	l.fireTimers()
	l.runPending()
	return nil
}

// dispatch runs the callbacks for one ready fd. The registration is looked up
// again before each callback because an earlier callback may have removed it.
func (l *Loop) dispatch(fd int, revents int16) {
	if revents&unix.POLLNVAL != 0 {
		l.logger.Warn("dropping invalid descriptor", "component", "loop", "fd", fd)
		delete(l.regs, fd)
		return
	}
	const errMask = unix.POLLERR | unix.POLLHUP
	if revents&(unix.POLLIN|errMask) != 0 {
		if reg, ok := l.regs[fd]; ok && reg.onRead != nil && reg.events&EventRead != 0 {
			reg.onRead()
		}
	}
	if revents&(unix.POLLOUT|errMask) != 0 {
		if reg, ok := l.regs[fd]; ok && reg.onWrite != nil && reg.events&EventWrite != 0 {
			reg.onWrite()
		}
	}
}

func (l *Loop) drainWakeups() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (l *Loop) runPending() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func pollMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}

// Timer is a callback scheduled with CallLater.
type Timer struct {
	loop  *Loop
	when  time.Time
	seq   uint64
	fn    func()
	index int
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.loop.timers, t.index)
	return true
}

// CallLater schedules fn to run on the Loop after d.
func (l *Loop) CallLater(d time.Duration, fn func()) *Timer {
	l.seq++
	t := &Timer{loop: l, when: time.Now().Add(d), seq: l.seq, fn: fn}
	heap.Push(&l.timers, t)
	return t
}

func (l *Loop) fireTimers() {
	now := time.Now()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(*Timer)
		t.fn()
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
