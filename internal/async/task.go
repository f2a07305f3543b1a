package async

import (
	"runtime/debug"
	"time"
)

type signal int

const (
	sigResume signal = iota
	sigCancel
)

type yieldKind int

const (
	yieldSuspended yieldKind = iota
	yieldDone
	yieldPanic
)

type yieldMsg struct {
	kind  yieldKind
	fatal *FatalError
}

type remover interface {
	RemoveCallback(id CallbackID) bool
}

// Co is the handle a computation uses to suspend. It is only valid inside
// the computation it was passed to.
type Co struct {
	loop *Loop
	name string

	resume chan signal
	yield  chan yieldMsg

	// step resumes the owning task; set by Spawn.
	step func(signal)

	running   bool
	finished  bool
	cancelled bool

	waiting remover
	waitID  CallbackID
}

// Loop returns the event loop that drives this computation.
func (co *Co) Loop() *Loop {
	return co.loop
}

// Name returns the task name given to Spawn.
func (co *Co) Name() string {
	return co.name
}

// Cancelled reports whether the task has been asked to stop.
func (co *Co) Cancelled() bool {
	return co.cancelled
}

// Task drives a suspendable computation. Its embedded Future resolves with
// the computation's return value once the computation returns.
type Task[T any] struct {
	*Future[T]

	co     *Co
	result T
	err    error
}

// Spawn starts fn as a new Task on loop. The computation runs synchronously
// until its first suspension point before Spawn returns.
//
// Spawn must be called by code holding the scheduler baton: a Loop callback,
// another task, or the goroutine that is about to run the Loop.
func Spawn[T any](loop *Loop, name string, fn func(co *Co) (T, error)) *Task[T] {
	co := &Co{
		loop:   loop,
		name:   name,
		resume: make(chan signal),
		yield:  make(chan yieldMsg),
	}
	t := &Task[T]{Future: NewFuture[T](), co: co}
	co.step = t.step

	loop.track(co)
	go t.run(fn)
	t.step(sigResume)
	return t
}

// Name returns the task name.
func (t *Task[T]) Name() string {
	return t.co.name
}

func (t *Task[T]) run(fn func(co *Co) (T, error)) {
	sig := <-t.co.resume
	msg := yieldMsg{kind: yieldDone}
	func() {
		defer func() {
			if r := recover(); r != nil {
				fatal, ok := r.(*FatalError)
				if !ok {
					fatal = &FatalError{Task: t.co.name, Value: r, Stack: debug.Stack()}
				}
				msg = yieldMsg{kind: yieldPanic, fatal: fatal}
			}
		}()
		if sig == sigCancel {
			t.err = ErrCancelled
			return
		}
		t.result, t.err = fn(t.co)
	}()
	t.co.yield <- msg
}

// step hands the baton to the task and blocks until it suspends or finishes.
func (t *Task[T]) step(sig signal) {
	co := t.co
	if co.finished || co.running {
		return
	}
	co.running = true
	co.resume <- sig
	msg := <-co.yield
	co.running = false

	switch msg.kind {
	case yieldSuspended:
	case yieldDone:
		co.finished = true
		co.loop.forget(co)
		if t.err != nil {
			_ = t.Future.SetError(t.err)
		} else {
			_ = t.Future.SetResult(t.result)
		}
	case yieldPanic:
		co.finished = true
		co.loop.forget(co)
		panic(msg.fatal)
	}
}

// Cancel requests cancellation. A suspended task is resumed right away with
// ErrCancelled; the running task observes it at its next Await. Cancel
// reports false if the task already finished.
func (t *Task[T]) Cancel() bool {
	return t.co.cancel()
}

func (co *Co) cancel() bool {
	if co.finished {
		return false
	}
	co.cancelled = true
	if co.running || co.waiting == nil {
		return true
	}
	co.waiting.RemoveCallback(co.waitID)
	co.waiting = nil
	co.step(sigCancel)
	return true
}

// Await suspends the calling computation until f resolves and returns its
// result. If f is already resolved the computation continues synchronously.
// It returns ErrCancelled once the task has been cancelled.
func Await[T any](co *Co, f *Future[T]) (T, error) {
	var zero T
	if co.cancelled {
		return zero, ErrCancelled
	}
	if f.Done() {
		return f.Result()
	}

	co.waiting = f
	co.waitID = f.AddCallback(func(*Future[T]) {
		co.waiting = nil
		co.step(sigResume)
	})

	co.yield <- yieldMsg{kind: yieldSuspended}
	if sig := <-co.resume; sig == sigCancel {
		return zero, ErrCancelled
	}
	return f.Result()
}

// Sleep suspends the computation for d.
func Sleep(co *Co, d time.Duration) error {
	f := NewFuture[struct{}]()
	timer := co.loop.CallLater(d, func() {
		_ = f.SetResult(struct{}{})
	})
	if _, err := Await(co, f); err != nil {
		timer.Stop()
		return err
	}
	return nil
}

// WaitAll awaits every task and returns their errors in order. It stops early
// only if the awaiting computation is itself cancelled.
func WaitAll[T any](co *Co, tasks []*Task[T]) ([]error, error) {
	errs := make([]error, len(tasks))
	for i, t := range tasks {
		if t.Done() {
			_, errs[i] = t.Result()
			continue
		}
		_, err := Await(co, t.Future)
		if err != nil && !t.Done() {
			return errs, err
		}
		errs[i] = err
	}
	return errs, nil
}
