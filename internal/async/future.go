package async

// CallbackID identifies a callback registered on a Future.
type CallbackID uint64

type callback[T any] struct {
	id CallbackID
	fn func(*Future[T])
}

// Future is a single-assignment result cell. It holds either a value or an
// error once resolved, and invokes its callbacks synchronously, in
// registration order, at the moment of resolution.
//
// The callback list is owned by the Future only until resolution; it is
// cleared before the callbacks run so a resolved Future keeps no reference
// to the tasks that waited on it.
//
// A Future is not safe for use by multiple goroutines. It must only be
// touched by code holding the scheduler baton (Loop callbacks and tasks).
type Future[T any] struct {
	value     T
	err       error
	done      bool
	nextID    CallbackID
	callbacks []callback[T]
}

// NewFuture creates an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{}
}

// Done reports whether the Future has been resolved.
func (f *Future[T]) Done() bool {
	return f.done
}

// Result returns the value and error the Future was resolved with.
// On an unresolved Future it returns the zero value and a nil error.
func (f *Future[T]) Result() (T, error) {
	return f.value, f.err
}

// AddCallback registers fn to run when the Future resolves. If the Future is
// already resolved, fn runs immediately.
func (f *Future[T]) AddCallback(fn func(*Future[T])) CallbackID {
	f.nextID++
	id := f.nextID
	if f.done {
		fn(f)
		return id
	}
	f.callbacks = append(f.callbacks, callback[T]{id: id, fn: fn})
	return id
}

// RemoveCallback unregisters a pending callback. It reports whether the
// callback was still pending.
func (f *Future[T]) RemoveCallback(id CallbackID) bool {
	for i, cb := range f.callbacks {
		if cb.id == id {
			f.callbacks = append(f.callbacks[:i], f.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// SetResult resolves the Future with v and runs the callbacks.
// A second resolution is rejected with ErrAlreadyResolved and runs nothing.
func (f *Future[T]) SetResult(v T) error {
	if f.done {
		return ErrAlreadyResolved
	}
	f.value = v
	f.resolve()
	return nil
}

// SetError resolves the Future with err and runs the callbacks.
func (f *Future[T]) SetError(err error) error {
	if f.done {
		return ErrAlreadyResolved
	}
	f.err = err
	f.resolve()
	return nil
}

func (f *Future[T]) resolve() {
	f.done = true
	callbacks := f.callbacks
	f.callbacks = nil
	for _, cb := range callbacks {
		cb.fn(f)
	}
}
