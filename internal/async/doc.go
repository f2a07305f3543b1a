// Package async provides the cooperative scheduler that drives every crawl
// operation: a single-assignment Future, a suspendable Task and a
// readiness-based event Loop.
//
// # Execution model
//
// A Task's computation runs on its own goroutine, but the goroutine only
// executes while it holds the baton. The baton is handed over through
// unbuffered channels: whoever resumes a task blocks until that task either
// suspends again (inside Await) or finishes. As a result exactly one piece of
// code runs at any instant, either a Loop callback or a single Task, and
// state shared between tasks needs no mutex.
//
// Design decision: We use goroutines as coroutine stacks instead of an
// explicit state machine because crypto/tls and other libraries expect to
// call a blocking net.Conn. A Task can suspend at any stack depth, so the TLS
// handshake simply parks the task until the socket becomes ready.
//
// # Suspension points
//
// A computation suspends only in Await (and helpers built on it, such as
// Sleep). If the awaited Future is already resolved the computation keeps
// running without returning to the Loop.
//
// # Cancellation
//
// Cancellation is cooperative. Task.Cancel resumes a suspended task with
// ErrCancelled immediately; a task that is currently running observes the
// cancellation at its next Await.
//
// # Usage
//
//	loop, err := async.NewLoop(async.WithPollTimeout(15 * time.Second))
//	if err != nil {
//	    return err
//	}
//	defer loop.Close()
//
//	task := async.Spawn(loop, "main", func(co *async.Co) (int, error) {
//	    if err := async.Sleep(co, 10*time.Millisecond); err != nil {
//	        return 0, err
//	    }
//	    return 42, nil
//	})
//	v, err := async.RunUntilComplete(loop, task)
package async
