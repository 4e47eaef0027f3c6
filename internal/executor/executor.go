// Package executor provides the single-threaded task loop that the rest of
// amrpc dispatches work onto: RPC request handling, registration and the
// enqueue step of a Publish all run as tasks submitted here rather than
// directly on whatever goroutine a network event arrived on. This gives
// every registration, conversion and RPC callback a single, well-ordered
// execution context without requiring a real cooperative-fiber runtime.
// Long-lived loops (a Distributor's per-subscriber writer loop, a Puller's
// read loop) run on their own goroutines, not here.
package executor

import "sync"

// Executor runs submitted tasks one at a time, in submission order, on a
// single background goroutine. It stands in for the dedicated event-loop
// thread a fiber manager would own: callers from any goroutine can hand it
// work with Go (fire-and-forget) or Do (block until the task completes),
// and the executor guarantees those tasks never run concurrently with each
// other.
type Executor struct {
	tasks    chan func()
	closed   chan struct{}
	closeMu  sync.Mutex
	isClosed bool
}

// New starts an Executor. Callers should Close it when done to release the
// background goroutine.
func New() *Executor {
	e := &Executor{
		tasks:  make(chan func(), 256),
		closed: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	for fn := range e.tasks {
		fn()
	}
	close(e.closed)
}

// Go submits fn to run on the executor and returns immediately without
// waiting for it to execute. A task submitted this way occupies the single
// worker until it returns, so it must not be a long-running loop.
func (e *Executor) Go(fn func()) {
	e.tasks <- fn
}

// Do submits fn and blocks the calling goroutine until it has finished
// running on the executor, serializing the caller's cross-thread access to
// whatever state the executor owns. This is the mode RPC dispatch and
// registration/deregistration use so every mutation of the server's
// method tables happens on the same goroutine.
func (e *Executor) Do(fn func()) {
	done := make(chan struct{})
	e.tasks <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// Close stops accepting new tasks once those already queued have run, and
// waits for the background goroutine to exit.
func (e *Executor) Close() {
	e.closeMu.Lock()
	if e.isClosed {
		e.closeMu.Unlock()
		return
	}
	e.isClosed = true
	e.closeMu.Unlock()
	close(e.tasks)
	<-e.closed
}

var (
	defaultOnce sync.Once
	defaultExec *Executor
)

// Default returns a lazily constructed, process-wide Executor, mirroring
// a single background-thread fiber manager. A Server built without
// WithExecutor does not use it; NewServer creates a private Executor.
func Default() *Executor {
	defaultOnce.Do(func() {
		defaultExec = New()
	})
	return defaultExec
}
