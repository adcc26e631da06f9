package session

// Executor runs submitted functions one at a time, in submission order, on
// a single goroutine: every call that mutates a Session's state, and every
// completion callback from an asynchronous send, is expected to run
// through the same Executor so the session never needs its own lock.
//
// A single goroutine draining a buffered channel, the same run-loop shape
// pkg/events.Broker uses for event distribution, generalized here to
// arbitrary deferred work.
type Executor struct {
	tasks chan func()
	done  chan struct{}
}

// NewExecutor creates an Executor with the given task queue depth and
// starts its run loop in a new goroutine.
func NewExecutor(queueDepth int) *Executor {
	e := &Executor{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

// Submit enqueues fn to run on the executor goroutine. Submit itself may be
// called from any goroutine; fn always runs on the single executor
// goroutine, after every previously submitted fn has returned.
func (e *Executor) Submit(fn func()) {
	select {
	case <-e.done:
		return
	default:
	}
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// Stop terminates the run loop. Tasks already queued are dropped.
func (e *Executor) Stop() {
	close(e.done)
}

func (e *Executor) run() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.done:
			return
		}
	}
}
