package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/klauern/usersync/internal/logging"
)

// Queue is a serial executor. Tasks run one at a time, in submission order,
// on a single goroutine owned by the queue. Dispatch never blocks.
type Queue struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	closed  bool
	stopped chan struct{}

	gid atomic.Uint64
}

// NewQueue starts a serial queue. The name is only used for logging.
func NewQueue(name string) *Queue {
	q := &Queue{
		name:    name,
		stopped: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	started := make(chan struct{})
	go q.loop(started)
	<-started
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// InContext reports whether the caller is the queue's worker goroutine.
func (q *Queue) InContext() bool {
	return GoroutineID() == q.gid.Load()
}

// Dispatch appends fn to the queue. Tasks submitted after Close are dropped.
func (q *Queue) Dispatch(fn func()) {
	q.Submit(fn)
}

// Submit appends fn to the queue and reports whether it was accepted.
func (q *Queue) Submit(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		logging.Debug("task dropped on closed queue", logging.Queue(q.name))
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
	return true
}

// Do runs fn on the queue and waits for it to return. Called from the queue
// itself it runs fn inline.
func (q *Queue) Do(fn func()) bool {
	if q.InContext() {
		fn()
		return true
	}
	done := make(chan struct{})
	if !q.Submit(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// Close stops accepting tasks and waits until the pending ones have run.
// Close is idempotent. Called from a queue task it does not wait.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	if q.InContext() {
		return
	}
	<-q.stopped
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) loop(started chan<- struct{}) {
	defer close(q.stopped)
	q.gid.Store(GoroutineID())
	close(started)

	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.run(task)
	}
}

func (q *Queue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("queue task panicked", logging.Queue(q.name), logging.Panic(r))
		}
	}()
	task()
}

var _ Submitter = (*Queue)(nil)
