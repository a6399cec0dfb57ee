package funnel

import (
	"container/heap"
	"sync"
	"time"
)

type taskKind int

const (
	taskTimeout taskKind = iota
	// taskExpire drops a long-idle entry from memory without touching its record.
	taskExpire
)

type task struct {
	at    time.Time
	key   stepKey
	gen   uint64
	kind  taskKind
	index int
}

type delayQueue []*task

func (q delayQueue) Len() int           { return len(q) }
func (q delayQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q delayQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *delayQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}
func (q *delayQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// watchdog runs deferred tasks from a single goroutine. Tasks are never cancelled;
// the fire callback checks whether the task's generation is still current.
type watchdog struct {
	mu   sync.Mutex
	q    delayQueue
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	tick time.Duration
	now  func() time.Time
	fire func(task)
}

func newWatchdog(tick time.Duration, now func() time.Time, fire func(task)) *watchdog {
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	return &watchdog{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		tick: tick,
		now:  now,
		fire: fire,
	}
}

func (w *watchdog) schedule(t task) {
	w.mu.Lock()
	heap.Push(&w.q, &t)
	earliest := w.q[0] == &t
	w.mu.Unlock()
	if earliest {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (w *watchdog) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.q)
}

func (w *watchdog) run() {
	defer close(w.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		w.mu.Lock()
		now := w.now()
		var due []task
		for len(w.q) > 0 && !w.q[0].at.After(now) {
			due = append(due, *heap.Pop(&w.q).(*task))
		}
		wait := time.Minute
		if len(w.q) > 0 {
			wait = w.q[0].at.Sub(now)
		}
		w.mu.Unlock()

		for _, t := range due {
			w.fire(t)
		}

		if wait < w.tick {
			wait = w.tick
		}
		timer.Reset(wait)
		select {
		case <-w.stop:
			return
		case <-w.wake:
		case <-timer.C:
		}
	}
}

func (w *watchdog) close() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}
