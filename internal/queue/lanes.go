package queue

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Lanes runs jobs on a fixed set of workers, one goroutine per lane. Jobs that share
// a key always land on the same lane and run in submission order; jobs with an
// empty key are spread round-robin.
type Lanes struct {
	lanes []chan func()
	next  atomic.Uint32
	g     errgroup.Group
	once  sync.Once
}

func NewLanes(workers, depth int) *Lanes {
	if workers <= 0 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	l := &Lanes{lanes: make([]chan func(), workers)}
	for i := range l.lanes {
		ch := make(chan func(), depth)
		l.lanes[i] = ch
		l.g.Go(func() error {
			for job := range ch {
				job()
			}
			return nil
		})
	}
	return l
}

// Submit queues job behind earlier jobs with the same key. It blocks while that lane
// is full and must not be called after Close.
func (l *Lanes) Submit(key string, job func()) {
	l.lanes[l.index(key)] <- job
}

func (l *Lanes) index(key string) int {
	n := uint32(len(l.lanes))
	if key == "" {
		return int(l.next.Add(1) % n)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % n)
}

// Close runs every queued job and stops the workers.
func (l *Lanes) Close() {
	l.once.Do(func() {
		for _, ch := range l.lanes {
			close(ch)
		}
	})
	_ = l.g.Wait()
}
