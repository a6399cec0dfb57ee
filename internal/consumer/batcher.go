package consumer

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrBatcherClosed = errors.New("batcher closed")

// FlushFunc writes one batch of rows.
type FlushFunc[T any] func(ctx context.Context, rows []T) error

// pending is one caller's rows plus the channel that reports their write.
type pending[T any] struct {
	rows []T
	done chan error
}

// Batcher groups rows from concurrent signal handlers into multi-row inserts. A
// caller's rows always land in the same flush, and Write returns that flush's error.
type Batcher[T any] struct {
	maxRows  int
	linger   time.Duration
	writeFor time.Duration
	flush    FlushFunc[T]

	in   chan pending[T]
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewBatcher starts the flush loop. A batch is written once it holds maxRows rows
// or linger has passed since its first row arrived.
func NewBatcher[T any](maxRows int, linger, writeFor time.Duration, flush FlushFunc[T]) *Batcher[T] {
	if flush == nil {
		panic("consumer: nil flush func")
	}
	if maxRows <= 0 {
		maxRows = 200
	}
	if linger <= 0 {
		linger = 50 * time.Millisecond
	}
	if writeFor <= 0 {
		writeFor = 5 * time.Second
	}
	b := &Batcher[T]{
		maxRows:  maxRows,
		linger:   linger,
		writeFor: writeFor,
		flush:    flush,
		in:       make(chan pending[T], 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Write queues rows and waits for the flush that contains them. An empty slice is
// a no-op. Cancelling ctx stops the wait but not the write.
func (b *Batcher[T]) Write(ctx context.Context, rows ...T) error {
	if b == nil {
		return ErrBatcherClosed
	}
	if len(rows) == 0 {
		return nil
	}
	p := pending[T]{rows: rows, done: make(chan error, 1)}

	select {
	case <-b.quit:
		return ErrBatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.in <- p:
	}

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes whatever is queued and stops the loop.
func (b *Batcher[T]) Close() {
	if b == nil {
		return
	}
	b.once.Do(func() { close(b.quit) })
	<-b.done
}

func (b *Batcher[T]) run() {
	defer close(b.done)

	var (
		queued []pending[T]
		rows   int
		timer  *time.Timer
		fire   <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		fire = nil
	}
	write := func() {
		disarm()
		if len(queued) == 0 {
			return
		}
		b.write(queued, rows)
		queued, rows = nil, 0
	}

	for {
		select {
		case p := <-b.in:
			if len(queued) == 0 {
				if timer == nil {
					timer = time.NewTimer(b.linger)
				} else {
					timer.Reset(b.linger)
				}
				fire = timer.C
			}
			queued = append(queued, p)
			rows += len(p.rows)
			if rows >= b.maxRows {
				write()
			}
		case <-fire:
			fire = nil
			write()
		case <-b.quit:
			for {
				select {
				case p := <-b.in:
					queued = append(queued, p)
					rows += len(p.rows)
				default:
					write()
					return
				}
			}
		}
	}
}

func (b *Batcher[T]) write(queued []pending[T], n int) {
	all := make([]T, 0, n)
	for _, p := range queued {
		all = append(all, p.rows...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.writeFor)
	err := b.flush(ctx, all)
	cancel()

	for _, p := range queued {
		p.done <- err
	}
}
