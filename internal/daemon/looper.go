// Package daemon runs the enforcement loops.
package daemon

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jawad360/phone-detox/internal/domain"
	"github.com/jawad360/phone-detox/internal/metrics"
)

// Looper is a single-goroutine delay queue. Tasks run one at a time on the
// goroutine that called Run, in due order, FIFO among equal due times.
type Looper struct {
	mu     sync.Mutex
	queue  taskHeap
	seq    uint64
	wake   chan struct{}
	logger *zap.Logger
}

// NewLooper creates an idle looper. Nothing runs until Run is called.
func NewLooper(logger *zap.Logger) *Looper {
	return &Looper{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Post queues fn to run as soon as possible.
func (l *Looper) Post(fn func()) {
	l.PostDelayed(0, fn)
}

// PostDelayed queues fn to run after delay. Safe from any goroutine.
func (l *Looper) PostDelayed(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	l.mu.Lock()
	l.seq++
	heap.Push(&l.queue, &task{due: time.Now().Add(delay), seq: l.seq, fn: fn})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Looper) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued tasks.
func (l *Looper) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Len()
}

// Run executes tasks until ctx is canceled. Queued tasks are dropped on exit.
func (l *Looper) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := l.runDue()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			timer.Reset(time.Until(next))
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timer.C:
		}
	}
}

// runDue runs every due task and returns the next due time, if any.
func (l *Looper) runDue() (time.Time, bool) {
	for {
		l.mu.Lock()
		if l.queue.Len() == 0 {
			l.mu.Unlock()
			return time.Time{}, false
		}
		head := l.queue[0]
		if head.due.After(time.Now()) {
			l.mu.Unlock()
			return head.due, true
		}
		heap.Pop(&l.queue)
		l.mu.Unlock()

		l.execute(head.fn)
	}
}

func (l *Looper) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.LoopPanics.Inc()
			l.logger.Error("scheduled task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

type task struct {
	due time.Time
	seq uint64
	fn  func()
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Ensure Looper implements domain.TaskQueue.
var _ domain.TaskQueue = (*Looper)(nil)
