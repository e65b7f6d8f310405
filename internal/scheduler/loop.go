package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a Scheduler backed by a single goroutine draining an unbounded
// queue. Post never blocks, so callbacks may post further work.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		wake:    make(chan struct{}, 1),
		logger:  logger,
		nowFunc: time.Now,
	}
}

func (l *Loop) Now() time.Time { return l.nowFunc() }

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drains posted callbacks until ctx is cancelled. Work posted after
// cancellation is discarded.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.pending = nil
			l.mu.Unlock()
			return nil
		case <-l.wake:
		}

		for {
			batch := l.take()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				l.run(fn)
			}
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.pending
	l.pending = nil
	return batch
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("scheduler: callback panicked", "panic", r)
		}
	}()
	fn()
}

type loopTimer struct {
	done  atomic.Bool
	timer *time.Timer
}

func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			// Checked on the loop so a Stop issued by an earlier callback wins.
			if t.done.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

func (t *loopTimer) Stop() bool {
	if !t.done.CompareAndSwap(false, true) {
		return false
	}
	t.timer.Stop()
	return true
}
