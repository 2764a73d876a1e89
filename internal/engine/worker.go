package engine

import (
	"context"

	"go.uber.org/zap"
)

// worker runs tasks one at a time, in submission order, on a single
// goroutine. Every piece of chat state is only touched from inside a task.
type worker struct {
	tasks  chan func()
	done   chan struct{}
	logger *zap.Logger
}

func newWorker(size int, logger *zap.Logger) *worker {
	return &worker{
		tasks:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case fn := <-w.tasks:
			w.exec(fn)
		case <-ctx.Done():
			return
		}
	}
}

// exec keeps a failing task from taking the worker down.
func (w *worker) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// submit queues fn. It reports false once the worker has stopped.
func (w *worker) submit(fn func()) bool {
	select {
	case w.tasks <- fn:
		return true
	case <-w.done:
		return false
	}
}
