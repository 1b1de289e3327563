package core

import (
	"context"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Worker is a long-lived goroutine driving one thread slot. Sessions and
// other owned objects created by transports are pinned to a worker.
type Worker struct {
	object

	index int

	// Number of objects pinned to this worker.
	load atomic.Int64

	stopped bool
}

func newWorker(ctx *Context, index, slot int, mailbox *Mailbox) *Worker {
	w := &Worker{index: index}
	w.init(ctx, mailbox, slot, w, ctx.logger.Named("worker").With(zap.Int("worker", index), zap.Int("slot", slot)))
	return w
}

// Index returns the worker's position in the pool, as used by affinity masks.
func (w *Worker) Index() int {
	return w.index
}

// Load returns the number of objects currently pinned to the worker.
func (w *Worker) Load() int64 {
	return w.load.Load()
}

func (w *Worker) run() error {
	w.mailbox.bind()
	w.logger.Debug("worker started")

	for !w.stopped {
		cmd, err := w.mailbox.Recv(context.Background(), -1)
		if err != nil {
			continue
		}
		dispatch(cmd)
	}

	w.logger.Debug("worker stopped")
	return nil
}

func (w *Worker) processStop() {
	w.stopped = true
}
