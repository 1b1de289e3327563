package core

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// reaper finishes closed sockets. Each adopted socket is drained on its own
// goroutine until it is destroyed.
type reaper struct {
	object

	// Sockets adopted and not yet destroyed.
	sockets int

	// stop received; done is sent once sockets reaches zero.
	terminating bool

	stopped bool

	drains errgroup.Group
}

func newReaper(ctx *Context, slot int, mailbox *Mailbox) *reaper {
	r := &reaper{}
	r.init(ctx, mailbox, slot, r, ctx.logger.Named("reaper"))
	return r
}

func (r *reaper) run() error {
	r.mailbox.bind()

	for !r.stopped {
		cmd, err := r.mailbox.Recv(context.Background(), -1)
		if err != nil {
			continue
		}
		dispatch(cmd)
	}

	// Every drain goroutine sent reaped before returning.
	return r.drains.Wait()
}

func (r *reaper) processReap(s *Socket) {
	r.sockets++
	r.logger.Debug("reaping socket", zap.Uint32("socket_id", s.id), zap.Int("pending", r.sockets))

	r.drains.Go(func() error {
		s.reapLoop()
		return nil
	})
}

func (r *reaper) processReaped() {
	r.sockets--
	if r.sockets < 0 {
		invariant("reaper", "more sockets reaped than adopted")
	}

	// The context is waiting for the last socket.
	if r.sockets == 0 && r.terminating {
		r.finish()
	}
}

func (r *reaper) processStop() {
	r.terminating = true

	// Nothing left to reap.
	if r.sockets == 0 {
		r.finish()
	}
}

func (r *reaper) finish() {
	r.logger.Debug("reaper finished")
	r.sendDone()
	r.stopped = true
}
