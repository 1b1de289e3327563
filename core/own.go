package core

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Owned is a kernel object that takes part in the ownership tree.
type Owned interface {
	Object

	ownBase() *own

	// processDestroy runs once, on the home goroutine, when the object and
	// its whole subtree have finished terminating.
	processDestroy()
}

// own adds parent/child relationships and the termination protocol to
// object.
//
// An object is destroyed once it is terminating, every command sent to it
// has been processed, and every child it asked to terminate has acked.
type own struct {
	object

	self Owned
	kind string

	// Set at most once, by launchChild on the parent's goroutine.
	parent Owned

	owned map[Owned]struct{}

	// Incremented by any goroutine about to send a seqnum-carrying command.
	sentSeqnum atomic.Uint64

	// Home goroutine only.
	processedSeqnum uint64
	termAcks        int
	terminating     bool
	destroyed       bool

	// Linger passed to children when this object terminates on its own.
	linger time.Duration
}

func (o *own) initOwn(ctx *Context, mailbox *Mailbox, slot int, self Owned, kind string, logger *zap.Logger) {
	o.init(ctx, mailbox, slot, self, logger)
	o.self = self
	o.kind = kind
	o.owned = make(map[Owned]struct{})
}

func (o *own) ownBase() *own {
	return o
}

func (o *own) setParent(parent Owned) {
	if o.parent != nil {
		invariant(o.kind, "parent set twice")
	}
	o.parent = parent
}

func (o *own) incSeqnum() {
	o.sentSeqnum.Inc()
}

func (o *own) processSeqnum() {
	o.processedSeqnum++
	o.checkTermAcks()
}

// launchChild makes o the parent of child and plugs it on its own goroutine.
func (o *own) launchChild(child Owned) {
	child.ownBase().setParent(o.self)
	o.sendPlug(child, true)
	o.sendOwn(o.self, child)
}

func (o *own) processOwn(child Owned) {
	// If the object is already being shut down, the new child is asked to
	// terminate immediately.
	if o.terminating {
		o.registerTermAcks(1)
		o.sendTerm(child, 0)
		return
	}
	o.owned[child] = struct{}{}
}

func (o *own) processTermReq(child Owned) {
	// When shutting down the child's ack is already accounted for.
	if o.terminating {
		return
	}

	// The child may have been terminated by a previous request.
	if _, ok := o.owned[child]; !ok {
		return
	}
	delete(o.owned, child)

	o.registerTermAcks(1)
	o.sendTerm(child, o.linger)
}

// terminate starts shutting the object down. Roots terminate themselves;
// children ask their parent to do it.
func (o *own) terminate() {
	if o.terminating {
		return
	}

	if o.parent == nil {
		o.self.processTerm(o.linger)
		return
	}
	o.sendTermReq(o.parent, o.self)
}

func (o *own) isTerminating() bool {
	return o.terminating
}

func (o *own) processTerm(linger time.Duration) {
	if o.terminating {
		invariant(o.kind, "term received twice")
	}

	for child := range o.owned {
		o.sendTerm(child, linger)
	}
	o.registerTermAcks(len(o.owned))
	clear(o.owned)

	o.terminating = true
	o.checkTermAcks()
}

func (o *own) registerTermAcks(count int) {
	o.termAcks += count
}

func (o *own) unregisterTermAck() {
	if o.termAcks <= 0 {
		invariant(o.kind, "term ack without a pending termination")
	}
	o.termAcks--

	// This may be the last ack we are waiting for.
	o.checkTermAcks()
}

func (o *own) processTermAck() {
	o.unregisterTermAck()
}

func (o *own) checkTermAcks() {
	if o.destroyed || !o.terminating || o.termAcks != 0 || len(o.owned) != 0 {
		return
	}
	if o.processedSeqnum != o.sentSeqnum.Load() {
		return
	}

	o.destroyed = true
	if o.parent != nil {
		o.sendTermAck(o.parent)
	}
	o.self.processDestroy()
}

func (o *own) processDestroy() {
	o.ctx.metrics.ObjectTerminated(o.kind)
	o.logger.Debug("object destroyed", zap.String("kind", o.kind))
}
