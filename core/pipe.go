package core

import (
	"github.com/najoast/zkernel/lockfree"
)

// maxWatermarkDelta caps the distance between the high and low watermark
// for large HWMs.
const maxWatermarkDelta = 1024

// PipeEventSink receives the lifecycle callbacks of a pipe end. Callbacks
// run on the goroutine driving the pipe's home slot.
type PipeEventSink interface {
	ReadActivated(p *Pipe)
	WriteActivated(p *Pipe)
	Hiccuped(p *Pipe)
	PipeTerminated(p *Pipe)
}

type pipeState uint8

const (
	// Normal operation.
	pipeActive pipeState = iota

	// Delimiter read; waiting for pipe_term from the peer.
	pipeDelimited

	// pipe_term received with unread messages left; waiting for the delimiter.
	pipePending

	// pipe_term_ack sent; waiting for the peer's ack.
	pipeTerminating

	// pipe_term sent; waiting for the peer's ack.
	pipeTerminated

	// pipe_term sent and received; waiting for the peer's ack.
	pipeDoubleTerminated
)

// String returns the string representation of pipeState.
func (s pipeState) String() string {
	switch s {
	case pipeActive:
		return "active"
	case pipeDelimited:
		return "delimited"
	case pipePending:
		return "pending"
	case pipeTerminating:
		return "terminating"
	case pipeTerminated:
		return "terminated"
	case pipeDoubleTerminated:
		return "double_terminated"
	default:
		return "unknown"
	}
}

// Pipe is one end of a bidirectional message pipe. It is owned by the
// socket or session it is attached to and lives on that object's slot.
type Pipe struct {
	object

	in  *lockfree.Channel[Frame]
	out *lockfree.Channel[Frame]

	inActive  bool
	outActive bool

	// Outbound high watermark; 0 means unlimited.
	hwm int

	// Every lwm-th read reports progress to the peer.
	lwm int

	// Watermark parts behind hwm and lwm: what the socket owning this end
	// asked for and what the socket on the other end adds for inproc
	// connections. A negative part is absent.
	localInHWM, localOutHWM int
	peerInHWM, peerOutHWM   int

	msgsRead      uint64
	msgsWritten   uint64
	peersMsgsRead uint64

	// Non-owning; the peer end belongs to another socket or session.
	peer *Pipe

	sink PipeEventSink

	state pipeState

	// Whether to read pending messages before acking the peer's pipe_term.
	delay bool

	released bool
}

// computeLWM derives the low watermark from the high watermark of the same
// direction.
func computeLWM(hwm int) int {
	if hwm > maxWatermarkDelta*2 {
		return hwm - maxWatermarkDelta
	}
	return (hwm + 1) / 2
}

// combineHWM adds the two parts of a watermark. Zero on either side means
// unlimited.
func combineHWM(local, peer int) int {
	switch {
	case peer < 0:
		return local
	case local < 0:
		return peer
	case local == 0 || peer == 0:
		return 0
	}
	return local + peer
}

// NewPipePair creates both ends of a pipe. Side i lives on parents[i]'s
// slot. hwms[i] bounds the messages flowing from side i to the other side;
// delays[i] sets side i's delay-on-terminate flag.
func NewPipePair(parents [2]Object, hwms [2]int, delays [2]bool) [2]*Pipe {
	first := lockfree.NewChannel[Frame]()
	second := lockfree.NewChannel[Frame]()

	p0 := newPipe(parents[0], first, second, hwms[1], hwms[0], delays[0])
	p1 := newPipe(parents[1], second, first, hwms[0], hwms[1], delays[1])
	p0.peer = p1
	p1.peer = p0

	return [2]*Pipe{p0, p1}
}

func newPipe(parent Object, in, out *lockfree.Channel[Frame], inHWM, outHWM int, delay bool) *Pipe {
	b := parent.base()
	p := &Pipe{
		in:        in,
		out:       out,
		inActive:  true,
		outActive: true,
		state:     pipeActive,
		delay:     delay,
	}
	p.setHWMParts(inHWM, outHWM, -1, -1)
	p.init(b.ctx, b.mailbox, b.slot, p, b.ctx.logger.Named("pipe"))
	b.ctx.metrics.PipeOpened()
	return p
}

// SetEventSink installs the callback receiver. It may be set only once.
func (p *Pipe) SetEventSink(sink PipeEventSink) {
	if p.sink != nil {
		invariant("pipe", "event sink set twice")
	}
	p.sink = sink
}

// SetNoDelay makes termination drop unread inbound messages.
func (p *Pipe) SetNoDelay() {
	p.delay = false
}

// SetHWMs changes the inbound and outbound watermarks the owning socket asks
// for and tells the peer end, which derives its own watermarks from them.
func (p *Pipe) SetHWMs(inHWM, outHWM int) {
	p.setHWMParts(inHWM, outHWM, p.peerInHWM, p.peerOutHWM)

	if p.state == pipeActive && p.peer != nil {
		// Our outbound side is the peer's inbound side.
		p.sendPipeHWM(p.peer, outHWM, inHWM)
	}
}

// setHWMParts recomputes hwm and lwm from their parts. It does not talk to
// the peer.
func (p *Pipe) setHWMParts(localIn, localOut, peerIn, peerOut int) {
	p.localInHWM, p.localOutHWM = localIn, localOut
	p.peerInHWM, p.peerOutHWM = peerIn, peerOut

	p.lwm = computeLWM(combineHWM(localIn, peerIn))
	p.hwm = combineHWM(localOut, peerOut)
	if p.hwm < 0 {
		p.hwm = 0
	}
}

func (p *Pipe) processPipeHWM(inHWM, outHWM int) {
	p.setHWMParts(p.localInHWM, p.localOutHWM, inHWM, outHWM)
}

// CheckHWM reports whether the outbound side is below its high watermark.
func (p *Pipe) CheckHWM() bool {
	full := p.hwm > 0 && p.msgsWritten-p.peersMsgsRead >= uint64(p.hwm)
	return !full
}

func (p *Pipe) readable() bool {
	return p.inActive && (p.state == pipeActive || p.state == pipePending)
}

// CheckRead reports whether a frame can be read without consuming it.
func (p *Pipe) CheckRead() bool {
	if !p.readable() {
		return false
	}

	if !p.in.CheckRead() {
		p.inActive = false
		return false
	}

	// A delimiter at the head starts the termination process.
	if p.in.Probe(isDelimiter) {
		p.in.Read()
		p.processDelimiter()
		return false
	}
	return true
}

// Read returns the next inbound frame. ok is false when nothing can be read
// or the pipe reached end-of-stream.
func (p *Pipe) Read() (Frame, bool) {
	if !p.readable() {
		return Frame{}, false
	}

	f, ok := p.in.Read()
	if !ok {
		p.inActive = false
		return Frame{}, false
	}

	if f.isDelimiter() {
		p.processDelimiter()
		return Frame{}, false
	}

	if !f.More() {
		p.msgsRead++
		if p.lwm > 0 && p.msgsRead%uint64(p.lwm) == 0 {
			p.sendActivateWrite(p.peer, p.msgsRead)
		}
	}
	return f, true
}

// CheckWrite reports whether a frame can be written. The first time it
// finds the pipe full it deactivates the outbound side until the peer
// reports progress.
func (p *Pipe) CheckWrite() bool {
	if !p.outActive || p.state != pipeActive {
		return false
	}

	if !p.CheckHWM() {
		p.outActive = false
		return false
	}
	return true
}

// Write stages f for the peer. Frames with FlagMore stay invisible until
// the final part is written. Write returns false when the pipe is full or
// shutting down.
func (p *Pipe) Write(f Frame) bool {
	if !p.CheckWrite() {
		return false
	}

	more := f.More()
	p.out.Write(f, more)
	if !more {
		p.msgsWritten++
	}
	return true
}

// Rollback withdraws the parts of an unfinished outbound message.
func (p *Pipe) Rollback() {
	if p.out == nil {
		return
	}
	for {
		f, ok := p.out.Unwrite()
		if !ok {
			return
		}
		if !f.More() {
			invariant("pipe", "rolled back a completed message")
		}
	}
}

// Flush publishes written frames to the peer, waking it when it sleeps.
func (p *Pipe) Flush() {
	// The peer is gone at this point.
	if p.state == pipeTerminating {
		return
	}
	if p.out != nil && !p.out.Flush() {
		p.sendActivateRead(p.peer)
	}
}

func (p *Pipe) processActivateRead() {
	if !p.inActive && (p.state == pipeActive || p.state == pipePending) {
		p.inActive = true
		p.sink.ReadActivated(p)
	}
}

func (p *Pipe) processActivateWrite(msgsRead uint64) {
	// Remember the peer's read position to recompute the window.
	p.peersMsgsRead = msgsRead
	if !p.outActive && p.state == pipeActive {
		p.outActive = true
		p.sink.WriteActivated(p)
	}
}

// Hiccup replaces the inbound channel. The peer drops everything it had
// written to the old one. Used when the inbound side is moved to a new
// reader.
func (p *Pipe) Hiccup() {
	// If termination is already under way do nothing.
	if p.state != pipeActive {
		return
	}

	// The old channel now belongs to the peer, which discards it.
	p.in = lockfree.NewChannel[Frame]()
	p.inActive = true

	p.sendHiccup(p.peer, p.in)
}

func (p *Pipe) processHiccup(ch *lockfree.Channel[Frame]) {
	// Drain the old outbound channel. Its read end already migrated here.
	p.out.Flush()
	for {
		f, ok := p.out.Read()
		if !ok {
			break
		}
		if !f.More() {
			p.msgsWritten--
		}
	}

	p.out = ch
	p.outActive = true

	if p.state == pipeActive {
		p.sink.Hiccuped(p)
	}
}

func (p *Pipe) processPipeTerm() {
	switch p.state {
	case pipeActive:
		// With delay the pending messages are read before acking.
		if p.delay {
			p.state = pipePending
			return
		}
		p.state = pipeTerminating
		p.out = nil
		p.sendPipeTermAck(p.peer)

	case pipeDelimited:
		// The delimiter arrived before the term command.
		p.state = pipeTerminating
		p.out = nil
		p.sendPipeTermAck(p.peer)

	case pipeTerminated:
		// Both ends are closing in parallel.
		p.state = pipeDoubleTerminated
		p.out = nil
		p.sendPipeTermAck(p.peer)

	default:
		invariant("pipe", "pipe_term received in state %s", p.state)
	}
}

func (p *Pipe) processPipeTermAck() {
	// All references to the pipe must be dropped now.
	if p.sink == nil {
		invariant("pipe", "terminated without an event sink")
	}
	p.sink.PipeTerminated(p)

	switch p.state {
	case pipeTerminated:
		// The peer must be acked before this side goes away.
		p.out = nil
		p.sendPipeTermAck(p.peer)
	case pipeTerminating, pipeDoubleTerminated:
	default:
		invariant("pipe", "pipe_term_ack received in state %s", p.state)
	}

	// Drop whatever the peer wrote and nobody read.
	for {
		if _, ok := p.in.Read(); !ok {
			break
		}
	}

	p.in = nil
	p.peer = nil
	p.released = true
	p.ctx.metrics.PipeClosed()
}

// Terminate asks the pipe to shut down. With delay set, messages the peer
// already wrote are still read before the pipe acknowledges. Repeated calls
// are ignored.
func (p *Pipe) Terminate(delay bool) {
	// Overrides the value set at creation.
	p.delay = delay

	switch p.state {
	case pipeTerminated, pipeDoubleTerminated, pipeTerminating:
		return

	case pipeActive, pipeDelimited:
		// A received delimiter is ignored; local shutdown takes precedence.
		p.sendPipeTerm(p.peer)
		p.state = pipeTerminated

	case pipePending:
		// Still reading pending messages.
		if delay {
			break
		}
		// Act as if all pending messages were read.
		p.Rollback()
		p.out = nil
		p.sendPipeTermAck(p.peer)
		p.state = pipeTerminating

	default:
		invariant("pipe", "terminate in state %s", p.state)
	}

	// Stop outbound flow of messages.
	p.outActive = false

	if p.out != nil {
		// Drop any unfinished outbound message.
		p.Rollback()

		// Watermarks are not checked: the delimiter is written even when
		// the pipe is full.
		p.out.Write(delimiterFrame(), false)
		p.Flush()
	}
}

func (p *Pipe) processDelimiter() {
	switch p.state {
	case pipeActive:
		p.state = pipeDelimited
	case pipePending:
		p.Rollback()
		p.out = nil
		p.sendPipeTermAck(p.peer)
		p.state = pipeTerminating
	default:
		invariant("pipe", "delimiter read in state %s", p.state)
	}
}
