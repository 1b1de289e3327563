package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/najoast/zkernel/lockfree"
)

// Object is a kernel object that can be the destination of a Command.
//
// The interface lists one handler per command type, so every kernel type
// must say what it does with each of them. Types embed object, whose
// unexpectedCommands mixin supplies the "must never receive" handler, and
// override the handlers they accept.
type Object interface {
	base() *object

	processStop()
	processPlug()
	processOwn(child Owned)
	processAttach(engine Engine)
	processBind(pipe *Pipe)
	processActivateRead()
	processActivateWrite(msgsRead uint64)
	processHiccup(ch *lockfree.Channel[Frame])
	processPipeHWM(inHWM, outHWM int)
	processPipeTerm()
	processPipeTermAck()
	processTermReq(child Owned)
	processTerm(linger time.Duration)
	processTermAck()
	processReap(s *Socket)
	processReaped()
	processSeqnum()
}

// unexpectedCommands is the default for every handler: receiving the
// command is a protocol violation.
type unexpectedCommands struct{}

func unexpected(t CommandType) {
	invariant("object", "unexpected %s command", t)
}

func (unexpectedCommands) processStop()                           { unexpected(CommandStop) }
func (unexpectedCommands) processPlug()                           { unexpected(CommandPlug) }
func (unexpectedCommands) processOwn(Owned)                       { unexpected(CommandOwn) }
func (unexpectedCommands) processAttach(Engine)                   { unexpected(CommandAttach) }
func (unexpectedCommands) processBind(*Pipe)                      { unexpected(CommandBind) }
func (unexpectedCommands) processActivateRead()                   { unexpected(CommandActivateRead) }
func (unexpectedCommands) processActivateWrite(uint64)            { unexpected(CommandActivateWrite) }
func (unexpectedCommands) processHiccup(*lockfree.Channel[Frame]) { unexpected(CommandHiccup) }
func (unexpectedCommands) processPipeHWM(int, int)                { unexpected(CommandPipeHWM) }
func (unexpectedCommands) processPipeTerm()                       { unexpected(CommandPipeTerm) }
func (unexpectedCommands) processPipeTermAck()                    { unexpected(CommandPipeTermAck) }
func (unexpectedCommands) processTermReq(Owned)                   { unexpected(CommandTermReq) }
func (unexpectedCommands) processTerm(time.Duration)              { unexpected(CommandTerm) }
func (unexpectedCommands) processTermAck()                        { unexpected(CommandTermAck) }
func (unexpectedCommands) processReap(*Socket)                    { unexpected(CommandReap) }
func (unexpectedCommands) processReaped()                         { unexpected(CommandReaped) }
func (unexpectedCommands) processSeqnum() {
	invariant("object", "sequence number on an object outside the ownership tree")
}

// object is the actor base embedded by every kernel type. It pins the
// object to one thread slot and provides the command senders.
type object struct {
	unexpectedCommands

	ctx     *Context
	mailbox *Mailbox
	slot    int
	self    Object
	logger  *zap.Logger
}

func (o *object) init(ctx *Context, mailbox *Mailbox, slot int, self Object, logger *zap.Logger) {
	o.ctx = ctx
	o.mailbox = mailbox
	o.slot = slot
	o.self = self
	o.logger = logger
}

func (o *object) base() *object {
	return o
}

// Slot returns the thread slot the object is pinned to.
func (o *object) Slot() int {
	return o.slot
}

// assertHome panics in debug builds when called off the home goroutine.
func (o *object) assertHome() {
	owner := o.mailbox.owner.Load()
	if owner == 0 {
		return
	}
	if id := goid(); id != owner {
		invariant("object", "slot %d touched from goroutine %d, home is %d", o.slot, id, owner)
	}
}

// dispatch runs cmd on its destination. It must be called by the goroutine
// driving the destination's mailbox.
func dispatch(cmd Command) {
	dst := cmd.Destination
	if dst == nil {
		invariant("dispatch", "%s command without destination", cmd.Type)
	}

	b := dst.base()
	b.assertHome()
	b.ctx.metrics.CommandProcessed(cmd.Type)
	if ce := b.logger.Check(zap.DebugLevel, "process command"); ce != nil {
		ce.Write(zap.Stringer("command", cmd.Type))
	}

	switch cmd.Type {
	case CommandStop:
		dst.processStop()
	case CommandPlug:
		dst.processPlug()
		dst.processSeqnum()
	case CommandOwn:
		dst.processOwn(cmd.Object)
		dst.processSeqnum()
	case CommandAttach:
		dst.processAttach(cmd.Engine)
		dst.processSeqnum()
	case CommandBind:
		dst.processBind(cmd.Pipe)
		dst.processSeqnum()
	case CommandActivateRead:
		dst.processActivateRead()
	case CommandActivateWrite:
		dst.processActivateWrite(cmd.MsgsRead)
	case CommandHiccup:
		dst.processHiccup(cmd.Channel)
	case CommandPipeHWM:
		dst.processPipeHWM(cmd.InHWM, cmd.OutHWM)
	case CommandPipeTerm:
		dst.processPipeTerm()
	case CommandPipeTermAck:
		dst.processPipeTermAck()
	case CommandTermReq:
		dst.processTermReq(cmd.Object)
	case CommandTerm:
		dst.processTerm(cmd.Linger)
	case CommandTermAck:
		dst.processTermAck()
	case CommandReap:
		dst.processReap(cmd.Socket)
	case CommandReaped:
		dst.processReaped()
	default:
		invariant("dispatch", "%s command delivered to an object", cmd.Type)
	}
}

func (o *object) sendCommand(cmd Command) {
	o.ctx.sendCommand(cmd)
}

// sendStop posts stop to the object itself.
func (o *object) sendStop() {
	o.sendCommand(Command{Destination: o.self, Type: CommandStop})
}

func (o *object) sendPlug(dst Owned, incSeqnum bool) {
	if incSeqnum {
		dst.ownBase().incSeqnum()
	}
	o.sendCommand(Command{Destination: dst, Type: CommandPlug})
}

func (o *object) sendOwn(dst Owned, child Owned) {
	dst.ownBase().incSeqnum()
	o.sendCommand(Command{Destination: dst, Type: CommandOwn, Object: child})
}

func (o *object) sendAttach(dst *Session, engine Engine, incSeqnum bool) {
	if incSeqnum {
		dst.incSeqnum()
	}
	o.sendCommand(Command{Destination: dst, Type: CommandAttach, Engine: engine})
}

func (o *object) sendBind(dst Owned, pipe *Pipe, incSeqnum bool) {
	if incSeqnum {
		dst.ownBase().incSeqnum()
	}
	o.sendCommand(Command{Destination: dst, Type: CommandBind, Pipe: pipe})
}

func (o *object) sendActivateRead(dst *Pipe) {
	o.sendCommand(Command{Destination: dst, Type: CommandActivateRead})
}

func (o *object) sendActivateWrite(dst *Pipe, msgsRead uint64) {
	o.sendCommand(Command{Destination: dst, Type: CommandActivateWrite, MsgsRead: msgsRead})
}

func (o *object) sendHiccup(dst *Pipe, ch *lockfree.Channel[Frame]) {
	o.sendCommand(Command{Destination: dst, Type: CommandHiccup, Channel: ch})
}

func (o *object) sendPipeHWM(dst *Pipe, inHWM, outHWM int) {
	o.sendCommand(Command{Destination: dst, Type: CommandPipeHWM, InHWM: inHWM, OutHWM: outHWM})
}

func (o *object) sendPipeTerm(dst *Pipe) {
	o.sendCommand(Command{Destination: dst, Type: CommandPipeTerm})
}

func (o *object) sendPipeTermAck(dst *Pipe) {
	o.sendCommand(Command{Destination: dst, Type: CommandPipeTermAck})
}

func (o *object) sendTermReq(dst Owned, child Owned) {
	o.sendCommand(Command{Destination: dst, Type: CommandTermReq, Object: child})
}

func (o *object) sendTerm(dst Owned, linger time.Duration) {
	o.sendCommand(Command{Destination: dst, Type: CommandTerm, Linger: linger})
}

func (o *object) sendTermAck(dst Owned) {
	o.sendCommand(Command{Destination: dst, Type: CommandTermAck})
}

func (o *object) sendReap(s *Socket) {
	o.sendCommand(Command{Destination: o.ctx.reaper, Type: CommandReap, Socket: s})
}

func (o *object) sendReaped() {
	o.sendCommand(Command{Destination: o.ctx.reaper, Type: CommandReaped})
}

func (o *object) sendDone() {
	o.ctx.metrics.CommandSent(CommandDone)
	o.ctx.termMailbox.Send(Command{Type: CommandDone})
}
