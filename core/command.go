package core

import (
	"time"

	"github.com/najoast/zkernel/lockfree"
)

// CommandType identifies a kernel command.
type CommandType uint8

const (
	// CommandStop asks a thread-level object to stop
	CommandStop CommandType = iota

	// CommandPlug tells a freshly launched owned object it may start working
	CommandPlug

	// CommandOwn asks the parent to adopt a child
	CommandOwn

	// CommandAttach hands an engine to a session
	CommandAttach

	// CommandBind hands a pipe end to a socket or session
	CommandBind

	// CommandActivateRead tells a pipe that its inbound side has data
	CommandActivateRead

	// CommandActivateWrite reports the peer's read count to reopen the window
	CommandActivateWrite

	// CommandHiccup replaces a pipe's outbound channel
	CommandHiccup

	// CommandPipeHWM carries the peer socket's new watermarks
	CommandPipeHWM

	// CommandPipeTerm asks the peer pipe to terminate
	CommandPipeTerm

	// CommandPipeTermAck acknowledges pipe termination
	CommandPipeTermAck

	// CommandTermReq asks the parent to terminate a child
	CommandTermReq

	// CommandTerm asks an owned object to terminate
	CommandTerm

	// CommandTermAck confirms a child finished terminating
	CommandTermAck

	// CommandReap hands a closed socket to the reaper
	CommandReap

	// CommandReaped tells the reaper a socket was destroyed
	CommandReaped

	// CommandDone tells the terminating context the reaper is finished
	CommandDone
)

// String returns the string representation of CommandType.
func (t CommandType) String() string {
	switch t {
	case CommandStop:
		return "stop"
	case CommandPlug:
		return "plug"
	case CommandOwn:
		return "own"
	case CommandAttach:
		return "attach"
	case CommandBind:
		return "bind"
	case CommandActivateRead:
		return "activate_read"
	case CommandActivateWrite:
		return "activate_write"
	case CommandHiccup:
		return "hiccup"
	case CommandPipeHWM:
		return "pipe_hwm"
	case CommandPipeTerm:
		return "pipe_term"
	case CommandPipeTermAck:
		return "pipe_term_ack"
	case CommandTermReq:
		return "term_req"
	case CommandTerm:
		return "term"
	case CommandTermAck:
		return "term_ack"
	case CommandReap:
		return "reap"
	case CommandReaped:
		return "reaped"
	case CommandDone:
		return "done"
	default:
		return "unknown"
	}
}

// Command is the only way kernel objects living on different goroutines
// affect each other. Only the fields relevant to Type are set.
type Command struct {
	// Destination is the object that processes the command; nil for done
	Destination Object

	// Type selects the handler
	Type CommandType

	// Object is the child for own and term_req
	Object Owned

	// Socket is the closed socket for reap
	Socket *Socket

	// Pipe is the pipe end for bind
	Pipe *Pipe

	// Engine is the engine for attach
	Engine Engine

	// Channel is the replacement inbound channel for hiccup
	Channel *lockfree.Channel[Frame]

	// Linger is the linger period for term
	Linger time.Duration

	// MsgsRead is the peer's read count for activate_write
	MsgsRead uint64

	// InHWM and OutHWM are the watermarks for pipe_hwm, seen from the
	// destination pipe
	InHWM  int
	OutHWM int
}
