package core

import (
	"time"

	"go.uber.org/zap"
)

// Engine moves frames between a session and the outside world. Every
// method is called on the session's worker goroutine.
type Engine interface {
	// Plug starts the engine on behalf of the session.
	Plug(s *Session)

	// Terminate stops the engine. The session forgets it afterwards.
	Terminate()

	// RestartInput tells the engine the pipe can accept frames again.
	RestartInput()

	// RestartOutput tells the engine frames are waiting in the pipe.
	RestartOutput()
}

// Session connects one engine to its socket through a pipe. It is a child
// of the socket and lives on a worker.
type Session struct {
	own

	socket  *Socket
	worker  *Worker
	pipe    *Pipe
	engine  Engine
	options SocketOptions

	// A part of an inbound message was pulled and its tail is still due.
	incompleteIn bool

	// term arrived; waiting for the pipe to finish terminating.
	pending bool
}

func newSession(ctx *Context, w *Worker, socket *Socket, opts SocketOptions) *Session {
	s := &Session{
		socket:  socket,
		worker:  w,
		options: opts,
	}
	logger := ctx.logger.Named("session").With(zap.Uint32("socket_id", socket.id), zap.Int("slot", w.slot))
	s.initOwn(ctx, w.mailbox, w.slot, s, "session", logger)
	s.linger = opts.Linger
	w.load.Inc()
	return s
}

// Socket returns the socket the session belongs to.
func (s *Session) Socket() *Socket {
	return s.socket
}

// PullMsg reads the next frame the socket wants sent. It returns ErrAgain
// when there is none.
func (s *Session) PullMsg() (Frame, error) {
	if s.pipe == nil {
		return Frame{}, ErrAgain
	}
	f, ok := s.pipe.Read()
	if !ok {
		return Frame{}, ErrAgain
	}
	s.incompleteIn = f.More()
	return f, nil
}

// PushMsg writes a frame towards the socket. It returns ErrAgain when the
// pipe is full or gone.
func (s *Session) PushMsg(f Frame) error {
	f.Flags &^= flagDelimiter
	if s.pipe != nil && s.pipe.Write(f) {
		return nil
	}
	return ErrAgain
}

// Flush publishes frames pushed so far.
func (s *Session) Flush() {
	if s.pipe != nil {
		s.pipe.Flush()
	}
}

// EngineError detaches a failed engine and terminates the session.
func (s *Session) EngineError(err error) {
	s.logger.Warn("engine failed", zap.Error(err))

	s.engine = nil
	if s.pipe != nil {
		s.cleanPipes()
	}
	s.terminate()
}

// cleanPipes drops half-written outbound and half-read inbound messages.
func (s *Session) cleanPipes() {
	s.pipe.Rollback()
	s.pipe.Flush()

	for s.incompleteIn {
		if _, err := s.PullMsg(); err != nil {
			break
		}
	}
}

func (s *Session) processPlug() {
	s.logger.Debug("session plugged")
}

func (s *Session) processAttach(engine Engine) {
	if engine == nil {
		invariant("session", "attach without an engine")
	}
	if s.engine != nil {
		invariant("session", "engine attached twice")
	}
	s.engine = engine

	// Create the pipe to the socket unless shutting down.
	if s.pipe == nil && !s.isTerminating() {
		pipes := NewPipePair(
			[2]Object{s, s.socket},
			[2]int{s.options.RecvHWM, s.options.SendHWM},
			[2]bool{true, true},
		)
		// The session has no watermarks of its own; it follows the socket.
		pipes[0].setHWMParts(-1, -1, s.options.SendHWM, s.options.RecvHWM)
		pipes[0].SetEventSink(s)
		s.pipe = pipes[0]

		// The socket plugs into the other end.
		s.sendBind(s.socket, pipes[1], true)
	}

	engine.Plug(s)
}

// ReadActivated implements PipeEventSink.
func (s *Session) ReadActivated(p *Pipe) {
	if s.engine == nil {
		// Nobody reads; only look for the delimiter.
		p.CheckRead()
		return
	}
	s.engine.RestartOutput()
}

// WriteActivated implements PipeEventSink.
func (s *Session) WriteActivated(*Pipe) {
	if s.engine != nil {
		s.engine.RestartInput()
	}
}

// Hiccuped implements PipeEventSink. Hiccups travel from sessions to
// sockets only.
func (s *Session) Hiccuped(*Pipe) {
	invariant("session", "hiccup received from the socket")
}

// PipeTerminated implements PipeEventSink.
func (s *Session) PipeTerminated(p *Pipe) {
	if p != s.pipe {
		invariant("session", "termination of a foreign pipe")
	}
	s.pipe = nil

	// Termination was waiting for the pipe.
	if s.pending {
		s.pending = false
		s.own.processTerm(0)
		return
	}

	// Without a pipe the session has nothing left to do.
	s.terminate()
}

func (s *Session) processTerm(linger time.Duration) {
	if s.pending {
		invariant("session", "term received twice")
	}

	// The pipe is already gone: proceed straight away.
	if s.pipe == nil {
		s.own.processTerm(0)
		return
	}

	s.pending = true

	// Pending messages are delivered first unless linger is zero.
	s.pipe.Terminate(linger != 0)

	// Without an engine nobody would read the delimiter.
	if s.engine == nil {
		s.pipe.CheckRead()
	}
}

func (s *Session) processDestroy() {
	if s.engine != nil {
		s.engine.Terminate()
		s.engine = nil
	}
	s.worker.load.Dec()
	s.own.processDestroy()
}
