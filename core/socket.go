package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const inprocScheme = "inproc"

// Socket is the user-facing root of an ownership tree. Until Close it is
// driven by the goroutine calling its methods, which must not be shared
// between goroutines; after Close the reaper drives it to destruction.
type Socket struct {
	own

	typ     SocketType
	id      uint32
	pattern Pattern
	pipes   map[*Pipe]struct{}
	options SocketOptions

	// Set by stop when the context is terminating.
	ctxTerminated bool

	// Set by Close on the user goroutine.
	closed bool

	// Set by processDestroy on the reaper goroutine.
	destroyed bool

	// Inproc addresses bound by this socket.
	endpoints []string
}

func newSocket(ctx *Context, typ SocketType, id uint32, slot int, mailbox *Mailbox, pattern Pattern, opts SocketOptions) *Socket {
	s := &Socket{
		typ:     typ,
		id:      id,
		pattern: pattern,
		pipes:   make(map[*Pipe]struct{}),
		options: opts,
	}
	logger := ctx.logger.Named("socket").With(zap.Uint32("socket_id", id), zap.Stringer("type", typ), zap.Int("slot", slot))
	s.initOwn(ctx, mailbox, slot, s, "socket", logger)
	s.linger = opts.Linger
	return s
}

// ID returns the process-wide unique socket id.
func (s *Socket) ID() uint32 {
	return s.id
}

// Type returns the socket's pattern type.
func (s *Socket) Type() SocketType {
	return s.typ
}

// Options returns the current socket options.
func (s *Socket) Options() SocketOptions {
	return s.options
}

// SetOptions replaces the socket options. Watermarks also apply to pipes
// that are already attached; the other end of each pipe is told so that
// both ends agree on the window.
func (s *Socket) SetOptions(opts SocketOptions) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	s.options = opts
	s.linger = opts.Linger
	for p := range s.pipes {
		p.SetHWMs(opts.RecvHWM, opts.SendHWM)
	}
	if len(s.endpoints) > 0 {
		s.ctx.updateEndpointOptions(s, opts)
	}
	return nil
}

func (s *Socket) checkUsable() error {
	if s.closed {
		return ErrSocketClosed
	}
	if s.ctxTerminated {
		return ErrTerminated
	}
	return nil
}

func parseEndpoint(endpoint string) (string, error) {
	scheme, addr, ok := strings.Cut(endpoint, "://")
	if !ok || addr == "" {
		return "", fmt.Errorf("%q: %w", endpoint, ErrInvalidEndpoint)
	}
	if scheme != inprocScheme {
		return "", fmt.Errorf("%q: %w", endpoint, ErrProtocolNotSupported)
	}
	return addr, nil
}

// Bind makes the socket reachable at an inproc endpoint.
func (s *Socket) Bind(endpoint string) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	if err := s.processCommands(0); err != nil {
		return err
	}

	addr, err := parseEndpoint(endpoint)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	if err := s.ctx.RegisterEndpoint(addr, s); err != nil {
		return fmt.Errorf("bind %s: %w", endpoint, err)
	}
	s.endpoints = append(s.endpoints, addr)

	s.logger.Info("endpoint bound", zap.String("endpoint", endpoint))
	return nil
}

// Connect joins the socket to the socket bound at an inproc endpoint.
func (s *Socket) Connect(endpoint string) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	if err := s.processCommands(0); err != nil {
		return err
	}

	addr, err := parseEndpoint(endpoint)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	// The peer's seqnum is incremented by the lookup, so the bind below
	// does not increment it again.
	peer, err := s.ctx.FindEndpoint(addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	// The total HWM of an inproc connection is the sum of both sides. Each
	// end keeps both parts so either socket can change its own later.
	local, remote := s.options, peer.Options
	pipes := NewPipePair([2]Object{s, peer.Socket}, [2]int{}, [2]bool{true, true})
	pipes[0].setHWMParts(local.RecvHWM, local.SendHWM, remote.SendHWM, remote.RecvHWM)
	pipes[1].setHWMParts(remote.RecvHWM, remote.SendHWM, local.SendHWM, local.RecvHWM)

	s.attachPipe(pipes[0])
	s.sendBind(peer.Socket, pipes[1], false)

	s.logger.Info("endpoint connected", zap.String("endpoint", endpoint))
	return nil
}

// Send writes one frame. With SendMore the frame is a non-final part of a
// message. It returns ErrAgain with DontWait when the frame cannot be
// queued and ErrTimeout when SendTimeout expires.
func (s *Socket) Send(f Frame, flags Flags) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	if err := s.processCommands(0); err != nil {
		return err
	}

	f.Flags &^= FlagMore | flagDelimiter
	if flags&SendMore != 0 {
		f.Flags |= FlagMore
	}

	err := s.pattern.Send(f)
	if !errors.Is(err, ErrAgain) {
		return err
	}
	if flags&DontWait != 0 || s.options.SendTimeout == 0 {
		return ErrAgain
	}

	return s.wait(s.options.SendTimeout, func() error {
		return s.pattern.Send(f)
	})
}

// Recv reads one frame. It returns ErrAgain with DontWait when nothing is
// available and ErrTimeout when RecvTimeout expires.
func (s *Socket) Recv(flags Flags) (Frame, error) {
	if err := s.checkUsable(); err != nil {
		return Frame{}, err
	}
	if err := s.processCommands(0); err != nil {
		return Frame{}, err
	}

	f, err := s.pattern.Recv()
	if !errors.Is(err, ErrAgain) {
		return f, err
	}
	if flags&DontWait != 0 || s.options.RecvTimeout == 0 {
		return Frame{}, ErrAgain
	}

	err = s.wait(s.options.RecvTimeout, func() error {
		var rerr error
		f, rerr = s.pattern.Recv()
		return rerr
	})
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

// wait processes commands until attempt stops returning ErrAgain or the
// timeout expires.
func (s *Socket) wait(timeout time.Duration, attempt func() error) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := s.processCommands(timeout); err != nil {
			return err
		}

		err := attempt()
		if !errors.Is(err, ErrAgain) {
			return err
		}

		if timeout > 0 {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return ErrTimeout
			}
		}
	}
}

// processCommands waits up to timeout for the first command, then drains
// the mailbox without blocking.
func (s *Socket) processCommands(timeout time.Duration) error {
	cmd, err := s.mailbox.Recv(context.Background(), timeout)
	for err == nil {
		dispatch(cmd)
		cmd, err = s.mailbox.Recv(context.Background(), 0)
	}

	if s.ctxTerminated {
		return ErrTerminated
	}
	return nil
}

// LaunchSession creates a session on a worker chosen by affinity, makes it
// a child of the socket and hands it the engine.
func (s *Socket) LaunchSession(engine Engine, affinity uint64) (*Session, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}

	w := s.ctx.ChooseWorker(affinity)
	if w == nil {
		return nil, ErrNoWorker
	}

	sess := newSession(s.ctx, w, s, s.options)
	s.launchChild(sess)
	s.sendAttach(sess, engine, true)
	return sess, nil
}

// Close hands the socket to the reaper. The socket must not be used after
// Close returns.
func (s *Socket) Close() error {
	if s.closed {
		return ErrSocketClosed
	}
	s.closed = true

	s.logger.Debug("socket closing")
	s.sendReap(s)
	return nil
}

func (s *Socket) attachPipe(p *Pipe) {
	p.SetEventSink(s)
	s.pipes[p] = struct{}{}
	s.pattern.AttachPipe(p)

	// A socket being closed asks new pipes to terminate straight away.
	if s.isTerminating() {
		s.registerTermAcks(1)
		p.Terminate(false)
	}
}

// ReadActivated implements PipeEventSink.
func (s *Socket) ReadActivated(p *Pipe) {
	s.pattern.ReadActivated(p)
}

// WriteActivated implements PipeEventSink.
func (s *Socket) WriteActivated(p *Pipe) {
	s.pattern.WriteActivated(p)
}

// Hiccuped implements PipeEventSink.
func (s *Socket) Hiccuped(p *Pipe) {
	s.pattern.Hiccuped(p)
}

// PipeTerminated implements PipeEventSink.
func (s *Socket) PipeTerminated(p *Pipe) {
	s.pattern.PipeTerminated(p)
	delete(s.pipes, p)

	if s.isTerminating() {
		s.unregisterTermAck()
	}
}

func (s *Socket) processBind(p *Pipe) {
	// The options may have changed since the pipe was created.
	if p.localInHWM != s.options.RecvHWM || p.localOutHWM != s.options.SendHWM {
		p.SetHWMs(s.options.RecvHWM, s.options.SendHWM)
	}
	s.attachPipe(p)
}

func (s *Socket) processStop() {
	s.ctxTerminated = true
}

func (s *Socket) processTerm(linger time.Duration) {
	// No new inproc pipes once termination starts.
	s.ctx.UnregisterEndpoints(s)

	for p := range s.pipes {
		p.Terminate(false)
	}
	s.registerTermAcks(len(s.pipes))

	s.own.processTerm(linger)
}

func (s *Socket) processDestroy() {
	s.destroyed = true
	s.own.processDestroy()
}

// reapLoop drives a closed socket until it is destroyed. It runs on a
// goroutine started by the reaper.
func (s *Socket) reapLoop() {
	s.mailbox.bind()
	s.terminate()

	for !s.destroyed {
		cmd, err := s.mailbox.Recv(context.Background(), -1)
		if err != nil {
			continue
		}
		dispatch(cmd)
	}

	s.ctx.destroySocket(s)
	s.sendReaped()
}
