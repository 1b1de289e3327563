package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fixed thread slots.
const (
	termSlot   = 0
	reaperSlot = 1

	// First worker slot; sockets follow the workers.
	firstWorkerSlot = 2
)

// Endpoint is an inproc address registration.
type Endpoint struct {
	Socket *Socket

	// Options of the bound socket, refreshed when it changes them.
	Options SocketOptions
}

// ContextStats is a point-in-time view of a Context.
type ContextStats struct {
	ID          string  `json:"id"`
	IOThreads   int     `json:"io_threads"`
	MaxSockets  int     `json:"max_sockets"`
	Sockets     int     `json:"sockets"`
	FreeSlots   int     `json:"free_slots"`
	Endpoints   int     `json:"endpoints"`
	WorkerLoads []int64 `json:"worker_loads"`
	Started     bool    `json:"started"`
	Terminating bool    `json:"terminating"`
	Terminated  bool    `json:"terminated"`
}

// Option configures a Context.
type Option func(*Context)

// WithIOThreads sets the number of workers.
func WithIOThreads(n int) Option {
	return func(c *Context) {
		c.ioThreads = n
	}
}

// WithMaxSockets sets the number of socket slots.
func WithMaxSockets(n int) Option {
	return func(c *Context) {
		c.maxSockets = n
	}
}

// WithLogger sets the logger used by every kernel object.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// WithMetrics sets the kernel event receiver.
func WithMetrics(m Metrics) Option {
	return func(c *Context) {
		c.metrics = m
	}
}

// WithSocketDefaults sets the options new sockets start with.
func WithSocketDefaults(opts SocketOptions) Option {
	return func(c *Context) {
		c.socketDefaults = opts
	}
}

// WithPattern registers a socket pattern for a socket type.
func WithPattern(typ SocketType, factory PatternFactory) Option {
	return func(c *Context) {
		c.patterns[typ] = factory
	}
}

// Context is the process registry: it owns the thread slots, the socket
// table and the inproc endpoint table, and runs the bootstrap and teardown
// of the whole kernel.
type Context struct {
	id      string
	logger  *zap.Logger
	metrics Metrics

	ioThreads      int
	maxSockets     int
	socketDefaults SocketOptions
	patterns       map[SocketType]PatternFactory

	mu          sync.Mutex
	starting    bool
	terminating bool
	terminated  bool
	slots       []*Mailbox
	emptySlots  []int
	sockets     map[*Socket]struct{}
	endpoints   map[string]Endpoint

	maxSocketID atomic.Uint32

	termMailbox *Mailbox
	reaper      *reaper
	workers     []*Worker
	threads     errgroup.Group

	// Closed when termination finished; termErr is set before.
	termDone chan struct{}
	termErr  error
}

// NewContext creates a Context. Threads are started lazily by the first
// CreateSocket.
func NewContext(opts ...Option) *Context {
	c := &Context{
		id:             uuid.NewString(),
		logger:         zap.NewNop(),
		metrics:        nopMetrics{},
		ioThreads:      2,
		maxSockets:     1023,
		socketDefaults: DefaultSocketOptions(),
		patterns: map[SocketType]PatternFactory{
			TypePair: NewPairPattern,
		},
		starting:  true,
		sockets:   make(map[*Socket]struct{}),
		endpoints: make(map[string]Endpoint),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(zap.String("context_id", c.id))
	return c
}

// ID returns the unique id of the context instance.
func (c *Context) ID() string {
	return c.id
}

// start allocates the slot table and launches the reaper and workers.
// Called with mu held.
func (c *Context) start() {
	slotCount := firstWorkerSlot + c.ioThreads + c.maxSockets
	c.slots = make([]*Mailbox, slotCount)

	c.termMailbox = newMailbox()
	c.slots[termSlot] = c.termMailbox

	reaperMailbox := newMailbox()
	c.slots[reaperSlot] = reaperMailbox
	c.reaper = newReaper(c, reaperSlot, reaperMailbox)
	c.threads.Go(c.reaper.run)

	c.workers = make([]*Worker, 0, c.ioThreads)
	for i := 0; i < c.ioThreads; i++ {
		slot := firstWorkerSlot + i
		mb := newMailbox()
		c.slots[slot] = mb
		w := newWorker(c, i, slot, mb)
		c.workers = append(c.workers, w)
		c.threads.Go(w.run)
	}

	// Lowest free slot is handed out first.
	for i := slotCount - 1; i >= firstWorkerSlot+c.ioThreads; i-- {
		c.emptySlots = append(c.emptySlots, i)
	}

	c.starting = false
	c.logger.Info("context started",
		zap.Int("io_threads", c.ioThreads),
		zap.Int("max_sockets", c.maxSockets))
}

// CreateSocket creates a socket of the given type in a free slot.
func (c *Context) CreateSocket(typ SocketType) (*Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminating || c.terminated {
		return nil, ErrTerminated
	}
	if c.starting {
		c.start()
	}

	factory, ok := c.patterns[typ]
	if !ok {
		return nil, fmt.Errorf("socket type %d: %w", typ, ErrInvalidSocketType)
	}

	if len(c.emptySlots) == 0 {
		return nil, ErrTooManySockets
	}
	slot := c.emptySlots[len(c.emptySlots)-1]
	c.emptySlots = c.emptySlots[:len(c.emptySlots)-1]

	id := c.maxSocketID.Inc()
	mb := newMailbox()
	s := newSocket(c, typ, id, slot, mb, factory(), c.socketDefaults)

	c.slots[slot] = mb
	c.sockets[s] = struct{}{}
	c.metrics.SocketOpened()

	s.logger.Debug("socket created")
	return s, nil
}

// destroySocket releases the socket's slot. Runs on the socket's drain
// goroutine.
func (c *Context) destroySocket(s *Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slots[s.slot] = nil
	c.emptySlots = append(c.emptySlots, s.slot)
	delete(c.sockets, s)
	c.metrics.SocketClosed()

	// The last socket is gone; the reaper may finish.
	if c.terminating && len(c.sockets) == 0 {
		c.reaper.sendStop()
	}
}

// ChooseWorker returns the least loaded worker whose bit is set in
// affinity; 0 allows every worker. It returns nil when none matches.
func (c *Context) ChooseWorker(affinity uint64) *Worker {
	var (
		best    *Worker
		minLoad int64
	)
	for i, w := range c.workers {
		if affinity != 0 && (i >= 64 || affinity&(1<<uint(i)) == 0) {
			continue
		}
		load := w.Load()
		if best == nil || load < minLoad {
			best = w
			minLoad = load
		}
	}
	return best
}

// Terminate shuts the kernel down. Live sockets are told to stop, which
// makes their blocking calls return ErrTerminated; Terminate then blocks
// until every socket has been closed and reaped, and finally stops the
// workers. If ctx is cancelled first, Terminate returns ErrInterrupted and
// may be called again. Concurrent calls all return once the kernel is down.
func (c *Context) Terminate(ctx context.Context) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	if c.starting {
		// Nothing was ever started.
		c.terminated = true
		c.mu.Unlock()
		return nil
	}

	if !c.terminating {
		c.terminating = true
		c.termDone = make(chan struct{})
		c.logger.Info("context terminating", zap.Int("sockets", len(c.sockets)))
		for s := range c.sockets {
			s.sendStop()
		}
		if len(c.sockets) == 0 {
			c.reaper.sendStop()
		}
		go c.awaitTermination()
	}
	done := c.termDone
	c.mu.Unlock()

	select {
	case <-done:
		return c.termErr
	case <-ctx.Done():
		return fmt.Errorf("terminate context: %w", ErrInterrupted)
	}
}

// awaitTermination is the only reader of the control slot. It waits until
// the reaper has closed all the sockets, then stops the workers.
func (c *Context) awaitTermination() {
	defer close(c.termDone)

	cmd, err := c.termMailbox.Recv(context.Background(), -1)
	if err != nil {
		c.termErr = fmt.Errorf("terminate context: %w", err)
		return
	}
	if cmd.Type != CommandDone {
		invariant("context", "unexpected %s command on the control slot", cmd.Type)
	}

	for _, w := range c.workers {
		w.sendStop()
	}
	if err := c.threads.Wait(); err != nil {
		c.termErr = fmt.Errorf("terminate context: %w", err)
		return
	}

	c.mu.Lock()
	c.terminated = true
	c.mu.Unlock()

	c.logger.Info("context terminated")
}

func (c *Context) sendCommand(cmd Command) {
	c.metrics.CommandSent(cmd.Type)
	cmd.Destination.base().mailbox.Send(cmd)
}

// RegisterEndpoint binds an inproc address to a socket.
func (c *Context) RegisterEndpoint(addr string, s *Socket) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.endpoints[addr]; ok {
		return ErrAddressInUse
	}
	c.endpoints[addr] = Endpoint{Socket: s, Options: s.options}
	return nil
}

// FindEndpoint looks up an inproc address. The bound socket's seqnum is
// incremented so that it cannot finish terminating before the bind command
// the caller is about to send has been processed.
func (c *Context) FindEndpoint(addr string) (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ep, ok := c.endpoints[addr]
	if !ok {
		return Endpoint{}, ErrConnectionRefused
	}
	ep.Socket.incSeqnum()
	return ep, nil
}

// updateEndpointOptions refreshes the options snapshot of every address
// bound by s, so later connections see its current watermarks.
func (c *Context) updateEndpointOptions(s *Socket, opts SocketOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, ep := range c.endpoints {
		if ep.Socket == s {
			ep.Options = opts
			c.endpoints[addr] = ep
		}
	}
}

// UnregisterEndpoints removes every address bound by s.
func (c *Context) UnregisterEndpoints(s *Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, ep := range c.endpoints {
		if ep.Socket == s {
			delete(c.endpoints, addr)
		}
	}
}

// SetSocketDefaults changes the options future sockets start with.
func (c *Context) SetSocketDefaults(opts SocketOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.socketDefaults = opts
	c.mu.Unlock()

	c.logger.Info("socket defaults updated",
		zap.Int("send_hwm", opts.SendHWM),
		zap.Int("recv_hwm", opts.RecvHWM),
		zap.Duration("linger", opts.Linger))
	return nil
}

// SocketDefaults returns the options new sockets start with.
func (c *Context) SocketDefaults() SocketOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketDefaults
}

// Stats returns a snapshot of the registry.
func (c *Context) Stats() ContextStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := ContextStats{
		ID:          c.id,
		IOThreads:   c.ioThreads,
		MaxSockets:  c.maxSockets,
		Sockets:     len(c.sockets),
		FreeSlots:   len(c.emptySlots),
		Endpoints:   len(c.endpoints),
		Started:     !c.starting,
		Terminating: c.terminating,
		Terminated:  c.terminated,
	}
	if c.starting {
		stats.FreeSlots = c.maxSockets
	}
	for _, w := range c.workers {
		stats.WorkerLoads = append(stats.WorkerLoads, w.Load())
	}
	return stats
}
