package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingMetrics records kernel events for assertions.
type countingMetrics struct {
	mu         sync.Mutex
	sent       map[CommandType]int
	processed  map[CommandType]int
	sockets    int
	pipes      int
	terminated map[string]int
}

func newCountingMetrics() *countingMetrics {
	m := &countingMetrics{}
	m.reset()
	return m
}

func (m *countingMetrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = make(map[CommandType]int)
	m.processed = make(map[CommandType]int)
	m.terminated = make(map[string]int)
}

func (m *countingMetrics) CommandSent(t CommandType) {
	m.mu.Lock()
	m.sent[t]++
	m.mu.Unlock()
}

func (m *countingMetrics) CommandProcessed(t CommandType) {
	m.mu.Lock()
	m.processed[t]++
	m.mu.Unlock()
}

func (m *countingMetrics) SocketOpened() {
	m.mu.Lock()
	m.sockets++
	m.mu.Unlock()
}

func (m *countingMetrics) SocketClosed() {
	m.mu.Lock()
	m.sockets--
	m.mu.Unlock()
}

func (m *countingMetrics) PipeOpened() {
	m.mu.Lock()
	m.pipes++
	m.mu.Unlock()
}

func (m *countingMetrics) PipeClosed() {
	m.mu.Lock()
	m.pipes--
	m.mu.Unlock()
}

func (m *countingMetrics) ObjectTerminated(kind string) {
	m.mu.Lock()
	m.terminated[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) sentCount(t CommandType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[t]
}

func (m *countingMetrics) processedCount(t CommandType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[t]
}

func (m *countingMetrics) openSockets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sockets
}

func (m *countingMetrics) openPipes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipes
}

func newTestContext(t *testing.T, opts ...Option) (*Context, *countingMetrics) {
	t.Helper()
	m := newCountingMetrics()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithMetrics(m)}, opts...)
	return NewContext(opts...), m
}

// testNode is a bare owned object. Tests drive its mailbox by hand.
type testNode struct {
	own

	name      string
	plugged   int
	destroyed int
	onDestroy func(n *testNode)
}

func newTestNode(c *Context, name string) *testNode {
	n := &testNode{name: name}
	n.initOwn(c, newMailbox(), 0, n, "node", c.logger.Named(name))
	return n
}

func (n *testNode) processPlug() {
	n.plugged++
}

func (n *testNode) processDestroy() {
	n.destroyed++
	if n.onDestroy != nil {
		n.onDestroy(n)
	}
	n.own.processDestroy()
}

// recordingSink counts pipe callbacks.
type recordingSink struct {
	readActivated  int
	writeActivated int
	hiccuped       int
	terminated     int
}

func (r *recordingSink) ReadActivated(*Pipe)  { r.readActivated++ }
func (r *recordingSink) WriteActivated(*Pipe) { r.writeActivated++ }
func (r *recordingSink) Hiccuped(*Pipe)       { r.hiccuped++ }
func (r *recordingSink) PipeTerminated(*Pipe) { r.terminated++ }

// drain dispatches every queued command on the given mailboxes until all
// of them are empty, and returns how many were processed.
func drain(mailboxes ...*Mailbox) int {
	processed := 0
	for progress := true; progress; {
		progress = false
		for _, mb := range mailboxes {
			for {
				cmd, err := mb.Recv(context.Background(), 0)
				if err != nil {
					break
				}
				dispatch(cmd)
				processed++
				progress = true
			}
		}
	}
	return processed
}

// requireInvariant asserts that fn panics with an *InvariantError.
func requireInvariant(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected an invariant panic")
		_, ok := r.(*InvariantError)
		require.True(t, ok, "expected *InvariantError, got %T: %v", r, r)
	}()
	fn()
}
