package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T, c *Context, endpoint string) (bound, connected *Socket) {
	t.Helper()
	bound, err := c.CreateSocket(TypePair)
	require.NoError(t, err)
	connected, err = c.CreateSocket(TypePair)
	require.NoError(t, err)

	require.NoError(t, bound.Bind(endpoint))
	require.NoError(t, connected.Connect(endpoint))
	return bound, connected
}

func terminate(t *testing.T, c *Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Terminate(ctx))
}

func recvString(t *testing.T, s *Socket, flags Flags) string {
	t.Helper()
	f, err := s.Recv(flags)
	require.NoError(t, err)
	return string(f.Data)
}

func TestSocketSendRecv(t *testing.T) {
	c, m := newTestContext(t)
	a, b := newPair(t, c, "inproc://send-recv")

	require.NoError(t, b.Send(NewFrame([]byte("hello")), 0))
	assert.Equal(t, "hello", recvString(t, a, 0))

	require.NoError(t, a.Send(NewFrame([]byte("world")), 0))
	assert.Equal(t, "world", recvString(t, b, 0))

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	terminate(t, c)

	assert.Equal(t, 0, m.openPipes())
	assert.Equal(t, 0, m.openSockets())
}

func TestSocketMultipart(t *testing.T) {
	c, _ := newTestContext(t)
	a, b := newPair(t, c, "inproc://multipart")

	require.NoError(t, b.Send(NewFrame([]byte("a")), SendMore))
	require.NoError(t, b.Send(NewFrame([]byte("b")), SendMore))
	_, err := a.Recv(DontWait)
	assert.ErrorIs(t, err, ErrAgain, "incomplete message is invisible")

	require.NoError(t, b.Send(NewFrame([]byte("c")), 0))

	var parts []string
	for {
		f, err := a.Recv(0)
		require.NoError(t, err)
		parts = append(parts, string(f.Data))
		if !f.More() {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, parts)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	terminate(t, c)
}

func TestSocketDontWait(t *testing.T) {
	c, _ := newTestContext(t)
	s, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	_, err = s.Recv(DontWait)
	assert.ErrorIs(t, err, ErrAgain)

	err = s.Send(NewFrame([]byte("x")), DontWait)
	assert.ErrorIs(t, err, ErrAgain, "no peer yet")

	require.NoError(t, s.Close())
	terminate(t, c)
}

func TestSocketRecvTimeout(t *testing.T) {
	c, _ := newTestContext(t)
	s, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	opts := s.Options()
	opts.RecvTimeout = 30 * time.Millisecond
	require.NoError(t, s.SetOptions(opts))

	start := time.Now()
	_, err = s.Recv(0)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	require.NoError(t, s.Close())
	terminate(t, c)
}

func TestSocketHighWatermark(t *testing.T) {
	c, _ := newTestContext(t)
	a, err := c.CreateSocket(TypePair)
	require.NoError(t, err)
	b, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	opts := DefaultSocketOptions()
	opts.RecvHWM = 2
	require.NoError(t, a.SetOptions(opts))

	opts = DefaultSocketOptions()
	opts.SendHWM = 2
	opts.SendTimeout = 20 * time.Millisecond
	require.NoError(t, b.SetOptions(opts))

	require.NoError(t, a.Bind("inproc://hwm"))
	require.NoError(t, b.Connect("inproc://hwm"))

	// Both sides' watermarks add up.
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Send(msg(i), DontWait), "send %d", i)
	}
	assert.ErrorIs(t, b.Send(msg(4), DontWait), ErrAgain)
	assert.ErrorIs(t, b.Send(msg(4), 0), ErrTimeout)

	// Reading reopens the window.
	assert.Equal(t, "msg-0", recvString(t, a, 0))
	assert.Equal(t, "msg-1", recvString(t, a, 0))
	require.NoError(t, b.Send(msg(4), 0))

	for i := 2; i <= 4; i++ {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), recvString(t, a, 0))
	}

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	terminate(t, c)
}

func TestSocketSetOptionsAfterConnect(t *testing.T) {
	c, _ := newTestContext(t)
	a, b := newPair(t, c, "inproc://set-hwm")

	opts := a.Options()
	opts.RecvHWM = 1
	require.NoError(t, a.SetOptions(opts))

	opts = b.Options()
	opts.SendHWM = 1
	opts.SendTimeout = 200 * time.Millisecond
	require.NoError(t, b.SetOptions(opts))

	// Let a attach the pipe and both sides exchange their watermarks.
	_, err := a.Recv(DontWait)
	require.ErrorIs(t, err, ErrAgain)

	require.NoError(t, b.Send(msg(0), DontWait))
	require.NoError(t, b.Send(msg(1), DontWait))
	assert.ErrorIs(t, b.Send(msg(2), DontWait), ErrAgain, "new watermarks add up to 2")

	// One read reopens the window now that the reader's lwm is 1.
	assert.Equal(t, "msg-0", recvString(t, a, 0))
	require.NoError(t, b.Send(msg(2), 0))

	assert.Equal(t, "msg-1", recvString(t, a, 0))
	assert.Equal(t, "msg-2", recvString(t, a, 0))

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	terminate(t, c)
}

func TestSocketSetOptionsBeforeConnect(t *testing.T) {
	c, _ := newTestContext(t)
	a, err := c.CreateSocket(TypePair)
	require.NoError(t, err)
	b, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	require.NoError(t, a.Bind("inproc://rebind-hwm"))

	// Changed after Bind; the connecting side must still see it.
	opts := a.Options()
	opts.RecvHWM = 1
	require.NoError(t, a.SetOptions(opts))
	assert.Equal(t, 1, c.endpoints["rebind-hwm"].Options.RecvHWM)

	opts = b.Options()
	opts.SendHWM = 1
	require.NoError(t, b.SetOptions(opts))
	require.NoError(t, b.Connect("inproc://rebind-hwm"))

	require.NoError(t, b.Send(msg(0), DontWait))
	require.NoError(t, b.Send(msg(1), DontWait))
	assert.ErrorIs(t, b.Send(msg(2), DontWait), ErrAgain)

	assert.Equal(t, "msg-0", recvString(t, a, 0))
	assert.Equal(t, "msg-1", recvString(t, a, 0))

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	terminate(t, c)
}

func TestSocketPeerCloseKeepsMessages(t *testing.T) {
	c, m := newTestContext(t)
	a, b := newPair(t, c, "inproc://linger")

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Send(msg(i), 0))
	}
	require.NoError(t, b.Close())

	for i := 0; i < 3; i++ {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), recvString(t, a, 0))
	}
	_, err := a.Recv(DontWait)
	assert.ErrorIs(t, err, ErrAgain)

	require.NoError(t, a.Close())
	terminate(t, c)
	assert.Equal(t, 0, m.openPipes())
}

func TestSocketTerminateUnblocksRecv(t *testing.T) {
	c, _ := newTestContext(t)
	s, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := s.Recv(0)
		errs <- err
		s.Close()
	}()

	terminate(t, c)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(5 * time.Second):
		t.Fatal("recv was not unblocked")
	}

	_, err = c.CreateSocket(TypePair)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestSocketTerminateInterrupted(t *testing.T) {
	c, _ := newTestContext(t)
	s, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Terminate(ctx), ErrInterrupted, "socket still open")

	_, err = s.Recv(DontWait)
	assert.ErrorIs(t, err, ErrTerminated)

	require.NoError(t, s.Close())
	terminate(t, c)
	assert.NoError(t, c.Terminate(context.Background()), "terminate is idempotent")
}

func TestSocketLimit(t *testing.T) {
	c, _ := newTestContext(t, WithMaxSockets(2))

	s1, err := c.CreateSocket(TypePair)
	require.NoError(t, err)
	s2, err := c.CreateSocket(TypePair)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID(), s2.ID())

	_, err = c.CreateSocket(TypePair)
	assert.ErrorIs(t, err, ErrTooManySockets)

	_, err = c.CreateSocket(SocketType(99))
	assert.ErrorIs(t, err, ErrInvalidSocketType)

	// A reaped socket frees its slot.
	require.NoError(t, s1.Close())
	require.Eventually(t, func() bool {
		return c.Stats().Sockets == 1
	}, 5*time.Second, 5*time.Millisecond)

	s3, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	require.NoError(t, s2.Close())
	require.NoError(t, s3.Close())
	terminate(t, c)
}

func TestSocketEndpoints(t *testing.T) {
	c, _ := newTestContext(t)
	s, err := c.CreateSocket(TypePair)
	require.NoError(t, err)
	other, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	tests := []struct {
		name     string
		endpoint string
		wantErr  error
	}{
		{"missing scheme", "nowhere", ErrInvalidEndpoint},
		{"empty address", "inproc://", ErrInvalidEndpoint},
		{"tcp", "tcp://127.0.0.1:5555", ErrProtocolNotSupported},
		{"ipc", "ipc:///tmp/sock", ErrProtocolNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.Bind(tt.endpoint), tt.wantErr)
			assert.ErrorIs(t, s.Connect(tt.endpoint), tt.wantErr)
		})
	}

	assert.ErrorIs(t, s.Connect("inproc://unbound"), ErrConnectionRefused)

	require.NoError(t, s.Bind("inproc://taken"))
	assert.ErrorIs(t, other.Bind("inproc://taken"), ErrAddressInUse)

	// Closing releases the address.
	require.NoError(t, s.Close())
	require.Eventually(t, func() bool {
		return other.Bind("inproc://taken") == nil
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, other.Close())
	terminate(t, c)
}

func TestSocketClosed(t *testing.T) {
	c, _ := newTestContext(t)
	s, err := c.CreateSocket(TypePair)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Close(), ErrSocketClosed)
	assert.ErrorIs(t, s.Bind("inproc://x"), ErrSocketClosed)
	assert.ErrorIs(t, s.Send(msg(0), 0), ErrSocketClosed)
	_, err = s.Recv(0)
	assert.ErrorIs(t, err, ErrSocketClosed)
	_, err = s.LaunchSession(&echoEngine{}, 0)
	assert.ErrorIs(t, err, ErrSocketClosed)

	terminate(t, c)
}

func TestSocketSetOptionsValidates(t *testing.T) {
	c, _ := newTestContext(t)
	s, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	opts := s.Options()
	opts.SendHWM = -1
	assert.ErrorIs(t, s.SetOptions(opts), ErrInvalidOption)
	assert.Equal(t, 1000, s.Options().SendHWM)

	require.NoError(t, s.Close())
	terminate(t, c)
}
