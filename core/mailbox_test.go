package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxEmpty(t *testing.T) {
	mb := newMailbox()

	_, err := mb.Recv(context.Background(), 0)
	assert.ErrorIs(t, err, ErrTimeout)

	start := time.Now()
	_, err = mb.Recv(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMailboxInterrupted(t *testing.T) {
	mb := newMailbox()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mb.Recv(ctx, -1)
	assert.ErrorIs(t, err, ErrInterrupted)

	// The mailbox stays usable.
	mb.Send(Command{Type: CommandStop})
	cmd, err := mb.Recv(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, CommandStop, cmd.Type)
}

func TestMailboxSendBeforeRecv(t *testing.T) {
	mb := newMailbox()
	for i := 0; i < 3; i++ {
		mb.Send(Command{Type: CommandActivateWrite, MsgsRead: uint64(i)})
	}

	for i := 0; i < 3; i++ {
		cmd, err := mb.Recv(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), cmd.MsgsRead)
	}
	_, err := mb.Recv(context.Background(), 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMailboxOrderAcrossGoroutines(t *testing.T) {
	const count = 10000
	mb := newMailbox()

	go func() {
		for i := 0; i < count; i++ {
			mb.Send(Command{Type: CommandActivateWrite, MsgsRead: uint64(i)})
		}
	}()

	for i := 0; i < count; i++ {
		cmd, err := mb.Recv(context.Background(), time.Second)
		require.NoError(t, err)
		require.Equal(t, uint64(i), cmd.MsgsRead)
	}
}

func TestMailboxManySenders(t *testing.T) {
	const (
		senders = 8
		each    = 500
	)
	mb := newMailbox()

	for s := 0; s < senders; s++ {
		go func(s int) {
			for i := 0; i < each; i++ {
				mb.Send(Command{Type: CommandActivateWrite, MsgsRead: uint64(s*each + i)})
			}
		}(s)
	}

	// Per-sender order is preserved.
	last := make([]int, senders)
	for i := range last {
		last[i] = -1
	}
	for i := 0; i < senders*each; i++ {
		cmd, err := mb.Recv(context.Background(), time.Second)
		require.NoError(t, err)
		v := int(cmd.MsgsRead)
		s, n := v/each, v%each
		require.Greater(t, n, last[s])
		last[s] = n
	}
}
