//go:build debug

package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAssertHomeOffGoroutine(t *testing.T) {
	c, _ := newTestContext(t, WithIOThreads(1))
	s, err := c.CreateSocket(TypePair)
	require.NoError(t, err)

	w := c.workers[0]
	require.Eventually(t, func() bool {
		return w.mailbox.owner.Load() != 0
	}, time.Second, time.Millisecond)

	requireInvariant(t, w.assertHome)

	// Sockets are not checked until the reaper adopts them.
	s.assertHome()

	require.NoError(t, s.Close())
	terminate(t, c)
}
