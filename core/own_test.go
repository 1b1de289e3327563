package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnChildlessDestroyedInsideTerm(t *testing.T) {
	c, m := newTestContext(t)
	root := newTestNode(c, "root")

	root.terminate()

	assert.Equal(t, 1, root.destroyed, "destroyed synchronously")
	assert.Equal(t, 0, m.sentCount(CommandTerm))
	assert.Equal(t, 1, m.terminated["node"])

	// Terminating again is a no-op.
	root.terminate()
	assert.Equal(t, 1, root.destroyed)
}

func TestOwnTreeTermination(t *testing.T) {
	c, m := newTestContext(t)
	root := newTestNode(c, "root")

	children := make([]*testNode, 3)
	for i := range children {
		children[i] = newTestNode(c, "child")
		root.launchChild(children[i])
	}
	for _, child := range children {
		drain(child.mailbox)
		assert.Equal(t, 1, child.plugged)
	}
	drain(root.mailbox)
	require.Len(t, root.owned, 3)

	m.reset()
	root.terminate()
	assert.Equal(t, 3, m.sentCount(CommandTerm))
	assert.Equal(t, 0, root.destroyed)

	for i, child := range children {
		drain(child.mailbox)
		assert.Equal(t, 1, child.destroyed)
		assert.Equal(t, 0, root.destroyed, "root destroyed before ack %d was processed", i+1)

		drain(root.mailbox)
		if i < len(children)-1 {
			assert.Equal(t, 0, root.destroyed, "root destroyed after %d acks", i+1)
		}
	}

	assert.Equal(t, 1, root.destroyed)
	assert.Equal(t, 3, m.sentCount(CommandTermAck))
	assert.Equal(t, 3, m.processedCount(CommandTermAck))
}

func TestOwnLateOwnDelaysDestroy(t *testing.T) {
	c, _ := newTestContext(t)
	root := newTestNode(c, "root")
	child := newTestNode(c, "child")

	// The own command is still queued when the root starts terminating.
	root.launchChild(child)
	root.terminate()
	assert.Equal(t, 0, root.destroyed, "own in flight")

	// Processing the late own terminates the child right away.
	drain(root.mailbox)
	assert.Equal(t, 0, root.destroyed, "child has not acked")
	assert.Equal(t, 1, root.termAcks)

	drain(child.mailbox)
	assert.Equal(t, 1, child.plugged)
	assert.Equal(t, 1, child.destroyed)

	drain(root.mailbox)
	assert.Equal(t, 1, root.destroyed)
}

func TestOwnChildRequestsTermination(t *testing.T) {
	c, m := newTestContext(t)
	root := newTestNode(c, "root")
	child := newTestNode(c, "child")

	root.launchChild(child)
	drain(child.mailbox, root.mailbox)

	child.terminate()
	child.terminate()
	assert.Equal(t, 2, m.sentCount(CommandTermReq))

	drain(root.mailbox)
	assert.Empty(t, root.owned)
	assert.Equal(t, 1, m.sentCount(CommandTerm), "duplicate request ignored")

	drain(child.mailbox, root.mailbox)
	assert.Equal(t, 1, child.destroyed)
	assert.Equal(t, 0, root.destroyed)
	assert.Equal(t, 0, root.termAcks)
}

func TestOwnTermReqWhileTerminating(t *testing.T) {
	c, m := newTestContext(t)
	root := newTestNode(c, "root")
	child := newTestNode(c, "child")

	root.launchChild(child)
	drain(child.mailbox, root.mailbox)

	child.terminate()
	root.terminate()
	drain(root.mailbox)
	assert.Equal(t, 1, m.sentCount(CommandTerm))

	drain(child.mailbox, root.mailbox)
	assert.Equal(t, 1, child.destroyed)
	assert.Equal(t, 1, root.destroyed)
}

func TestOwnDeepTreeDestroysBottomUp(t *testing.T) {
	c, _ := newTestContext(t)

	var order []string
	nodes := make([]*testNode, 4)
	mailboxes := make([]*Mailbox, len(nodes))
	for i := range nodes {
		nodes[i] = newTestNode(c, fmt.Sprintf("level%d", i))
		nodes[i].onDestroy = func(n *testNode) { order = append(order, n.name) }
		mailboxes[i] = nodes[i].mailbox
		if i > 0 {
			nodes[i-1].launchChild(nodes[i])
		}
	}
	drain(mailboxes...)

	nodes[0].terminate()
	drain(mailboxes...)

	assert.Equal(t, []string{"level3", "level2", "level1", "level0"}, order)
	for i, n := range nodes {
		assert.Equal(t, 1, n.destroyed, "node %d", i)
	}
}

func TestOwnInvariants(t *testing.T) {
	c, _ := newTestContext(t)

	t.Run("ack without termination", func(t *testing.T) {
		n := newTestNode(c, "n")
		requireInvariant(t, n.processTermAck)
	})

	t.Run("parent set twice", func(t *testing.T) {
		n := newTestNode(c, "n")
		p := newTestNode(c, "p")
		n.setParent(p)
		requireInvariant(t, func() { n.setParent(p) })
	})

	t.Run("unexpected command", func(t *testing.T) {
		n := newTestNode(c, "n")
		requireInvariant(t, func() {
			dispatch(Command{Destination: n, Type: CommandReaped})
		})
	})

	t.Run("done is not dispatched", func(t *testing.T) {
		n := newTestNode(c, "n")
		requireInvariant(t, func() {
			dispatch(Command{Destination: n, Type: CommandDone})
		})
	})
}
