package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairDropsTailOfRolledBackMessage(t *testing.T) {
	first := newPipeFixture(t, [2]int{0, 0}, [2]bool{true, true})
	pp := NewPairPattern()
	pp.AttachPipe(first.p0)

	require.NoError(t, pp.Send(Frame{Data: []byte("head"), Flags: FlagMore}))
	pp.PipeTerminated(first.p0)

	// The rest of the message goes nowhere, even once a new peer arrives.
	second := newPipeFixture(t, [2]int{0, 0}, [2]bool{true, true})
	pp.AttachPipe(second.p0)
	require.NoError(t, pp.Send(Frame{Data: []byte("body"), Flags: FlagMore}))
	require.NoError(t, pp.Send(Frame{Data: []byte("tail")}))

	require.NoError(t, pp.Send(NewFrame([]byte("next"))))
	assert.Equal(t, []string{"next"}, readAll(second.p1))
}

func TestPairSingleMessageNotDropped(t *testing.T) {
	first := newPipeFixture(t, [2]int{0, 0}, [2]bool{true, true})
	pp := NewPairPattern()
	pp.AttachPipe(first.p0)

	require.NoError(t, pp.Send(NewFrame([]byte("whole"))))
	pp.PipeTerminated(first.p0)

	second := newPipeFixture(t, [2]int{0, 0}, [2]bool{true, true})
	pp.AttachPipe(second.p0)
	require.NoError(t, pp.Send(NewFrame([]byte("next"))))
	assert.Equal(t, []string{"next"}, readAll(second.p1))
}

func TestPairRejectsSecondPipe(t *testing.T) {
	first := newPipeFixture(t, [2]int{0, 0}, [2]bool{true, true})
	extra := newPipeFixture(t, [2]int{0, 0}, [2]bool{true, true})
	pp := NewPairPattern()

	pp.AttachPipe(first.p0)
	pp.AttachPipe(extra.p0)
	assert.Equal(t, pipeTerminated, extra.p0.state)
	assert.Equal(t, pipeActive, first.p0.state)

	// Termination of a pipe the pattern never adopted changes nothing.
	pp.PipeTerminated(extra.p0)
	assert.True(t, pp.HasOut())
}

func TestPairWithoutPeer(t *testing.T) {
	pp := NewPairPattern()

	assert.ErrorIs(t, pp.Send(NewFrame([]byte("x"))), ErrAgain)
	_, err := pp.Recv()
	assert.ErrorIs(t, err, ErrAgain)
	assert.False(t, pp.HasIn())
	assert.False(t, pp.HasOut())
}

func TestPairHasIn(t *testing.T) {
	f := newPipeFixture(t, [2]int{0, 0}, [2]bool{true, true})
	pp := NewPairPattern()
	pp.AttachPipe(f.p1)

	assert.False(t, pp.HasIn())
	require.True(t, f.p0.Write(msg(0)))
	f.p0.Flush()
	f.drainB()
	assert.True(t, pp.HasIn())

	got, err := pp.Recv()
	require.NoError(t, err)
	assert.Equal(t, "msg-0", string(got.Data))
}

func TestPairThirdSocketIgnored(t *testing.T) {
	c, _ := newTestContext(t)
	a, b := newPair(t, c, "inproc://exclusive")

	extra, err := c.CreateSocket(TypePair)
	require.NoError(t, err)
	require.NoError(t, extra.Connect("inproc://exclusive"))

	_ = extra.Send(NewFrame([]byte("from-extra")), DontWait)
	require.NoError(t, b.Send(NewFrame([]byte("from-b")), 0))

	assert.Equal(t, "from-b", recvString(t, a, 0))

	opts := a.Options()
	opts.RecvTimeout = 20 * time.Millisecond
	require.NoError(t, a.SetOptions(opts))
	_, err = a.Recv(0)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.NoError(t, extra.Close())
	terminate(t, c)
}
