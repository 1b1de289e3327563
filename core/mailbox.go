package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/najoast/zkernel/lockfree"
)

// Mailbox is the inbox of one thread slot. Any goroutine may Send; only the
// goroutine driving the slot may Recv.
type Mailbox struct {
	channel *lockfree.Channel[Command]

	// Wakes the reader after it went to sleep. One pending signal at most.
	signal chan struct{}

	// Serializes concurrent senders. Never held while waiting.
	sync sync.Mutex

	// True while the reader has not observed an empty channel.
	active bool

	// Goroutine id of the driving goroutine; 0 means unchecked.
	owner atomic.Uint64
}

func newMailbox() *Mailbox {
	m := &Mailbox{
		channel: lockfree.NewChannel[Command](),
		signal:  make(chan struct{}, 1),
	}

	// Put the reader to sleep so the first Send raises the signal.
	if m.channel.CheckRead() {
		invariant("mailbox", "fresh channel is readable")
	}
	return m
}

// Send posts cmd to the mailbox. It never blocks on the reader.
func (m *Mailbox) Send(cmd Command) {
	m.sync.Lock()
	m.channel.Write(cmd, false)
	ok := m.channel.Flush()
	m.sync.Unlock()

	if !ok {
		select {
		case m.signal <- struct{}{}:
		default:
		}
	}
}

// Recv returns the next command. A negative timeout waits forever and a
// zero timeout does not wait at all. It returns ErrTimeout when no command
// arrived in time and ErrInterrupted when ctx is done first.
func (m *Mailbox) Recv(ctx context.Context, timeout time.Duration) (Command, error) {
	// Try to get the command straight away.
	if m.active {
		if cmd, ok := m.channel.Read(); ok {
			return cmd, nil
		}
		// The channel is empty and the reader is now asleep.
		m.active = false
	}

	if err := m.wait(ctx, timeout); err != nil {
		return Command{}, err
	}

	// A signal is only raised after a flush, so the read cannot fail.
	m.active = true
	cmd, ok := m.channel.Read()
	if !ok {
		invariant("mailbox", "woken with nothing to read")
	}
	return cmd, nil
}

func (m *Mailbox) wait(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		select {
		case <-m.signal:
			return nil
		default:
			return ErrTimeout
		}
	}

	if timeout < 0 {
		select {
		case <-m.signal:
			return nil
		case <-ctx.Done():
			return ErrInterrupted
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.signal:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ErrInterrupted
	}
}

// bind makes the calling goroutine the one driving this mailbox.
func (m *Mailbox) bind() {
	m.owner.Store(goid())
}
