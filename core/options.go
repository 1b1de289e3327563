package core

import (
	"fmt"
	"time"
)

// SocketOptions holds the per-socket settings.
type SocketOptions struct {
	// SendHWM bounds outbound messages per pipe; 0 means unlimited
	SendHWM int

	// RecvHWM bounds inbound messages per pipe; 0 means unlimited
	RecvHWM int

	// Linger is how long pending outbound messages are kept on close;
	// 0 drops them, negative keeps them until delivered
	Linger time.Duration

	// SendTimeout bounds blocking sends; negative waits forever, 0 never blocks
	SendTimeout time.Duration

	// RecvTimeout bounds blocking receives; negative waits forever, 0 never blocks
	RecvTimeout time.Duration
}

// DefaultSocketOptions returns the options new sockets start with.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		SendHWM:     1000,
		RecvHWM:     1000,
		Linger:      0,
		SendTimeout: -1,
		RecvTimeout: -1,
	}
}

// Validate checks the option values.
func (o SocketOptions) Validate() error {
	if o.SendHWM < 0 {
		return fmt.Errorf("send hwm %d: %w", o.SendHWM, ErrInvalidOption)
	}
	if o.RecvHWM < 0 {
		return fmt.Errorf("recv hwm %d: %w", o.RecvHWM, ErrInvalidOption)
	}
	return nil
}
