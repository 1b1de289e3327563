package core

// SocketType selects the messaging pattern of a socket.
type SocketType int

const (
	// TypePair is an exclusive pair: one peer at a time
	TypePair SocketType = iota + 1
)

// String returns the string representation of SocketType.
func (t SocketType) String() string {
	switch t {
	case TypePair:
		return "pair"
	default:
		return "unknown"
	}
}

// Pattern is the socket-pattern policy plugged into a Socket. It receives
// the pipe callbacks and decides which pipe each message goes to or comes
// from. Every method runs on the socket's goroutine.
type Pattern interface {
	AttachPipe(p *Pipe)
	ReadActivated(p *Pipe)
	WriteActivated(p *Pipe)
	Hiccuped(p *Pipe)
	PipeTerminated(p *Pipe)

	// Send returns ErrAgain when no pipe can take the frame.
	Send(f Frame) error

	// Recv returns ErrAgain when no frame is available.
	Recv() (Frame, error)

	HasIn() bool
	HasOut() bool
}

// PatternFactory creates the pattern state for a new socket.
type PatternFactory func() Pattern

// pairPattern connects the socket to exactly one peer. Additional pipes
// are terminated as soon as they are attached.
type pairPattern struct {
	pipe *Pipe

	// The head of the current outbound message went to a pipe that was
	// rolled back; the remaining parts are discarded.
	dropping bool

	// An outbound message is partially written.
	sending bool
}

// NewPairPattern creates the exclusive-pair pattern.
func NewPairPattern() Pattern {
	return &pairPattern{}
}

func (pp *pairPattern) AttachPipe(p *Pipe) {
	// Only one peer at a time.
	if pp.pipe != nil {
		p.Terminate(false)
		return
	}
	pp.pipe = p
}

func (pp *pairPattern) PipeTerminated(p *Pipe) {
	if p != pp.pipe {
		return
	}
	pp.pipe = nil

	// Whatever was written of an open message went away with the pipe.
	if pp.sending {
		pp.dropping = true
	}
}

func (pp *pairPattern) ReadActivated(*Pipe) {}

func (pp *pairPattern) WriteActivated(*Pipe) {}

func (pp *pairPattern) Hiccuped(*Pipe) {}

func (pp *pairPattern) Send(f Frame) error {
	more := f.More()

	// Swallow the tail of a message whose head was rolled back so that a
	// new peer never receives a headless message.
	if pp.dropping {
		if !more {
			pp.dropping = false
			pp.sending = false
		}
		return nil
	}

	if pp.pipe == nil || !pp.pipe.Write(f) {
		return ErrAgain
	}
	pp.sending = more
	if !more {
		pp.pipe.Flush()
	}
	return nil
}

func (pp *pairPattern) Recv() (Frame, error) {
	if pp.pipe == nil {
		return Frame{}, ErrAgain
	}
	f, ok := pp.pipe.Read()
	if !ok {
		return Frame{}, ErrAgain
	}
	return f, nil
}

func (pp *pairPattern) HasIn() bool {
	return pp.pipe != nil && pp.pipe.CheckRead()
}

func (pp *pairPattern) HasOut() bool {
	return pp.pipe != nil && pp.pipe.CheckWrite()
}
