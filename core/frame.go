package core

// FrameFlags carries per-frame bits.
type FrameFlags uint8

const (
	// FlagMore marks a frame that is followed by more parts of the same message
	FlagMore FrameFlags = 1 << iota

	// flagDelimiter marks the end-of-stream sentinel written on pipe termination
	flagDelimiter
)

// Frame is one part of a message moving through a pipe.
type Frame struct {
	Data  []byte
	Flags FrameFlags
}

// NewFrame creates a single-part frame.
func NewFrame(data []byte) Frame {
	return Frame{Data: data}
}

// More reports whether more parts of the same message follow.
func (f Frame) More() bool {
	return f.Flags&FlagMore != 0
}

func (f Frame) isDelimiter() bool {
	return f.Flags&flagDelimiter != 0
}

func delimiterFrame() Frame {
	return Frame{Flags: flagDelimiter}
}

func isDelimiter(f *Frame) bool {
	return f.isDelimiter()
}

// Flags modify Send and Recv.
type Flags int

const (
	// DontWait makes Send and Recv return ErrAgain instead of blocking
	DontWait Flags = 1 << iota

	// SendMore marks the frame as a non-final part of a message
	SendMore
)
