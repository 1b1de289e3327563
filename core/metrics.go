package core

// Metrics receives kernel events. Implementations must be safe for use from
// every kernel goroutine.
type Metrics interface {
	CommandSent(t CommandType)
	CommandProcessed(t CommandType)
	SocketOpened()
	SocketClosed()
	PipeOpened()
	PipeClosed()
	ObjectTerminated(kind string)
}

type nopMetrics struct{}

func (nopMetrics) CommandSent(CommandType)      {}
func (nopMetrics) CommandProcessed(CommandType) {}
func (nopMetrics) SocketOpened()                {}
func (nopMetrics) SocketClosed()                {}
func (nopMetrics) PipeOpened()                  {}
func (nopMetrics) PipeClosed()                  {}
func (nopMetrics) ObjectTerminated(string)      {}
