package peer

import (
	"sync"
)

// NewPipe returns the two ends of an in-process link, initially
// disconnected. Each end runs its callbacks through its own dispatcher.
func NewPipe(a, b Dispatcher) (*PipeEnd, *PipeEnd) {
	shared := &pipeShared{}
	ea := &PipeEnd{mux: newMux(a), shared: shared, name: "pipe-a"}
	eb := &PipeEnd{mux: newMux(b), shared: shared, name: "pipe-b"}
	ea.other, eb.other = eb, ea
	return ea, eb
}

type pipeShared struct {
	mu        sync.Mutex
	connected bool
	lost      bool // the last disconnect was a link loss
	closed    bool
}

// PipeEnd is one end of an in-process link.
type PipeEnd struct {
	mux
	shared *pipeShared
	other  *PipeEnd
	name   string

	failMu   sync.Mutex
	failNext int
}

var _ Channel = (*PipeEnd)(nil)

// Connect brings the link up and notifies both ends.
func (p *PipeEnd) Connect() {
	s := p.shared
	s.mu.Lock()
	if s.connected || s.closed {
		s.mu.Unlock()
		return
	}
	s.connected = true
	lost := s.lost
	s.lost = false
	s.mu.Unlock()

	p.connection(true, lost)
	p.other.connection(true, lost)
}

// Drop takes the link down as a link loss.
func (p *PipeEnd) Drop() { p.down(true) }

// Disconnect takes the link down cleanly.
func (p *PipeEnd) Disconnect() { p.down(false) }

func (p *PipeEnd) down(lost bool) {
	s := p.shared
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.lost = lost
	s.mu.Unlock()

	p.connection(false, lost)
	p.other.connection(false, lost)
}

// FailNext makes the next n sends from this end fail without delivery.
func (p *PipeEnd) FailNext(n int) {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	p.failNext = n
}

func (p *PipeEnd) Connected() bool {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	return p.shared.connected
}

func (p *PipeEnd) PeerAddress() string {
	if !p.Connected() {
		return ""
	}
	return p.other.name
}

func (p *PipeEnd) Send(ch ChannelID, data []byte) error {
	p.shared.mu.Lock()
	closed, connected := p.shared.closed, p.shared.connected
	p.shared.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}

	p.failMu.Lock()
	fail := p.failNext > 0
	if fail {
		p.failNext--
	}
	p.failMu.Unlock()
	if fail {
		p.confirm(ch, StatusFailure)
		return nil
	}

	p.other.deliver(ch, data)
	p.confirm(ch, StatusSuccess)
	return nil
}

// Close disconnects both ends permanently.
func (p *PipeEnd) Close() error {
	p.Disconnect()
	p.shared.mu.Lock()
	p.shared.closed = true
	p.shared.mu.Unlock()
	return nil
}
