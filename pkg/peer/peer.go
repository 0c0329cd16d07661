// Package peer carries feature payloads between the two buds of a pair.
//
// A Channel multiplexes logical channels, one per feature, over a single
// link. Every Send is followed by exactly one transmit confirmation on the
// sender. Connection indications report whether the link came back after a
// loss rather than after a clean disconnect.
//
// Callbacks are run through a dispatcher, so a device can serialize them
// onto its own loop.
package peer

import (
	"errors"
	"sync"

	"github.com/haivivi/twinbud/pkg/feature"
)

// Sentinel errors.
var (
	ErrNotConnected = errors.New("peer: not connected")
	ErrClosed       = errors.New("peer: closed")
)

// ChannelID identifies a logical channel.
type ChannelID uint8

// Logical channels.
const (
	ChannelANC         ChannelID = 1
	ChannelLeakthrough ChannelID = 2
)

// ChannelFor returns the channel carrying feature k.
func ChannelFor(k feature.Kind) ChannelID {
	if k == feature.Leakthrough {
		return ChannelLeakthrough
	}
	return ChannelANC
}

func (c ChannelID) String() string {
	switch c {
	case ChannelANC:
		return "anc"
	case ChannelLeakthrough:
		return "leakthrough"
	default:
		return "unknown"
	}
}

// Status is a transmit outcome.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// Handler receives traffic for one logical channel.
type Handler interface {
	OnMessage(data []byte)
	OnTxConfirm(status Status)
}

// ConnObserver receives connection indications.
type ConnObserver func(connected, wasLinkLoss bool)

// Channel is a link to the peer bud.
type Channel interface {
	// Register routes a logical channel to h, replacing any earlier handler.
	Register(ch ChannelID, h Handler)

	// Observe adds a connection observer.
	Observe(fn ConnObserver)

	Connected() bool

	// PeerAddress identifies the connected peer, or "" when down.
	PeerAddress() string

	// Send transmits data to the connected peer. ErrNotConnected means the
	// caller should apply locally. Otherwise exactly one confirmation
	// follows.
	Send(ch ChannelID, data []byte) error

	Close() error
}

// Dispatcher runs a callback, typically by posting it to a loop.
type Dispatcher func(fn func())

func direct(fn func()) { fn() }

// mux holds handler registrations and fans callbacks out through the
// dispatcher. It is embedded by Channel implementations.
type mux struct {
	dispatch Dispatcher

	mu        sync.Mutex
	handlers  map[ChannelID]Handler
	observers []ConnObserver
}

func newMux(d Dispatcher) mux {
	if d == nil {
		d = direct
	}
	return mux{dispatch: d, handlers: make(map[ChannelID]Handler)}
}

func (m *mux) Register(ch ChannelID, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[ch] = h
}

func (m *mux) Observe(fn ConnObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *mux) handler(ch ChannelID) Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[ch]
}

func (m *mux) deliver(ch ChannelID, data []byte) {
	h := m.handler(ch)
	if h == nil {
		return
	}
	data = append([]byte(nil), data...)
	m.dispatch(func() { h.OnMessage(data) })
}

func (m *mux) confirm(ch ChannelID, status Status) {
	h := m.handler(ch)
	if h == nil {
		return
	}
	m.dispatch(func() { h.OnTxConfirm(status) })
}

func (m *mux) connection(connected, wasLinkLoss bool) {
	m.mu.Lock()
	obs := append([]ConnObserver(nil), m.observers...)
	m.mu.Unlock()
	for _, fn := range obs {
		m.dispatch(func() { fn(connected, wasLinkLoss) })
	}
}
