package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

var errBusy = errors.New("peer: already connected")

// Subprotocol is the WebSocket subprotocol spoken by Link.
const Subprotocol = "twinbud.v1"

const (
	linkInitialBackoff = 2 * time.Second
	linkMaxBackoff     = 60 * time.Second
	linkWriteTimeout   = 5 * time.Second
	linkHelloTimeout   = 5 * time.Second
)

type frameType uint8

const (
	frameHello frameType = iota + 1
	frameData
	frameAck
	frameBye
)

// frame is the msgpack envelope of every WebSocket message.
type frame struct {
	Type    frameType `msgpack:"t"`
	Seq     uint64    `msgpack:"s,omitempty"`
	Channel ChannelID `msgpack:"c,omitempty"`
	Payload []byte    `msgpack:"p,omitempty"`
	ID      string    `msgpack:"id,omitempty"`
}

// LinkOptions configures a Link.
type LinkOptions struct {
	// DeviceID identifies this bud in the hello exchange. Default is a
	// random UUID.
	DeviceID uuid.UUID

	Dispatch Dispatcher
	Logger   *slog.Logger

	// Redial backoff bounds. Defaults are 2s and 60s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Link is a Channel over a WebSocket connection. One bud serves it with
// ServeHTTP, the other connects with Dial. A connection that ends without a
// bye frame is a link loss.
type Link struct {
	mux
	id             uuid.UUID
	log            *slog.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
	upgrader       websocket.Upgrader

	mu      sync.Mutex
	sess    *session
	lost    bool
	closed  bool
	closeCh chan struct{}
}

type session struct {
	ws     *websocket.Conn
	peerID uuid.UUID

	writeMu sync.Mutex

	// Guarded by Link.mu.
	seq  uint64
	acks map[uint64]ChannelID
	bye  bool
}

var _ Channel = (*Link)(nil)

// NewLink returns an idle link.
func NewLink(opts LinkOptions) *Link {
	l := &Link{
		mux:            newMux(opts.Dispatch),
		id:             opts.DeviceID,
		log:            opts.Logger,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		closeCh:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
	}
	if l.id == uuid.Nil {
		l.id = uuid.New()
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.initialBackoff <= 0 {
		l.initialBackoff = linkInitialBackoff
	}
	if l.maxBackoff < l.initialBackoff {
		l.maxBackoff = max(linkMaxBackoff, l.initialBackoff)
	}
	return l
}

// ID returns this bud's device id.
func (l *Link) ID() uuid.UUID { return l.id }

func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess != nil
}

func (l *Link) PeerAddress() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess == nil {
		return ""
	}
	return l.sess.peerID.String()
}

func (l *Link) Send(ch ChannelID, data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	s := l.sess
	if s == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	s.seq++
	seq := s.seq
	s.acks[seq] = ch
	l.mu.Unlock()

	err := s.write(&frame{Type: frameData, Seq: seq, Channel: ch, Payload: data})
	if err != nil {
		l.log.Warn("peer: write failed", "channel", ch, "err", err)
		l.mu.Lock()
		_, owed := s.acks[seq]
		delete(s.acks, seq)
		l.mu.Unlock()
		if owed {
			l.confirm(ch, StatusFailure)
		}
	}
	return nil
}

func (s *session) write(f *frame) error {
	b, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("peer: marshal frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ws.SetWriteDeadline(time.Now().Add(linkWriteTimeout)); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.BinaryMessage, b)
}

func readFrame(ws *websocket.Conn) (*frame, error) {
	_, b, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("peer: unmarshal frame: %w", err)
	}
	return &f, nil
}

// ServeHTTP accepts the peer's WebSocket connection. Only one peer is
// served at a time.
func (l *Link) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	busy, closed := l.sess != nil, l.closed
	l.mu.Unlock()
	if closed {
		http.Error(w, "link closed", http.StatusServiceUnavailable)
		return
	}
	if busy {
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("peer: upgrade failed", "err", err)
		return
	}
	if err := l.serve(r.Context(), ws); err != nil {
		l.log.Warn("peer: session ended", "err", err)
	}
}

// Dial connects to a peer served at url and keeps reconnecting with
// backoff until ctx is done or the link is closed.
func (l *Link) Dial(ctx context.Context, url string) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: linkHelloTimeout,
	}
	backoff := l.initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.isClosed() {
			return ErrClosed
		}

		ws, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			l.log.Warn("peer: dial failed", "url", url, "retry_in", backoff, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.closeCh:
				return ErrClosed
			case <-time.After(backoff):
				backoff = min(backoff*2, l.maxBackoff)
				continue
			}
		}

		backoff = l.initialBackoff
		if err := l.serve(ctx, ws); err != nil {
			l.log.Info("peer: connection lost, reconnecting", "err", err)
		}
	}
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// serve runs one session on ws until it ends.
func (l *Link) serve(ctx context.Context, ws *websocket.Conn) error {
	s := &session{ws: ws, acks: make(map[uint64]ChannelID)}
	defer ws.Close()

	if err := s.write(&frame{Type: frameHello, ID: l.id.String()}); err != nil {
		return fmt.Errorf("peer: hello: %w", err)
	}
	if err := ws.SetReadDeadline(time.Now().Add(linkHelloTimeout)); err != nil {
		return err
	}
	hello, err := readFrame(ws)
	if err != nil {
		return fmt.Errorf("peer: hello: %w", err)
	}
	if hello.Type != frameHello {
		return errors.New("peer: expected hello")
	}
	if s.peerID, err = uuid.Parse(hello.ID); err != nil {
		return fmt.Errorf("peer: hello id: %w", err)
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.sess != nil {
		l.mu.Unlock()
		return errBusy
	}
	l.sess = s
	lost := l.lost
	l.lost = false
	l.mu.Unlock()

	l.log.Info("peer: connected", "peer", s.peerID, "after_link_loss", lost)
	l.connection(true, lost)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.sayBye(s)
			ws.Close()
		case <-l.closeCh:
			ws.Close()
		case <-stop:
		}
	}()

	err = l.readLoop(s)
	l.end(s)
	return err
}

func (l *Link) readLoop(s *session) error {
	for {
		f, err := readFrame(s.ws)
		if err != nil {
			return err
		}
		switch f.Type {
		case frameData:
			l.deliver(f.Channel, f.Payload)
			if err := s.write(&frame{Type: frameAck, Seq: f.Seq}); err != nil {
				return err
			}
		case frameAck:
			l.mu.Lock()
			ch, ok := s.acks[f.Seq]
			delete(s.acks, f.Seq)
			l.mu.Unlock()
			if ok {
				l.confirm(ch, StatusSuccess)
			}
		case frameBye:
			l.mu.Lock()
			s.bye = true
			l.mu.Unlock()
		default:
			l.log.Debug("peer: ignore frame", "type", f.Type)
		}
	}
}

// end detaches s, fails outstanding sends and reports the disconnect.
func (l *Link) end(s *session) {
	l.mu.Lock()
	if l.sess == s {
		l.sess = nil
	}
	lost := !s.bye
	l.lost = lost
	owed := make([]ChannelID, 0, len(s.acks))
	for _, ch := range s.acks {
		owed = append(owed, ch)
	}
	s.acks = map[uint64]ChannelID{}
	l.mu.Unlock()

	for _, ch := range owed {
		l.confirm(ch, StatusFailure)
	}
	l.log.Info("peer: disconnected", "peer", s.peerID, "link_loss", lost)
	l.connection(false, lost)
}

func (l *Link) sayBye(s *session) {
	l.mu.Lock()
	s.bye = true
	l.mu.Unlock()
	if err := s.write(&frame{Type: frameBye}); err != nil {
		l.log.Debug("peer: bye", "err", err)
	}
}

// Drop closes the current connection without a bye, as a radio link loss
// would.
func (l *Link) Drop() {
	l.mu.Lock()
	s := l.sess
	l.mu.Unlock()
	if s != nil {
		s.ws.Close()
	}
}

// Close says bye to the peer and stops serving and dialing.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	s := l.sess
	l.mu.Unlock()

	if s != nil {
		l.sayBye(s)
	}
	close(l.closeCh)
	return nil
}
