package peer

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type chanHandler struct {
	msgs     chan []byte
	confirms chan Status
}

func newChanHandler() *chanHandler {
	return &chanHandler{msgs: make(chan []byte, 16), confirms: make(chan Status, 16)}
}

func (h *chanHandler) OnMessage(data []byte)      { h.msgs <- data }
func (h *chanHandler) OnTxConfirm(status Status) { h.confirms <- status }

func waitConn(t *testing.T, ch <-chan connEvent, want connEvent) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("connection event = %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %+v", want)
	}
}

func newLinkPair(t *testing.T) (server, client *Link, sEvents, cEvents chan connEvent, stop func()) {
	t.Helper()
	opts := LinkOptions{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	server = NewLink(opts)
	client = NewLink(opts)
	sEvents = make(chan connEvent, 16)
	cEvents = make(chan connEvent, 16)
	server.Observe(func(c, l bool) { sEvents <- connEvent{c, l} })
	client.Observe(func(c, l bool) { cEvents <- connEvent{c, l} })

	srv := httptest.NewServer(server)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.Dial(ctx, url)
	}()
	stop = func() {
		cancel()
		client.Close()
		server.Close()
		wg.Wait()
		srv.Close()
	}
	return
}

func TestLinkSendAndAck(t *testing.T) {
	server, client, sEvents, cEvents, stop := newLinkPair(t)
	defer stop()
	waitConn(t, sEvents, connEvent{true, false})
	waitConn(t, cEvents, connEvent{true, false})

	if client.PeerAddress() != server.ID().String() {
		t.Errorf("client sees peer %q, want %q", client.PeerAddress(), server.ID())
	}

	sh, ch := newChanHandler(), newChanHandler()
	server.Register(ChannelANC, sh)
	client.Register(ChannelANC, ch)

	if err := client.Send(ChannelANC, []byte{0x2B, 77}); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-sh.msgs:
		if len(got) != 2 || got[0] != 0x2B || got[1] != 77 {
			t.Errorf("server got % x", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message")
	}
	select {
	case st := <-ch.confirms:
		if st != StatusSuccess {
			t.Errorf("confirm = %v", st)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no confirmation")
	}
}

func TestLinkLossAndReconnect(t *testing.T) {
	server, _, sEvents, cEvents, stop := newLinkPair(t)
	defer stop()
	waitConn(t, sEvents, connEvent{true, false})
	waitConn(t, cEvents, connEvent{true, false})

	server.Drop()
	waitConn(t, sEvents, connEvent{false, true})
	waitConn(t, cEvents, connEvent{false, true})

	// The client redials; both sides see the reconnect as following a loss.
	waitConn(t, sEvents, connEvent{true, true})
	waitConn(t, cEvents, connEvent{true, true})
}

func TestLinkCleanClose(t *testing.T) {
	server, client, sEvents, cEvents, stop := newLinkPair(t)
	defer stop()
	waitConn(t, sEvents, connEvent{true, false})
	waitConn(t, cEvents, connEvent{true, false})

	client.Close()
	waitConn(t, cEvents, connEvent{false, false})
	waitConn(t, sEvents, connEvent{false, false})
	if err := client.Send(ChannelANC, []byte{0, 0}); err != ErrClosed {
		t.Errorf("Send after close = %v", err)
	}
	if err := server.Send(ChannelANC, []byte{0, 0}); err != ErrNotConnected {
		t.Errorf("server Send with no peer = %v", err)
	}
}
