package websocket

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/motorline/auction-engine/internal/engine"
)

// newServerConn returns the server side of a real websocket connection.
func newServerConn(t *testing.T) *gws.Conn {
	t.Helper()
	conns := make(chan *gws.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	dialer, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { dialer.Close() })
	return <-conns
}

func registerClient(h *AuctionHandler, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if h.byUser[c.ID] == nil {
		h.byUser[c.ID] = make(map[*Client]bool)
	}
	h.byUser[c.ID][c] = true
}

func TestDisconnectUnregistersBeforeClosingSend(t *testing.T) {
	h := NewAuctionHandler(nil, nil)

	var closedAtRemoval bool
	client := &Client{ID: "alice", Conn: newServerConn(t), Send: make(chan []byte, 1)}
	client.onClose = func(c *Client) {
		// An empty buffered channel only yields a receive once closed.
		select {
		case _, ok := <-c.Send:
			closedAtRemoval = !ok
		default:
		}
		h.removeClient(c)
	}
	registerClient(h, client)

	client.Disconnect()
	require.False(t, closedAtRemoval, "client left the handler after its queue closed")

	h.mu.Lock()
	require.Empty(t, h.clients)
	require.Empty(t, h.byUser)
	h.mu.Unlock()

	// Late traffic for a departed client goes nowhere, without panicking.
	h.Broadcast([]byte(`{}`))
	h.Notify("alice", engine.NotifyOutbid, "outbid")
	client.send([]byte(`{}`))

	// Disconnecting twice is a no-op.
	client.Disconnect()
}

func TestBroadcastDuringDisconnect(t *testing.T) {
	h := NewAuctionHandler(nil, nil)

	clients := make([]*Client, 0, 8)
	for i := 0; i < 8; i++ {
		c := &Client{
			ID:      fmt.Sprintf("user-%d", i),
			Conn:    newServerConn(t),
			Send:    make(chan []byte, 1),
			onClose: h.removeClient,
		}
		registerClient(h, c)
		clients = append(clients, c)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Broadcast([]byte(`{}`))
			h.Notify("user-3", engine.NotifyNewBid, "new bid")
		}
	}()
	for _, c := range clients {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect()
		}()
	}
	wg.Wait()

	h.mu.Lock()
	require.Empty(t, h.clients)
	h.mu.Unlock()
}

func TestSendDropsWhenQueueIsFull(t *testing.T) {
	client := &Client{ID: "alice", Send: make(chan []byte, 1)}
	client.send([]byte(`first`))
	client.send([]byte(`second`))

	require.Equal(t, []byte(`first`), <-client.Send)
	select {
	case extra := <-client.Send:
		t.Fatalf("unexpected queued frame %q", extra)
	default:
	}
}
