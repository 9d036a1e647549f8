package bridgeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// fakeHost is a minimal stand-in for the broker's WS transport, just enough
// to drive the client through auth/hello and exercise a handful of frames.
type fakeHost struct {
	upgrader websocket.Upgrader
	received chan map[string]interface{}
}

func newFakeHost() *fakeHost {
	return &fakeHost{received: make(chan map[string]interface{}, 32)}
}

func (h *fakeHost) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// auth
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var auth map[string]interface{}
	_ = json.Unmarshal(raw, &auth)
	_ = conn.WriteJSON(protocol.AuthSuccessMessage{Type: protocol.TypeAuthSuccess, Role: protocol.RoleBridge, ClientID: "bridge-1"})

	// hello
	_, raw, err = conn.ReadMessage()
	if err != nil {
		return
	}
	var hello map[string]interface{}
	_ = json.Unmarshal(raw, &hello)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]interface{}
		if json.Unmarshal(raw, &frame) != nil {
			continue
		}
		switch frame["type"] {
		case protocol.TypePing:
			_ = conn.WriteJSON(protocol.PongMessage{Type: protocol.TypePong})
		case protocol.TypeControlRequest:
			_ = conn.WriteJSON(protocol.ControlResult{
				Type: protocol.TypeControlResult,
				ID:   frame["id"].(string),
				OK:   true,
				Result: "done",
			})
		default:
			select {
			case h.received <- frame:
			default:
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + srv.URL[len("http"):]
}

func TestClientReachesReadyAndDrainsBuffer(t *testing.T) {
	host := newFakeHost()
	srv := httptest.NewServer(http.HandlerFunc(host.handler))
	defer srv.Close()

	c := New(Config{
		URL:          wsURL(srv),
		Secret:       "s3cret",
		Platform:     "test",
		Capabilities: []string{"console", "error"},
	})

	// enqueue before the socket is up: these must survive in the buffer and
	// drain once ready, in order.
	c.SendEvent(protocol.Event{Type: "console", Level: "info", Message: "one"})
	c.SendEvent(protocol.Event{Type: "console", Level: "info", Message: "two"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		return c.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(host.received) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	first := <-host.received
	second := <-host.received
	require.Equal(t, "one", first["message"])
	require.Equal(t, "two", second["message"])
}

func TestClientReportsDropCountAfterOverflow(t *testing.T) {
	host := newFakeHost()
	srv := httptest.NewServer(http.HandlerFunc(host.handler))
	defer srv.Close()

	c := New(Config{
		URL:         wsURL(srv),
		Secret:      "s3cret",
		Platform:    "test",
		BufferLimit: 2,
	})

	// Client is Idle, never connected: every SendEvent lands in the buffer.
	c.SendEvent(protocol.Event{Type: "console", Message: "a"})
	c.SendEvent(protocol.Event{Type: "console", Message: "b"})
	c.SendEvent(protocol.Event{Type: "console", Message: "c"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		return len(host.received) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	msgs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		frame := <-host.received
		msgs = append(msgs, frame["message"].(string))
	}
	require.Equal(t, []string{"b", "c", "bridge buffered drop count=1"}, msgs)
}

func TestClientControlRoundTrip(t *testing.T) {
	host := newFakeHost()
	srv := httptest.NewServer(http.HandlerFunc(host.handler))
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), Secret: "s3cret", Platform: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		return c.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	res, err := c.SendControlRequest(context.Background(), "ping-back", nil, time.Second)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "done", res.Result)
}

func TestInvokeHandlerRecoversPanic(t *testing.T) {
	c := New(Config{
		URL:    "ws://unused",
		Secret: "x",
		OnControlRequest: func(req protocol.ControlRequest) (interface{}, error) {
			panic("boom")
		},
	})

	_, err := c.invokeHandler(protocol.ControlRequest{Action: "whatever"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "panicked")
}

func TestOutboundBufferDropsOldest(t *testing.T) {
	b := newOutboundBuffer(2)
	b.Push("a")
	b.Push("b")
	b.Push("c")
	items, dropped := b.Drain()
	require.Equal(t, 1, dropped)
	require.Equal(t, []interface{}{"b", "c"}, items)

	items, dropped = b.Drain()
	require.Empty(t, items)
	require.Equal(t, 0, dropped)
}
