package broker

import (
	"encoding/json"
	"log/slog"
	"net/http"

	socketio "github.com/googollee/go-socket.io"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// socketioSender adapts a Socket.IO connection into a Sender for dashboard
// consumers — an additional consumer-facing transport layered over the
// same Router.Deliver fan-out path WS consumers use, per SPEC_FULL.md's
// domain stack entry for go-socket.io. Dashboard consumers only ever
// receive; they never emit events or control requests through this
// transport, so Sender.Close is the only other method exercised.
type socketioSender struct {
	conn socketio.Conn
}

func (s *socketioSender) Send(frame interface{}) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.conn.Emit("frame", string(raw))
}

func (s *socketioSender) Close() {
	_ = s.conn.Close()
}

// socketIOHandler builds a Socket.IO server whose "auth" and "subscribe"
// events mirror the WS frames of §6, so a dashboard consumer authenticates
// and filters the same way a WS consumer does.
func (s *Server) socketIOHandler() http.Handler {
	sio := socketio.NewServer(nil)

	sio.OnConnect("/", func(conn socketio.Conn) error {
		conn.SetContext(nil)
		return nil
	})

	sio.OnEvent("/", "auth", func(conn socketio.Conn, raw string) {
		var auth protocol.AuthMessage
		if err := json.Unmarshal([]byte(raw), &auth); err != nil || auth.Secret != s.secret {
			conn.Emit("frame", mustJSON(protocol.RateLimitNoticeMessage{
				Type:    protocol.TypeRateLimitNotice,
				Reason:  protocol.ReasonInvalidFormat,
				Message: "invalid secret",
			}))
			_ = conn.Close()
			return
		}
		clientID := auth.ClientID
		if clientID == "" {
			clientID = conn.ID()
		}
		session := NewSession(clientID, protocol.RoleConsumer, &socketioSender{conn: conn})
		s.registry.Add(session)
		conn.SetContext(session)
		conn.Emit("frame", mustJSON(protocol.AuthSuccessMessage{
			Type:     protocol.TypeAuthSuccess,
			Role:     protocol.RoleConsumer,
			ClientID: clientID,
		}))
	})

	sio.OnEvent("/", "subscribe", func(conn socketio.Conn, raw string) {
		session, ok := conn.Context().(*Session)
		if !ok || session == nil {
			return
		}
		var sub protocol.SubscribeMessage
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return
		}
		session.ApplySubscription(Subscription{
			HighestLevel: protocol.HighestSubscribed(sub.Levels),
			Capabilities: protocol.NewCapabilitySet(sub.Capabilities),
			LLMFilter:    protocol.ParseLLMFilter(sub.LLMFilter),
		})
	})

	sio.OnDisconnect("/", func(conn socketio.Conn, reason string) {
		if session, ok := conn.Context().(*Session); ok && session != nil {
			s.registry.Remove(session)
			s.control.Drop(session)
		}
	})

	sio.OnError("/", func(conn socketio.Conn, err error) {
		slog.Warn("broker: socket.io transport error", "error", err)
	})

	go func() {
		if err := sio.Serve(); err != nil {
			slog.Error("broker: socket.io server stopped", "error", err)
		}
	}()

	return sio
}

func mustJSON(v interface{}) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
