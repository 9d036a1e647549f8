package broker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

const (
	writeWait = 10 * time.Second
	pongWait  = protocol.HeartbeatTimeout
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the connection's lifecycle:
// 5s auth gate, then hello/subscribe, then steady-state frame dispatch.
// Mirrors the teacher's upgrade-then-spawn-read-loop shape in
// internal/fabric/websocket.go, generalized to the auth/hello state machine
// of §4.3 instead of header-based tenant/agent registration.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("broker: websocket upgrade failed", "error", err)
		return
	}
	s.wsLog.Printf("connection accepted from %s", r.RemoteAddr)
	go s.runWSConnection(conn)
}

func (s *Server) runWSConnection(conn *websocket.Conn) {
	defer conn.Close()

	session, ok := s.authenticateWS(conn)
	if !ok {
		return
	}

	s.registry.Add(session)
	defer func() {
		s.registry.Remove(session)
		s.control.Drop(session)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.wsLog.Printf("read error for %s: %v", session.ClientID, err)
			}
			return
		}
		s.dispatchFrame(conn, session, raw)
	}
}

// authenticateWS implements the connection state machine of §4.3: the first
// in-band frame must be a valid auth within AuthTimeout, or the socket is
// closed with a policy-violation code and a descriptive reason.
func (s *Server) authenticateWS(conn *websocket.Conn) (*Session, bool) {
	conn.SetReadDeadline(time.Now().Add(protocol.AuthTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		closeWS(conn, protocol.ClosePolicyViolation, protocol.ReasonAuthTimeout)
		return nil, false
	}

	frameType, err := protocol.PeekType(raw)
	if err != nil || frameType != protocol.TypeAuth {
		closeWS(conn, protocol.ClosePolicyViolation, protocol.ReasonAuthRequired)
		return nil, false
	}

	var auth protocol.AuthMessage
	if err := json.Unmarshal(raw, &auth); err != nil {
		// Distinct from ReasonAuthRequired above: the first frame *was* an
		// auth frame, it just didn't parse, per §7's "invalid auth" case.
		closeWS(conn, protocol.CloseInvalidSecret, protocol.ReasonInvalidAuth)
		return nil, false
	}

	if auth.Secret != s.secret {
		closeWS(conn, protocol.ClosePolicyViolation, protocol.ReasonInvalidSecretText)
		return nil, false
	}
	if auth.Role != protocol.RoleBridge && auth.Role != protocol.RoleConsumer {
		closeWS(conn, protocol.ClosePolicyViolation, protocol.ReasonInvalidRole)
		return nil, false
	}

	clientID := auth.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	session := NewSession(clientID, auth.Role, newWSSender(conn))

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(protocol.AuthSuccessMessage{
		Type:     protocol.TypeAuthSuccess,
		Role:     auth.Role,
		ClientID: clientID,
	})

	return session, true
}

func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(protocol.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// WriteControl may run concurrently with wsSender's writes.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// dispatchFrame routes one decoded inbound frame by its type discriminator.
// Most malformed frames are logged once and dropped; an invalid hello is a
// protocol violation per §7 and closes the socket with CloseInvalidHello.
func (s *Server) dispatchFrame(conn *websocket.Conn, session *Session, raw []byte) {
	frameType, err := protocol.PeekType(raw)
	if err != nil {
		s.wsLog.Printf("malformed frame from %s: %v", session.ClientID, err)
		return
	}

	switch frameType {
	case protocol.TypePing:
		session.Send(protocol.PongMessage{Type: protocol.TypePong})
	case protocol.TypePong:
		// nothing to do: the read deadline is reset by the gorilla pong
		// handler, which sees only control-frame pongs, not this JSON frame
	case protocol.TypeHello:
		s.handleHello(conn, session, raw)
	case protocol.TypeSubscribe:
		s.handleSubscribe(session, raw)
	case protocol.TypeControlRequest:
		s.handleControlRequest(session, raw)
	case protocol.TypeControlResult:
		s.handleControlResult(session, raw)
	default:
		if session.Role == protocol.RoleBridge {
			s.handleBridgeEvent(session, raw, frameType)
		} else {
			s.wsLog.Printf("unexpected frame type %q from consumer %s", frameType, session.ClientID)
		}
	}
}

func (s *Server) handleHello(conn *websocket.Conn, session *Session, raw []byte) {
	var hello protocol.HelloMessage
	if err := json.Unmarshal(raw, &hello); err != nil {
		s.wsLog.Printf("invalid hello from %s: %v", session.ClientID, err)
		closeWS(conn, protocol.CloseInvalidHello, protocol.ReasonInvalidHelloText)
		return
	}
	protocolVersion := hello.Protocol
	if protocolVersion == 0 {
		protocolVersion = protocol.ProtocolVersion
	}
	session.ApplyHello(hello.Capabilities, hello.Platform, hello.ProjectID, hello.Route, hello.URL, protocolVersion)
	session.Send(protocol.HelloAckMessage{
		Type:     protocol.TypeHelloAck,
		ClientID: session.ClientID,
		Protocol: protocolVersion,
	})
}

func (s *Server) handleSubscribe(session *Session, raw []byte) {
	var sub protocol.SubscribeMessage
	if err := json.Unmarshal(raw, &sub); err != nil {
		s.wsLog.Printf("invalid subscribe from %s: %v", session.ClientID, err)
		return
	}
	normalized := Subscription{
		HighestLevel: protocol.HighestSubscribed(sub.Levels),
		Capabilities: protocol.NewCapabilitySet(sub.Capabilities),
		LLMFilter:    protocol.ParseLLMFilter(sub.LLMFilter),
	}
	session.ApplySubscription(normalized)

	levels := sub.Levels
	if len(levels) == 0 {
		levels = []string{string(protocol.LevelErrors)}
	}
	session.Send(protocol.SubscribeAckMessage{
		Type:         protocol.TypeSubscribeAck,
		ClientID:     session.ClientID,
		Levels:       levels,
		Capabilities: sub.Capabilities,
		LLMFilter:    string(normalized.LLMFilter),
	})
}

func (s *Server) handleBridgeEvent(session *Session, raw []byte, frameType string) {
	var e protocol.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		s.wsLog.Printf("invalid event from %s: %v", session.ClientID, err)
		return
	}
	if e.Type == "" {
		e.Type = frameType
	}
	// Defaults are only filled for HTTP-ingested events and screenshots
	// (spec.md:56); a WS bridge is expected to send complete events for
	// every other type, so they pass through unmodified.
	if strings.EqualFold(e.Type, "screenshot") {
		applyEventDefaults(&e, session)
	}
	s.router.RouteEvent(session, e)
}

func (s *Server) handleControlRequest(session *Session, raw []byte) {
	var req protocol.ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.wsLog.Printf("invalid control_request from %s: %v", session.ClientID, err)
		return
	}
	if session.Role == protocol.RoleConsumer {
		s.control.RouteFromConsumer(session, req)
	} else {
		s.control.RouteFromBridge(session, req)
	}
}

func (s *Server) handleControlResult(session *Session, raw []byte) {
	var result protocol.ControlResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.wsLog.Printf("invalid control_result from %s: %v", session.ClientID, err)
		return
	}
	s.control.RouteResult(result)
}

// applyEventDefaults fills missing timestamp/platform/level fields, and a
// missing message on screenshot events only, per §3's "does not mutate
// events except to fill missing defaults".
func applyEventDefaults(e *protocol.Event, session *Session) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Platform == "" {
		session.mu.Lock()
		e.Platform = session.platform
		session.mu.Unlock()
	}
	if e.Level == "" {
		e.Level = "info"
	}
	if e.Message == "" && strings.EqualFold(e.Type, "screenshot") {
		e.Message = "screenshot captured"
	}
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
