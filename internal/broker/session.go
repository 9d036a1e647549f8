// Package broker implements the workspace host: session registry, the
// filter & routing engine, the control correlator, and the WebSocket/HTTP/
// Socket.IO transports that all funnel into the same session model.
package broker

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// Sender abstracts the write side of a session so the router can fan out
// to WS consumers, HTTP-polled bridges, and Socket.IO consumers uniformly.
type Sender interface {
	// Send enqueues or transmits a frame. Implementations must be safe for
	// concurrent use and must never block the caller on slow transports.
	Send(frame interface{})
	// Close tears down the underlying transport.
	Close()
}

// wsSender adapts a *websocket.Conn (guarded by its own mutex, since gorilla
// forbids concurrent writers) into a Sender.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

func (s *wsSender) Send(frame interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteJSON(frame)
}

func (s *wsSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}

// Subscription is a consumer's filter configuration from its last subscribe
// frame, normalized per §4.4.
type Subscription struct {
	HighestLevel int
	Capabilities protocol.CapabilitySet
	LLMFilter    protocol.LLMFilter
}

// defaultSubscription is what an un-subscribed consumer gets: errors only,
// no capability restriction, no LLM filtering.
func defaultSubscription() Subscription {
	return Subscription{
		HighestLevel: protocol.HighestSubscribed(nil),
		Capabilities: protocol.CapabilitySet{},
		LLMFilter:    protocol.LLMFilterOff,
	}
}

// Session is one authenticated connection, bridge or consumer, over any
// transport. All mutable fields are guarded by mu.
type Session struct {
	ClientID string
	Role     protocol.Role
	sender   Sender

	mu sync.Mutex

	// Bridge-only fields.
	capabilities      protocol.CapabilitySet
	helloReceived     bool
	platform          string
	projectID         string
	route             string
	url               string
	protocolVersion   int
	lastScreenshotAt  time.Time

	// Consumer-only fields.
	subscription Subscription

	connectedAt time.Time
}

// NewSession constructs a session in the authed state; role-specific fields
// are filled in by a subsequent hello/subscribe frame.
func NewSession(clientID string, role protocol.Role, sender Sender) *Session {
	return &Session{
		ClientID:     clientID,
		Role:         role,
		sender:       sender,
		capabilities: protocol.CapabilitySet{},
		subscription: defaultSubscription(),
		connectedAt:  time.Now(),
	}
}

func (s *Session) Send(frame interface{}) { s.sender.Send(frame) }
func (s *Session) Close()                 { s.sender.Close() }

// ApplyHello records a bridge's advertised capabilities and identity.
func (s *Session) ApplyHello(capabilities []string, platform, projectID, route, url string, protocolVersion int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = protocol.NewCapabilitySet(capabilities)
	s.helloReceived = true
	s.platform = platform
	s.projectID = projectID
	s.route = route
	s.url = url
	s.protocolVersion = protocolVersion
}

// HelloReceived reports whether this bridge has sent hello yet — the
// bridge-side capability check in §4.4.2 is skipped until it has.
func (s *Session) HelloReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.helloReceived
}

// HasCapabilityStrict reports whether this bridge advertised cap in hello.
func (s *Session) HasCapabilityStrict(cap protocol.Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities.HasStrict(cap)
}

// ApplySubscription records a consumer's normalized filter configuration.
func (s *Session) ApplySubscription(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscription = sub
}

// GetSubscription returns the consumer's current filter configuration.
func (s *Session) GetSubscription() Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscription
}

// TryScreenshot atomically checks and, if allowed, updates the per-bridge
// screenshot rate-limit clock. Returns (allowed, retryAfter).
func (s *Session) TryScreenshot(minInterval time.Duration) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if !s.lastScreenshotAt.IsZero() {
		elapsed := now.Sub(s.lastScreenshotAt)
		if elapsed < minInterval {
			return false, minInterval - elapsed
		}
	}
	s.lastScreenshotAt = now
	return true, 0
}
