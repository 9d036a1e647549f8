package broker

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// httpSession is an HTTP-polled bridge's session state: the same identity
// and capability fields as a WS Session, plus the fields unique to polling
// (§3's "For HTTP bridges additionally").
type httpSession struct {
	session *Session

	mu           sync.Mutex
	lastSeen     time.Time
	controlQueue []protocol.ControlRequest
}

func (h *httpSession) Send(frame interface{}) {
	if req, ok := frame.(protocol.ControlRequest); ok {
		h.mu.Lock()
		h.controlQueue = append(h.controlQueue, req)
		h.mu.Unlock()
		return
	}
	// Other frame kinds (rate_limit_notice, hello_ack) are dropped: the only
	// inbound channel an HTTP bridge has is control/poll, and it returns
	// queued control requests only.
}

func (h *httpSession) Close() {}

func (h *httpSession) touch() {
	h.mu.Lock()
	h.lastSeen = time.Now()
	h.mu.Unlock()
}

func (h *httpSession) stale(staleness time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.lastSeen) > staleness
}

func (h *httpSession) drainControlQueue() []protocol.ControlRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	queue := h.controlQueue
	h.controlQueue = nil
	return queue
}

// HTTPBridgeManager adapts polling HTTP bridges into the session model
// shared with WS connections (§4.6). Each sessionId maps to a Session whose
// Sender is this session's own queued-control-frame adapter rather than a
// live socket.
type HTTPBridgeManager struct {
	secret   string
	router   *Router
	control  *ControlCorrelator
	registry *Registry

	mu       sync.Mutex
	sessions map[string]*httpSession

	stopSweep chan struct{}
	logger    *log.Logger
}

func NewHTTPBridgeManager(secret string, router *Router, control *ControlCorrelator, registry *Registry) *HTTPBridgeManager {
	m := &HTTPBridgeManager{
		secret:    secret,
		router:    router,
		control:   control,
		registry:  registry,
		sessions:  make(map[string]*httpSession),
		stopSweep: make(chan struct{}),
		logger:    log.New(log.Writer(), "[http-bridge] ", log.LstdFlags),
	}
	go m.sweepLoop()
	return m
}

func (m *HTTPBridgeManager) StopSweep() {
	close(m.stopSweep)
}

// sweepLoop removes sessions whose lastSeen exceeds HTTPSessionStaleness,
// per §4.6's periodic sweep.
func (m *HTTPBridgeManager) sweepLoop() {
	ticker := time.NewTicker(protocol.HTTPSessionStaleness)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *HTTPBridgeManager) sweep() {
	m.mu.Lock()
	var stale []string
	for id, hs := range m.sessions {
		if hs.stale(protocol.HTTPSessionStaleness) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.disconnect(id)
	}
	if len(stale) > 0 {
		m.logger.Printf("swept %d stale HTTP bridge sessions", len(stale))
	}
}

func (m *HTTPBridgeManager) disconnect(sessionID string) {
	m.mu.Lock()
	hs, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.registry.Remove(hs.session)
	m.control.Drop(hs.session)
}

type connectRequest struct {
	Secret string `json:"secret"`
}

func (m *HTTPBridgeManager) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Secret != m.secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid secret"})
		return
	}

	sessionID := uuid.NewString()
	hs := &httpSession{lastSeen: time.Now()}
	hs.session = NewSession(sessionID, protocol.RoleBridge, hs)

	m.mu.Lock()
	m.sessions[sessionID] = hs
	m.mu.Unlock()

	m.registry.Add(hs.session)
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
}

type helloRequest struct {
	SessionID    string   `json:"sessionId"`
	Capabilities []string `json:"capabilities"`
	Platform     string   `json:"platform"`
	ProjectID    string   `json:"projectId"`
	Route        string   `json:"route"`
	URL          string   `json:"url"`
	Protocol     int      `json:"protocol"`
}

func (m *HTTPBridgeManager) HandleHello(w http.ResponseWriter, r *http.Request) {
	var req helloRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hs, ok := m.lookup(req.SessionID, w)
	if !ok {
		return
	}
	protocolVersion := req.Protocol
	if protocolVersion == 0 {
		protocolVersion = protocol.ProtocolVersion
	}
	hs.session.ApplyHello(req.Capabilities, req.Platform, req.ProjectID, req.Route, req.URL, protocolVersion)
	hs.touch()
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "clientId": hs.session.ClientID})
}

type eventsRequest struct {
	SessionID string           `json:"sessionId"`
	Events    []protocol.Event `json:"events"`
}

func (m *HTTPBridgeManager) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var req eventsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hs, ok := m.lookup(req.SessionID, w)
	if !ok {
		return
	}
	hs.touch()
	for _, e := range req.Events {
		applyEventDefaults(&e, hs.session)
		m.router.RouteEvent(hs.session, e)
	}
	w.WriteHeader(http.StatusNoContent)
}

type controlResultRequest struct {
	SessionID string                 `json:"sessionId"`
	ID        string                 `json:"id"`
	OK        bool                   `json:"ok"`
	Result    interface{}            `json:"result,omitempty"`
	Error     *protocol.ErrorDetail  `json:"error,omitempty"`
}

func (m *HTTPBridgeManager) HandleControlResult(w http.ResponseWriter, r *http.Request) {
	var req controlResultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hs, ok := m.lookup(req.SessionID, w)
	if !ok {
		return
	}
	hs.touch()
	m.control.RouteResult(protocol.ControlResult{
		Type:   protocol.TypeControlResult,
		ID:     req.ID,
		OK:     req.OK,
		Result: req.Result,
		Error:  req.Error,
	})
	w.WriteHeader(http.StatusNoContent)
}

type controlPollRequest struct {
	SessionID string `json:"sessionId"`
	WaitMs    int    `json:"waitMs,omitempty"`
}

// HandleControlPoll implements the short-poll decision of SPEC_FULL.md §E:
// it returns immediately with whatever is queued, ignoring waitMs.
func (m *HTTPBridgeManager) HandleControlPoll(w http.ResponseWriter, r *http.Request) {
	var req controlPollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hs, ok := m.lookup(req.SessionID, w)
	if !ok {
		return
	}
	hs.touch()
	commands := hs.drainControlQueue()
	if commands == nil {
		commands = []protocol.ControlRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": commands})
}

type heartbeatRequest struct {
	SessionID string `json:"sessionId"`
}

func (m *HTTPBridgeManager) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hs, ok := m.lookup(req.SessionID, w)
	if !ok {
		return
	}
	hs.touch()
	w.WriteHeader(http.StatusNoContent)
}

type disconnectRequest struct {
	SessionID string `json:"sessionId"`
}

func (m *HTTPBridgeManager) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m.disconnect(req.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (m *HTTPBridgeManager) lookup(sessionID string, w http.ResponseWriter) (*httpSession, bool) {
	m.mu.Lock()
	hs, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown sessionId"})
		return nil, false
	}
	return hs, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}
