package bridgeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// ControlHandler answers a control_request forwarded to this bridge. It may
// block; exceptions (panics) are recovered by the caller so a handler bug
// never terminates the state machine (§4.7.6).
type ControlHandler func(req protocol.ControlRequest) (result interface{}, err error)

// Config configures one bridge client connection, following the teacher's
// pkg/sdk.Config shape: exported fields with a small set of required
// values and the rest defaulted by New.
type Config struct {
	// URL is the WebSocket endpoint to dial, e.g. "ws://127.0.0.1:9230/ws".
	URL string
	// Secret authenticates with the host (§6 auth frame).
	Secret string
	// ClientID is sent in auth; left empty, the host synthesizes one.
	ClientID string

	Capabilities []string
	Platform     string
	ProjectID    string
	Route        string
	AppURL       string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BufferLimit       int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	// OnControlRequest handles control_request frames forwarded to this
	// bridge. A nil handler replies {ok:false} to every request.
	OnControlRequest ControlHandler
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = protocol.HeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = protocol.HeartbeatTimeout
	}
	if c.BufferLimit == 0 {
		c.BufferLimit = protocol.BufferLimit
	}
	if c.ReconnectInitial == 0 {
		c.ReconnectInitial = protocol.ReconnectInitialDelay
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = protocol.ReconnectMaxDelay
	}
}

// Client is the reference bridge client state machine of §4.7.
type Client struct {
	cfg Config

	state stateHolder
	buf   *outboundBuffer

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan protocol.ControlResult

	backoffPolicy *backoff.ExponentialBackOff

	running chan struct{}
	closed  chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

// New constructs a bridge client in the Idle state. Call Start to begin
// connecting.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.ReconnectInitial
	policy.MaxInterval = cfg.ReconnectMax
	policy.Multiplier = 2
	// RandomizationFactor is disabled: §4.7.5 specifies its own jitter
	// (uniform [1.0, 1.5) applied immediately before sleeping), applied in
	// nextDelay rather than via backoff's symmetric-jitter formula.
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0 // never give up
	// The constructor's own Reset ran with the library's default initial
	// interval; reset again so the first delay starts at ReconnectInitial.
	policy.Reset()

	c := &Client{
		cfg:           cfg,
		buf:           newOutboundBuffer(cfg.BufferLimit),
		pending:       make(map[string]chan protocol.ControlResult),
		backoffPolicy: policy,
		running:       make(chan struct{}),
		closed:        make(chan struct{}),
		logger:        slog.Default().With("component", "bridgeclient"),
	}
	return c
}

func (c *Client) State() State { return c.state.Load() }

// Start begins the connect/reconnect loop in a background goroutine. It
// returns immediately.
func (c *Client) Start(ctx context.Context) {
	go c.reconnectLoop(ctx)
}

// Stop implements §4.7.7: cancel timers, close the socket with a
// normal-closure code, do not reconnect.
func (c *Client) Stop() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.state.Store(StateClosed)
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(protocol.CloseNormal, ""),
				time.Now().Add(writeWait))
			_ = c.conn.Close()
		}
		c.connMu.Unlock()
	})
}

func (c *Client) isStopped() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// SendEvent transmits an application event, enqueuing it (drop-oldest) if
// the socket isn't currently ready, per §4.7.3. Thread-safe, non-blocking.
func (c *Client) SendEvent(e protocol.Event) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	e.Message = protocol.TruncateMessage(e.Message)
	if e.Args != nil {
		e.Args = protocol.RedactShallow(e.Args)
	}
	if e.Breadcrumbs != nil {
		e.Breadcrumbs = protocol.RedactBreadcrumbs(e.Breadcrumbs)
	}

	if c.state.Load() == StateReady && c.sendFrame(e) {
		return
	}
	c.buf.Push(e)
}

// SendControlRequest issues a control_request targeting consumers and waits
// up to timeout for the matching control_result, per the "symmetric control
// request/result handling" requirement of §1's purpose statement.
func (c *Client) SendControlRequest(ctx context.Context, action string, args map[string]interface{}, timeout time.Duration) (protocol.ControlResult, error) {
	id := fmt.Sprintf("%s-%d", c.cfg.ClientID, time.Now().UnixMilli())
	replyCh := make(chan protocol.ControlResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = replyCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := protocol.ControlRequest{
		Type:   protocol.TypeControlRequest,
		ID:     id,
		Action: action,
		Args:   args,
	}
	if !c.sendFrame(req) {
		return protocol.ControlResult{}, fmt.Errorf("bridgeclient: not connected")
	}

	deadline := timeout
	if deadline <= 0 {
		deadline = c.cfg.HeartbeatTimeout
	}
	select {
	case res := <-replyCh:
		return res, nil
	case <-time.After(deadline):
		return protocol.ControlResult{}, fmt.Errorf("bridgeclient: control request %s timed out", id)
	case <-ctx.Done():
		return protocol.ControlResult{}, ctx.Err()
	}
}

// sendFrame writes one frame while holding connMu, so writes from the
// caller, the read loop and the heartbeat never run concurrently on the
// socket (gorilla allows a single writer at a time).
func (c *Client) sendFrame(frame interface{}) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame) == nil
}

// reconnectLoop implements §4.7.5: connect, run until closed, then sleep a
// jittered, doubling, capped delay before trying again.
func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		if c.isStopped() || ctx.Err() != nil {
			return
		}

		c.state.Store(StateConnecting)
		err := c.runConnection(ctx)
		if c.isStopped() {
			return
		}
		if err != nil {
			c.logger.Warn("connection attempt failed", "error", err)
		}

		delay := c.nextDelay()
		select {
		case <-time.After(delay):
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// nextDelay returns the base doubling/capped interval from backoffPolicy,
// then applies the spec's own uniform [1.0, 1.5) jitter immediately before
// the caller sleeps.
func (c *Client) nextDelay() time.Duration {
	base := c.backoffPolicy.NextBackOff()
	if base == backoff.Stop {
		base = c.cfg.ReconnectMax
	}
	jitter := 1.0 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

func (c *Client) runConnection(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
	}()

	if err := c.handshake(conn); err != nil {
		return err
	}
	c.backoffPolicy.Reset()

	hbDone := make(chan struct{})
	pongCh := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	go c.heartbeatLoop(conn, pongCh, hbDone)
	defer close(hbDone)

	return c.readLoop(conn, pongCh)
}

// handshake implements §4.7.1-2: auth -> auth_success (within the heartbeat
// timeout window), then hello -> ready, then drain the outbound buffer.
func (c *Client) handshake(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(protocol.AuthMessage{
		Type:     protocol.TypeAuth,
		Secret:   c.cfg.Secret,
		Role:     protocol.RoleBridge,
		ClientID: c.cfg.ClientID,
	}); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
authLoop:
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frameType, err := protocol.PeekType(raw)
		if err != nil {
			continue
		}
		switch frameType {
		case protocol.TypePing:
			_ = conn.WriteJSON(protocol.PongMessage{Type: protocol.TypePong})
			continue
		case protocol.TypeAuthSuccess:
			var ack protocol.AuthSuccessMessage
			if err := json.Unmarshal(raw, &ack); err == nil && ack.ClientID != "" {
				c.cfg.ClientID = ack.ClientID
			}
		default:
			return fmt.Errorf("bridgeclient: expected auth_success, got %q", frameType)
		}
		break authLoop
	}
	// The deadline bounds only the wait for auth_success; liveness from here
	// on is the heartbeat loop's job.
	_ = conn.SetReadDeadline(time.Time{})

	c.state.Store(StateAuthed)

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(protocol.HelloMessage{
		Type:         protocol.TypeHello,
		Capabilities: c.cfg.Capabilities,
		Platform:     c.cfg.Platform,
		ProjectID:    c.cfg.ProjectID,
		Route:        c.cfg.Route,
		URL:          c.cfg.AppURL,
		Protocol:     protocol.ProtocolVersion,
	}); err != nil {
		return err
	}

	c.state.Store(StateReady)
	c.drainBuffer()
	return nil
}

// drainBuffer flushes the outbound buffer in FIFO order and, per §3's
// buffer invariant, appends one info event reporting the drop count if any
// frames were lost to overflow while disconnected.
func (c *Client) drainBuffer() {
	items, dropped := c.buf.Drain()
	for _, item := range items {
		c.sendFrame(item)
	}
	if dropped > 0 {
		c.sendFrame(protocol.Event{
			Type:      "info",
			Level:     "info",
			Message:   fmt.Sprintf("bridge buffered drop count=%d", dropped),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Platform:  c.cfg.Platform,
		})
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, pongCh <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(c.cfg.HeartbeatTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.sendFrame(protocol.PingMessage{Type: protocol.TypePing}) {
				_ = conn.Close()
				return
			}
		case <-pongCh:
			if !timeout.Stop() {
				select {
				case <-timeout.C:
				default:
				}
			}
			timeout.Reset(c.cfg.HeartbeatTimeout)
		case <-timeout.C:
			c.state.Store(StateHeartbeatLost)
			_ = conn.Close()
			return
		case <-done:
			return
		}
	}
}

// readLoop reads frames until the socket fails. JSON pong frames are handed
// to the heartbeat loop through pongCh; everything else goes to dispatchFrame.
func (c *Client) readLoop(conn *websocket.Conn, pongCh chan<- struct{}) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if frameType, err := protocol.PeekType(raw); err == nil && frameType == protocol.TypePong {
			select {
			case pongCh <- struct{}{}:
			default:
			}
			continue
		}
		c.dispatchFrame(raw)
	}
}

func (c *Client) dispatchFrame(raw []byte) {
	frameType, err := protocol.PeekType(raw)
	if err != nil {
		c.logger.Warn("malformed frame from host", "error", err)
		return
	}

	switch frameType {
	case protocol.TypePing:
		c.sendFrame(protocol.PongMessage{Type: protocol.TypePong})
	case protocol.TypePong:
		// consumed by readLoop before dispatch
	case protocol.TypeControlRequest:
		c.handleControlRequest(raw)
	case protocol.TypeControlResult:
		c.handleControlResult(raw)
	case protocol.TypeRateLimitNotice:
		var notice protocol.RateLimitNoticeMessage
		if json.Unmarshal(raw, &notice) == nil {
			c.logger.Info("rate_limit_notice", "reason", notice.Reason, "message", notice.Message)
		}
	default:
		// hello_ack, subscribe_ack, etc. — nothing to act on
	}
}

func (c *Client) handleControlRequest(raw []byte) {
	var req protocol.ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	result, err := c.invokeHandler(req)
	res := protocol.ControlResult{Type: protocol.TypeControlResult, ID: req.ID, OK: err == nil}
	if err != nil {
		res.Error = &protocol.ErrorDetail{Message: err.Error()}
	} else {
		res.Result = result
	}
	c.sendFrame(res)
}

// invokeHandler recovers panics from the registered handler so a bug in
// user code never terminates the state machine (§4.7.6).
func (c *Client) invokeHandler(req protocol.ControlRequest) (result interface{}, err error) {
	if c.cfg.OnControlRequest == nil {
		return nil, fmt.Errorf("no control handler registered")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("control handler panicked: %v", r)
		}
	}()
	return c.cfg.OnControlRequest(req)
}

func (c *Client) handleControlResult(raw []byte) {
	var res protocol.ControlResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[res.ID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

const writeWait = 10 * time.Second
