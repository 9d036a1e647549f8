package protocol

import "encoding/json"

// Role classifies an authenticated session.
type Role string

const (
	RoleBridge   Role = "bridge"
	RoleConsumer Role = "consumer"
)

// Frame types, the literal values of every message's "type" field.
const (
	TypeAuth            = "auth"
	TypeAuthSuccess     = "auth_success"
	TypeHello           = "hello"
	TypeHelloAck        = "hello_ack"
	TypeSubscribe       = "subscribe"
	TypeSubscribeAck    = "subscribe_ack"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeControlRequest  = "control_request"
	TypeControlResult   = "control_result"
	TypeControlForward  = "control_forwarded"
	TypeRateLimitNotice = "rate_limit_notice"
)

// Envelope is the minimal shape every frame must satisfy: a non-empty "type"
// discriminator. PeekType extracts it without committing to a concrete
// message struct, so the router can dispatch before fully decoding.
type Envelope struct {
	Type string `json:"type"`
}

// PeekType extracts the "type" discriminator from a raw frame. Returns an
// error if the frame is not a JSON object or the type field is missing,
// non-string, or empty — callers treat this as a malformed inbound frame
// (logged once, dropped, connection not torn down outside the auth phase).
func PeekType(raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", errEmptyType
	}
	return env.Type, nil
}

var errEmptyType = jsonTypeError("missing or empty \"type\" field")

type jsonTypeError string

func (e jsonTypeError) Error() string { return string(e) }

// AuthMessage is the client's first frame on every transport.
type AuthMessage struct {
	Type     string `json:"type"`
	Secret   string `json:"secret"`
	Role     Role   `json:"role"`
	ClientID string `json:"clientId,omitempty"`
}

// AuthSuccessMessage is the host's reply once the shared secret checks out.
type AuthSuccessMessage struct {
	Type     string `json:"type"`
	Role     Role   `json:"role"`
	ClientID string `json:"clientId"`
}

// HelloMessage advertises a bridge's capabilities and identity.
type HelloMessage struct {
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Platform     string   `json:"platform"`
	ProjectID    string   `json:"projectId,omitempty"`
	Route        string   `json:"route,omitempty"`
	URL          string   `json:"url,omitempty"`
	Protocol     int      `json:"protocol"`
}

// HelloAckMessage acknowledges a hello.
type HelloAckMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Protocol int    `json:"protocol"`
}

// SubscribeMessage registers a consumer's filter configuration.
type SubscribeMessage struct {
	Type         string   `json:"type"`
	Levels       []string `json:"levels"`
	Capabilities []string `json:"capabilities,omitempty"`
	LLMFilter    string   `json:"llm_filter,omitempty"`
}

// SubscribeAckMessage echoes the normalized subscription back.
type SubscribeAckMessage struct {
	Type         string   `json:"type"`
	ClientID     string   `json:"clientId"`
	Levels       []string `json:"levels"`
	Capabilities []string `json:"capabilities"`
	LLMFilter    string   `json:"llm_filter"`
}

// PingMessage and PongMessage are the heartbeat frames.
type PingMessage struct {
	Type string `json:"type"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// Event is a bridge-emitted event. The broker only fills in defaults for
// missing timestamp/platform/level/message on HTTP-ingested events and
// screenshots — it never otherwise mutates the payload. Metadata carries
// any forward-compatible fields the router doesn't know about, per the
// "any-typed payloads" redesign note.
type Event struct {
	Type      string `json:"type"`
	Level     string `json:"level,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Platform  string `json:"platform,omitempty"`
	ProjectID string `json:"projectId,omitempty"`

	Stack string `json:"stack,omitempty"`
	URL   string `json:"url,omitempty"`
	Route string `json:"route,omitempty"`

	Mime string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"`

	Args        map[string]interface{}   `json:"args,omitempty"`
	Breadcrumbs []map[string]interface{} `json:"breadcrumbs,omitempty"`

	Navigation map[string]interface{} `json:"navigation,omitempty"`
	Network    map[string]interface{} `json:"network,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ErrorDetail is the error payload inside a failed control_result.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// ControlRequest is issued by either a consumer (targeting bridges) or a
// bridge (targeting consumers).
type ControlRequest struct {
	Type          string                 `json:"type"`
	ID            string                 `json:"id,omitempty"`
	Action        string                 `json:"action"`
	Args          map[string]interface{} `json:"args,omitempty"`
	Code          string                 `json:"code,omitempty"`
	ExpectResult  bool                   `json:"expectResult,omitempty"`
	TimeoutMs     int                    `json:"timeoutMs,omitempty"`
}

// ControlResult answers a ControlRequest by id.
type ControlResult struct {
	Type   string       `json:"type"`
	ID     string       `json:"id"`
	OK     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ControlForwardedMessage tells the originating consumer how many
// counterparts a control_request was delivered to.
type ControlForwardedMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Delivered int    `json:"delivered"`
}

// RateLimitReason enumerates why a screenshot event was not forwarded.
type RateLimitReason string

const (
	ReasonMissingCapability RateLimitReason = "missing_capability"
	ReasonRateLimit         RateLimitReason = "rate_limit"
	ReasonNoConsumers       RateLimitReason = "no_consumers"
	ReasonInvalidFormat     RateLimitReason = "invalid_format"
)

// RateLimitNoticeMessage is sent back to a bridge whose screenshot event was
// not forwarded.
type RateLimitNoticeMessage struct {
	Type         string          `json:"type"`
	Reason       RateLimitReason `json:"reason"`
	RetryAfterMs int             `json:"retryAfterMs,omitempty"`
	Message      string          `json:"message"`
}
