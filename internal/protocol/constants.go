// Package protocol defines the wire protocol shared by the broker and every
// bridge/consumer client: message shapes, capability and level vocabularies,
// and the canonical timing constants every language SDK must reproduce.
package protocol

import "time"

// Canonical defaults. These are language-neutral: every bridge client SDK
// (this Go reference included) must default to exactly these values.
const (
	ProtocolVersion = 2

	HeartbeatInterval = 15 * time.Second
	HeartbeatTimeout  = 30 * time.Second // must exceed HeartbeatInterval

	ReconnectInitialDelay = 1 * time.Second
	ReconnectMaxDelay     = 30 * time.Second

	BufferLimit = 200

	// AuthTimeout is how long the host waits for the first auth frame
	// before closing a freshly-accepted connection.
	AuthTimeout = 5 * time.Second

	// ScreenshotMinInterval is the minimum spacing between forwarded
	// screenshot events from a single bridge.
	ScreenshotMinInterval = 2 * time.Second

	// OverloadWindow and OverloadLimit define the rolling overload guard:
	// if the router touches OverloadLimit events within OverloadWindow,
	// filtered consumers (llm_filter != off) see only error-level events
	// until the window rolls over.
	OverloadWindow = 10 * time.Second
	OverloadLimit  = 500

	// HTTPSessionStaleness is how long an HTTP-polled bridge session may go
	// without a heartbeat before the sweep reaps it.
	HTTPSessionStaleness = 15 * time.Second

	// LockStaleness is how old a workspace lock's heartbeat may be before a
	// new host is permitted to reclaim it.
	LockStaleness = 15 * time.Second

	// DiscoveryHeartbeatInterval is how often the host rewrites the
	// discovery file's heartbeatAt timestamp.
	DiscoveryHeartbeatInterval = 5 * time.Second

	// MaxMessageLength truncates outbound event messages longer than this
	// many runes, appending an ellipsis and "[truncated]" marker.
	MaxMessageLength = 4000

	// TruncationMarker is appended verbatim after the horizontal ellipsis
	// when a message is truncated.
	TruncationMarker = "[truncated]"
)

func init() {
	if HeartbeatTimeout <= HeartbeatInterval {
		panic("protocol: HEARTBEAT_TIMEOUT_MS must exceed HEARTBEAT_INTERVAL_MS")
	}
}
