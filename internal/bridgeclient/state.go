// Package bridgeclient is the reference bridge client state machine of
// §4.7: connect, auth/hello handshake, heartbeat, jittered exponential
// reconnect, a drop-oldest outbound buffer, and symmetric control request
// handling. Every language SDK must reproduce this state machine
// bit-for-bit; this is the Go reference implementation.
package bridgeclient

import "sync/atomic"

// State is one of the bridge client's lifecycle states.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAuthed
	StateReady
	StateHeartbeatLost
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthed:
		return "authed"
	case StateReady:
		return "ready"
	case StateHeartbeatLost:
		return "heartbeat_lost"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateHolder is a lock-free atomic state cell; reconnect and heartbeat
// goroutines race to read/transition it, so plain field assignment isn't
// safe.
type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) Load() State     { return State(h.v.Load()) }
func (h *stateHolder) Store(s State)   { h.v.Store(int32(s)) }
func (h *stateHolder) CAS(old, new State) bool {
	return h.v.CompareAndSwap(int32(old), int32(new))
}
