package broker

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// pendingEntry is the broker's record of an in-flight control_request,
// keyed by id (§4.5). Origin is recorded but not read anywhere; routing the
// result back only ever needs replyTo.
type pendingEntry struct {
	replyTo *Session
	origin  protocol.Role
}

// ControlCorrelator tracks pending control_request ids and steers the
// matching control_result back to its originator exactly once.
type ControlCorrelator struct {
	registry *Registry
	guard    *OverloadGuard
	metrics  *Metrics

	mu      sync.Mutex
	pending map[string]pendingEntry

	logger *log.Logger
}

func NewControlCorrelator(registry *Registry, guard *OverloadGuard, metrics *Metrics) *ControlCorrelator {
	return &ControlCorrelator{
		registry: registry,
		guard:    guard,
		metrics:  metrics,
		pending:  make(map[string]pendingEntry),
		logger:   log.New(log.Writer(), "[control] ", log.LstdFlags),
	}
}

// RouteFromConsumer implements the consumer→bridge path of §4.5.
func (cc *ControlCorrelator) RouteFromConsumer(consumer *Session, req protocol.ControlRequest) {
	if req.ID == "" {
		req.ID = consumer.ClientID + "-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	req.Type = protocol.TypeControlRequest

	targets := cc.registry.BridgesWithCapability(protocol.CapabilityControl)
	if len(targets) == 0 {
		consumer.Send(protocol.ControlResult{
			Type: protocol.TypeControlResult,
			ID:   req.ID,
			OK:   false,
			Error: &protocol.ErrorDetail{
				Message: "No bridge with control capability is connected",
			},
		})
		return
	}

	for _, b := range targets {
		b.Send(req)
	}

	cc.record(req.ID, consumer, protocol.RoleConsumer)
	consumer.Send(protocol.ControlForwardedMessage{
		Type:      protocol.TypeControlForward,
		ID:        req.ID,
		Delivered: len(targets),
	})
}

// RouteFromBridge implements the bridge→consumer path of §4.5: symmetric to
// RouteFromConsumer, targeting consumers for which the standard delivery
// predicate passes for a synthetic control-type, info-level event.
func (cc *ControlCorrelator) RouteFromBridge(bridge *Session, req protocol.ControlRequest) {
	if req.ID == "" {
		req.ID = bridge.ClientID + "-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	req.Type = protocol.TypeControlRequest

	probe := protocol.Event{Type: "control", Level: "info"}
	targets := cc.registry.ConsumersAccepting(probe, bridge, cc.guard)
	if len(targets) == 0 {
		bridge.Send(protocol.ControlResult{
			Type: protocol.TypeControlResult,
			ID:   req.ID,
			OK:   false,
			Error: &protocol.ErrorDetail{
				Message: "No consumers connected for control",
			},
		})
		return
	}

	for _, c := range targets {
		c.Send(req)
	}
	cc.record(req.ID, bridge, protocol.RoleBridge)
}

func (cc *ControlCorrelator) record(id string, replyTo *Session, origin protocol.Role) {
	cc.mu.Lock()
	cc.pending[id] = pendingEntry{replyTo: replyTo, origin: origin}
	cc.mu.Unlock()
	if cc.metrics != nil {
		cc.metrics.PendingControlGauge.Inc()
	}
}

// RouteResult forwards an incoming control_result to the recorded replyTo,
// exactly once. Duplicates after the first delivery, or results for
// unknown/expired ids, are silently ignored.
func (cc *ControlCorrelator) RouteResult(result protocol.ControlResult) {
	cc.mu.Lock()
	entry, ok := cc.pending[result.ID]
	if ok {
		delete(cc.pending, result.ID)
	}
	cc.mu.Unlock()
	if !ok {
		return
	}
	if cc.metrics != nil {
		cc.metrics.PendingControlGauge.Dec()
	}
	result.Type = protocol.TypeControlResult
	entry.replyTo.Send(result)
}

// Drop removes every pending entry whose replyTo is the given session,
// called on session disconnect (§3: "remove any pending control entries
// whose replyTo is this session").
func (cc *ControlCorrelator) Drop(s *Session) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	removed := 0
	for id, entry := range cc.pending {
		if entry.replyTo == s {
			delete(cc.pending, id)
			removed++
		}
	}
	if removed > 0 && cc.metrics != nil {
		cc.metrics.PendingControlGauge.Sub(float64(removed))
	}
	if removed > 0 {
		cc.logger.Printf("dropped %d pending control entries for disconnected session %s", removed, s.ClientID)
	}
}
