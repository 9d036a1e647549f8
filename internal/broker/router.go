package broker

import (
	"strings"
	"sync"
	"time"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// OverloadGuard implements the single rolling window of §4.4.4: every event
// the router touches counts against it, regardless of which bridge sent it
// or which consumers ultimately receive it.
type OverloadGuard struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	window      time.Duration
	limit       int
}

func NewOverloadGuard(window time.Duration, limit int) *OverloadGuard {
	return &OverloadGuard{window: window, limit: limit}
}

// Touch records one more event touched by the router and reports whether
// the window is currently saturated (>= limit events within window), plus
// whether this call is the one that tripped it (the count crossed limit for
// the first time this window).
func (g *OverloadGuard) Touch() (saturated bool, justTripped bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if g.windowStart.IsZero() || now.Sub(g.windowStart) >= g.window {
		g.windowStart = now
		g.count = 0
	}
	wasSaturated := g.count >= g.limit
	g.count++
	saturated = g.count >= g.limit
	return saturated, saturated && !wasSaturated
}

// Deliver implements the per-consumer predicate deliver(e, b, c) of §4.4.
// guard.Touch() must be called exactly once per routed event, before any
// Deliver call for that event, so every consumer sees a consistent
// saturation verdict for the same event. The justTripped return value from
// Touch is metrics-only and has no bearing on Deliver's own verdict.
func Deliver(e protocol.Event, b *Session, c *Session, saturated bool) bool {
	sub := c.GetSubscription()

	// 1. Level gate.
	mapped := protocol.MapLogLevel(e.Level)
	if !protocol.LevelPasses(mapped, sub.HighestLevel) {
		return false
	}

	// 2. Capability gate.
	if cap, gated := protocol.CapabilityForEventType(e.Type); gated {
		if !sub.Capabilities.Has(cap) {
			return false
		}
		if b != nil && b.HelloReceived() && !b.HasCapabilityStrict(cap) {
			return false
		}
	}

	// 3. LLM filter.
	if sub.LLMFilter.Drops(e.Level) {
		return false
	}

	// 4. Overload guard: while saturated, filtered consumers (llm_filter !=
	// off) see only error-level events.
	if saturated && sub.LLMFilter != protocol.LLMFilterOff {
		if mapped != protocol.LevelErrors {
			return false
		}
	}

	return true
}

// deliverWithGuard is a convenience wrapper used outside the hot routing
// path (e.g. the control correlator's bridge->consumer fan-out), where the
// caller supplies a guard rather than a precomputed saturation bit.
func deliverWithGuard(e protocol.Event, b *Session, c *Session, guard *OverloadGuard) bool {
	saturated := false
	if guard != nil {
		saturated = guard.peek()
	}
	return Deliver(e, b, c, saturated)
}

// peek reports current saturation without counting a new touch — used when
// evaluating delivery for a synthetic event (e.g. a control frame) that
// shouldn't itself count against the window.
func (g *OverloadGuard) peek() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.windowStart.IsZero() || time.Since(g.windowStart) >= g.window {
		return false
	}
	return g.count >= g.limit
}

// Router fans a bridge event out to every matching consumer and enforces
// the screenshot rate limit for its owning bridge.
type Router struct {
	registry  *Registry
	guard     *OverloadGuard
	ratelimit *RateLimiter
	metrics   *Metrics
}

func NewRouter(registry *Registry, guard *OverloadGuard, ratelimit *RateLimiter, metrics *Metrics) *Router {
	return &Router{registry: registry, guard: guard, ratelimit: ratelimit, metrics: metrics}
}

// RouteEvent is the entry point for every bridge-originated event frame.
// Screenshot events are additionally subject to the rate limit and the
// invalid-format/no-consumers checks of §4.4's "Screenshot rate limit"
// paragraph; everything else goes straight to fan-out.
func (rt *Router) RouteEvent(b *Session, e protocol.Event) {
	if strings.EqualFold(e.Type, "screenshot") {
		rt.routeScreenshot(b, e)
		return
	}
	rt.fanOut(b, e)
}

func (rt *Router) fanOut(b *Session, e protocol.Event) {
	saturated, justTripped := rt.guard.Touch()
	if rt.metrics != nil {
		rt.metrics.EventsTouched.Inc()
		if justTripped {
			rt.metrics.OverloadTrips.Inc()
		}
	}

	delivered := 0
	for _, c := range rt.registry.Consumers() {
		if Deliver(e, b, c, saturated) {
			c.Send(e)
			delivered++
		}
	}
	if rt.metrics != nil {
		rt.metrics.EventsRouted.Add(float64(delivered))
		if delivered == 0 {
			rt.metrics.EventsDropped.Inc()
		}
	}
}

func (rt *Router) routeScreenshot(b *Session, e protocol.Event) {
	if !b.HasCapabilityStrict(protocol.CapabilityScreenshot) {
		rt.notifyBridge(b, protocol.ReasonMissingCapability, 0, "bridge did not advertise screenshot capability")
		return
	}
	if e.Mime == "" || e.Data == "" {
		rt.notifyBridge(b, protocol.ReasonInvalidFormat, 0, "screenshot event missing mime or data")
		return
	}

	wantingConsumers := rt.registry.ConsumersAccepting(e, b, rt.guard)
	if len(wantingConsumers) == 0 {
		rt.notifyBridge(b, protocol.ReasonNoConsumers, 0, "no consumers currently subscribed to screenshots")
		return
	}

	allowed, retryAfter := b.TryScreenshot(rt.ratelimit.screenshotMinInterval)
	if !allowed {
		if rt.metrics != nil {
			rt.metrics.RateLimitRejections.Inc()
		}
		rt.notifyBridge(b, protocol.ReasonRateLimit, int(retryAfter.Milliseconds()), "screenshot rate limit exceeded")
		return
	}

	rt.fanOut(b, e)
}

func (rt *Router) notifyBridge(b *Session, reason protocol.RateLimitReason, retryAfterMs int, message string) {
	b.Send(protocol.RateLimitNoticeMessage{
		Type:         protocol.TypeRateLimitNotice,
		Reason:       reason,
		RetryAfterMs: retryAfterMs,
		Message:      message,
	})
}
