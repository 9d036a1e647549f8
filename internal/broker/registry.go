package broker

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/aria-bridge/bridge-host/internal/protocol"
)

// RegistryMetrics tracks registry-wide counters. Add and Remove update them
// under the registry mutex; the fields are atomic so they can be read
// without it, mirroring the teacher's pattern of atomic counters read
// outside any lock.
type RegistryMetrics struct {
	BridgesConnected  atomic.Int32
	ConsumersConnected atomic.Int32
}

// Registry is the session registry of §4.3: it owns the authoritative map
// of live sessions and is the single critical section for add/remove, which
// must not interleave with a disconnect mid-update (§5).
type Registry struct {
	mu        sync.RWMutex
	bridges   map[string]*Session
	consumers map[string]*Session

	metrics RegistryMetrics
	logger  *log.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		bridges:   make(map[string]*Session),
		consumers: make(map[string]*Session),
		logger:    log.New(log.Writer(), "[registry] ", log.LstdFlags),
	}
}

// Add registers a newly authenticated session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch s.Role {
	case protocol.RoleBridge:
		r.bridges[s.ClientID] = s
		r.metrics.BridgesConnected.Add(1)
	case protocol.RoleConsumer:
		r.consumers[s.ClientID] = s
		r.metrics.ConsumersConnected.Add(1)
	}
	r.logger.Printf("session added: %s (%s)", s.ClientID, s.Role)
}

// Remove unregisters a session on disconnect. Safe to call more than once.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch s.Role {
	case protocol.RoleBridge:
		if _, ok := r.bridges[s.ClientID]; ok {
			delete(r.bridges, s.ClientID)
			r.metrics.BridgesConnected.Add(-1)
		}
	case protocol.RoleConsumer:
		if _, ok := r.consumers[s.ClientID]; ok {
			delete(r.consumers, s.ClientID)
			r.metrics.ConsumersConnected.Add(-1)
		}
	}
	r.logger.Printf("session removed: %s (%s)", s.ClientID, s.Role)
}

// Consumers returns a snapshot slice of currently authenticated consumers.
// Routing iterates this snapshot rather than holding the lock for the whole
// fan-out, matching §5's "routing a single event must not suspend".
func (r *Registry) Consumers() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.consumers))
	for _, c := range r.consumers {
		out = append(out, c)
	}
	return out
}

// Bridges returns a snapshot slice of currently authenticated bridges.
func (r *Registry) Bridges() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, b)
	}
	return out
}

// BridgesWithCapability filters Bridges() to those advertising cap.
func (r *Registry) BridgesWithCapability(cap protocol.Capability) []*Session {
	all := r.Bridges()
	out := make([]*Session, 0, len(all))
	for _, b := range all {
		if b.HasCapabilityStrict(cap) {
			out = append(out, b)
		}
	}
	return out
}

// ConsumersAccepting filters Consumers() to those for which deliver(e, b, c)
// holds, per §4.4 — used by the control correlator's bridge→consumer path.
func (r *Registry) ConsumersAccepting(e protocol.Event, b *Session, guard *OverloadGuard) []*Session {
	all := r.Consumers()
	out := make([]*Session, 0, len(all))
	for _, c := range all {
		if deliverWithGuard(e, b, c, guard) {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) BridgeByID(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bridges[clientID]
	return s, ok
}

func (r *Registry) ConsumerByID(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.consumers[clientID]
	return s, ok
}
