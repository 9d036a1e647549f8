package protocol

import "strings"

// Level is a subscription tier a consumer opts into. LevelOrder fixes the
// hierarchy: subscribing to a level implies every level before it in this
// slice is also delivered.
type Level string

const (
	LevelErrors Level = "errors"
	LevelWarn   Level = "warn"
	LevelInfo   Level = "info"
	LevelTrace  Level = "trace"
)

// LevelOrder is the canonical hierarchy, least to most verbose.
var LevelOrder = []Level{LevelErrors, LevelWarn, LevelInfo, LevelTrace}

func levelIndex(l Level) int {
	for i, candidate := range LevelOrder {
		if candidate == l {
			return i
		}
	}
	return -1
}

// MapLogLevel maps a raw event's level string onto the LevelOrder hierarchy.
// Unrecognized values (including "log" and anything else) fall back to info,
// per §4.4.
func MapLogLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "error":
		return LevelErrors
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelTrace
	default:
		return LevelInfo
	}
}

// HighestSubscribed returns the highest (most verbose) index among the given
// subscribed levels, case-insensitively, defaulting to LevelErrors when the
// set is empty or contains nothing recognized.
func HighestSubscribed(levels []string) int {
	highest := levelIndex(LevelErrors)
	seenAny := false
	for _, raw := range levels {
		idx := levelIndex(Level(strings.ToLower(strings.TrimSpace(raw))))
		if idx < 0 {
			continue
		}
		seenAny = true
		if idx > highest {
			highest = idx
		}
	}
	if !seenAny {
		return levelIndex(LevelErrors)
	}
	return highest
}

// LevelPasses reports whether an event at mapped level e clears a consumer
// whose highest subscribed index is `highest`.
func LevelPasses(e Level, highest int) bool {
	idx := levelIndex(e)
	if idx < 0 {
		return false
	}
	return idx <= highest
}

// Capability is a coarse event category used for capability-gated routing
// and for a bridge's self-declared feature set.
type Capability string

const (
	CapabilityError      Capability = "error"
	CapabilityConsole    Capability = "console"
	CapabilityPageview   Capability = "pageview"
	CapabilityNavigation Capability = "navigation"
	CapabilityScreenshot Capability = "screenshot"
	CapabilityNetwork    Capability = "network"
	CapabilityControl    Capability = "control"
)

// gatedTypes are the event types subject to the capability gate in §4.4.2.
// Any event type not in this set passes the capability gate unconditionally.
var gatedTypes = map[string]Capability{
	"pageview":   CapabilityPageview,
	"screenshot": CapabilityScreenshot,
	"control":    CapabilityControl,
	"network":    CapabilityNetwork,
	"navigation": CapabilityNavigation,
}

// CapabilityForEventType returns the capability that gates delivery of the
// given event type, and whether the type is gated at all.
func CapabilityForEventType(eventType string) (Capability, bool) {
	cap, ok := gatedTypes[strings.ToLower(eventType)]
	return cap, ok
}

// CapabilitySet is a case-insensitive, order-independent set of capabilities
// used for both bridge-declared and consumer-subscribed capability lists.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet normalizes a raw string slice into a CapabilitySet.
func NewCapabilitySet(raw []string) CapabilitySet {
	set := make(CapabilitySet, len(raw))
	for _, r := range raw {
		set[Capability(strings.ToLower(strings.TrimSpace(r)))] = struct{}{}
	}
	return set
}

// Has reports whether cap is present. An empty set always reports true —
// empty consumer capability sets impose no restriction, per §4.4.2.
func (s CapabilitySet) Has(cap Capability) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[cap]
	return ok
}

// HasStrict is like Has but never treats an empty set as unrestricted. Used
// for the bridge-side check, which is skipped entirely (not "passes") when
// the bridge never sent hello.
func (s CapabilitySet) HasStrict(cap Capability) bool {
	_, ok := s[cap]
	return ok
}

// LLMFilter is a noise-reduction mode a consumer opts into.
type LLMFilter string

const (
	LLMFilterOff        LLMFilter = "off"
	LLMFilterMinimal    LLMFilter = "minimal"
	LLMFilterAggressive LLMFilter = "aggressive"
)

// ParseLLMFilter normalizes a raw filter string, collapsing unknown values
// to "off" per §4.4.4.
func ParseLLMFilter(raw string) LLMFilter {
	switch LLMFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case LLMFilterMinimal:
		return LLMFilterMinimal
	case LLMFilterAggressive:
		return LLMFilterAggressive
	default:
		return LLMFilterOff
	}
}

// Drops reports whether the filter drops an event at the given raw level
// string (the event's own untranslated level field, e.g. "debug", "log").
func (f LLMFilter) Drops(rawLevel string) bool {
	lvl := strings.ToLower(strings.TrimSpace(rawLevel))
	switch f {
	case LLMFilterMinimal:
		return lvl == "debug" || lvl == "log"
	case LLMFilterAggressive:
		return lvl == "debug" || lvl == "log" || lvl == "info"
	default:
		return false
	}
}
