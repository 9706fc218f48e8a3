package minitrace

import (
	"fmt"
	"strconv"
)

// TraceID is a 128-bit trace identifier.
type TraceID struct {
	High uint64
	Low  uint64
}

// IsValid reports whether the id is non-zero.
func (id TraceID) IsValid() bool {
	return id.High != 0 || id.Low != 0
}

// String returns the fixed-width, lowercase hex form used on the wire.
func (id TraceID) String() string {
	return fmt.Sprintf("%016x%016x", id.High, id.Low)
}

// ParseTraceID parses the 32 hex digit representation produced by String.
func ParseTraceID(s string) (TraceID, error) {
	if len(s) != 32 {
		return TraceID{}, fmt.Errorf("trace id %q: want 32 hex digits, got %d", s, len(s))
	}
	high, err := parseHex64(s[:16])
	if err != nil {
		return TraceID{}, err
	}
	low, err := parseHex64(s[16:])
	if err != nil {
		return TraceID{}, err
	}
	return TraceID{High: high, Low: low}, nil
}

// FormatSpanID returns the fixed-width, lowercase hex form of a span id.
func FormatSpanID(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

// ParseSpanID parses the 16 hex digit representation produced by FormatSpanID.
func ParseSpanID(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("span id %q: want 16 hex digits, got %d", s, len(s))
	}
	return parseHex64(s)
}

// parseHex64 only takes lowercase digits, the form every writer produces.
func parseHex64(s string) (uint64, error) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return 0, fmt.Errorf("%q is not lowercase hex", s)
		}
	}
	return strconv.ParseUint(s, 16, 64)
}

// SpanContext holds the identity of a span that travels across process
// boundaries. It is a value type; none of its methods mutate the receiver.
type SpanContext struct {
	// Shared by every span of a trace.
	TraceID TraceID

	// Unique within the trace.
	SpanID uint64

	// SpanID of the parent, or 0 for a root span and for contexts that were
	// extracted from a carrier.
	ParentSpanID uint64

	// Decided once at the root of the trace.
	Sampled bool

	// The span's associated baggage. Never mutated in place; see
	// WithBaggageItem.
	Baggage map[string]string
}

// IsValid reports whether both identifiers are set.
func (c SpanContext) IsValid() bool {
	return c.TraceID.IsValid() && c.SpanID != 0
}

// ForeachBaggageItem belongs to the opentracing.SpanContext interface
func (c SpanContext) ForeachBaggageItem(handler func(k, v string) bool) {
	for k, v := range c.Baggage {
		if !handler(k, v) {
			break
		}
	}
}

// BaggageItem returns the value for key, or "" if it is not set. Keys are
// matched case-insensitively.
func (c SpanContext) BaggageItem(key string) string {
	key, ok := normalizeBaggageKey(key)
	if !ok {
		return ""
	}
	return c.Baggage[key]
}

// WithBaggageItem returns an entirely new SpanContext with the given
// key:value baggage pair set. The receiver's map is left untouched. The key
// is lower-cased; a key that cannot travel in a carrier leaves the context
// unchanged.
func (c SpanContext) WithBaggageItem(key, val string) SpanContext {
	key, ok := normalizeBaggageKey(key)
	if !ok {
		return c
	}
	var newBaggage map[string]string
	if c.Baggage == nil {
		newBaggage = map[string]string{key: val}
	} else {
		newBaggage = make(map[string]string, len(c.Baggage)+1)
		for k, v := range c.Baggage {
			newBaggage[k] = v
		}
		newBaggage[key] = val
	}
	// Use positional parameters so the compiler will help catch new fields.
	return SpanContext{c.TraceID, c.SpanID, c.ParentSpanID, c.Sampled, newBaggage}
}

func (c SpanContext) String() string {
	return fmt.Sprintf("%s:%s:%s:%t", c.TraceID, FormatSpanID(c.SpanID), FormatSpanID(c.ParentSpanID), c.Sampled)
}
