package minitrace

import (
	"strings"

	"github.com/lightstep/minitrace-go/internal/randx"
	"golang.org/x/net/http/httpguts"
)

func genSpanID() uint64 {
	return randx.GenSeededGUID()
}

func genTraceID() TraceID {
	high, low := randx.GenSeededGUID2()
	return TraceID{High: high, Low: low}
}

// normalizeBaggageKey lower-cases key and checks that it survives a trip
// through an HTTP header name. Every carrier format uses the same rule so
// that a key accepted here round-trips through all of them.
func normalizeBaggageKey(key string) (string, bool) {
	key = strings.ToLower(key)
	if !httpguts.ValidHeaderFieldName(baggagePrefix + key) {
		return "", false
	}
	return key, key != ""
}

// canonicalBaggage reports whether every key is already in normalized form.
// Contexts with other keys would not survive a round trip.
func canonicalBaggage(baggage map[string]string) bool {
	for k := range baggage {
		if normalized, ok := normalizeBaggageKey(k); !ok || normalized != k {
			return false
		}
	}
	return true
}
