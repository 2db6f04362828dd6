package node

import (
	"encoding/json"
	"fmt"
	"strings"
)

// identityFields are tried in order; public_key is what the MeshCore map uses.
var identityFields = []string{"public_key", "id", "node_id", "nodeId"}

const (
	fallbackPrefix = "fallback:"
	fallbackLen    = 200
)

// Key returns the identity used for first-seen tracking.
//
// When no identity field holds a non-blank string, the key falls back to a
// prefix of the record's sorted-key JSON encoding. That key changes whenever
// any field of the record changes, so such nodes may be reported as new again.
func Key(rec Record) string {
	for _, f := range identityFields {
		if s, ok := rec[f].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return fallbackPrefix + canonicalPrefix(rec)
}

func canonicalPrefix(rec Record) string {
	// encoding/json sorts map keys, which is all the canonical form needs.
	b, err := json.Marshal(rec)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", map[string]any(rec)))
	}
	r := []rune(string(b))
	if len(r) > fallbackLen {
		r = r[:fallbackLen]
	}
	return string(r)
}

// IsFallback reports whether key was derived from the record body.
func IsFallback(key string) bool {
	return strings.HasPrefix(key, fallbackPrefix)
}
