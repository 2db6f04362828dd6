// Package node holds the per-record logic of the proxy: identity resolution,
// field normalization and the recency filter.
package node

import (
	"bytes"
	"encoding/json"
	"time"
)

// Record is one upstream node object. Unknown fields are carried through as-is.
type Record map[string]any

// Proxy-owned output fields.
const (
	FieldKey         = "_key"
	FieldFirstSeenMs = "first_seen_ms"
	FieldFirstSeen   = "first_seen"
	FieldLastSeenISO = "last_seen_iso"
)

// isoLayout renders timestamps with a fixed zero millisecond part.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Enriched is an upstream record plus its identity and first-seen time.
// It marshals as the flat Fields object.
type Enriched struct {
	Key         string
	FirstSeenMs int64
	Fields      Record
}

// MarshalJSON implements json.Marshaler. Strings are not HTML-escaped.
func (e Enriched) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e.Fields); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Enrich copies rec and attaches the identity, the first-seen fields and the
// normalized aliases. rec itself is not modified.
func Enrich(rec Record, key string, firstSeenMs int64) Enriched {
	out := make(Record, len(rec)+9)
	for k, v := range rec {
		out[k] = v
	}
	out[FieldKey] = key
	out[FieldFirstSeenMs] = firstSeenMs
	out[FieldFirstSeen] = FormatMillis(firstSeenMs)
	Normalize(out)
	return Enriched{Key: key, FirstSeenMs: firstSeenMs, Fields: out}
}

// FormatMillis renders epoch milliseconds as a UTC ISO-8601 string with whole seconds.
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Truncate(time.Second).Format(isoLayout)
}
