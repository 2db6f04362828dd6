package node

import (
	"encoding/json"
	"math"
	"strconv"
)

// secondsThreshold separates epoch seconds from epoch milliseconds.
const secondsThreshold = 2_000_000_000_000

// alias copies an upstream field to a stable output name.
type alias struct {
	to   string
	from string
}

var aliases = []alias{
	{to: "name", from: "adv_name"},
	{to: "lat", from: "adv_lat"},
	{to: "lon", from: "adv_lon"},
	{to: "created_at", from: "inserted_date"},
	{to: "updated_at", from: "updated_date"},
}

// lastSeenSources are tried in order for last_seen_iso.
var lastSeenSources = []string{"updated_date", "last_advert", "updated_at"}

// Normalize fills the stable aliases into rec in place. An alias is only
// written when its source is present and the target is not. last_seen_iso
// follows the same rule: an upstream value is kept, otherwise it is derived
// from the first resolvable source and is nil when none resolves.
func Normalize(rec Record) {
	for _, a := range aliases {
		v, ok := rec[a.from]
		if !ok {
			continue
		}
		if _, exists := rec[a.to]; exists {
			continue
		}
		rec[a.to] = v
	}

	if _, exists := rec[FieldLastSeenISO]; exists {
		return
	}
	var lastSeen any
	for _, f := range lastSeenSources {
		if s, ok := ISOFromAny(rec[f]); ok && s != "" {
			lastSeen = s
			break
		}
	}
	rec[FieldLastSeenISO] = lastSeen
}

// ISOFromAny converts an upstream timestamp to ISO-8601.
// Numbers are epoch seconds or milliseconds; strings are returned unchanged.
func ISOFromAny(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		if ms, err := t.Int64(); err == nil {
			return isoFromEpoch(ms)
		}
		f, err := t.Float64()
		if err != nil {
			return "", false
		}
		return isoFromFloat(f)
	case float64:
		return isoFromFloat(t)
	case float32:
		return isoFromFloat(float64(t))
	case int:
		return isoFromEpoch(int64(t))
	case int64:
		return isoFromEpoch(t)
	case int32:
		return isoFromEpoch(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return "", false
		}
		return isoFromEpoch(int64(t))
	default:
		return "", false
	}
}

func isoFromFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return "", false
	}
	return isoFromEpoch(int64(f))
}

// isoFromEpoch does not resolve seconds that overflow once scaled to millis.
func isoFromEpoch(n int64) (string, bool) {
	if n < secondsThreshold {
		if n < math.MinInt64/1000 {
			return "", false
		}
		n *= 1000
	}
	return FormatMillis(n), true
}

// Millis parses an integer epoch-millisecond value as stored in a record.
func Millis(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case json.Number:
		n, err := strconv.ParseInt(t.String(), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
