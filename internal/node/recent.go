package node

import (
	"math"
	"time"
)

const dayMillis = 24 * 60 * 60 * 1000

// FilterRecent keeps the records first seen within the last days days,
// preserving order. days <= 0 disables the filter. Records without a
// positive integer first_seen_ms are dropped.
func FilterRecent(recs []Enriched, days int, now time.Time) []Enriched {
	if days <= 0 {
		return recs
	}
	cutoff := int64(math.MinInt64)
	if int64(days) < math.MaxInt64/dayMillis {
		cutoff = now.UnixMilli() - int64(days)*dayMillis
	}
	out := make([]Enriched, 0, len(recs))
	for _, r := range recs {
		ms, ok := Millis(r.Fields[FieldFirstSeenMs])
		if ok && ms > 0 && ms >= cutoff {
			out = append(out, r)
		}
	}
	return out
}
