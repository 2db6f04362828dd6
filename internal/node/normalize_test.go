package node_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/meshproxy/internal/node"
)

func TestISOFromAny(t *testing.T) {
	cases := []struct {
		name   string
		in     any
		want   string
		wantOK bool
	}{
		{name: "epoch seconds int", in: int64(1700000000), want: "2023-11-14T22:13:20.000Z", wantOK: true},
		{name: "epoch millis int", in: int64(1700000000123), want: "2023-11-14T22:13:20.000Z", wantOK: true},
		{name: "json number seconds", in: json.Number("1700000000"), want: "2023-11-14T22:13:20.000Z", wantOK: true},
		{name: "json number fractional", in: json.Number("1700000000.9"), want: "2023-11-14T22:13:20.000Z", wantOK: true},
		{name: "float seconds", in: 1700000000.5, want: "2023-11-14T22:13:20.000Z", wantOK: true},
		{name: "threshold is millis", in: int64(2_000_000_000_000), want: "2033-05-18T03:33:20.000Z", wantOK: true},
		{name: "zero", in: 0, want: "1970-01-01T00:00:00.000Z", wantOK: true},
		{name: "string passes through", in: "2024-01-02T03:04:05Z", want: "2024-01-02T03:04:05Z", wantOK: true},
		{name: "seconds overflowing millis", in: json.Number("-9000000000000000000")},
		{name: "negative seconds", in: int64(-86400), want: "1969-12-31T00:00:00.000Z", wantOK: true},
		{name: "nil", in: nil},
		{name: "bool", in: true},
		{name: "object", in: map[string]any{"x": 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := node.ISOFromAny(tc.in)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeAliases(t *testing.T) {
	rec := node.Record{
		"adv_name":      "Node1",
		"adv_lat":       json.Number("1.0"),
		"adv_lon":       json.Number("2.0"),
		"inserted_date": "2024-01-01T00:00:00Z",
		"updated_date":  json.Number("1700000000"),
	}
	node.Normalize(rec)

	assert.Equal(t, "Node1", rec["name"])
	assert.Equal(t, json.Number("1.0"), rec["lat"])
	assert.Equal(t, json.Number("2.0"), rec["lon"])
	assert.Equal(t, "2024-01-01T00:00:00Z", rec["created_at"])
	assert.Equal(t, json.Number("1700000000"), rec["updated_at"])
	assert.Equal(t, "2023-11-14T22:13:20.000Z", rec["last_seen_iso"])
}

func TestNormalizeDoesNotClobber(t *testing.T) {
	rec := node.Record{
		"name":     "Kept",
		"adv_name": "Ignored",
		"lat":      nil,
		"adv_lat":  json.Number("4.5"),
	}
	node.Normalize(rec)

	assert.Equal(t, "Kept", rec["name"])
	assert.Nil(t, rec["lat"])
	_, hasLon := rec["lon"]
	assert.False(t, hasLon, "absent source must not create an alias")
}

func TestNormalizeKeepsUpstreamLastSeen(t *testing.T) {
	cases := []struct {
		name string
		rec  node.Record
		want any
	}{
		{
			name: "source would resolve",
			rec:  node.Record{"last_seen_iso": "2020-01-01T00:00:00.000Z", "updated_date": json.Number("1700000000")},
			want: "2020-01-01T00:00:00.000Z",
		},
		{
			name: "no source resolves",
			rec:  node.Record{"last_seen_iso": "upstream"},
			want: "upstream",
		},
		{
			name: "upstream null",
			rec:  node.Record{"last_seen_iso": nil, "last_advert": "A"},
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node.Normalize(tc.rec)
			v, ok := tc.rec["last_seen_iso"]
			require.True(t, ok)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestNormalizeCopiesNullSource(t *testing.T) {
	rec := node.Record{"adv_name": nil}
	node.Normalize(rec)

	v, ok := rec["name"]
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestNormalizeLastSeenPriority(t *testing.T) {
	cases := []struct {
		name string
		rec  node.Record
		want any
	}{
		{
			name: "updated_date first",
			rec:  node.Record{"updated_date": "U", "last_advert": "A"},
			want: "U",
		},
		{
			name: "last_advert when updated_date missing",
			rec:  node.Record{"last_advert": json.Number("1700000000000")},
			want: "2023-11-14T22:13:20.000Z",
		},
		{
			name: "empty updated_date falls through",
			rec:  node.Record{"updated_date": "", "last_advert": "A"},
			want: "A",
		},
		{
			name: "existing updated_at last",
			rec:  node.Record{"updated_at": "X", "last_advert": true},
			want: "X",
		},
		{
			name: "nothing resolves",
			rec:  node.Record{"last_advert": false},
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node.Normalize(tc.rec)
			assert.Equal(t, tc.want, tc.rec["last_seen_iso"])
		})
	}
}

func TestEnrichEndToEndShape(t *testing.T) {
	var rec node.Record
	dec := json.NewDecoder(strings.NewReader(`{"public_key":"abc","adv_name":"Node1","adv_lat":1.0,"adv_lon":2.0,"updated_date":1700000000}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&rec))

	e := node.Enrich(rec, node.Key(rec), 1700000001234)
	assert.Equal(t, "abc", e.Key)
	assert.Equal(t, int64(1700000001234), e.FirstSeenMs)
	_, touched := rec["_key"]
	assert.False(t, touched, "input record must not be modified")

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "abc", got["_key"])
	assert.Equal(t, "Node1", got["name"])
	assert.InDelta(t, 1.0, got["lat"], 0)
	assert.InDelta(t, 2.0, got["lon"], 0)
	assert.InDelta(t, float64(1700000001234), got["first_seen_ms"], 0)
	assert.Equal(t, "2023-11-14T22:13:21.000Z", got["first_seen"])
	assert.Equal(t, "2023-11-14T22:13:20.000Z", got["last_seen_iso"])
	assert.Contains(t, string(b), `"lat":1.0`, "numbers keep their upstream text")
}
