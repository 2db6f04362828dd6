package enrich_test

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/meshproxy/internal/enrich"
	"github.com/gyaneshwarpardhi/meshproxy/internal/node"
	"github.com/gyaneshwarpardhi/meshproxy/internal/seen"
)

// memBackend keeps state in memory and counts saves.
type memBackend struct {
	state map[string]int64
	saves atomic.Int32
	fail  bool
}

func (m *memBackend) Load() (map[string]int64, error) {
	out := make(map[string]int64, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out, nil
}

func (m *memBackend) Save(s seen.Snapshot) error {
	m.saves.Add(1)
	if m.fail {
		return errors.New("read-only filesystem")
	}
	m.state = make(map[string]int64, len(s.FirstSeen))
	for k, v := range s.FirstSeen {
		m.state[k] = v
	}
	return nil
}

func (m *memBackend) Describe() string { return "memory" }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newPipeline(t *testing.T, b seen.Backend, c *clock) *enrich.Pipeline {
	t.Helper()
	store, err := seen.Open(b, nil)
	require.NoError(t, err)
	return enrich.New(store, enrich.WithClock(c.now))
}

func TestEnrichIsIdempotent(t *testing.T) {
	backend := &memBackend{}
	c := &clock{t: time.UnixMilli(1_700_000_000_000)}
	p := newPipeline(t, backend, c)

	nodes := []any{map[string]any{"public_key": "abc", "adv_name": "Node1"}}

	first, err := p.Enrich(nodes)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, int64(1_700_000_000_000), first[0].FirstSeenMs)

	c.t = c.t.Add(time.Minute)
	second, err := p.Enrich(nodes)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].FirstSeenMs, second[0].FirstSeenMs)
	assert.EqualValues(t, 1, backend.saves.Load(), "second pass adds nothing and does not flush")
}

func TestEnrichSkipsNonObjectsAndKeepsOrder(t *testing.T) {
	backend := &memBackend{}
	p := newPipeline(t, backend, &clock{t: time.UnixMilli(5000)})

	out, err := p.Enrich([]any{
		map[string]any{"public_key": "c"},
		"not a node",
		float64(3),
		nil,
		[]any{1, 2},
		map[string]any{"public_key": "a"},
		map[string]any{"public_key": "b"},
	})
	require.NoError(t, err)

	keys := make([]string, 0, len(out))
	for _, e := range out {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"c", "a", "b"}, keys)
	assert.EqualValues(t, 1, backend.saves.Load(), "one flush for the whole batch")
	assert.Len(t, backend.state, 3)
}

func TestEnrichSharesIdentityAcrossChangingFields(t *testing.T) {
	backend := &memBackend{}
	c := &clock{t: time.UnixMilli(1000)}
	p := newPipeline(t, backend, c)

	_, err := p.Enrich([]any{map[string]any{"public_key": "abc", "adv_name": "Old", "adv_lat": 1.0}})
	require.NoError(t, err)

	c.t = time.UnixMilli(9000)
	out, err := p.Enrich([]any{map[string]any{"public_key": "abc", "adv_name": "New", "adv_lat": 9.0}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1000), out[0].FirstSeenMs)
	assert.Equal(t, "New", out[0].Fields["name"])
}

func TestEnrichReappearingNodeKeepsFirstSeen(t *testing.T) {
	backend := &memBackend{}
	c := &clock{t: time.UnixMilli(1000)}
	p := newPipeline(t, backend, c)

	_, err := p.Enrich([]any{map[string]any{"public_key": "gone"}})
	require.NoError(t, err)

	c.t = time.UnixMilli(2000)
	_, err = p.Enrich([]any{map[string]any{"public_key": "other"}})
	require.NoError(t, err)

	c.t = time.UnixMilli(3000)
	out, err := p.Enrich([]any{map[string]any{"public_key": "gone"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), out[0].FirstSeenMs)
}

func TestEnrichProxyFieldsAlwaysSet(t *testing.T) {
	p := newPipeline(t, &memBackend{}, &clock{t: time.UnixMilli(1_700_000_000_000)})

	out, err := p.Enrich([]any{map[string]any{
		"public_key":    "abc",
		"_key":          "upstream-value",
		"first_seen_ms": "upstream-value",
	}})
	require.NoError(t, err)
	f := out[0].Fields
	assert.Equal(t, "abc", f[node.FieldKey])
	assert.Equal(t, int64(1_700_000_000_000), f[node.FieldFirstSeenMs])
	assert.Equal(t, "2023-11-14T22:13:20.000Z", f[node.FieldFirstSeen])
}

func TestEnrichFlushFailureIsReported(t *testing.T) {
	backend := &memBackend{fail: true}
	p := newPipeline(t, backend, &clock{t: time.UnixMilli(1000)})

	out, err := p.Enrich([]any{map[string]any{"public_key": "abc"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only filesystem")
	assert.Len(t, out, 1, "records are still returned")
}

func TestEnrichPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	c := &clock{t: time.UnixMilli(1000)}

	p := newPipeline(t, seen.NewJSONFile(path, nil), c)
	_, err := p.Enrich([]any{map[string]any{"public_key": "X"}})
	require.NoError(t, err)

	c.t = time.UnixMilli(5000)
	restarted := newPipeline(t, seen.NewJSONFile(path, nil), c)
	out, err := restarted.Enrich([]any{map[string]any{"public_key": "X"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), out[0].FirstSeenMs)
}
