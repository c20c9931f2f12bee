package stats

import (
	"context"
	"testing"

	"github.com/soulcraft-research/brainy/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushAndReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	s := New(eng, "instance-a")

	s.RecordAdd()
	s.RecordAdd()
	s.RecordVerb()

	require.NoError(t, s.Flush(ctx))

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Counters["instance-a:adds"])
	assert.Equal(t, int64(1), got.Counters["instance-a:verbs"])
}

func TestFlushFromTwoServicesMergesDisjointCounters(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()

	a := New(eng, "instance-a")
	a.RecordAdd()
	require.NoError(t, a.Flush(ctx))

	b := New(eng, "instance-b")
	b.RecordAdd()
	b.RecordAdd()
	require.NoError(t, b.Flush(ctx))

	got, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Counters["instance-a:adds"])
	assert.Equal(t, int64(2), got.Counters["instance-b:adds"])
}

func TestMergeSameCounterTakesMax(t *testing.T) {
	s := Statistics{Counters: Counters{"instance-a:adds": 5}}
	s.Merge(Statistics{Counters: Counters{"instance-a:adds": 3}})
	assert.Equal(t, int64(5), s.Counters["instance-a:adds"])

	s.Merge(Statistics{Counters: Counters{"instance-a:adds": 9}})
	assert.Equal(t, int64(9), s.Counters["instance-a:adds"])
}

func TestFlushResetsLocalCounters(t *testing.T) {
	ctx := context.Background()
	eng := store.NewMemoryEngine()
	s := New(eng, "instance-a")
	s.RecordAdd()
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Counters["instance-a:adds"], "second flush with no new events should not double count")
}
