package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type span struct {
	id    string
	key   string
	start time.Time
	end   time.Time
}

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func opts(gapMinutes int, keyed bool) Options[span] {
	o := Options[span]{
		Gap:   time.Duration(gapMinutes) * time.Minute,
		Start: func(s span) time.Time { return s.start },
		End:   func(s span) time.Time { return s.end },
		Valid: func(s span) bool { return !s.start.IsZero() && !s.end.IsZero() },
	}
	if keyed {
		o.Key = func(s span) string { return s.key }
	}
	return o
}

func ids(cluster []span) []string {
	out := make([]string, len(cluster))
	for i, s := range cluster {
		out[i] = s.id
	}
	return out
}

func TestGroup_SplitsOnGapThreshold(t *testing.T) {
	// Point events at t=0, 10, 25, 60 minutes with a 30 minute gap: the
	// first three chain (gaps 10 and 15), the last is 35 minutes out.
	items := []span{
		{id: "a", start: at(0), end: at(0)},
		{id: "b", start: at(10), end: at(10)},
		{id: "c", start: at(25), end: at(25)},
		{id: "d", start: at(60), end: at(60)},
	}

	result := Group(items, opts(30, false))
	require.Len(t, result.Clusters, 2)
	assert.Equal(t, []string{"a", "b", "c"}, ids(result.Clusters[0]))
	assert.Equal(t, []string{"d"}, ids(result.Clusters[1]))
	assert.Empty(t, result.Skipped)
}

func TestGroup_KeyChangeStartsNewCluster(t *testing.T) {
	items := []span{
		{id: "a", key: "sc|alice", start: at(0), end: at(5)},
		{id: "b", key: "sc|alice", start: at(10), end: at(15)},
		{id: "c", key: "sc|bob", start: at(12), end: at(20)},
	}

	result := Group(items, opts(30, true))
	require.Len(t, result.Clusters, 2)
	assert.Equal(t, []string{"a", "b"}, ids(result.Clusters[0]))
	assert.Equal(t, []string{"c"}, ids(result.Clusters[1]))
}

func TestGroup_GapMeasuredFromPreviousEnd(t *testing.T) {
	// 30 minutes of connection ending at t=30, next one at t=55: the pause
	// is 25 minutes, within a 30 minute threshold.
	items := []span{
		{id: "a", start: at(0), end: at(30)},
		{id: "b", start: at(55), end: at(70)},
	}

	result := Group(items, opts(30, false))
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, []string{"a", "b"}, ids(result.Clusters[0]))
}

func TestGroup_InvalidTimestampsSkippedNotDropped(t *testing.T) {
	items := []span{
		{id: "a", start: at(0), end: at(5)},
		{id: "bad"}, // zero timestamps
		{id: "b", start: at(10), end: at(15)},
	}

	result := Group(items, opts(30, false))
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, []string{"a", "b"}, ids(result.Clusters[0]))
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "bad", result.Skipped[0].id)
}

func TestGroup_SingleItemFormsItsOwnCluster(t *testing.T) {
	result := Group([]span{{id: "only", start: at(0), end: at(1)}}, opts(30, true))
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, []string{"only"}, ids(result.Clusters[0]))
}

func TestGroup_EmptyInput(t *testing.T) {
	result := Group(nil, opts(30, false))
	assert.Empty(t, result.Clusters)
	assert.Empty(t, result.Skipped)
}

func TestGroup_EqualTimestampsPreserveInputOrder(t *testing.T) {
	items := []span{
		{id: "first", start: at(0), end: at(0)},
		{id: "second", start: at(0), end: at(0)},
		{id: "third", start: at(0), end: at(0)},
	}

	result := Group(items, opts(30, false))
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, []string{"first", "second", "third"}, ids(result.Clusters[0]))
}

func TestGroup_NilKeyMergesAcrossSources(t *testing.T) {
	items := []span{
		{id: "sc", key: "ScreenConnect", start: at(0), end: at(30)},
		{id: "ticket", key: "SyncroTicket", start: at(40), end: at(60)},
	}

	// Keyed clustering separates them, cross-source clustering merges them.
	keyed := Group(items, opts(45, true))
	assert.Len(t, keyed.Clusters, 2)

	unkeyed := Group(items, opts(45, false))
	assert.Len(t, unkeyed.Clusters, 1)
}
