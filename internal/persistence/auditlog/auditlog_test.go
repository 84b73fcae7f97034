package auditlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/cli-mmo/internal/engine"
)

func TestTickLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	clock := time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, l.RecordTick(ctx, engine.TickRecord{Tick: 1, ID: "r-1", Status: engine.TickCompleted, JobRequestsCompleted: []string{"a"}}))
	require.NoError(t, l.RecordTick(ctx, engine.TickRecord{Tick: 2, ID: "r-2", Status: engine.TickFailed, JobRequestsFailed: []string{"b"}}))

	clock = clock.Add(time.Hour)
	require.NoError(t, l.RecordTick(ctx, engine.TickRecord{Tick: 3, ID: "r-3", Status: engine.TickCompleted}))
	require.NoError(t, l.Close())

	path := filepath.Join(dir, "ticks", "ticks-2026-05-01-10.jsonl.zst")
	recs, err := ReadTickRecords(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Tick)
	assert.Equal(t, []string{"a"}, recs[0].JobRequestsCompleted)
	assert.Equal(t, engine.TickFailed, recs[1].Status)

	next, err := ReadTickRecords(filepath.Join(dir, "ticks", "ticks-2026-05-01-11.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "r-3", next[0].ID)
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 2; i++ {
		l := NewTickLogger(dir)
		l.w.now = func() time.Time { return clock }
		require.NoError(t, l.RecordTick(context.Background(), engine.TickRecord{Tick: i}))
		require.NoError(t, l.Close())
	}
	recs, err := ReadTickRecords(filepath.Join(dir, "ticks", "ticks-2026-05-01-10.jsonl.zst"))
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
