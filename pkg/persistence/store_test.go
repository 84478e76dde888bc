package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertAndQueryMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := MessageRecord{
		RequestID:  "req-1",
		UserID:     "alice",
		Skill:      "prices",
		Confidence: 0.85,
		Status:     "ok",
		Prompt:     "price of ETH?",
		Response:   "ETH is at $4200",
		LatencyMS:  42,
		CreatedAt:  time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.InsertMessage(ctx, first))
	require.NoError(t, store.InsertMessage(ctx, MessageRecord{
		RequestID: "req-2",
		UserID:    "bob",
		Skill:     "research",
		Status:    "error",
		Prompt:    "explain starknet fees",
		Error:     "model call failed",
		CreatedAt: time.Now(),
	}))

	records, err := store.RecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, "req-2", records[0].RequestID)
	assert.Equal(t, "model call failed", records[0].Error)

	assert.Equal(t, "req-1", records[1].RequestID)
	assert.Equal(t, "prices", records[1].Skill)
	assert.InDelta(t, 0.85, records[1].Confidence, 1e-9)
	assert.Equal(t, first.CreatedAt, records[1].CreatedAt)

	n, err := store.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestReportRunsFilterBySchedule(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, schedule := range []string{"daily-report", "whale-digest", "daily-report"} {
		require.NoError(t, store.InsertReportRun(ctx, ReportRunRecord{
			Schedule:   schedule,
			StartedAt:  time.Now().Add(time.Duration(i) * time.Minute),
			DurationMS: 100,
			Status:     "ok",
		}))
	}

	all, err := store.RecentReportRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	daily, err := store.RecentReportRuns(ctx, "daily-report", 10)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	for _, rec := range daily {
		assert.Equal(t, "daily-report", rec.Schedule)
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.InsertMessage(context.Background(), MessageRecord{
		RequestID: "req-1", UserID: "alice", Skill: "general", Status: "ok",
		Prompt: "hi", Response: "hello", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	// Reopen against the existing schema and keep the data.
	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.MessageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWriterDrainsOnClose(t *testing.T) {
	store := openTestStore(t)
	w := NewWriter(store)

	for i := 0; i < 25; i++ {
		w.RecordMessage(MessageRecord{
			RequestID: "req", UserID: "alice", Skill: "general", Status: "ok",
			Prompt: "hi", Response: "hello", CreatedAt: time.Now(),
		})
	}
	w.RecordReportRun(ReportRunRecord{Schedule: "daily-report", StartedAt: time.Now(), Status: "ok"})
	w.Close()

	n, err := store.MessageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	runs, err := store.RecentReportRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Zero(t, w.Dropped())
}

func TestWriterIgnoresRecordsAfterClose(t *testing.T) {
	store := openTestStore(t)
	w := NewWriter(store)
	w.Close()
	w.Close() // idempotent

	w.RecordMessage(MessageRecord{RequestID: "late", CreatedAt: time.Now()})

	n, err := store.MessageCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
