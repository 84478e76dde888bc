package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starkagent/pkg/proto"
)

func TestWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	env := proto.Envelope{
		Status: proto.StatusOK,
		Body:   "ETH is at $4200",
		Diagnostics: proto.Diagnostics{
			Skill:      "prices",
			Confidence: 0.85,
			LatencyMS:  12,
		},
	}
	require.NoError(t, w.WriteRequest(env))

	alert := proto.NewAlert(proto.AlertAgentError, proto.SeverityError, map[string]any{"agent": "whale-watcher"})
	require.NoError(t, w.WriteAlert(alert))

	events, err := ReadEvents(w.CurrentLogFile())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, KindRequest, events[0].Kind)
	var got proto.Envelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &got))
	assert.Equal(t, proto.StatusOK, got.Status)
	assert.Equal(t, "prices", got.Diagnostics.Skill)

	assert.Equal(t, KindAlert, events[1].Kind)
	var gotAlert proto.Alert
	require.NoError(t, json.Unmarshal(events[1].Payload, &gotAlert))
	assert.Equal(t, proto.AlertAgentError, gotAlert.Kind)
}

func TestRotatesAtMidnight(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	now := time.Date(2026, 8, 25, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, w.WriteAlert(proto.NewAlert(proto.AlertScheduleLag, proto.SeverityWarning, nil)))
	first := w.CurrentLogFile()
	assert.Equal(t, filepath.Join(dir, "events-2026-08-25.jsonl"), first)

	now = now.Add(2 * time.Minute)
	require.NoError(t, w.WriteAlert(proto.NewAlert(proto.AlertScheduleLag, proto.SeverityWarning, nil)))
	second := w.CurrentLogFile()
	assert.Equal(t, filepath.Join(dir, "events-2026-08-26.jsonl"), second)

	files, err := ListLogFiles(dir)
	require.NoError(t, err)
	assert.Contains(t, files, first)
	assert.Contains(t, files, second)

	firstEvents, err := ReadEvents(first)
	require.NoError(t, err)
	assert.Len(t, firstEvents, 1)

	secondEvents, err := ReadEvents(second)
	require.NoError(t, err)
	assert.Len(t, secondEvents, 1)
}

func TestReadEventsHandlesMissingTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.WriteAlert(proto.NewAlert(proto.AlertReportError, proto.SeverityError, nil)))
	path := w.CurrentLogFile()
	require.NoError(t, w.Close())

	// Strip the trailing newline to simulate a truncated final write.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0o644))

	events, err := ReadEvents(path)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCloseIdempotent(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
