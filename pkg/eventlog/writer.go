// Package eventlog appends runtime events to daily rotated JSONL files so
// routed requests and raised alerts survive process restarts.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"starkagent/pkg/proto"
)

// Event kinds written to the log.
const (
	KindRequest = "request"
	KindAlert   = "alert"
)

// Event is one log record.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// Writer appends events to the current day's file, rotating at midnight.
type Writer struct {
	logDir string

	mu          sync.Mutex
	currentFile *os.File
	currentDate string
	now         func() time.Time
}

// NewWriter creates a writer rooted at logDir, creating the directory and the
// current day's file as needed.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	w := &Writer{
		logDir: logDir,
		now:    time.Now,
	}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to open event log file: %w", err)
	}
	return w, nil
}

// WriteRequest appends a completed request envelope.
func (w *Writer) WriteRequest(env proto.Envelope) error {
	return w.write(KindRequest, env)
}

// WriteAlert appends a raised alert.
func (w *Writer) WriteAlert(alert proto.Alert) error {
	return w.write(KindAlert, alert)
}

func (w *Writer) write(kind string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize %s event: %w", kind, err)
	}
	line, err := json.Marshal(Event{
		Timestamp: w.now().UTC(),
		Kind:      kind,
		Payload:   encoded,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize event record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate event log: %w", err)
	}
	if _, err := w.currentFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	return nil
}

// rotateIfNeeded opens the file for the current date, closing the previous
// one when the day has changed. Callers hold w.mu.
func (w *Writer) rotateIfNeeded() error {
	date := w.now().UTC().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close previous event log: %w", err)
		}
		w.currentFile = nil
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// CurrentLogFile returns the path of the active file.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", w.currentDate))
}

// Close closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}

// ReadEvents parses every event in one log file.
func ReadEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	var events []Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i != len(data) && data[i] != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse event record: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListLogFiles returns the event log files under logDir, oldest first.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list event logs: %w", err)
	}
	return files, nil
}
