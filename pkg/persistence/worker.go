package persistence

import (
	"context"
	"sync"
	"time"

	"starkagent/pkg/logx"
)

const (
	workerQueueSize    = 256
	workerWriteTimeout = 5 * time.Second
)

// Writer accepts audit records without blocking request handling. Records
// are written by a single background goroutine; the queue drains on Close.
type Writer struct {
	store  *Store
	logger *logx.Logger

	queue   chan func(context.Context) error
	done    chan struct{}
	dropped uint64

	mu     sync.Mutex
	closed bool
}

// NewWriter starts the background writer over an open store.
func NewWriter(store *Store) *Writer {
	w := &Writer{
		store:  store,
		logger: logx.NewLogger("persistence"),
		queue:  make(chan func(context.Context) error, workerQueueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for job := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), workerWriteTimeout)
		if err := job(ctx); err != nil {
			w.logger.Warn("audit write failed: %v", err)
		}
		cancel()
	}
}

// enqueue hands a write to the worker. A full queue drops the record rather
// than stalling the caller.
func (w *Writer) enqueue(job func(context.Context) error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	select {
	case w.queue <- job:
		w.mu.Unlock()
	default:
		w.dropped++
		dropped := w.dropped
		w.mu.Unlock()
		w.logger.Warn("audit queue full, dropped record (%d total)", dropped)
	}
}

// RecordMessage queues one routed request for auditing.
func (w *Writer) RecordMessage(rec MessageRecord) {
	w.enqueue(func(ctx context.Context) error {
		return w.store.InsertMessage(ctx, rec)
	})
}

// RecordReportRun queues one scheduled report execution.
func (w *Writer) RecordReportRun(rec ReportRunRecord) {
	w.enqueue(func(ctx context.Context) error {
		return w.store.InsertReportRun(ctx, rec)
	})
}

// Dropped returns the number of records lost to a full queue.
func (w *Writer) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close stops accepting records and waits for the queue to drain.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.queue)
	<-w.done
}
