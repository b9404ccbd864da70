// Package audit provides an async, buffered writer for the pipeline's
// processing-log audit trail (spec entity "Processing log").
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry represents a single processing-log row to be written. Every
// pipeline stage writes one Entry per attempt, on success, failure, or
// skip — the processing_logs table is append-only and never mutated.
type Entry struct {
	PostID           uuid.UUID
	ServiceName      string // "collector", "processor", "publisher", "takedown"
	Status           string // "success", "failed", "skipped", "retrying", ...
	ErrorMessage     string
	ProcessingTimeMS int64
	Metadata         json.RawMessage
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine in batches, so
// writing an audit entry never blocks a pipeline stage on a database
// round trip.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit entries to the
// database. The goroutine exits when Close closes the channel or when ctx
// is cancelled, flushing whatever is buffered at that moment; entries
// logged after a ctx-triggered exit are not written.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close closes the entry channel and waits for the background goroutine to
// finish its final flush.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning is
// logged. This is acceptable because processing_logs is a secondary
// observability trail — authoritative post state is written synchronously
// by the stage itself, in the same transaction as its mutation.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"post_id", entry.PostID, "service", entry.ServiceName, "status", entry.Status)
	}
}

// run is the background loop that drains the entries channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

const insertLogStmt = `INSERT INTO processing_logs
	(id, post_id, service_name, status, error_message, processing_time_ms, metadata, created_at)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, now())`

// flush writes a batch of entries to processing_logs using pgx's batch
// pipelining API, one round trip for the whole batch.
func (w *Writer) flush(entries []Entry) {
	if w.pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, e := range entries {
		meta := e.Metadata
		if meta == nil {
			meta = json.RawMessage("{}")
		}
		batch.Queue(insertLogStmt, uuid.New(), e.PostID, e.ServiceName, e.Status, e.ErrorMessage, e.ProcessingTimeMS, meta)
	}

	br := w.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			w.logger.Error("writing audit log entry", "error", err)
		}
	}
}
