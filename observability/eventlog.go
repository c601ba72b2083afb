package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/loadx/dbopen"
	"github.com/hazyhaar/loadx/idgen"
)

// LogOptions configure an EventLog. The zero value is usable.
type LogOptions struct {
	// BufferSize is the drop threshold: events arriving while the buffer
	// already holds this many are discarded. Default: 256.
	BufferSize int
	// FlushInterval is how often buffered events are written out.
	// Default: 5s.
	FlushInterval time.Duration
	// NewID overrides the event ID generator.
	NewID idgen.Generator
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *LogOptions) defaults() LogOptions {
	out := LogOptions{}
	if o != nil {
		out = *o
	}
	if out.BufferSize <= 0 {
		out.BufferSize = 256
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = 5 * time.Second
	}
	if out.NewID == nil {
		out.NewID = idgen.Prefixed("evt_", idgen.Default)
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// EventLog persists lifecycle events to SQLite in batches. It implements
// Recorder. Record never blocks: events buffer in memory, a background
// goroutine flushes them on an interval, and overflow drops the event
// rather than applying backpressure to the caller.
type EventLog struct {
	db    *sql.DB
	newID idgen.Generator
	log   *slog.Logger

	size     int
	interval time.Duration

	mu  sync.Mutex
	buf []Event

	dropped atomic.Int64

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewEventLog builds a sink on db, applies the event store schema and
// starts the flush goroutine. Close releases the goroutine but not db.
func NewEventLog(db *sql.DB, opts *LogOptions) (*EventLog, error) {
	cfg := opts.defaults()
	if err := Init(db); err != nil {
		return nil, fmt.Errorf("observability: init schema: %w", err)
	}
	l := &EventLog{
		db:       db,
		newID:    cfg.NewID,
		log:      cfg.Logger,
		size:     cfg.BufferSize,
		interval: cfg.FlushInterval,
		buf:      make([]Event, 0, cfg.BufferSize),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.flushLoop()
	return l, nil
}

// Record queues an event for async persistence. Events past the buffer
// threshold are dropped and counted.
func (l *EventLog) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	l.mu.Lock()
	if len(l.buf) >= l.size {
		l.mu.Unlock()
		l.dropped.Add(1)
		return
	}
	l.buf = append(l.buf, ev)
	full := len(l.buf) == l.size
	l.mu.Unlock()

	if full {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
}

// Dropped reports how many events were discarded on buffer overflow.
func (l *EventLog) Dropped() int64 {
	return l.dropped.Load()
}

// Recent returns up to limit persisted events, newest first. Pass an empty
// phase for all phases.
func (l *EventLog) Recent(ctx context.Context, phase Phase, limit int) ([]Event, error) {
	q := `SELECT phase, element, strategy, detail, error, value, elapsed_us, created_at
		FROM loadx_events`
	args := make([]any, 0, 2)
	if phase != "" {
		q += " WHERE phase = ?"
		args = append(args, string(phase))
	}
	q += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var ph string
		var elapsedUS, createdAt int64
		if err := rows.Scan(&ph, &ev.Element, &ev.Strategy, &ev.Detail, &ev.Error, &ev.Value, &elapsedUS, &createdAt); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		ev.Phase = Phase(ph)
		ev.Elapsed = time.Duration(elapsedUS) * time.Microsecond
		ev.At = time.Unix(createdAt, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retention and returns the count removed.
func (l *EventLog) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()
	res, err := dbopen.Exec(ctx, l.db, "DELETE FROM loadx_events WHERE created_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup events: %w", err)
	}
	return res.RowsAffected()
}

// Flush writes out anything buffered right now. Record paths never call it;
// it exists for tests and for callers about to read their own writes.
func (l *EventLog) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

// Close flushes remaining events and stops the background goroutine. Safe
// to call more than once.
func (l *EventLog) Close() error {
	l.once.Do(func() {
		close(l.stop)
	})
	<-l.done
	return nil
}

func (l *EventLog) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			l.Flush()
			return
		case <-l.kick:
			l.Flush()
		case <-ticker.C:
			l.Flush()
		}
	}
}

// flushLocked writes the buffer in one transaction, retrying on BUSY. The
// caller holds l.mu. Row failures are logged and skipped so one bad event
// cannot wedge the batch.
func (l *EventLog) flushLocked() {
	if len(l.buf) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO loadx_events (
				event_id, phase, element, strategy, detail, error, value, elapsed_us, created_at
			) VALUES (?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, ev := range l.buf {
			_, err := stmt.ExecContext(ctx,
				l.newID(), string(ev.Phase), ev.Element, ev.Strategy, ev.Detail,
				ev.Error, ev.Value, ev.Elapsed.Microseconds(), ev.At.Unix())
			if err != nil {
				l.log.Error("event log: insert failed", "error", err, "phase", string(ev.Phase))
			}
		}
		return nil
	})
	if err != nil {
		l.log.Error("event log: flush failed", "error", err)
	}
	l.buf = l.buf[:0]
}
