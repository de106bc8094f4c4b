// Package journal persists the event log (commands, clamps, hold toggles,
// speed changes, rejections and device status transitions) to SQLite or
// DuckDB. Writes are buffered and flushed by a background goroutine so
// recording never blocks the control path.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/servo-bridge/backend/internal/metrics"
	"github.com/servo-bridge/backend/internal/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Sink receives journal events.
type Sink interface {
	Record(ev models.Event)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Record(models.Event) {}

// ErrClosed is returned by queries on a closed journal.
var ErrClosed = errors.New("journal closed")

const maxBatch = 128

// Options configures the journal database.
type Options struct {
	Driver        string // sqlite or duckdb
	Path          string // file path or :memory:
	BufferSize    int
	FlushInterval time.Duration
}

// Journal is a buffered, SQL-backed event log.
type Journal struct {
	db      *sql.DB
	driver  string
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	events  chan models.Event
	flushes chan chan error
	done    chan struct{}
}

var schemas = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			ts      BIGINT NOT NULL,
			kind    VARCHAR NOT NULL,
			source  VARCHAR,
			action  VARCHAR,
			channel INTEGER,
			value   DOUBLE,
			detail  VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events (ts)`,
	},
	"duckdb": {
		`CREATE SEQUENCE IF NOT EXISTS events_id_seq`,
		`CREATE TABLE IF NOT EXISTS events (
			id      BIGINT PRIMARY KEY DEFAULT nextval('events_id_seq'),
			ts      BIGINT NOT NULL,
			kind    VARCHAR NOT NULL,
			source  VARCHAR,
			action  VARCHAR,
			channel INTEGER,
			value   DOUBLE,
			detail  VARCHAR
		)`,
	},
}

// Open opens or creates the journal database and starts the flusher.
func Open(opts Options, m *metrics.Metrics, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}

	schema, ok := schemas[opts.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported journal driver %q", opts.Driver)
	}

	memory := opts.Path == "" || opts.Path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := openDB(opts.Driver, opts.Path, memory)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create journal schema: %w", err)
		}
	}

	j := &Journal{
		db:      db,
		driver:  opts.Driver,
		log:     log,
		metrics: m,
		events:  make(chan models.Event, opts.BufferSize),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
	}
	go j.run(opts.FlushInterval)

	log.Info("journal opened", zap.String("driver", opts.Driver), zap.String("path", opts.Path))
	return j, nil
}

func openDB(driver, path string, memory bool) (*sql.DB, error) {
	switch driver {
	case "duckdb":
		dsn := path
		if memory {
			dsn = ""
		}
		connector, err := duckdb.NewConnector(dsn, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
		}
		db := sql.OpenDB(connector)
		if memory {
			// every connection would otherwise see its own empty database
			db.SetMaxOpenConns(1)
		}
		return db, nil
	default:
		if memory {
			path = ":memory:"
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
		}
		db.SetMaxOpenConns(1)
		if !memory {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to enable WAL: %w", err)
			}
		}
		return db, nil
	}
}

// Record queues ev for writing. It never blocks; when the buffer is full
// the event is dropped and counted.
func (j *Journal) Record(ev models.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.events <- ev:
	default:
		j.metrics.JournalDropped()
	}
}

// Flush writes every queued event before returning.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.RLock()
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	reply := make(chan error, 1)
	select {
	case j.flushes <- reply:
	case <-j.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) run(interval time.Duration) {
	defer close(j.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]models.Event, 0, maxBatch)
	write := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := j.insert(batch)
		if err != nil {
			j.log.Error("journal write failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		return err
	}

	for {
		select {
		case ev, ok := <-j.events:
			if !ok {
				write()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= maxBatch {
				write()
			}
		case reply := <-j.flushes:
			// drain what is already queued so Flush observes earlier Records
			for n := len(j.events); n > 0; n-- {
				batch = append(batch, <-j.events)
			}
			reply <- write()
		case <-ticker.C:
			write()
		}
	}
}

func (j *Journal) insert(events []models.Event) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO events (ts, kind, source, action, channel, value, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		var channel sql.NullInt64
		if ev.Channel != nil {
			channel = sql.NullInt64{Int64: int64(*ev.Channel), Valid: true}
		}
		var value sql.NullFloat64
		if ev.Value != nil {
			value = sql.NullFloat64{Float64: *ev.Value, Valid: true}
		}
		if _, err := stmt.Exec(ev.Time.UnixMilli(), string(ev.Kind), string(ev.Source), string(ev.Action), channel, value, ev.Detail); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to limit events, newest first. Queued events are
// flushed first so the result includes everything recorded so far.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	if err := j.Flush(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, kind, source, action, channel, value, detail FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			ev                     models.Event
			ts                     int64
			kind                   string
			source, action, detail sql.NullString
			channel                sql.NullInt64
			value                  sql.NullFloat64
		)
		if err := rows.Scan(&ev.ID, &ts, &kind, &source, &action, &channel, &value, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		ev.Time = time.UnixMilli(ts)
		ev.Kind = models.EventKind(kind)
		ev.Source = models.Source(source.String)
		ev.Action = models.Action(action.String)
		ev.Detail = detail.String
		if channel.Valid {
			c := int(channel.Int64)
			ev.Channel = &c
		}
		if value.Valid {
			v := value.Float64
			ev.Value = &v
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close flushes pending events and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.events)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}
