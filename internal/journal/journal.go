// Package journal persists a row per served request, so sessions against the
// stub can be inspected later with plain SQL. It writes to an embedded SQLite
// file by default and to PostgreSQL when the DSN says so.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	scribe "github.com/SOLUCIONESSYCOM/scribe"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Record is one served request.
type Record struct {
	UUID       string
	Method     string
	Path       string
	Identifier string
	Source     string
	StatusCode int
	LatencyMS  int64
	ServedAt   time.Time
}

// Config tunes the batching behaviour.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Journal batches records in memory and flushes them in transactions.
type Journal struct {
	db        *sql.DB
	insertSQL string
	logger    *scribe.Scribe
	config    Config

	queue  chan *Record
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool

	batchMu sync.Mutex
	pending []*Record

	totalRecorded int64
	totalDropped  int64
	totalErrors   int64
}

const schema = `
CREATE TABLE IF NOT EXISTS served_requests (
	uuid TEXT PRIMARY KEY,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	identifier TEXT NOT NULL,
	source TEXT NOT NULL,
	status_code INTEGER,
	latency_ms INTEGER,
	served_at TIMESTAMP
);`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_served_requests_identifier ON served_requests(identifier);
CREATE INDEX IF NOT EXISTS idx_served_requests_method_path ON served_requests(method, path);
`

// Open connects to the journal backend named by dsn and ensures the schema
// exists. A postgres:// or postgresql:// DSN selects PostgreSQL; anything
// else is treated as a SQLite file path.
func Open(dsn string, config Config, logger *scribe.Scribe) (*Journal, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}

	db, insertSQL, err := open(dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating journal table: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating journal indexes: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Journal{
		db:        db,
		insertSQL: insertSQL,
		logger:    logger,
		config:    config,
		queue:     make(chan *Record, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		running:   true,
		pending:   make([]*Record, 0, config.BatchSize),
	}

	j.wg.Add(1)
	go j.run()

	return j, nil
}

func open(dsn string) (*sql.DB, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("error opening postgres journal: %w", err)
		}
		return db, insertPostgres, nil
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("error opening sqlite journal: %w", err)
	}

	// WAL mode so journal writes never block concurrent readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("error setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("error setting synchronous mode: %w", err)
	}

	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, insertSQLite, nil
}

// Add queues a record without blocking the request path. When the queue is
// full the record is written synchronously instead of being dropped silently.
func (j *Journal) Add(r *Record) {
	j.mu.RLock()
	running := j.running
	j.mu.RUnlock()

	if !running {
		atomic.AddInt64(&j.totalDropped, 1)
		return
	}

	select {
	case j.queue <- r:
	default:
		if err := j.insertOne(r); err != nil {
			atomic.AddInt64(&j.totalErrors, 1)
			j.logger.Error().
				Str("identifier", r.Identifier).
				AnErr("error", err).
				Msg("Error journaling request synchronously")
			return
		}
		atomic.AddInt64(&j.totalRecorded, 1)
	}
}

// Close flushes everything still queued and shuts the backend down.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	j.cancel()
	j.wg.Wait()

	return j.db.Close()
}

// Stats reports batching counters for diagnostics.
func (j *Journal) Stats() map[string]interface{} {
	j.batchMu.Lock()
	pending := len(j.pending)
	j.batchMu.Unlock()

	return map[string]interface{}{
		"queue_size":     len(j.queue),
		"pending":        pending,
		"total_recorded": atomic.LoadInt64(&j.totalRecorded),
		"total_dropped":  atomic.LoadInt64(&j.totalDropped),
		"total_errors":   atomic.LoadInt64(&j.totalErrors),
		"batch_size":     j.config.BatchSize,
		"flush_interval": j.config.FlushInterval.String(),
	}
}
