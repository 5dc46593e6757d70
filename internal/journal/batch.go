package journal

import (
	"sync/atomic"
	"time"
)

const (
	insertSQLite = `
	INSERT INTO served_requests (
		uuid, method, path, identifier, source,
		status_code, latency_ms, served_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertPostgres = `
	INSERT INTO served_requests (
		uuid, method, path, identifier, source,
		status_code, latency_ms, served_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

// run aggregates queued records and flushes them when a batch fills or the
// flush interval elapses. On shutdown it drains the queue before returning.
func (j *Journal) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			j.drain()
			j.flush()
			return
		case r := <-j.queue:
			j.append(r)
		case <-ticker.C:
			j.flush()
		}
	}
}

func (j *Journal) append(r *Record) {
	j.batchMu.Lock()
	j.pending = append(j.pending, r)
	full := len(j.pending) >= j.config.BatchSize
	j.batchMu.Unlock()

	if full {
		j.flush()
	}
}

func (j *Journal) drain() {
	for {
		select {
		case r := <-j.queue:
			j.append(r)
		default:
			return
		}
	}
}

// flush writes the pending batch in one transaction.
func (j *Journal) flush() {
	j.batchMu.Lock()
	if len(j.pending) == 0 {
		j.batchMu.Unlock()
		return
	}
	batch := j.pending
	j.pending = make([]*Record, 0, j.config.BatchSize)
	j.batchMu.Unlock()

	if err := j.insertBatch(batch); err != nil {
		atomic.AddInt64(&j.totalErrors, 1)
		j.logger.Error().
			Int("batch_size", len(batch)).
			AnErr("error", err).
			Msg("Error flushing journal batch")
		return
	}

	atomic.AddInt64(&j.totalRecorded, int64(len(batch)))
}

func (j *Journal) insertBatch(batch []*Record) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(j.insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.Exec(
			r.UUID,
			r.Method,
			r.Path,
			r.Identifier,
			r.Source,
			r.StatusCode,
			r.LatencyMS,
			r.ServedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (j *Journal) insertOne(r *Record) error {
	_, err := j.db.Exec(j.insertSQL,
		r.UUID,
		r.Method,
		r.Path,
		r.Identifier,
		r.Source,
		r.StatusCode,
		r.LatencyMS,
		r.ServedAt,
	)
	return err
}
