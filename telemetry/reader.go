package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/theapemachine/indexpilot/db"
	"github.com/theapemachine/indexpilot/logger"
)

/*
Source yields batches of query records for aggregation. The engine consumes
whatever the source produces; malformed records are flagged and skipped,
never fatal.
*/
type Source interface {
	// Next returns the next batch of records, or an empty slice when the
	// feed is exhausted for now.
	Next(ctx context.Context) ([]QueryRecord, error)
}

/*
CursorStore persists the reader's high-water mark between runs, so a fresh
process resumes consumption where the previous one stopped instead of
re-reading the whole log.
*/
type CursorStore interface {
	TelemetryCursor(ctx context.Context) (int64, error)
	SaveTelemetryCursor(ctx context.Context, lastID int64) error
}

/*
Reader reads query records from the append-only query_log table in batches,
tracking a high-water mark so each record is consumed exactly once across
evaluation cycles. With a cursor store attached the mark survives restarts.
*/
type Reader struct {
	conn         *db.Conn
	cursor       CursorStore
	cursorLoaded bool
	batchSize    int
	lastID       int64
	malformed    int64
}

type ReaderOptionFn func(*Reader)

// NewReader creates a new telemetry reader with the given options
func NewReader(opts ...ReaderOptionFn) *Reader {
	reader := &Reader{
		batchSize: 1000,
	}

	for _, fn := range opts {
		fn(reader)
	}

	return reader
}

func WithConn(conn *db.Conn) ReaderOptionFn {
	return func(r *Reader) {
		r.conn = conn
	}
}

func WithBatchSize(size int) ReaderOptionFn {
	return func(r *Reader) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

func WithCursor(store CursorStore) ReaderOptionFn {
	return func(r *Reader) {
		r.cursor = store
	}
}

/*
Next reads the next batch of query records past the high-water mark.
Rows with an unrecognized predicate kind or a non-positive duration are
counted as malformed and dropped; they never abort the batch. A batch made
up entirely of malformed rows is skipped over, not reported as exhaustion.
*/
func (r *Reader) Next(ctx context.Context) ([]QueryRecord, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("telemetry reader has no database connection")
	}

	if r.cursor != nil && !r.cursorLoaded {
		lastID, err := r.cursor.TelemetryCursor(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load telemetry cursor: %w", err)
		}
		r.lastID = lastID
		r.cursorLoaded = true
	}

	for {
		batch, scanned, err := r.readBatch(ctx)
		if err != nil {
			return nil, err
		}

		if scanned > 0 && r.cursor != nil {
			if err := r.cursor.SaveTelemetryCursor(ctx, r.lastID); err != nil {
				return nil, fmt.Errorf("failed to save telemetry cursor: %w", err)
			}
		}

		if len(batch) > 0 || scanned == 0 {
			return batch, nil
		}
	}
}

func (r *Reader) readBatch(ctx context.Context) ([]QueryRecord, int, error) {
	rows, err := r.conn.DB.QueryContext(ctx,
		`SELECT id, tenant_id, table_name, field_name, predicate_kind, duration_us, observed_at
		 FROM query_log WHERE id > ? ORDER BY id LIMIT ?`,
		r.lastID, r.batchSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read query log: %w", err)
	}
	defer rows.Close()

	var (
		batch   []QueryRecord
		scanned int
	)
	for rows.Next() {
		var (
			id         int64
			record     QueryRecord
			durationUS int64
			observedAt string
		)

		if err := rows.Scan(&id, &record.TenantID, &record.Table, &record.Field,
			&record.Predicate, &durationUS, &observedAt); err != nil {
			return nil, scanned, fmt.Errorf("failed to scan query record: %w", err)
		}

		r.lastID = id
		scanned++

		ts, err := time.Parse(time.RFC3339Nano, observedAt)
		if err != nil {
			r.malformed++
			logger.Warn("Dropping malformed query record",
				"id", id, "reason", "bad timestamp", "value", observedAt)
			continue
		}

		record.Duration = time.Duration(durationUS) * time.Microsecond
		record.Timestamp = ts

		if !record.Predicate.Valid() || record.Duration <= 0 {
			r.malformed++
			logger.Warn("Dropping malformed query record",
				"id", id, "predicate", record.Predicate, "duration", record.Duration)
			continue
		}

		batch = append(batch, record)
	}

	if err := rows.Err(); err != nil {
		return nil, scanned, fmt.Errorf("failed to iterate query log: %w", err)
	}

	return batch, scanned, nil
}

// Malformed returns the number of records dropped for data-quality reasons
func (r *Reader) Malformed() int64 {
	return r.malformed
}

// HighWaterMark returns the id of the last consumed record
func (r *Reader) HighWaterMark() int64 {
	return r.lastID
}

/*
SliceSource is an in-memory Source backed by a fixed set of records.
It is used by tests and by callers that already hold a batch.
*/
type SliceSource struct {
	records []QueryRecord
	drained bool
}

// NewSliceSource creates a source that yields the given records once
func NewSliceSource(records []QueryRecord) *SliceSource {
	return &SliceSource{records: records}
}

// Next returns all records on the first call and nothing afterwards
func (s *SliceSource) Next(ctx context.Context) ([]QueryRecord, error) {
	if s.drained {
		return nil, nil
	}
	s.drained = true
	return s.records, nil
}
