// Package journal keeps an append-only audit trail of ingestion outcomes in
// PostgreSQL. The dedup index is never rebuilt from it.
package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/andresmejia3/pixelvault/internal/types"
)

// Journal manages the PostgreSQL pool. Connection handlers record
// concurrently, so it uses a pool rather than a single connection.
type Journal struct {
	pool *pgxpool.Pool
}

// Entry is one journaled frame.
type Entry struct {
	ID          int64
	ReceivedAt  time.Time
	ConnID      string
	Remote      string
	Status      string
	Stage       string
	Bytes       int
	Algorithm   string
	Fingerprint string // hex, empty when the frame never decoded
	Handle      int64
	Path        string
	Error       string
}

// New connects and ensures the schema exists.
func New(ctx context.Context, connString string) (*Journal, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "open journal pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "connect to journal")
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to initialize journal schema")
	}
	return &Journal{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ingest_events (
			id BIGSERIAL PRIMARY KEY,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			conn_id TEXT NOT NULL,
			remote TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			bytes INT NOT NULL,
			algorithm TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL DEFAULT '',
			handle BIGINT NOT NULL DEFAULT 0,
			path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS ingest_events_fingerprint_idx ON ingest_events (fingerprint);
	`)
	return err
}

// Close releases every pooled connection.
func (j *Journal) Close() {
	j.pool.Close()
}

// Record appends one outcome.
func (j *Journal) Record(ctx context.Context, connID, remote string, out types.Outcome) error {
	var algo, fp, msg string
	if !out.Fingerprint.IsZero() {
		algo, fp = out.Fingerprint.Algorithm(), out.Fingerprint.Hex()
	}
	if out.Err != nil {
		msg = out.Err.Error()
	}
	_, err := j.pool.Exec(ctx, `
		INSERT INTO ingest_events (conn_id, remote, status, stage, bytes, algorithm, fingerprint, handle, path, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, connID, remote, out.Status.String(), string(out.Stage), out.Size, algo, fp, int64(out.Handle), out.Path, msg)
	return errors.Wrap(err, "record outcome")
}

const selectEntries = `
	SELECT id, received_at, conn_id, remote, status, stage, bytes, algorithm, fingerprint, handle, path, error
	FROM ingest_events`

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.pool.Query(ctx, selectEntries+" ORDER BY id DESC LIMIT $1", limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent entries")
	}
	return collect(rows)
}

// ByFingerprint returns every entry for the given hex fingerprint, oldest
// first.
func (j *Journal) ByFingerprint(ctx context.Context, hex string) ([]Entry, error) {
	rows, err := j.pool.Query(ctx, selectEntries+" WHERE fingerprint = $1 ORDER BY id", hex)
	if err != nil {
		return nil, errors.Wrap(err, "query fingerprint")
	}
	return collect(rows)
}

// Counts tallies entries by status.
func (j *Journal) Counts(ctx context.Context) (map[string]int64, error) {
	rows, err := j.pool.Query(ctx, "SELECT status, COUNT(*) FROM ingest_events GROUP BY status")
	if err != nil {
		return nil, errors.Wrap(err, "count entries")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Reset drops the journal table. The next New recreates it.
func (j *Journal) Reset(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, "DROP TABLE IF EXISTS ingest_events CASCADE")
	return err
}

func collect(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ReceivedAt, &e.ConnID, &e.Remote, &e.Status, &e.Stage,
			&e.Bytes, &e.Algorithm, &e.Fingerprint, &e.Handle, &e.Path, &e.Error); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
