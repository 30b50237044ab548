// Package postgres archives discarded rewind Frames into a PostgreSQL table
package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kode4food/rewind"
)

type (
	// Archiver is a rewind.Archiver backed by a pgx connection pool
	Archiver struct {
		pool *pgxpool.Pool
	}

	// Record is an archived Frame read back from the table
	Record struct {
		Frame    *rewind.Frame
		Sequence int64
		Reason   rewind.ArchiveReason
	}
)

const (
	createTable = `
		CREATE TABLE IF NOT EXISTS rewind_frames (
			seq        BIGSERIAL PRIMARY KEY,
			reason     TEXT NOT NULL,
			timestamp  DOUBLE PRECISION NOT NULL,
			frame      JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	createIndex = `
		CREATE INDEX IF NOT EXISTS rewind_frames_reason_idx
		ON rewind_frames (reason, seq)`

	insertFrame = `
		INSERT INTO rewind_frames (reason, timestamp, frame)
		VALUES ($1, $2, $3)`

	selectFrames = `
		SELECT seq, reason, frame
		FROM rewind_frames
		WHERE reason = $1
		ORDER BY seq`
)

// Open connects a pool to the database named by the connection URL
func Open(ctx context.Context, url string) (*Archiver, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Archiver{pool: pool}, nil
}

// Migrate creates the frames table if it does not exist
func (a *Archiver) Migrate(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, createTable); err != nil {
		return err
	}
	_, err := a.pool.Exec(ctx, createIndex)
	return err
}

// Archive inserts one row per Frame inside a single transaction
func (a *Archiver) Archive(
	ctx context.Context, batch *rewind.ArchiveBatch,
) error {
	if len(batch.Frames) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, f := range batch.Frames {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		b.Queue(insertFrame, string(batch.Reason), f.Timestamp(), data)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Frames returns every Frame archived for the reason, in archive order
func (a *Archiver) Frames(
	ctx context.Context, reason rewind.ArchiveReason,
) ([]*Record, error) {
	rows, err := a.pool.Query(ctx, selectFrames, string(reason))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Record
	for rows.Next() {
		var (
			seq  int64
			rsn  string
			data []byte
		)
		if err := rows.Scan(&seq, &rsn, &data); err != nil {
			return nil, err
		}
		f := &rewind.Frame{}
		if err := json.Unmarshal(data, f); err != nil {
			return nil, err
		}
		res = append(res, &Record{
			Frame:    f,
			Sequence: seq,
			Reason:   rewind.ArchiveReason(rsn),
		})
	}
	return res, rows.Err()
}

// Close releases the pool
func (a *Archiver) Close() {
	a.pool.Close()
}
