package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend keeps documents in Postgres for gateway deployments where
// several replicas share one remote-side store. The commit sequence is a
// bigserial over the changes table, monotonic per collection.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection  TEXT        NOT NULL,
	id          TEXT        NOT NULL,
	rev         BIGINT      NOT NULL,
	seq         BIGINT      NOT NULL,
	deleted     BOOLEAN     NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ NOT NULL,
	body        JSONB,
	PRIMARY KEY (collection, id)
);
CREATE TABLE IF NOT EXISTS changes (
	seq         BIGSERIAL   PRIMARY KEY,
	collection  TEXT        NOT NULL,
	id          TEXT        NOT NULL,
	rev         BIGINT      NOT NULL,
	deleted     BOOLEAN     NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ NOT NULL,
	body        JSONB
);
CREATE INDEX IF NOT EXISTS changes_collection_seq ON changes (collection, seq);
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT  PRIMARY KEY,
	value BYTEA NOT NULL
);`

// OpenPostgres connects with the given pool bounds, pings and ensures the
// schema. Connection failure surfaces as ErrStorageUnavailable like the
// embedded backend. Non-positive bounds leave the driver defaults.
func OpenPostgres(ctx context.Context, databaseURL string, maxConns, minConns int32) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse database url: %v", ErrStorageUnavailable, err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create connection pool: %v", ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping database: %v", ErrStorageUnavailable, err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ensure schema: %v", ErrStorageUnavailable, err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresBackend) Put(ctx context.Context, collection string, doc *Document) (*Document, error) {
	stored := *doc
	if stored.Deleted {
		stored.Body = nil
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var currentRev int64
	err = tx.QueryRow(ctx,
		`SELECT rev FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, doc.ID).Scan(&currentRev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if doc.Rev != currentRev {
		return nil, fmt.Errorf("%w: %s has rev %d, caller sent %d", ErrConflict, doc.ID, currentRev, doc.Rev)
	}
	stored.Rev = currentRev + 1

	err = tx.QueryRow(ctx, `
		INSERT INTO changes (collection, id, rev, deleted, updated_at, body)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
		collection, stored.ID, stored.Rev, stored.Deleted, stored.UpdatedAt, stored.Body).Scan(&stored.Seq)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (collection, id, rev, seq, deleted, updated_at, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (collection, id) DO UPDATE SET
			rev = EXCLUDED.rev, seq = EXCLUDED.seq, deleted = EXCLUDED.deleted,
			updated_at = EXCLUDED.updated_at, body = EXCLUDED.body`,
		collection, stored.ID, stored.Rev, stored.Seq, stored.Deleted, stored.UpdatedAt, stored.Body)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (p *PostgresBackend) Get(ctx context.Context, collection, id string) (*Document, error) {
	var doc Document
	err := p.pool.QueryRow(ctx, `
		SELECT id, rev, seq, deleted, updated_at, body
		FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&doc.ID, &doc.Rev, &doc.Seq, &doc.Deleted, &doc.UpdatedAt, &doc.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (p *PostgresBackend) List(ctx context.Context, collection, start, end string, limit int) ([]*Document, error) {
	query := `SELECT id, rev, seq, deleted, updated_at, body
		FROM documents WHERE collection = $1 AND NOT deleted`
	args := []interface{}{collection}
	if start != "" {
		args = append(args, start)
		query += fmt.Sprintf(" AND id >= $%d", len(args))
	}
	if end != "" {
		args = append(args, end)
		query += fmt.Sprintf(" AND id < $%d", len(args))
	}
	query += " ORDER BY id"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Rev, &doc.Seq, &doc.Deleted, &doc.UpdatedAt, &doc.Body); err != nil {
			return nil, err
		}
		result = append(result, &doc)
	}
	return result, rows.Err()
}

func (p *PostgresBackend) Changes(ctx context.Context, collection string, since int64, limit int) ([]Change, int64, error) {
	query := `SELECT id, rev, seq, deleted, updated_at, body
		FROM changes WHERE collection = $1 AND seq > $2 ORDER BY seq`
	args := []interface{}{collection, since}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $3"
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		result []Change
		last   = since
	)
	for rows.Next() {
		var change Change
		if err := rows.Scan(&change.ID, &change.Rev, &change.Seq, &change.Deleted, &change.UpdatedAt, &change.Doc); err != nil {
			return nil, 0, err
		}
		result = append(result, change)
		last = change.Seq
	}
	return result, last, rows.Err()
}

func (p *PostgresBackend) UpdateSeq(ctx context.Context, collection string) (int64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM changes WHERE collection = $1`,
		collection).Scan(&seq)
	return seq, err
}

func (p *PostgresBackend) GetMeta(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM store_meta WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *PostgresBackend) PutMeta(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO store_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	return err
}
