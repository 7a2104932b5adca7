package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes treated as write conflicts.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// Postgres stores documents as jsonb rows in the documents table.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store. Run Migrate first.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

const upsertDocument = `INSERT INTO documents (key, body, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`

func (p *Postgres) Get(ctx context.Context, key string, dst any) (bool, error) {
	var raw []byte
	err := p.Pool.QueryRow(ctx, `SELECT body FROM documents WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classifyPG(err)
	}
	return true, decode(key, raw, dst)
}

func (p *Postgres) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = p.Pool.Exec(ctx, upsertDocument, key, raw)
	return classifyPG(err)
}

func (p *Postgres) Update(ctx context.Context, keys []string, fn func(Tx) error) error {
	if len(keys) == 0 {
		return errors.New("docstore: update needs at least one key")
	}
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classifyPG(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT key, body FROM documents WHERE key = ANY($1) FOR UPDATE`, keys)
	if err != nil {
		return classifyPG(err)
	}
	buf := newBuffer(keys)
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return classifyPG(err)
		}
		buf.reads[key] = raw
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classifyPG(err)
	}

	if err := fn(buf); err != nil {
		return err
	}
	for _, w := range buf.staged() {
		if _, err := tx.Exec(ctx, upsertDocument, w.key, w.body); err != nil {
			return classifyPG(err)
		}
	}
	return classifyPG(tx.Commit(ctx))
}

func (p *Postgres) Ping(ctx context.Context) error {
	return classifyPG(p.Pool.Ping(ctx))
}

func classifyPG(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
		return fmt.Errorf("docstore: postgres %s: %w", pgErr.Code, err)
	}
	return unavailable(err)
}
