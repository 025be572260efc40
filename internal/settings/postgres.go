package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/postgres"
)

// Schema creates the options table used by PostgresStore.
const Schema = `CREATE TABLE IF NOT EXISTS search_options (
	name       TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the blob as one row of search_options. Updates lock
// the row for the duration of the read-modify-write.
type PostgresStore struct {
	db   *postgres.Client
	name string
}

func NewPostgresStore(db *postgres.Client, name string) *PostgresStore {
	return &PostgresStore{db: db, name: name}
}

// EnsureSchema creates the options table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.db.EnsureSchema(ctx, Schema)
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT value FROM search_options WHERE name = $1`, s.name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading option %s: %w", s.name, err)
	}
	return raw, nil
}

func (s *PostgresStore) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		// make sure a row exists so FOR UPDATE has something to lock
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_options (name, value) VALUES ($1, '{}') ON CONFLICT (name) DO NOTHING`,
			s.name,
		); err != nil {
			return fmt.Errorf("seeding option %s: %w", s.name, err)
		}

		var current []byte
		if err := tx.QueryRowContext(ctx,
			`SELECT value FROM search_options WHERE name = $1 FOR UPDATE`, s.name,
		).Scan(&current); err != nil {
			return fmt.Errorf("locking option %s: %w", s.name, err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE search_options SET value = $2, updated_at = now() WHERE name = $1`,
			s.name, string(next),
		); err != nil {
			return fmt.Errorf("writing option %s: %w", s.name, err)
		}
		return nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, `DELETE FROM search_options WHERE name = $1`, s.name); err != nil {
		return fmt.Errorf("deleting option %s: %w", s.name, err)
	}
	return nil
}
