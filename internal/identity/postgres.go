package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps one session id per client key, so several machines can share a
// database without sharing a conversation.
type PostgresStore struct {
	pool      *pgxpool.Pool
	clientKey string
}

func NewPostgresStore(ctx context.Context, databaseURL, clientKey string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, clientKey: clientKey}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tars_sessions (
			client_key TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT session_id FROM tars_sessions WHERE client_key=$1`,
		s.clientKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("load session id: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Save(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tars_sessions (client_key, session_id, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (client_key) DO UPDATE SET session_id = EXCLUDED.session_id, updated_at = EXCLUDED.updated_at`,
		s.clientKey,
		sessionID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session id: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ClientKey derives a stable key for this machine from its hostname.
func ClientKey(hostname string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(hostname)).String()
}
