package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/a-h/slackrag/vectorstore"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Open creates a connection pool with the pgvector types registered and migrates the
// schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: failed to parse config: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnIdleTime = 30 * time.Minute
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("pgstore: failed to create pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: failed to ping database: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Store keeps records in PostgreSQL with pgvector embeddings.
type Store struct {
	pool *pgxpool.Pool
}

var _ vectorstore.Backend = (*Store)(nil)

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Append(ctx context.Context, partition string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		metadata := r.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		rows[i] = []any{
			partition,
			r.Text,
			metadata,
			pgvector.NewVector(r.Embedding),
			r.CreatedAt,
		}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"record"},
		[]string{"partition", "text", "metadata", "embedding", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("pgstore: failed to append records: %w", err)
	}
	return nil
}

func (s *Store) Nearest(ctx context.Context, partition string, embedding []float32, limit int) (matches []vectorstore.Match, err error) {
	query := `
		SELECT text, metadata, embedding, embedding <-> $2 AS distance
		FROM record
		WHERE partition = $1
		ORDER BY embedding <-> $2
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, partition, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: nearest query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m vectorstore.Match
		var v pgvector.Vector
		if err = rows.Scan(&m.Text, &m.Metadata, &v, &m.Distance); err != nil {
			return nil, fmt.Errorf("pgstore: failed to scan record: %w", err)
		}
		m.Embedding = v.Slice()
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: failed to read records: %w", err)
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context, partition string) (n int64, err error) {
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM record WHERE partition = $1`, partition).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgstore: count failed: %w", err)
	}
	return n, nil
}

func (s *Store) DeletePartition(ctx context.Context, partition string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM record WHERE partition = $1`, partition); err != nil {
		return fmt.Errorf("pgstore: delete partition failed: %w", err)
	}
	return nil
}

//go:embed migrations/*.sql
var fs embed.FS

// MigrateDatabaseURL rewrites a postgres:// DSN to the pgx5:// scheme used by migrate.
func MigrateDatabaseURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("pgstore: failed to parse database URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
		u.Scheme = "pgx5"
	default:
		return "", fmt.Errorf("pgstore: invalid scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func Migrate(dsn string) (err error) {
	migrateURL, err := MigrateDatabaseURL(dsn)
	if err != nil {
		return err
	}
	srcDriver, err := iofs.New(fs, "migrations")
	if err != nil {
		return fmt.Errorf("pgstore: migrate failed to create iofs: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", srcDriver, migrateURL)
	if err != nil {
		return fmt.Errorf("pgstore: migrate failed to create source instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("pgstore: migrate up failed: %w", err)
	}
	return nil
}
