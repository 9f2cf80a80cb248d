package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/faceclari/internal/sink"
	"github.com/andresmejia3/faceclari/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store is the match ledger: every committed match, with the embedding that matched.
// Backed by a pgx pool, so it is safe for use by concurrent batch workers.
type Store struct {
	pool *pgxpool.Pool
}

// Match is one row of the ledger.
type Match struct {
	ID         int64
	RunID      string
	SourcePath string
	Identity   string
	FaceIndex  int
	OutputPath string
	MatchedAt  time.Time
	Distance   float64 // only set by Nearest
}

// Filter narrows ListMatches. Zero values mean no restriction.
type Filter struct {
	Identity string
	RunID    string
	Limit    int
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Auto-migration
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// initSchema creates the vector extension and ledger table if they don't exist.
// The embedding column is unsized so models of any dimension can share it.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS match_events (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			source_path TEXT NOT NULL,
			identity TEXT NOT NULL,
			face_index INT NOT NULL,
			output_path TEXT NOT NULL,
			embedding VECTOR,
			matched_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS match_events_identity_idx ON match_events (identity);
		CREATE INDEX IF NOT EXISTS match_events_run_id_idx ON match_events (run_id);
	`)
	return err
}

func (s *Store) Close() {
	s.pool.Close()
}

// toVector converts an embedding to a query argument; empty embeddings become NULL.
func toVector(e types.Embedding) any {
	if len(e) == 0 {
		return nil
	}
	f := make([]float32, len(e))
	for i, v := range e {
		f[i] = float32(v)
	}
	return pgvector.NewVector(f)
}

// RecordMatch appends one committed match to the ledger.
func (s *Store) RecordMatch(ctx context.Context, ev sink.Event) error {
	matchedAt := ev.MatchedAt
	if matchedAt.IsZero() {
		matchedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO match_events (run_id, source_path, identity, face_index, output_path, embedding, matched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.RunID, ev.SourcePath, ev.Identity, ev.FaceIndex, ev.OutputPath, toVector(ev.Embedding), matchedAt)
	return err
}

// Record lets the ledger observe an Annotator.
func (s *Store) Record(ctx context.Context, ev sink.Event) error {
	return s.RecordMatch(ctx, ev)
}

// ListMatches returns recorded matches, newest first.
func (s *Store) ListMatches(ctx context.Context, f Filter) ([]Match, error) {
	var (
		where []string
		args  []any
	)
	if f.Identity != "" {
		args = append(args, f.Identity)
		where = append(where, fmt.Sprintf("identity = $%d", len(args)))
	}
	if f.RunID != "" {
		args = append(args, f.RunID)
		where = append(where, fmt.Sprintf("run_id = $%d", len(args)))
	}

	query := "SELECT id, run_id, source_path, identity, face_index, output_path, matched_at FROM match_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY matched_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.RunID, &m.SourcePath, &m.Identity, &m.FaceIndex, &m.OutputPath, &m.MatchedAt); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Nearest returns the recorded matches whose embedding is closest to e by Euclidean distance.
func (s *Store) Nearest(ctx context.Context, e types.Embedding, limit int) ([]Match, error) {
	if len(e) == 0 {
		return nil, errors.New("empty embedding")
	}
	if limit <= 0 {
		limit = 5
	}

	// <-> is the L2 distance operator in pgvector
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, source_path, identity, face_index, output_path, matched_at, embedding <-> $1 AS distance
		FROM match_events
		WHERE embedding IS NOT NULL AND vector_dims(embedding) = $2
		ORDER BY distance ASC
		LIMIT $3
	`, toVector(e), len(e), limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(&m.ID, &m.RunID, &m.SourcePath, &m.Identity, &m.FaceIndex, &m.OutputPath, &m.MatchedAt, &m.Distance)
		return m, err
	})
}

// Reset drops the ledger table; it is recreated on the next New.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS match_events CASCADE;`)
	return err
}
