package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/faceclari/internal/sink"
	"github.com/andresmejia3/faceclari/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs the ledger against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	// pgvector image so the extension is available.
	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("faceclari_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	// --- Test Scenarios ---

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []sink.Event{
		{RunID: "run-1", SourcePath: "/scan/a.jpg", Identity: "alice", FaceIndex: 0, OutputPath: "/out/alice/a.jpg", Embedding: types.Embedding{1, 0, 0}, MatchedAt: base},
		{RunID: "run-1", SourcePath: "/scan/b.jpg", Identity: "bob", FaceIndex: 1, OutputPath: "/out/bob/b.jpg", Embedding: types.Embedding{0, 1, 0}, MatchedAt: base.Add(time.Second)},
		{RunID: "run-2", SourcePath: "/scan/c.jpg", Identity: "alice", FaceIndex: 0, OutputPath: "/out/alice/c.jpg", Embedding: types.Embedding{0.9, 0.1, 0}, MatchedAt: base.Add(2 * time.Second)},
		// No embedding is stored as NULL.
		{RunID: "run-2", SourcePath: "/scan/d.jpg", Identity: "carol", OutputPath: "/out/carol/d.jpg", MatchedAt: base.Add(3 * time.Second)},
	}
	for _, ev := range events {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := s.ListMatches(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 matches, got %d", len(all))
	}
	if all[0].SourcePath != "/scan/d.jpg" {
		t.Errorf("Expected newest first, got %s", all[0].SourcePath)
	}

	alice, err := s.ListMatches(ctx, Filter{Identity: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(alice) != 2 {
		t.Errorf("Expected 2 matches for alice, got %d", len(alice))
	}

	run1, err := s.ListMatches(ctx, Filter{RunID: "run-1", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(run1) != 1 || run1[0].Identity != "bob" {
		t.Errorf("Expected the newest run-1 match (bob), got %+v", run1)
	}
	if run1[0].FaceIndex != 1 || run1[0].OutputPath != "/out/bob/b.jpg" {
		t.Errorf("Unexpected row %+v", run1[0])
	}

	nearest, err := s.Nearest(ctx, types.Embedding{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Nearest failed: %v", err)
	}
	if len(nearest) != 2 || nearest[0].SourcePath != "/scan/a.jpg" || nearest[1].SourcePath != "/scan/c.jpg" {
		t.Fatalf("Unexpected nearest order %+v", nearest)
	}
	epsilon := 1e-6
	if nearest[0].Distance > epsilon {
		t.Errorf("Expected distance ~0 for the exact vector, got %f", nearest[0].Distance)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListMatches(ctx, Filter{}); err == nil {
		t.Error("Expected an error listing after the table was dropped")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
