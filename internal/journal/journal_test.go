package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/pixelvault/internal/canon"
	"github.com/andresmejia3/pixelvault/internal/fingerprint"
	"github.com/andresmejia3/pixelvault/internal/types"
	"github.com/andresmejia3/pixelvault/internal/wire"
)

// TestJournalIntegration runs against a real Postgres container.
// It requires Docker to be running.
func TestJournalIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
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
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pixelvault_test"),
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

	// Initialize Journal (runs migrations)
	j, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to journal: %v", err)
	}
	defer j.Close()

	engine, err := fingerprint.NewEngine(fingerprint.DefaultAlgorithm)
	if err != nil {
		t.Fatal(err)
	}
	fp := engine.Sum([]byte{1, 2, 3})

	// --- Test Scenarios ---

	outcomes := []types.Outcome{
		{Status: wire.StatusOK, Stage: types.StagePersist, Size: 120, Fingerprint: fp, Handle: 0, Path: "/tmp/a.png"},
		{Status: wire.StatusDuplicate, Stage: types.StageDedup, Size: 140, Fingerprint: fp, Handle: 0},
		{Status: wire.StatusError, Stage: types.StageCanonicalize, Size: 0, Err: canon.ErrDecode},
	}
	for _, out := range outcomes {
		if err := j.Record(ctx, "conn-1", "127.0.0.1:5555", out); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	recent, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(recent))
	}
	if recent[0].Status != "ERROR" || recent[0].Error == "" || recent[0].Fingerprint != "" {
		t.Errorf("Newest entry = %+v, want the rejected frame", recent[0])
	}

	seen, err := j.ByFingerprint(ctx, fp.Hex())
	if err != nil {
		t.Fatalf("ByFingerprint failed: %v", err)
	}
	if len(seen) != 2 || seen[0].Status != "OK" || seen[0].Path != "/tmp/a.png" || seen[0].Algorithm != "sha2-256" {
		t.Errorf("ByFingerprint = %+v", seen)
	}

	counts, err := j.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts["OK"] != 1 || counts["DUPLICATE"] != 1 || counts["ERROR"] != 1 {
		t.Errorf("Counts = %v", counts)
	}

	if err := j.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := j.Recent(ctx, 1); err == nil {
		t.Error("Expected an error querying a dropped journal")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
