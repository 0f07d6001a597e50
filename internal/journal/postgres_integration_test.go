//go:build postgres

package journal_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/diprog/systemd-panel/internal/journal"
	"github.com/jackc/pgx/v5/pgxpool"
)

// openPostgresStore connects to the database named by
// PANEL_TEST_POSTGRES_DSN and truncates the journal table so each test
// starts from a clean slate.
func openPostgresStore(t *testing.T) *journal.PostgresStore {
	t.Helper()
	dsn := os.Getenv("PANEL_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("PANEL_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := journal.NewPostgresStore(ctx, journal.PostgresConfig{DSN: dsn, ApplicationName: "panel-test"})
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			t.Errorf("close postgres store: %v", err)
		}
	})

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open truncation pool: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, "TRUNCATE unit_actions"); err != nil {
		t.Fatalf("truncate unit_actions: %v", err)
	}
	return store
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store := openPostgresStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	actions := []journal.Entry{
		{Unit: "nginx.service", Action: "stop", Code: 0, OK: true, CreatedAt: base},
		{Unit: "nginx.service", Action: "start", Code: 0, OK: true, CreatedAt: base.Add(time.Second)},
		{Unit: "redis.service", Action: "restart", Code: 1, OK: false, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, entry := range actions {
		if err := store.Append(ctx, entry); err != nil {
			t.Fatalf("append %s %s: %v", entry.Action, entry.Unit, err)
		}
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Unit != "redis.service" || entries[0].OK {
		t.Fatalf("newest entry wrong: %+v", entries[0])
	}
	if entries[1].Action != "start" {
		t.Fatalf("second entry wrong: %+v", entries[1])
	}
}
