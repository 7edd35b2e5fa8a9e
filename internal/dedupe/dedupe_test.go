package dedupe

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slackstream/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openSQLite(t *testing.T, ttl time.Duration) *SQLite {
	t.Helper()
	l, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "events.db"), ttl, testLogger())
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLite_SeenAfterMark(t *testing.T) {
	l := openSQLite(t, time.Hour)
	ctx := context.Background()

	seen, err := l.Seen(ctx, "Ev1")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Fatal("fresh ledger reported Ev1 as seen")
	}

	if err := l.Mark(ctx, "Ev1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Mark(ctx, "Ev1"); err != nil {
		t.Fatalf("second mark: %v", err)
	}

	seen, err = l.Seen(ctx, "Ev1")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("expected Ev1 to be seen after Mark")
	}

	seen, _ = l.Seen(ctx, "Ev2")
	if seen {
		t.Error("Ev2 was never marked")
	}
}

func TestSQLite_ExpiredEntryNotSeen(t *testing.T) {
	l := openSQLite(t, time.Minute)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	if err := l.Mark(ctx, "Ev1"); err != nil {
		t.Fatal(err)
	}

	l.now = func() time.Time { return base.Add(30 * time.Second) }
	if seen, _ := l.Seen(ctx, "Ev1"); !seen {
		t.Error("entry inside ttl should be seen")
	}

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	if seen, _ := l.Seen(ctx, "Ev1"); seen {
		t.Error("entry past ttl should not be seen")
	}

	if err := l.sweep(ctx); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM processed_events").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("sweep left %d rows", n)
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	l, err := NewSQLite(path, 0, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Mark(ctx, "Ev9"); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l, err = NewSQLite(path, 0, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	if seen, _ := l.Seen(ctx, "Ev9"); !seen {
		t.Error("mark did not survive reopen")
	}
	v, err := schemaVersionOf(l.db)
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Errorf("schema version = %d, want %d", v, schemaVersion)
	}
}

func TestNop(t *testing.T) {
	var l Ledger = Nop{}
	ctx := context.Background()
	if err := l.Mark(ctx, "Ev1"); err != nil {
		t.Fatal(err)
	}
	if seen, _ := l.Seen(ctx, "Ev1"); seen {
		t.Error("Nop must never report seen")
	}
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	l, err := New(ctx, config.DedupeConfig{Backend: "none"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(Nop); !ok {
		t.Errorf("none backend = %T", l)
	}

	l, err = New(ctx, config.DedupeConfig{
		Backend:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "e.db"),
		TTL:        time.Hour,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if _, ok := l.(*SQLite); !ok {
		t.Errorf("sqlite backend = %T", l)
	}

	if _, err := New(ctx, config.DedupeConfig{Backend: "etcd"}, testLogger()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestRedis_SeenAfterMark(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	l, err := NewRedis(ctx, RedisConfig{URL: url, TTL: time.Minute, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer l.Close()

	id := "test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { l.client.Del(context.Background(), keyPrefix+id) })

	if seen, _ := l.Seen(ctx, id); seen {
		t.Fatal("fresh id reported seen")
	}
	if err := l.Mark(ctx, id); err != nil {
		t.Fatal(err)
	}
	if seen, _ := l.Seen(ctx, id); !seen {
		t.Error("expected id to be seen after Mark")
	}
}
