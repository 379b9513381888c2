package compaction

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // cgo-free driver for tests
)

func testArchive(t *testing.T) *Archive {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	a, err := NewArchive(db)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	return a
}

func archivedMessage(content string, age time.Duration) Message {
	return Message{
		ID:        uuid.New(),
		Role:      "user",
		Content:   content,
		Timestamp: time.Now().Add(-age),
		Size:      int64(len(content)),
		Type:      UserMessage,
		Priority:  PriorityNormal,
	}
}

func TestArchiveStoreAndCount(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	msgs := []Message{
		archivedMessage("first message", 2*time.Hour),
		archivedMessage("second message", time.Hour),
	}
	if err := a.Store(ctx, msgs); err != nil {
		t.Fatalf("store: %v", err)
	}

	n, err := a.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestArchiveStoreIdempotent(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	msg := archivedMessage("only once", time.Hour)
	if err := a.Store(ctx, []Message{msg}); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := a.Store(ctx, []Message{msg}); err != nil {
		t.Fatalf("second store: %v", err)
	}

	n, _ := a.Count(ctx)
	if n != 1 {
		t.Errorf("count = %d, want 1 (same ID stored twice)", n)
	}
}

func TestArchiveStoreEmpty(t *testing.T) {
	a := testArchive(t)
	if err := a.Store(context.Background(), nil); err != nil {
		t.Errorf("storing nothing should succeed, got %v", err)
	}
}

func TestArchiveSearch(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	err := a.Store(ctx, []Message{
		archivedMessage("discussing the websocket handshake", 3*time.Hour),
		archivedMessage("fixing the retry backoff bug", 2*time.Hour),
		archivedMessage("more websocket protocol details", time.Hour),
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	hits, err := a.Search(ctx, "websocket", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	// Newest first.
	if hits[0].Content != "more websocket protocol details" {
		t.Errorf("first hit = %q, want the newest match", hits[0].Content)
	}
	if hits[0].Type != UserMessage || hits[0].Priority != PriorityNormal {
		t.Errorf("metadata lost in round trip: type %v priority %v", hits[0].Type, hits[0].Priority)
	}
}

func TestEngineArchivesEvictions(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	cfg := testConfig()
	e := NewEngine(cfg, nil, testLogger())
	e.SetArchive(a)

	for i := 0; i < 30; i++ {
		e.AddMessage("archived chatter", UserMessage)
	}
	result, err := e.Compact(ctx)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}

	n, err := a.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != result.MessagesCompacted {
		t.Errorf("archived %d messages, compacted %d", n, result.MessagesCompacted)
	}
}
