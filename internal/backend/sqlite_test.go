package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quantumsenses/go-deploy-cache/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return NewSQLiteBackend(db)
}

func TestSQLitePersistAndFetchRoundTrip(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	turns := domain.ExpandTurns([]domain.ChatMessage{
		{User: "hello", Assistant: "hi"},
		{User: "deploy it", Assistant: "on it"},
	})
	if err := b.PersistBatch(ctx, "alice", "shop", turns, Credential{}); err != nil {
		t.Fatalf("PersistBatch: %v", err)
	}

	msgs, err := b.FetchMessages(ctx, "alice", "shop", Credential{})
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].User != "hello" || msgs[0].Assistant != "hi" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].User != "deploy it" || msgs[1].Assistant != "on it" {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestSQLitePersistContinuesPositions(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	first := domain.ExpandTurns([]domain.ChatMessage{{User: "one", Assistant: "1"}})
	second := domain.ExpandTurns([]domain.ChatMessage{{User: "two", Assistant: "2"}})
	if err := b.PersistBatch(ctx, "alice", "shop", first, Credential{}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := b.PersistBatch(ctx, "alice", "shop", second, Credential{}); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	msgs, err := b.FetchMessages(ctx, "alice", "shop", Credential{})
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].User != "one" || msgs[1].User != "two" {
		t.Fatalf("batches out of order: %+v", msgs)
	}
}

func TestSQLiteTopicsAreIsolated(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	_ = b.PersistBatch(ctx, "alice", "shop", domain.ExpandTurns([]domain.ChatMessage{{User: "a", Assistant: "b"}}), Credential{})
	_ = b.PersistBatch(ctx, "alice", "blog", domain.ExpandTurns([]domain.ChatMessage{{User: "c", Assistant: "d"}}), Credential{})
	_ = b.PersistBatch(ctx, "bob", "shop", domain.ExpandTurns([]domain.ChatMessage{{User: "e", Assistant: "f"}}), Credential{})

	msgs, err := b.FetchMessages(ctx, "alice", "shop", Credential{})
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].User != "a" {
		t.Fatalf("leak across topics or owners: %+v", msgs)
	}
}

func TestSQLiteFetchUnknownTopicIsEmpty(t *testing.T) {
	b := newTestSQLite(t)

	msgs, err := b.FetchMessages(context.Background(), "alice", "nothing", Credential{})
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("want empty, got %+v", msgs)
	}
}

func TestSQLiteEmptyBatchIsNoop(t *testing.T) {
	b := newTestSQLite(t)
	if err := b.PersistBatch(context.Background(), "alice", "shop", nil, Credential{}); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestSQLiteDanglingUserTurn(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	turns := []domain.Turn{
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleUser, Content: "q2"},
	}
	if err := b.PersistBatch(ctx, "alice", "shop", turns, Credential{}); err != nil {
		t.Fatalf("PersistBatch: %v", err)
	}

	msgs, err := b.FetchMessages(ctx, "alice", "shop", Credential{})
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %+v", msgs)
	}
	if msgs[1].User != "q2" || msgs[1].Assistant != "" {
		t.Errorf("dangling turn folded wrong: %+v", msgs[1])
	}
}

func TestSQLiteContainerAndSpecs(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	if err := b.CreateContainer(ctx, "alice", "shop-1", "https://shop-1.example.com", "10.0.0.7", Credential{}); err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	rec := domain.StagingRecord{
		Name: "shop-1", Frontend: "vue", Backend: "fastapi", DB: "mysql",
		RAM: "8", Mem: "40", CPU: "4",
	}
	if err := b.WriteSpecs(ctx, "shop-1", rec, Credential{}); err != nil {
		t.Fatalf("WriteSpecs: %v", err)
	}

	var row ContainerSpecRow
	if err := b.DB.Where("container_name = ?", "shop-1").First(&row).Error; err != nil {
		t.Fatalf("spec row missing: %v", err)
	}
	if row.Stack != "frontend: vue, backend: fastapi, database: mysql" {
		t.Errorf("stack = %q", row.Stack)
	}
	if row.Resources != "ram: 8GB, mem: 40GB, cpu: 4" {
		t.Errorf("resources = %q", row.Resources)
	}
}
