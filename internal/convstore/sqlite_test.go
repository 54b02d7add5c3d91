package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected non-empty conversation id")
	}
	if conv.UserID != "alice" {
		t.Errorf("UserID = %q, want %q", conv.UserID, "alice")
	}

	got, err := store.Get(ctx, "alice", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != conv.ID {
		t.Errorf("got id %q, want %q", got.ID, conv.ID)
	}
}

func TestGetNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "alice", "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// A foreign conversation must be indistinguishable from a missing one.
func TestGetForeignConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = store.Get(ctx, "bob", conv.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign conversation, got %v", err)
	}
}

func TestAppendTurnAndRecentMessages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	record := ToolCallRecord{
		Name:      "create_task",
		Arguments: json.RawMessage(`{"title":"buy milk"}`),
		Result:    json.RawMessage(`{"created":true}`),
	}
	turn := []Message{
		{Role: RoleUser, Content: "add buy milk to my list"},
		{Role: RoleAssistant, Content: "Added buy milk.", ToolCalls: []ToolCallRecord{record}},
	}
	if err := store.AppendTurn(ctx, "alice", conv.ID, turn); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	msgs, err := store.RecentMessages(ctx, "alice", conv.ID, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("unexpected roles: %q, %q", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call record, got %d", len(msgs[1].ToolCalls))
	}
	if msgs[1].ToolCalls[0].Name != "create_task" {
		t.Errorf("tool call name = %q, want create_task", msgs[1].ToolCalls[0].Name)
	}
}

// The limit keeps the newest messages, returned oldest first.
func TestRecentMessagesLimitAndOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 6; i++ {
		turn := []Message{
			{Role: RoleUser, Content: string(rune('a' + i))},
		}
		if err := store.AppendTurn(ctx, "alice", conv.ID, turn); err != nil {
			t.Fatalf("append turn %d: %v", i, err)
		}
	}

	msgs, err := store.RecentMessages(ctx, "alice", conv.ID, 3)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []string{"d", "e", "f"}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, w)
		}
	}
}

func TestAppendTurnOwnership(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = store.AppendTurn(ctx, "bob", conv.ID, []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign append, got %v", err)
	}
}

func TestListOrderedByActivity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Touch the first conversation so it becomes the most recent.
	if err := store.AppendTurn(ctx, "alice", first.ID, []Message{{Role: RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	convs, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations for alice, got %d", len(convs))
	}
	if convs[0].ID != first.ID {
		t.Errorf("convs[0].ID = %q, want most recently active %q", convs[0].ID, first.ID)
	}
	if convs[1].ID != second.ID {
		t.Errorf("convs[1].ID = %q, want %q", convs[1].ID, second.ID)
	}
}

func TestDeleteRemovesMessages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.AppendTurn(ctx, "alice", conv.ID, []Message{{Role: RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	if err := store.Delete(ctx, "alice", conv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = store.Get(ctx, "alice", conv.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conv.ID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 messages after delete, got %d", count)
	}
}

func TestDeleteForeignConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Delete(ctx, "bob", conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign delete, got %v", err)
	}

	// Alice's conversation survives.
	if _, err := store.Get(ctx, "alice", conv.ID); err != nil {
		t.Errorf("conversation should still exist: %v", err)
	}
}
