package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/tasklight/tasklight/internal/config"
	"github.com/tasklight/tasklight/internal/convstore"
	"github.com/tasklight/tasklight/internal/taskstore"
	"github.com/tasklight/tasklight/internal/userdir"
	_ "modernc.org/sqlite"
)

func setupLoader(t *testing.T) (*Loader, convstore.Store, taskstore.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	conversations, err := convstore.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("conversation store: %v", err)
	}
	tasks, err := taskstore.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("task store: %v", err)
	}

	users := userdir.NewStaticDirectory([]config.UserConfig{
		{ID: "alice", Token: "tok-a", Preferences: map[string]string{"locale": "en-US"}},
	})

	return NewLoader(conversations, tasks, users, 50, nil), conversations, tasks
}

func TestLoadFreshConversation(t *testing.T) {
	loader, _, _ := setupLoader(t)

	snap, err := loader.Load(context.Background(), "alice", "", "add buy milk")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(snap.Messages) != 1 {
		t.Fatalf("expected only the current message, got %d", len(snap.Messages))
	}
	current := snap.CurrentUserMessage()
	if current == nil || current.Content != "add buy milk" {
		t.Errorf("current user message = %+v", current)
	}
	if snap.Preferences["locale"] != "en-US" {
		t.Errorf("preferences not loaded: %+v", snap.Preferences)
	}
}

func TestLoadWithHistoryAndTasks(t *testing.T) {
	loader, conversations, tasks := setupLoader(t)
	ctx := context.Background()

	conv, err := conversations.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	turn := []convstore.Message{
		{Role: convstore.RoleUser, Content: "add buy milk"},
		{Role: convstore.RoleAssistant, Content: "Added buy milk."},
	}
	if err := conversations.AppendTurn(ctx, "alice", conv.ID, turn); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	if _, err := tasks.Create(ctx, "alice", taskstore.Fields{Title: "buy milk"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	done, err := tasks.Create(ctx, "alice", taskstore.Fields{Title: "old chore"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := tasks.Complete(ctx, "alice", done.ID); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	snap, err := loader.Load(ctx, "alice", conv.ID, "mark it as done")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(snap.Messages) != 3 {
		t.Fatalf("expected history plus current message, got %d messages", len(snap.Messages))
	}
	if snap.CurrentUserMessage().Content != "mark it as done" {
		t.Errorf("current message = %q", snap.CurrentUserMessage().Content)
	}

	// Only pending tasks are loaded.
	if len(snap.Tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(snap.Tasks))
	}
	if snap.Tasks[0].Title != "buy milk" {
		t.Errorf("task title = %q", snap.Tasks[0].Title)
	}
}

// Ownership is checked before any history is read.
func TestLoadForeignConversation(t *testing.T) {
	loader, conversations, _ := setupLoader(t)
	ctx := context.Background()

	conv, err := conversations.Create(ctx, "bob")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	_, err = loader.Load(ctx, "alice", conv.ID, "hello")
	if !errors.Is(err, convstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign conversation, got %v", err)
	}
}

func TestLoadUnknownConversation(t *testing.T) {
	loader, _, _ := setupLoader(t)

	_, err := loader.Load(context.Background(), "alice", "missing-id", "hello")
	if !errors.Is(err, convstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// Two identical loads produce equivalent snapshots: the loader carries
// no state from one request to the next.
func TestLoadIsStateless(t *testing.T) {
	loader, conversations, tasks := setupLoader(t)
	ctx := context.Background()

	conv, err := conversations.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if err := conversations.AppendTurn(ctx, "alice", conv.ID, []convstore.Message{
		{Role: convstore.RoleUser, Content: "hi"},
	}); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if _, err := tasks.Create(ctx, "alice", taskstore.Fields{Title: "buy milk"}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	first, err := loader.Load(ctx, "alice", conv.ID, "what's on my list?")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := loader.Load(ctx, "alice", conv.ID, "what's on my list?")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if len(first.Messages) != len(second.Messages) {
		t.Errorf("message counts differ: %d vs %d", len(first.Messages), len(second.Messages))
	}
	if len(first.Tasks) != len(second.Tasks) {
		t.Errorf("task counts differ: %d vs %d", len(first.Tasks), len(second.Tasks))
	}
	for i := range first.Messages[:len(first.Messages)-1] {
		if first.Messages[i].ID != second.Messages[i].ID {
			t.Errorf("message %d differs between loads", i)
		}
	}
}
