package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tasklight/tasklight/internal/convstore"
	"github.com/tasklight/tasklight/internal/taskstore"
	"github.com/tasklight/tasklight/internal/userdir"
)

// Loader builds snapshots from the conversation store, the task store,
// and the user directory. It is read-only and holds no per-request
// state, so one loader serves any number of concurrent requests.
type Loader struct {
	conversations convstore.Store
	tasks         taskstore.Store
	users         userdir.Directory
	historyLimit  int
	logger        *slog.Logger
}

// NewLoader creates a context loader.
func NewLoader(conversations convstore.Store, tasks taskstore.Store, users userdir.Directory, historyLimit int, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Loader{
		conversations: conversations,
		tasks:         tasks,
		users:         users,
		historyLimit:  historyLimit,
		logger:        logger.With("component", "loader"),
	}
}

// Load builds a snapshot for one turn. conversationID may be empty for
// a fresh thread. The ownership check runs before any data is returned;
// a missing or foreign conversation fails with convstore.ErrNotFound
// before a single message is read.
func (l *Loader) Load(ctx context.Context, userID, conversationID, userMessage string) (*Snapshot, error) {
	snap := &Snapshot{
		ConversationID: conversationID,
		Preferences:    l.users.Preferences(userID),
	}

	if conversationID != "" {
		msgs, err := l.conversations.RecentMessages(ctx, userID, conversationID, l.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		snap.Messages = msgs
	}

	// The current request rides along as the final message so the
	// optimizer can guarantee it survives budget pressure.
	snap.Messages = append(snap.Messages, convstore.Message{
		Role:      convstore.RoleUser,
		Content:   userMessage,
		CreatedAt: time.Now().UTC(),
	})

	tasks, err := l.tasks.List(ctx, userID, taskstore.FilterPending)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	snap.Tasks = tasks

	l.logger.Debug("snapshot loaded",
		"conversation", conversationID,
		"messages", len(snap.Messages),
		"tasks", len(snap.Tasks),
		"est_tokens", snap.EstimatedTokens(),
	)

	return snap, nil
}
