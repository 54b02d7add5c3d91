// Package snapshot reconstructs a bounded, per-request view of
// conversational and task state. A snapshot is built fresh at the start
// of every request from durable storage and discarded afterwards; it is
// never a source of truth across requests.
package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tasklight/tasklight/internal/convstore"
	"github.com/tasklight/tasklight/internal/taskstore"
)

// Snapshot is the read-only aggregate fed to the language model.
type Snapshot struct {
	// ConversationID is empty when no conversation was supplied; the
	// orchestrator creates one at persistence time.
	ConversationID string

	// Summary is a synthetic digest of messages that were collapsed to
	// fit the token budget. Empty when no collapsing happened.
	Summary string

	// Messages is the retained history in chronological order. The
	// final entry is always the current user message.
	Messages []convstore.Message

	// Tasks is the relevance-ranked subset of the user's open tasks.
	Tasks []taskstore.Task

	// TaskOverflow counts ranked tasks cut under budget pressure.
	TaskOverflow int

	// Preferences are the user's display/locale flags. Lowest retention
	// priority: dropped last under budget pressure.
	Preferences map[string]string
}

// EstimateTokens approximates the token cost of a string. Rule of
// thumb: ~4 characters per token for English.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// EstimatedTokens returns the approximate token cost of the whole
// snapshot as it will be rendered into the model prompt.
func (s *Snapshot) EstimatedTokens() int {
	total := EstimateTokens(s.Summary)
	for _, m := range s.Messages {
		total += EstimateTokens(m.Content) + 4 // role + framing overhead
	}
	total += EstimateTokens(s.TasksContext())
	total += EstimateTokens(s.PreferencesContext())
	return total
}

// CurrentUserMessage returns the final message, which by construction
// is the user's current request.
func (s *Snapshot) CurrentUserMessage() *convstore.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// TasksContext renders the ranked task list as model-facing text.
func (s *Snapshot) TasksContext() string {
	if len(s.Tasks) == 0 && s.TaskOverflow == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Open tasks (most relevant first):\n")
	for _, t := range s.Tasks {
		fmt.Fprintf(&b, "- [%s] %s (priority: %s", t.ID, t.Title, t.Priority)
		if t.DueAt != nil {
			fmt.Fprintf(&b, ", due: %s", t.DueAt.Format("2006-01-02"))
		}
		b.WriteString(")\n")
	}
	if s.TaskOverflow > 0 {
		fmt.Fprintf(&b, "(%d more tasks not shown)\n", s.TaskOverflow)
	}
	return b.String()
}

// PreferencesContext renders preference flags as model-facing text.
func (s *Snapshot) PreferencesContext() string {
	if len(s.Preferences) == 0 {
		return ""
	}

	keys := make([]string, 0, len(s.Preferences))
	for k := range s.Preferences {
		keys = append(keys, k)
	}
	// Stable order keeps prompts reproducible across workers.
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("User preferences:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, s.Preferences[k])
	}
	return b.String()
}
