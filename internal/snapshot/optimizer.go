package snapshot

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tasklight/tasklight/internal/convstore"
)

// Summarizer collapses older messages into a single digest entry. The
// truncation baseline below is the default; a model-backed summarizer
// can be substituted without touching the optimizer.
type Summarizer interface {
	Summarize(messages []convstore.Message) string
}

// Optimizer reduces a snapshot to fit a token budget while preserving
// the most recent turns verbatim. The current user message is never
// cut, regardless of budget pressure.
type Optimizer struct {
	budget     int
	keepRecent int
	taskLimit  int
	summarizer Summarizer
	logger     *slog.Logger
}

// NewOptimizer creates an optimizer for the given token budget.
func NewOptimizer(budget, keepRecent, taskLimit int, summarizer Summarizer, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	if keepRecent < 1 {
		keepRecent = 1
	}
	if taskLimit < 1 {
		taskLimit = 1
	}
	if summarizer == nil {
		summarizer = TruncateSummarizer{}
	}
	return &Optimizer{
		budget:     budget,
		keepRecent: keepRecent,
		taskLimit:  taskLimit,
		summarizer: summarizer,
		logger:     logger.With("component", "optimizer"),
	}
}

// Optimize returns a snapshot that fits the budget. Reduction order:
// collapse old history into a summary, then cap the task list, then
// drop preferences. Each step stops as soon as the estimate fits.
// Under sustained pressure the keepRecent and taskLimit floors give
// way too; the only content that may legitimately overflow is a
// current user message too large for the budget on its own.
func (o *Optimizer) Optimize(snap *Snapshot) *Snapshot {
	if snap.EstimatedTokens() <= o.budget {
		return snap
	}

	before := snap.EstimatedTokens()

	// (a) Collapse all but the most recent keepRecent messages into a
	// single synthetic summary entry. The final message is the current
	// user request and is always inside the retained window.
	if len(snap.Messages) > o.keepRecent {
		cut := len(snap.Messages) - o.keepRecent
		snap.Summary = o.summarizer.Summarize(snap.Messages[:cut])
		snap.Messages = snap.Messages[cut:]
	}

	// (b) Cap the ranked task list and leave a count-only marker.
	if snap.EstimatedTokens() > o.budget && len(snap.Tasks) > o.taskLimit {
		snap.TaskOverflow += len(snap.Tasks) - o.taskLimit
		snap.Tasks = snap.Tasks[:o.taskLimit]
	}

	// (c) Preferences go last; they are the cheapest to lose.
	if snap.EstimatedTokens() > o.budget && len(snap.Preferences) > 0 {
		snap.Preferences = nil
	}

	// If the budget is still exceeded, shrink the retained window down
	// to the single current user message.
	for snap.EstimatedTokens() > o.budget && len(snap.Messages) > 1 {
		snap.Summary = o.summarizer.Summarize(append(summarized(snap.Summary), snap.Messages[0]))
		snap.Messages = snap.Messages[1:]
	}

	// Past this point the configured floors no longer hold. Cut tasks
	// entirely, counting each into the overflow marker.
	for snap.EstimatedTokens() > o.budget && len(snap.Tasks) > 0 {
		snap.TaskOverflow++
		snap.Tasks = snap.Tasks[:len(snap.Tasks)-1]
	}

	// The overflow marker is informational only; it goes before the
	// summary does.
	if snap.EstimatedTokens() > o.budget && snap.TaskOverflow > 0 {
		snap.TaskOverflow = 0
	}

	// Finally clip the summary to whatever room the rest of the
	// snapshot leaves, dropping it outright when there is none.
	if snap.EstimatedTokens() > o.budget && snap.Summary != "" {
		rest := snap.EstimatedTokens() - EstimateTokens(snap.Summary)
		if room := (o.budget - rest) * 4; room <= 0 {
			snap.Summary = ""
		} else {
			snap.Summary = clipString(snap.Summary, room)
		}
	}

	o.logger.Debug("snapshot optimized",
		"before_tokens", before,
		"after_tokens", snap.EstimatedTokens(),
		"budget", o.budget,
		"retained_messages", len(snap.Messages),
	)

	return snap
}

// summarized wraps an existing summary back into message form so it can
// be folded together with further collapsed messages.
func summarized(summary string) []convstore.Message {
	if summary == "" {
		return nil
	}
	return []convstore.Message{{Role: convstore.RoleAssistant, Content: summary}}
}

// TruncateSummarizer is the baseline summarization strategy: each
// collapsed message is reduced to a clipped one-liner. Lossy but cheap,
// and good enough to keep referents like "the task" resolvable.
type TruncateSummarizer struct {
	// MaxLineLen clips each message line (default 80 characters).
	MaxLineLen int
}

// Summarize renders the collapsed messages as a compact digest.
func (t TruncateSummarizer) Summarize(messages []convstore.Message) string {
	maxLine := t.MaxLineLen
	if maxLine <= 0 {
		maxLine = 80
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Earlier conversation (%d messages):\n", len(messages))
	for _, m := range messages {
		content := clipString(strings.ReplaceAll(m.Content, "\n", " "), maxLine)
		if content == "" && len(m.ToolCalls) > 0 {
			content = fmt.Sprintf("(invoked %s)", m.ToolCalls[0].Name)
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	return b.String()
}

// clipString truncates s to at most max bytes, backing up to a rune
// boundary so multi-byte characters are never split. Anything cut is
// marked with a trailing "...".
func clipString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
