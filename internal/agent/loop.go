// Package agent implements the per-request orchestration loop: load
// context, call the model, execute requested tools, resubmit results,
// and persist the finished turn. The loop holds no state between
// requests, so any worker can serve any turn from durable storage alone.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tasklight/tasklight/internal/convstore"
	"github.com/tasklight/tasklight/internal/llm"
	"github.com/tasklight/tasklight/internal/snapshot"
	"github.com/tasklight/tasklight/internal/tools"
)

// Options bounds the loop. Zero values fall back to safe defaults.
type Options struct {
	Model       string
	MaxRounds   int
	LLMTimeout  time.Duration
	ToolTimeout time.Duration
	RetryDelay  time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxRounds <= 0 {
		o.MaxRounds = 5
	}
	if o.LLMTimeout <= 0 {
		o.LLMTimeout = 60 * time.Second
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
}

// TurnResult is the outcome of one handled turn.
type TurnResult struct {
	ConversationID string
	Reply          string
	ToolCalls      []convstore.ToolCallRecord
	// Exhausted is true when the round limit was reached before a
	// final answer; Degraded is true when the provider stayed down
	// after a retry. Both are recoverable, user-visible outcomes.
	Exhausted bool
	Degraded  bool
}

// Loop is the agent orchestrator.
type Loop struct {
	logger        *slog.Logger
	conversations convstore.Store
	loader        *snapshot.Loader
	optimizer     *snapshot.Optimizer
	registry      *tools.Registry
	llm           llm.Client
	opts          Options
}

// NewLoop creates an orchestrator.
func NewLoop(logger *slog.Logger, conversations convstore.Store, loader *snapshot.Loader, optimizer *snapshot.Optimizer, registry *tools.Registry, client llm.Client, opts Options) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Loop{
		logger:        logger.With("component", "agent"),
		conversations: conversations,
		loader:        loader,
		optimizer:     optimizer,
		registry:      registry,
		llm:           client,
		opts:          opts,
	}
}

// HandleTurn runs one turn to completion.
//
// Ownership failures surface as convstore.ErrNotFound before any model
// call. Store failures fail the turn. Provider failures are retried
// once; a second failure yields a degraded result with nothing
// persisted. Reaching the round limit yields a best-effort reply that
// is persisted like any other turn, since tools may already have
// mutated task state.
func (l *Loop) HandleTurn(ctx context.Context, userID, conversationID, text string) (*TurnResult, error) {
	start := time.Now()
	l.logger.Info("turn started", "user", userID, "conversation", conversationID)

	// Load and optimize. Read-only; fails fast on ownership violations.
	snap, err := l.loader.Load(ctx, userID, conversationID, text)
	if err != nil {
		return nil, err
	}
	snap = l.optimizer.Optimize(snap)

	messages := l.compose(userID, snap)

	var reply string
	var records []convstore.ToolCallRecord
	exhausted := true

	for round := 1; round <= l.opts.MaxRounds; round++ {
		resp, err := l.callModel(ctx, messages)
		if err != nil {
			if llm.IsTransient(err) {
				l.logger.Warn("provider unavailable after retry", "round", round, "error", err)
				return &TurnResult{ConversationID: conversationID, Reply: apologyReply, Degraded: true}, nil
			}
			return nil, fmt.Errorf("model call: %w", err)
		}

		if !resp.HasToolCalls() {
			reply = resp.Message.Content
			exhausted = false
			break
		}

		// The model asked for tools: run each with the user id bound,
		// feed results back, and loop.
		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			record, resultPayload, err := l.executeTool(ctx, userID, tc)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    string(resultPayload),
				ToolCallID: tc.ID,
			})
		}
	}

	if exhausted {
		l.logger.Warn("round limit reached without final answer",
			"conversation", conversationID,
			"rounds", l.opts.MaxRounds,
			"tool_calls", len(records),
		)
		reply = exhaustedReply
	}

	// Persist the turn. A fresh thread gets its conversation record
	// here, so nothing exists in the store for turns that failed
	// earlier.
	if conversationID == "" {
		conv, err := l.conversations.Create(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		conversationID = conv.ID
	}

	turn := []convstore.Message{
		{Role: convstore.RoleUser, Content: text},
		{Role: convstore.RoleAssistant, Content: reply, ToolCalls: records},
	}
	if err := l.conversations.AppendTurn(ctx, userID, conversationID, turn); err != nil {
		// Tool mutations are already committed and will not be rolled
		// back; the conversation just won't mention them. Accepted
		// inconsistency window; log it loudly for observability.
		l.logger.Error("turn persistence failed after tool execution",
			"conversation", conversationID,
			"tool_calls", len(records),
			"error", err,
		)
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	l.logger.Info("turn completed",
		"conversation", conversationID,
		"tool_calls", len(records),
		"exhausted", exhausted,
		"duration", time.Since(start),
	)

	return &TurnResult{
		ConversationID: conversationID,
		Reply:          reply,
		ToolCalls:      records,
		Exhausted:      exhausted,
	}, nil
}

// compose builds the model-facing message sequence from an optimized
// snapshot: system instruction, collapsed summary, task and preference
// context, then the retained history ending in the current user message.
func (l *Loop) compose(userID string, snap *snapshot.Snapshot) []llm.Message {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(userID, time.Now())},
	}

	if snap.Summary != "" {
		messages = append(messages, llm.Message{Role: "system", Content: snap.Summary})
	}
	if tc := snap.TasksContext(); tc != "" {
		messages = append(messages, llm.Message{Role: "system", Content: tc})
	}
	if pc := snap.PreferencesContext(); pc != "" {
		messages = append(messages, llm.Message{Role: "system", Content: pc})
	}

	for _, m := range snap.Messages {
		role := m.Role
		if role == convstore.RoleTool {
			// Stored tool transcripts replay as assistant context; the
			// provider protocol only accepts tool messages inside an
			// active tool exchange.
			role = convstore.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}

	return messages
}

// callModel invokes the provider with a per-call timeout and retries
// once with backoff on transient failure.
func (l *Loop) callModel(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	resp, err := l.doCall(ctx, messages)
	if err == nil || !llm.IsTransient(err) {
		return resp, err
	}

	l.logger.Warn("provider call failed, retrying once", "delay", l.opts.RetryDelay, "error", err)
	timer := time.NewTimer(l.opts.RetryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	return l.doCall(ctx, messages)
}

func (l *Loop) doCall(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.opts.LLMTimeout)
	defer cancel()
	return l.llm.Chat(callCtx, l.opts.Model, messages, l.registry.Schemas())
}

// executeTool runs one requested tool call. Client errors become
// structured error results the model can react to; store errors fail
// the turn. Either way the returned record carries a terminal outcome;
// in-flight invocations are never persisted.
func (l *Loop) executeTool(ctx context.Context, userID string, tc llm.ToolCall) (convstore.ToolCallRecord, json.RawMessage, error) {
	name := tc.Function.Name
	record := convstore.ToolCallRecord{
		Name:      name,
		Arguments: tc.Function.Arguments,
	}

	toolCtx, cancel := context.WithTimeout(ctx, l.opts.ToolTimeout)
	defer cancel()

	l.logger.Debug("executing tool", "tool", name)
	result, err := l.registry.Execute(toolCtx, userID, name, tc.Function.Arguments)
	if err != nil {
		if !tools.IsClientError(err) {
			return record, nil, fmt.Errorf("tool %s: %w", name, err)
		}
		// Correctable input error: hand it back to the model as the
		// tool result so it can retry within the round budget.
		l.logger.Debug("tool returned client error", "tool", name, "error", err)
		payload := tools.ErrorResult(err)
		record.Result = payload
		record.Error = err.Error()
		return record, payload, nil
	}

	record.Result = result
	return record, result, nil
}
