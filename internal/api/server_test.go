package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tasklight/tasklight/internal/agent"
	"github.com/tasklight/tasklight/internal/config"
	"github.com/tasklight/tasklight/internal/convstore"
	"github.com/tasklight/tasklight/internal/llm"
	"github.com/tasklight/tasklight/internal/snapshot"
	"github.com/tasklight/tasklight/internal/taskstore"
	"github.com/tasklight/tasklight/internal/tools"
	"github.com/tasklight/tasklight/internal/userdir"
)

// stubLLM answers every chat with a fixed tool-free reply.
type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolSchemas []map[string]any) (*llm.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: s.reply}}, nil
}

func (s *stubLLM) Ping(ctx context.Context) error { return nil }

type testEnv struct {
	handler       http.Handler
	conversations convstore.Store
}

func setupServer(t *testing.T, client llm.Client) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conversations, err := convstore.NewSQLiteStore(db)
	require.NoError(t, err)
	tasks, err := taskstore.NewSQLiteStore(db)
	require.NoError(t, err)

	users := userdir.NewStaticDirectory([]config.UserConfig{
		{ID: "alice", Token: "tok-alice"},
		{ID: "bob", Token: "tok-bob"},
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loader := snapshot.NewLoader(conversations, tasks, users, 50, logger)
	optimizer := snapshot.NewOptimizer(8000, 10, 10, nil, logger)
	registry := tools.NewRegistry(tasks)
	loop := agent.NewLoop(logger, conversations, loader, optimizer, registry, client, agent.Options{RetryDelay: time.Millisecond})

	server := NewServer("", 0, loop, conversations, users, logger)
	return &testEnv{handler: server.Handler(), conversations: conversations}
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatRequiresAuth(t *testing.T) {
	env := setupServer(t, &stubLLM{reply: "hi"})

	rec := doRequest(t, env.handler, "POST", "/chat", "", ChatRequest{Message: "hello"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, env.handler, "POST", "/chat", "wrong-token", ChatRequest{Message: "hello"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatEmptyMessage(t *testing.T) {
	env := setupServer(t, &stubLLM{reply: "hi"})

	rec := doRequest(t, env.handler, "POST", "/chat", "tok-alice", ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChatInvalidBody(t *testing.T) {
	env := setupServer(t, &stubLLM{reply: "hi"})

	req := httptest.NewRequest("POST", "/chat", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer tok-alice")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUnknownConversation(t *testing.T) {
	env := setupServer(t, &stubLLM{reply: "hi"})

	rec := doRequest(t, env.handler, "POST", "/chat", "tok-alice",
		ChatRequest{ConversationID: "no-such-conversation", Message: "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// A conversation owned by another user answers 404, not 403, so probing
// for existence is impossible.
func TestChatForeignConversation(t *testing.T) {
	env := setupServer(t, &stubLLM{reply: "hi"})

	conv, err := env.conversations.Create(context.Background(), "bob")
	require.NoError(t, err)

	rec := doRequest(t, env.handler, "POST", "/chat", "tok-alice",
		ChatRequest{ConversationID: conv.ID, Message: "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatHappyPath(t *testing.T) {
	env := setupServer(t, &stubLLM{reply: "Hello Alice!"})

	rec := doRequest(t, env.handler, "POST", "/chat", "tok-alice", ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "Hello Alice!", resp.Response)
	assert.NotNil(t, resp.ToolCalls, "tool_calls must be an array, not null")

	// Second turn continues the same conversation.
	rec = doRequest(t, env.handler, "POST", "/chat", "tok-alice",
		ChatRequest{ConversationID: resp.ConversationID, Message: "thanks"})
	require.Equal(t, http.StatusOK, rec.Code)

	var second ChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&second))
	assert.Equal(t, resp.ConversationID, second.ConversationID)
}

func TestChatProviderFailure(t *testing.T) {
	// A hard (non-transient) provider error maps to a generic 500.
	env := setupServer(t, &stubLLM{err: assert.AnError})

	rec := doRequest(t, env.handler, "POST", "/chat", "tok-alice", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error(),
		"internal error details must not leak to clients")
}

// A provider that stays down after the retry yields a 200 with an
// apologetic reply. On a fresh thread nothing was persisted, so the
// response carries an empty conversation id rather than one that does
// not resolve.
func TestChatProviderDownDegrades(t *testing.T) {
	env := setupServer(t, &stubLLM{err: &llm.TransientError{Err: assert.AnError}})

	rec := doRequest(t, env.handler, "POST", "/chat", "tok-alice", ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.ConversationID)
	assert.NotEmpty(t, resp.Response)

	// Nothing to list afterwards.
	convs, err := env.conversations.List(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestConversationEndpoints(t *testing.T) {
	env := setupServer(t, &stubLLM{reply: "ok"})

	// Create a conversation through the chat surface.
	rec := doRequest(t, env.handler, "POST", "/chat", "tok-alice", ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	var chat ChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&chat))

	// List shows it.
	rec = doRequest(t, env.handler, "GET", "/v1/conversations", "tok-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Conversations []convstore.Conversation `json:"conversations"`
		Count         int                      `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)

	// Bob sees an empty list and cannot fetch Alice's conversation.
	rec = doRequest(t, env.handler, "GET", "/v1/conversations", "tok-bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bobList struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bobList))
	assert.Equal(t, 0, bobList.Count)

	rec = doRequest(t, env.handler, "GET", "/v1/conversations/"+chat.ConversationID, "tok-bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Alice can fetch the transcript.
	rec = doRequest(t, env.handler, "GET", "/v1/conversations/"+chat.ConversationID, "tok-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Messages []convstore.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	assert.Len(t, detail.Messages, 2)

	// Delete, then it is gone.
	rec = doRequest(t, env.handler, "DELETE", "/v1/conversations/"+chat.ConversationID, "tok-alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, env.handler, "GET", "/v1/conversations/"+chat.ConversationID, "tok-alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndVersionUnauthenticated(t *testing.T) {
	env := setupServer(t, &stubLLM{reply: "ok"})

	rec := doRequest(t, env.handler, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = doRequest(t, env.handler, "GET", "/version", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "version")
}
