// Package api implements the HTTP surface of the agent core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tasklight/tasklight/internal/agent"
	"github.com/tasklight/tasklight/internal/buildinfo"
	"github.com/tasklight/tasklight/internal/convstore"
	"github.com/tasklight/tasklight/internal/userdir"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address       string
	port          int
	loop          *agent.Loop
	conversations convstore.Store
	users         userdir.Directory
	logger        *slog.Logger
	server        *http.Server
}

// NewServer creates an API server.
func NewServer(address string, port int, loop *agent.Loop, conversations convstore.Store, users userdir.Directory, logger *slog.Logger) *Server {
	return &Server{
		address:       address,
		port:          port,
		loop:          loop,
		conversations: conversations,
		users:         users,
		logger:        logger,
	}
}

// Handler builds the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat surface
	mux.HandleFunc("POST /chat", s.withAuth(s.handleChat))

	// Conversation history, owner-scoped
	mux.HandleFunc("GET /v1/conversations", s.withAuth(s.handleConversationList))
	mux.HandleFunc("GET /v1/conversations/{id}", s.withAuth(s.handleConversationGet))
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.withAuth(s.handleConversationDelete))

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // tool loops can take a while
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type contextKey string

const userIDKey contextKey = "user_id"

// withAuth resolves the bearer token to a user id via the user
// directory and stores it in the request context. The resolved id is
// the only identity the rest of the request trusts.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		userID, err := s.users.Authenticate(token)
		if err != nil {
			s.errorResponse(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ChatToolCall is one tool invocation echoed for observability.
type ChatToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
}

// ChatResponse is the POST /chat response.
type ChatResponse struct {
	// ConversationID is empty when a degraded turn on a fresh thread
	// persisted nothing; there is no conversation for the client to
	// continue. Resending the message starts one.
	ConversationID string         `json:"conversation_id"`
	Response       string         `json:"response"`
	ToolCalls      []ChatToolCall `json:"tool_calls"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusUnprocessableEntity, "message is required")
		return
	}

	result, err := s.loop.HandleTurn(r.Context(), userID(r), req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "conversation not found")
			return
		}
		// Internal details (provider bodies, store errors) stay in the
		// logs; the client gets a generic message.
		s.logger.Error("turn failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	toolCalls := make([]ChatToolCall, 0, len(result.ToolCalls))
	for _, tc := range result.ToolCalls {
		toolCalls = append(toolCalls, ChatToolCall{
			Name:      tc.Name,
			Arguments: tc.Arguments,
			Result:    tc.Result,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		ConversationID: result.ConversationID,
		Response:       result.Reply,
		ToolCalls:      toolCalls,
	}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.conversations.List(r.Context(), userID(r))
	if err != nil {
		s.logger.Error("conversation list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	if convs == nil {
		convs = []convstore.Conversation{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.conversations.Get(r.Context(), userID(r), id)
	if err != nil {
		s.conversationError(w, err)
		return
	}

	msgs, err := s.conversations.RecentMessages(r.Context(), userID(r), id, 200)
	if err != nil {
		s.conversationError(w, err)
		return
	}
	if msgs == nil {
		msgs = []convstore.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	}, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.Delete(r.Context(), userID(r), r.PathValue("id")); err != nil {
		s.conversationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) conversationError(w http.ResponseWriter, err error) {
	if errors.Is(err, convstore.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.logger.Error("conversation request failed", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
