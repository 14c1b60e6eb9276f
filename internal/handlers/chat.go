package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"spurr-backend/internal/middleware"
	"spurr-backend/internal/models"
	"spurr-backend/internal/repository"
	"spurr-backend/internal/services"
)

type conversationStore interface {
	Create(ctx context.Context, sessionID string) (*models.Conversation, error)
	GetForSession(ctx context.Context, id uuid.UUID, sessionID string) (*models.Conversation, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.ConversationSummary, error)
}

type messageStore interface {
	Create(ctx context.Context, conversationID uuid.UUID, sender, text string) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	RecentWindow(ctx context.Context, conversationID uuid.UUID, n int) ([]models.Message, error)
}

type replyAgent interface {
	StreamReply(ctx context.Context, history []models.Message, userText string) (services.ReplyStream, error)
}

type ChatHandler struct {
	conversations conversationStore
	messages      messageStore
	agent         replyAgent
	contextWindow int
}

func NewChatHandler(conversations conversationStore, messages messageStore, agent replyAgent, contextWindow int) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		messages:      messages,
		agent:         agent,
		contextWindow: contextWindow,
	}
}

// SendMessage accepts a user message, persists it, and relays the model's
// reply as a server-sent event stream. Failures before the first response
// byte use the JSON error channel; once streaming has begun the status line
// is committed, so later failures surface only as an in-stream error event.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Message is required", r))
		return
	}

	conversation, err := h.resolveConversation(ctx, req.ConversationID, sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to resolve conversation", r))
		return
	}

	// The user's turn is durable before any reply is requested.
	userMessage, err := h.messages.Create(ctx, conversation.ID, models.SenderUser, req.Message)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save message", r))
		return
	}

	history, err := h.messages.RecentWindow(ctx, conversation.ID, h.contextWindow)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load history", r))
		return
	}
	// The new user message goes to the model as the message itself, not as
	// part of the history.
	if n := len(history); n > 0 && history[n-1].ID == userMessage.ID {
		history = history[:n-1]
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Streaming unsupported", r))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", sessionID)
	w.Header().Set("X-Conversation-Id", conversation.ID.String())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream, err := h.agent.StreamReply(ctx, history, req.Message)
	if err != nil {
		writeSSE(w, flusher, "error", models.StreamError{Error: services.ExtractErrorMessage(err)})
		return
	}

	var full strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A dropped connection cancels the request context, but the
			// generator surfaces it as a transport error rather than
			// context.Canceled, so check the context directly too.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				// Caller disconnected; the partial reply is discarded.
				log.Printf("chat: client disconnected mid-stream, conversation %s", conversation.ID)
				return
			}
			log.Printf("chat: generation failed, conversation %s: %v", conversation.ID, err)
			writeSSE(w, flusher, "error", models.StreamError{Error: services.ExtractErrorMessage(err)})
			return
		}

		full.WriteString(fragment)
		writeSSE(w, flusher, "", models.StreamChunk{
			Text:           fragment,
			SessionID:      sessionID,
			ConversationID: conversation.ID.String(),
		})
	}

	// The full reply is stored as a single message, even when empty.
	if _, err := h.messages.Create(ctx, conversation.ID, models.SenderAssistant, full.String()); err != nil {
		log.Printf("chat: failed to save assistant message, conversation %s: %v", conversation.ID, err)
		return
	}

	writeSSE(w, flusher, "end", models.StreamEnd{
		SessionID:      sessionID,
		ConversationID: conversation.ID.String(),
	})
}

// resolveConversation reuses a supplied conversation when it exists and is
// owned by the session; anything else starts a fresh one.
func (h *ChatHandler) resolveConversation(ctx context.Context, rawID, sessionID string) (*models.Conversation, error) {
	if rawID != "" {
		if id, err := uuid.Parse(rawID); err == nil {
			conversation, err := h.conversations.GetForSession(ctx, id, sessionID)
			if err == nil {
				return conversation, nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
		}
	}
	return h.conversations.Create(ctx, sessionID)
}

// GetHistory returns the ordered message log of one conversation. A missing
// or foreign conversation reads as an empty list, not an error.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusOK, models.HistoryResponse{Messages: []models.Message{}})
		return
	}

	if _, err := h.conversations.GetForSession(ctx, id, sessionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusOK, models.HistoryResponse{Messages: []models.Message{}})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load conversation", r))
		return
	}

	messages, err := h.messages.ListByConversation(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load messages", r))
		return
	}

	writeJSON(w, http.StatusOK, models.HistoryResponse{Messages: messages})
}

// ListConversations returns every conversation owned by the session,
// newest first.
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	summaries, err := h.conversations.ListBySession(ctx, sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list conversations", r))
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

func writeSSE(w io.Writer, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}
