package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"spurr-backend/internal/models"
)

func sseServer(t *testing.T, conversationID string, includeHeader bool, frames []string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Session-Id") == "" {
			t.Error("Expected X-Session-Id header on submit")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		if includeHeader {
			w.Header().Set("X-Conversation-Id", conversationID)
		}
		w.WriteHeader(http.StatusOK)
		for _, frame := range frames {
			fmt.Fprint(w, frame)
		}
	}))
}

func chunkFrame(text, conversationID string) string {
	data, _ := json.Marshal(models.StreamChunk{Text: text, SessionID: "s", ConversationID: conversationID})
	return fmt.Sprintf("data: %s\n\n", data)
}

func TestSend_StreamsFragments(t *testing.T) {
	convID := uuid.NewString()
	server := sseServer(t, convID, true, []string{
		chunkFrame("Hel", convID),
		chunkFrame("lo", convID),
		chunkFrame(" there", convID),
		fmt.Sprintf("event: end\ndata: {\"sessionId\":\"s\",\"conversationId\":%q}\n\n", convID),
	})
	defer server.Close()

	c := New(server.URL, "session-1")

	var fragments []string
	turn, err := c.Send(context.Background(), "Hi", func(fragment string) {
		fragments = append(fragments, fragment)
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if turn.Text != "Hello there" {
		t.Errorf("Expected turn text 'Hello there', got %q", turn.Text)
	}
	if turn.Failed {
		t.Error("Expected a successful turn")
	}
	if !reflect.DeepEqual(fragments, []string{"Hel", "lo", " there"}) {
		t.Errorf("Expected fragments in arrival order, got %v", fragments)
	}
	if c.ConversationID() != convID {
		t.Errorf("Expected conversation %q adopted, got %q", convID, c.ConversationID())
	}
}

func TestSend_AdoptsConversationFromFrame(t *testing.T) {
	convID := uuid.NewString()
	server := sseServer(t, convID, false, []string{
		chunkFrame("hi", convID),
		chunkFrame("!", "different-id-in-later-frame"),
	})
	defer server.Close()

	c := New(server.URL, "session-1")
	turn, err := c.Send(context.Background(), "Hi", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Adoption happens exactly once per turn: later frames cannot move it.
	if c.ConversationID() != convID {
		t.Errorf("Expected conversation %q, got %q", convID, c.ConversationID())
	}
	if turn.ConversationID != convID {
		t.Errorf("Expected turn conversation %q, got %q", convID, turn.ConversationID)
	}
}

func TestSend_ErrorReplacesText(t *testing.T) {
	convID := uuid.NewString()
	server := sseServer(t, convID, true, []string{
		chunkFrame("Hel", convID),
		chunkFrame("lo", convID),
		"event: error\ndata: {\"error\":\"quota exceeded\"}\n\n",
	})
	defer server.Close()

	c := New(server.URL, "session-1")
	turn, err := c.Send(context.Background(), "Hi", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !turn.Failed {
		t.Error("Expected a failed turn")
	}
	if turn.Text != "quota exceeded" {
		t.Errorf("Expected the partial text to be replaced by the error, got %q", turn.Text)
	}
}

func TestSend_IgnoresMalformedFrames(t *testing.T) {
	convID := uuid.NewString()
	server := sseServer(t, convID, true, []string{
		"data: not json at all\n\n",
		chunkFrame("Hel", convID),
		"data: [DONE]\n\n",
		": comment line\n\n",
		chunkFrame("lo", convID),
	})
	defer server.Close()

	c := New(server.URL, "session-1")
	turn, err := c.Send(context.Background(), "Hi", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if turn.Text != "Hello" {
		t.Errorf("Expected malformed frames to be skipped, got %q", turn.Text)
	}
}

func TestUse_SendsActiveConversation(t *testing.T) {
	convID := uuid.NewString()
	var gotConversationID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		gotConversationID = req.ConversationID

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Conversation-Id", convID)
		fmt.Fprint(w, chunkFrame("ok", convID))
	}))
	defer server.Close()

	c := New(server.URL, "session-1")
	c.Use(convID)
	if c.ConversationID() != convID {
		t.Fatalf("Expected active conversation %q, got %q", convID, c.ConversationID())
	}

	if _, err := c.Send(context.Background(), "Hi again", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotConversationID != convID {
		t.Errorf("Expected submit to carry conversation %q, got %q", convID, gotConversationID)
	}
}

func TestSend_EmptyMessageRejectedLocally(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	c := New(server.URL, "session-1")
	if _, err := c.Send(context.Background(), "   ", nil); err == nil {
		t.Fatal("Expected an error for a blank message")
	}
	if requests != 0 {
		t.Errorf("Expected no request for a blank message, got %d", requests)
	}
}

func TestSend_SurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(models.ErrorResponse{
			Error: models.APIError{Code: "VALIDATION_ERROR", Message: "Message is required"},
		})
	}))
	defer server.Close()

	c := New(server.URL, "session-1")
	_, err := c.Send(context.Background(), "Hi", nil)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if got := err.Error(); got != "VALIDATION_ERROR: Message is required" {
		t.Errorf("Unexpected error message: %q", got)
	}
}

func TestHistoryAndConversations(t *testing.T) {
	convID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/chat":
			json.NewEncoder(w).Encode([]models.ConversationSummary{
				{ID: convID, SessionID: "session-1", MessageCount: 2},
			})
		case "/api/chat/" + convID.String():
			json.NewEncoder(w).Encode(models.HistoryResponse{
				Messages: []models.Message{
					{ID: uuid.New(), ConversationID: convID, Sender: models.SenderUser, Text: "hi"},
					{ID: uuid.New(), ConversationID: convID, Sender: models.SenderAssistant, Text: "hello"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := New(server.URL, "session-1")

	summaries, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatalf("Conversations failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].MessageCount != 2 {
		t.Errorf("Unexpected summaries: %v", summaries)
	}

	messages, err := c.History(context.Background(), convID.String())
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(messages) != 2 || messages[0].Text != "hi" || messages[1].Text != "hello" {
		t.Errorf("Unexpected history: %v", messages)
	}
}

func TestLoadOrCreateSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session")

	id, err := LoadOrCreateSession(path)
	if err != nil {
		t.Fatalf("LoadOrCreateSession failed: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("Expected a uuid session id, got %q", id)
	}

	again, err := LoadOrCreateSession(path)
	if err != nil {
		t.Fatalf("Second LoadOrCreateSession failed: %v", err)
	}
	if again != id {
		t.Errorf("Expected the persisted id %q, got %q", id, again)
	}

	data, _ := os.ReadFile(path)
	if len(data) == 0 {
		t.Error("Expected the session file to be written")
	}
}
