package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"spurr-backend/internal/models"
)

const systemInstruction = `
You are a helpful customer support agent for "Spurr Store", an e-commerce shop.
Answer clearly, concisely, and politely.

Domain Knowledge:
- Shipping: We ship worldwide. Standard shipping takes 5-7 business days. Express shipping takes 2-3 business days.
- Returns: You can return items within 30 days of receipt for a full refund. Items must be unused and in original packaging.
- Support Hours: Our support team is available Mon-Fri, 9am - 5pm EST.

If you don't know the answer, politely say you don't know and offer to escalate to a human agent.
`

// ReplyStream yields incremental text fragments of one generated reply.
// Recv returns io.EOF when the reply is complete.
type ReplyStream interface {
	Recv() (string, error)
}

// AgentService is the process-wide handle to the Gemini API, constructed
// once at startup and passed by reference into the chat handler.
type AgentService struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewAgentService(apiKey, modelName string) (*AgentService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.7)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(strings.TrimSpace(systemInstruction))},
	}

	return &AgentService{
		client: client,
		model:  model,
	}, nil
}

func (s *AgentService) Close() {
	s.client.Close()
}

// StreamReply opens a streamed reply for userText, seeded with the prior
// messages as chat history.
func (s *AgentService) StreamReply(ctx context.Context, history []models.Message, userText string) (ReplyStream, error) {
	cs := s.model.StartChat()
	cs.History = buildHistory(history)

	iter := cs.SendMessageStream(ctx, genai.Text(userText))
	return &geminiStream{iter: iter}, nil
}

// buildHistory translates stored messages into the model's role vocabulary:
// the user sender maps to "user", anything else to "model".
func buildHistory(history []models.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := "model"
		if m.Sender == models.SenderUser {
			role = "user"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Text)},
		})
	}
	return contents
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (g *geminiStream) Recv() (string, error) {
	for {
		resp, err := g.iter.Next()
		if err == iterator.Done {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}

		text := responseText(resp)
		if text == "" {
			continue
		}
		return text, nil
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// ExtractErrorMessage pulls a human-readable message out of an upstream
// failure. Gemini errors often carry a JSON body whose message field is
// itself another JSON blob, so unwrap nested {"error":{"message":...}} and
// {"message":...} payloads up to a fixed depth before giving up.
func ExtractErrorMessage(err error) string {
	const fallback = "Something went wrong"
	if err == nil {
		return fallback
	}

	msg := err.Error()
	for depth := 0; depth < 5; depth++ {
		trimmed := strings.TrimSpace(msg)
		start := strings.Index(trimmed, "{")
		if start < 0 {
			break
		}

		var payload struct {
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(trimmed[start:]), &payload) != nil {
			break
		}

		next := payload.Message
		if payload.Error != nil && payload.Error.Message != "" {
			next = payload.Error.Message
		}
		if next == "" || next == msg {
			break
		}
		msg = next
	}

	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}
