package models

// StreamChunk is one incremental fragment frame of the SSE reply stream.
type StreamChunk struct {
	Text           string `json:"text"`
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId"`
}

// StreamEnd is the terminal success frame, sent after the full reply
// has been persisted.
type StreamEnd struct {
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId"`
}

// StreamError is the terminal failure frame.
type StreamError struct {
	Error string `json:"error"`
}
