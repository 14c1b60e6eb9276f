package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"spurr-backend/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, conversationID uuid.UUID, sender, text string) (*models.Message, error) {
	m := &models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
	}

	query := `INSERT INTO messages (id, conversation_id, sender, text)
		VALUES ($1, $2, $3, $4) RETURNING created_at`

	if err := r.pool.QueryRow(ctx, query, m.ID, m.ConversationID, m.Sender, m.Text).Scan(&m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// ListByConversation returns the full message log, creation-time ascending.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	query := `SELECT id, conversation_id, sender, text, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// RecentWindow returns the most recent n messages re-sorted ascending,
// used as conversational context for the model.
func (r *MessageRepo) RecentWindow(ctx context.Context, conversationID uuid.UUID, n int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, sender, text, created_at FROM (
			SELECT id, conversation_id, sender, text, created_at
			FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, conversationID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
