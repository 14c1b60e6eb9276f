package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spurr-backend/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, sessionID string) (*models.Conversation, error) {
	c := &models.Conversation{
		ID:        uuid.New(),
		SessionID: sessionID,
	}

	query := `INSERT INTO conversations (id, session_id) VALUES ($1, $2) RETURNING created_at`

	if err := r.pool.QueryRow(ctx, query, c.ID, c.SessionID).Scan(&c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

// GetForSession looks up a conversation only if it is owned by the session.
func (r *ConversationRepo) GetForSession(ctx context.Context, id uuid.UUID, sessionID string) (*models.Conversation, error) {
	c := &models.Conversation{}
	query := `SELECT id, session_id, created_at FROM conversations WHERE id = $1 AND session_id = $2`

	err := r.pool.QueryRow(ctx, query, id, sessionID).Scan(&c.ID, &c.SessionID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListBySession returns every conversation owned by the session, newest
// first, each with its first message and total message count.
func (r *ConversationRepo) ListBySession(ctx context.Context, sessionID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.session_id, c.created_at,
			m.id, m.conversation_id, m.sender, m.text, m.created_at,
			(SELECT COUNT(*) FROM messages WHERE conversation_id = c.id)
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT id, conversation_id, sender, text, created_at
			FROM messages WHERE conversation_id = c.id
			ORDER BY created_at ASC LIMIT 1
		) m ON TRUE
		WHERE c.session_id = $1
		ORDER BY c.created_at DESC`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []models.ConversationSummary{}
	for rows.Next() {
		var s models.ConversationSummary
		var msgID, msgConvID *uuid.UUID
		var msgSender, msgText *string
		var msgCreatedAt *time.Time

		err := rows.Scan(
			&s.ID, &s.SessionID, &s.CreatedAt,
			&msgID, &msgConvID, &msgSender, &msgText, &msgCreatedAt,
			&s.MessageCount,
		)
		if err != nil {
			return nil, err
		}

		if msgID != nil {
			s.FirstMessage = &models.Message{
				ID:             *msgID,
				ConversationID: *msgConvID,
				Sender:         *msgSender,
				Text:           *msgText,
				CreatedAt:      *msgCreatedAt,
			}
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}
