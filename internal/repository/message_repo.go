package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"chat-api/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) (domain.Message, error)
	ListBySessionID(ctx context.Context, sessionID string) ([]domain.Message, error)
	CountBySessionID(ctx context.Context, sessionID string) (int, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) (domain.Message, error) {
	const query = `
		INSERT INTO chat_messages (session_id, role, content, created_at, prompt_tokens, completion_tokens, total_tokens, cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		message.SessionID,
		message.Role,
		message.Content,
		message.CreatedAt,
		message.PromptTokens,
		message.CompletionTokens,
		message.TotalTokens,
		message.Cost,
	).Scan(&message.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

func (r *PgMessageRepository) ListBySessionID(ctx context.Context, sessionID string) ([]domain.Message, error) {
	const query = `
		SELECT id, session_id, role, content, created_at, prompt_tokens, completion_tokens, total_tokens, cost
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		err = rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Role,
			&msg.Content,
			&msg.CreatedAt,
			&msg.PromptTokens,
			&msg.CompletionTokens,
			&msg.TotalTokens,
			&msg.Cost,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *PgMessageRepository) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM chat_messages
		WHERE session_id = $1
	`
	var count int
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(&count)
	return count, err
}
