package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-api/internal/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, id string) (domain.Session, error)
	UpdateStats(ctx context.Context, id, model string, promptTokens, completionTokens, totalTokens int, cost float64) (domain.Session, error)
	List(ctx context.Context, limit, offset int) ([]domain.Session, error)
}

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

func (r *PgSessionRepository) Create(ctx context.Context, session domain.Session) error {
	const query = `
		INSERT INTO chat_sessions (id, model, created_at, updated_at, total_prompt_tokens, total_completion_tokens, total_tokens, total_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.Model,
		session.CreatedAt,
		session.UpdatedAt,
		session.TotalPromptTokens,
		session.TotalCompletionTokens,
		session.TotalTokens,
		session.TotalCost,
	)
	return err
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	const query = `
		SELECT id, model, created_at, updated_at, total_prompt_tokens, total_completion_tokens, total_tokens, total_cost
		FROM chat_sessions
		WHERE id = $1
	`
	var session domain.Session
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.Model,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.TotalPromptTokens,
		&session.TotalCompletionTokens,
		&session.TotalTokens,
		&session.TotalCost,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, err
	}
	return session, err
}

// UpdateStats suma los deltas sobre los acumulados en una sola sentencia,
// de modo que dos requests concurrentes sobre la misma sesion no pierdan
// incrementos. Devuelve la sesion ya actualizada.
func (r *PgSessionRepository) UpdateStats(ctx context.Context, id, model string, promptTokens, completionTokens, totalTokens int, cost float64) (domain.Session, error) {
	const query = `
		UPDATE chat_sessions
		SET model = $2,
			updated_at = now(),
			total_prompt_tokens = total_prompt_tokens + $3,
			total_completion_tokens = total_completion_tokens + $4,
			total_tokens = total_tokens + $5,
			total_cost = total_cost + $6
		WHERE id = $1
		RETURNING id, model, created_at, updated_at, total_prompt_tokens, total_completion_tokens, total_tokens, total_cost
	`
	var session domain.Session
	err := r.pool.QueryRow(ctx, query, id, model, promptTokens, completionTokens, totalTokens, cost).Scan(
		&session.ID,
		&session.Model,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.TotalPromptTokens,
		&session.TotalCompletionTokens,
		&session.TotalTokens,
		&session.TotalCost,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, err
	}
	return session, err
}

func (r *PgSessionRepository) List(ctx context.Context, limit, offset int) ([]domain.Session, error) {
	const query = `
		SELECT id, model, created_at, updated_at, total_prompt_tokens, total_completion_tokens, total_tokens, total_cost
		FROM chat_sessions
		ORDER BY updated_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		err = rows.Scan(
			&s.ID,
			&s.Model,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.TotalPromptTokens,
			&s.TotalCompletionTokens,
			&s.TotalTokens,
			&s.TotalCost,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
