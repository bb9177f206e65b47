package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

type Repository interface {
	Create(ctx context.Context, a *Agent) error
	GetByID(ctx context.Context, id uuid.UUID) (*Agent, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Agent, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

type AgentRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

func (r *AgentRepository) Create(ctx context.Context, a *Agent) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.db.QueryRowContext(ctx2, `
		INSERT INTO agents (id, user_id, name, assistant_id, phone_number, first_message)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, a.UserID, a.Name, a.AssistantID, a.PhoneNumber, a.FirstMessage).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: create agent", ErrInternal)
	}
	return nil
}

func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Agent, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Agent
	err := r.db.GetContext(ctx2, &a, `
		SELECT id, user_id, name, assistant_id, phone_number, first_message, created_at
		FROM agents
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get agent", ErrInternal)
	}

	return &a, nil
}

func (r *AgentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Agent, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	agents := make([]Agent, 0)
	err := r.db.SelectContext(ctx2, &agents, `
		SELECT id, user_id, name, assistant_id, phone_number, first_message, created_at
		FROM agents
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list agents", ErrInternal)
	}

	return agents, nil
}

func (r *AgentRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		DELETE FROM agents
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("%w: delete agent", ErrInternal)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
