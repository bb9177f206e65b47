package agent

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service defines agent registry operations. Ownership is enforced here:
// reads and deletes only see the caller's agents.
type Service interface {
	Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Agent, error)
	List(ctx context.Context, userID uuid.UUID) ([]Agent, error)
	GetByID(ctx context.Context, id, userID uuid.UUID) (*Agent, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

type service struct {
	repo Repository
}

// NewService creates a new agent service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Agent, error) {
	a := &Agent{
		UserID:       userID,
		Name:         req.Name,
		AssistantID:  req.AssistantID,
		PhoneNumber:  req.PhoneNumber,
		FirstMessage: req.FirstMessage,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	log.Info().
		Str("agent_id", a.ID.String()).
		Str("user_id", userID.String()).
		Str("assistant_id", a.AssistantID).
		Msg("agent registered")

	return a, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]Agent, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *service) GetByID(ctx context.Context, id, userID uuid.UUID) (*Agent, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *service) Delete(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.Delete(ctx, id, userID)
}
