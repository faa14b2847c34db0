package usersvc

import (
	"context"
	"errors"

	"github.com/MichalRedm/distributed-library-system/model"
)

var ErrInvalidUsername = errors.New("username must not be empty")

type Repo interface {
	Create(ctx context.Context, username string) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

type Service interface {
	Create(ctx context.Context, username string) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

type service struct{ r Repo }

func New(r Repo) Service { return &service{r: r} }

func (s *service) Create(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, ErrInvalidUsername
	}
	return s.r.Create(ctx, username)
}

func (s *service) Get(ctx context.Context, userID string) (*model.User, error) {
	return s.r.Get(ctx, userID)
}

func (s *service) List(ctx context.Context) ([]model.User, error) { return s.r.List(ctx) }
