package users

import (
	"context"

	"github.com/peerassess/fieldsync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, login, passwordHash string) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
}
