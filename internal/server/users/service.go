// Package users handles accounts and session issuance.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/server/auth"
	"github.com/peerassess/fieldsync/internal/server/config"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	repo   Repository
	config *config.Config
}

func NewService(repo Repository, cfg *config.Config) *Service {
	return &Service{repo: repo, config: cfg}
}

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, login, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if _, err := s.repo.Create(ctx, login, string(hash)); err != nil {
		return err
	}
	return nil
}

// Login verifies credentials and returns a signed session token. Unknown
// logins and bad passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, login, password string) (string, error) {
	user, err := s.repo.GetByLogin(ctx, login)
	if errors.Is(err, common.ErrNotFound) {
		return "", common.ErrUnauthorized
	}
	if err != nil {
		return "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", common.ErrUnauthorized
	}

	return auth.GenerateToken(user.ID, []byte(s.config.SecretKey), s.config.TokenValidity)
}
