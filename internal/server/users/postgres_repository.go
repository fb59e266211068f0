package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/server/models"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, login, passwordHash string) (*models.User, error) {
	user := &models.User{Login: login, PasswordHash: passwordHash}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id, created_at`,
		login, passwordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	user := &models.User{Login: login}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, password_hash, created_at FROM users WHERE login = $1`,
		login).Scan(&user.ID, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by login: %w", err)
	}

	return user, nil
}
