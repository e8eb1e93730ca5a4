package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"confsfu/internal/core/domain"
)

type UserRepo struct{ db *DB }

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO users (id, email, name, avatar_url) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (id) DO UPDATE SET email = $2, name = $3, avatar_url = $4",
		u.ID, u.Email, u.Name, u.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT id, email, name, avatar_url FROM users WHERE id = $1", id)
	return scanUser(row)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT id, email, name, avatar_url FROM users WHERE email = $1", email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
