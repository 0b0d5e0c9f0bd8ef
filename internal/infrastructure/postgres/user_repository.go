package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"subsidia/internal/domain/user"
)

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, params user.CreateUserParams) (*user.User, error) {
	query := `
		INSERT INTO users (email, name, first_name, last_name, password_hash, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, name, first_name, last_name, password_hash, avatar_url, created_at, updated_at
	`

	return r.scanUser(r.db.QueryRowContext(ctx, query,
		strings.ToLower(params.Email), params.Name, params.FirstName,
		params.LastName, params.PasswordHash, params.AvatarURL,
	))
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	query := `
		SELECT id, email, name, first_name, last_name, password_hash, avatar_url, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	query := `
		SELECT id, email, name, first_name, last_name, password_hash, avatar_url, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, strings.ToLower(email)))
}

// SearchByEmail matches users whose email starts with the query,
// case-insensitively, skipping the excluded ids.
func (r *UserRepository) SearchByEmail(ctx context.Context, query string, exclude []int64, limit int) ([]*user.User, error) {
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `
		SELECT id, email, name, first_name, last_name, password_hash, avatar_url, created_at, updated_at
		FROM users
		WHERE email LIKE $1 AND id <> ALL($2)
		ORDER BY email
		LIMIT $3
	`

	pattern := strings.ToLower(query) + "%"
	rows, err := r.db.QueryContext(ctx, sqlQuery, pattern, pq.Array(exclude), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []*user.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanUser(row rowScanner) (*user.User, error) {
	u, err := scanUserRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrUserNotFound
	}
	return u, err
}

func scanUserRow(row rowScanner) (*user.User, error) {
	var u user.User
	var passwordHash, avatarURL sql.NullString
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.FirstName, &u.LastName,
		&passwordHash, &avatarURL, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if passwordHash.Valid {
		u.PasswordHash = &passwordHash.String
	}
	if avatarURL.Valid {
		u.AvatarURL = &avatarURL.String
	}
	return &u, nil
}
