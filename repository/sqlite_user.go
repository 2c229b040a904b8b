package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/mqvicall/database"
	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg"
)

type sqliteUserRepo struct {
	db database.TxQuerier
}

// NewSQLiteUserRepo, UserRepository'nin SQLite implementasyonunu döner.
func NewSQLiteUserRepo(db database.TxQuerier) UserRepository {
	return &sqliteUserRepo{db: db}
}

func (r *sqliteUserRepo) Upsert(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user id is required", pkg.ErrBadRequest)
	}

	query := `
		INSERT INTO user_directory (id, username, display_name, email, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE user_directory.email END,
			last_seen_at = excluded.last_seen_at`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.DisplayName, user.Email, toMillis(user.LastSeenAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}

func (r *sqliteUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, display_name, email, last_seen_at, last_call_at
		FROM user_directory WHERE id = ?`

	var (
		user     models.User
		seen     int64
		lastCall sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.DisplayName, &user.Email, &seen, &lastCall,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	user.LastSeenAt = fromMillis(seen)
	user.LastCallAt = fromNullMillis(lastCall)
	return &user, nil
}
