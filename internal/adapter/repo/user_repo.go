package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"petdance/internal/domain"
)

// UserRepositoryPG implements domain.UserRepository backed by PostgreSQL.
type UserRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepositoryPG.
func NewUserRepository(pool *pgxpool.Pool) *UserRepositoryPG {
	return &UserRepositoryPG{pool: pool}
}

// Upsert inserts the user on first sight and refreshes the email on
// subsequent calls. The subscription status is never clobbered here; only
// the gate writes it.
func (r *UserRepositoryPG) Upsert(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `
INSERT INTO users (id, email, subscription_status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email,
    updated_at = NOW()
RETURNING id, email, subscription_status, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query, user.ID, user.Email, user.SubscriptionStatus)
	return scanUser(row)
}

// GetByID fetches a user by identifier.
func (r *UserRepositoryPG) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, email, subscription_status, created_at, updated_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// SetSubscriptionStatus records the latest billing verdict for the user.
func (r *UserRepositoryPG) SetSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	_, err := r.pool.Exec(ctx, `
UPDATE users
SET subscription_status = $2,
    updated_at = NOW()
WHERE id = $1;
`, id, status)
	return err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.SubscriptionStatus, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
