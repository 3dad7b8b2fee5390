package directory

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// PostgresDirectory reads and writes the responders table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Responder(ctx context.Context, id types.ID) (*Responder, error) {
	r := &Responder{}
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), phone, created_at, updated_at
		FROM responders
		WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &r.CreatedAt, &r.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("responder", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find responder")
	}
	return r, nil
}

// SaveResponder inserts the responder or refreshes its contact details.
func (d *PostgresDirectory) SaveResponder(ctx context.Context, r *Responder) error {
	if err := r.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	var email *string
	if r.Email != "" {
		email = &r.Email
	}

	err := d.pool.QueryRow(ctx, `
		INSERT INTO responders (id, name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`,
		r.ID, r.Name, email, r.Phone, now,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to save responder")
	}
	return nil
}

var (
	_ Directory = (*PostgresDirectory)(nil)
	_ Writer    = (*PostgresDirectory)(nil)
)
