package oncall

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitigateops/platform/internal/shared/database"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ConfigurationForOrganization(ctx context.Context, organizationID types.ID) (*Configuration, error) {
	c := &Configuration{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, primary_responder_id, escalation_timeout_minutes, created_at, updated_at
		FROM oncall_configurations
		WHERE organization_id = $1`, organizationID,
	).Scan(&c.ID, &c.OrganizationID, &c.PrimaryResponderID, &c.EscalationTimeoutMinutes, &c.CreatedAt, &c.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("on-call configuration", organizationID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load on-call configuration")
	}
	return c, nil
}

func (r *PostgresRepository) ContactAtPosition(ctx context.Context, configurationID types.ID, position int) (*Contact, error) {
	c := &Contact{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, configuration_id, responder_id, position, created_at
		FROM escalation_contacts
		WHERE configuration_id = $1 AND position = $2`, configurationID, position,
	).Scan(&c.ID, &c.ConfigurationID, &c.ResponderID, &c.Position, &c.CreatedAt)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("escalation contact", configurationID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load escalation contact")
	}
	return c, nil
}

func (r *PostgresRepository) ListChain(ctx context.Context, configurationID types.ID) ([]Contact, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, configuration_id, responder_id, position, created_at
		FROM escalation_contacts
		WHERE configuration_id = $1
		ORDER BY position`, configurationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list escalation contacts")
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.ConfigurationID, &c.ResponderID, &c.Position, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan escalation contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *PostgresRepository) SaveConfiguration(ctx context.Context, cfg *Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ID.IsZero() {
		cfg.ID = types.NewID()
	}
	now := time.Now().UTC()

	// Upsert on organization_id keeps the existing row id when one exists.
	err := r.pool.QueryRow(ctx, `
		INSERT INTO oncall_configurations (
			id, organization_id, primary_responder_id, escalation_timeout_minutes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (organization_id) DO UPDATE SET
			primary_responder_id = EXCLUDED.primary_responder_id,
			escalation_timeout_minutes = EXCLUDED.escalation_timeout_minutes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`,
		cfg.ID, cfg.OrganizationID, cfg.PrimaryResponderID, cfg.EscalationTimeoutMinutes, now,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)

	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return errors.Validation("primary responder does not exist", map[string]string{
				"primary_responder_id": cfg.PrimaryResponderID.String(),
			})
		}
		if database.IsCheckViolation(err) {
			return errors.Validation("escalation timeout must be positive", map[string]string{
				"escalation_timeout_minutes": "must be greater than zero",
			})
		}
		return errors.Wrap(err, "failed to save on-call configuration")
	}
	return nil
}

func (r *PostgresRepository) DeleteConfiguration(ctx context.Context, organizationID types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM oncall_configurations WHERE organization_id = $1`, organizationID)
	if err != nil {
		return errors.Wrap(err, "failed to delete on-call configuration")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("on-call configuration", organizationID.String())
	}
	return nil
}

func (r *PostgresRepository) AddContact(ctx context.Context, contact *Contact) error {
	if err := contact.Validate(); err != nil {
		return err
	}
	if contact.ID.IsZero() {
		contact.ID = types.NewID()
	}
	contact.CreatedAt = time.Now().UTC()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO escalation_contacts (id, configuration_id, responder_id, position, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		contact.ID, contact.ConfigurationID, contact.ResponderID, contact.Position, contact.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("position already taken in this escalation chain")
		}
		if database.IsForeignKeyViolation(err) {
			return errors.Validation("configuration or responder does not exist", map[string]string{
				"configuration_id": contact.ConfigurationID.String(),
				"responder_id":     contact.ResponderID.String(),
			})
		}
		return errors.Wrap(err, "failed to add escalation contact")
	}
	return nil
}

func (r *PostgresRepository) RemoveContact(ctx context.Context, configurationID, contactID types.ID) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM escalation_contacts WHERE configuration_id = $1 AND id = $2`,
		configurationID, contactID)
	if err != nil {
		return errors.Wrap(err, "failed to remove escalation contact")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("escalation contact", contactID.String())
	}
	return nil
}

// Reorder runs in two phases inside one transaction. Every contact first
// moves to a negative temporary position, then to its final one, so the
// (configuration_id, position) unique constraint never sees two rows on the
// same slot.
func (r *PostgresRepository) Reorder(ctx context.Context, configurationID types.ID, contactIDs []types.ID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	current, err := lockChain(ctx, tx, configurationID)
	if err != nil {
		return err
	}
	if err := CheckReorder(current, contactIDs); err != nil {
		return err
	}

	const move = `UPDATE escalation_contacts SET position = $3 WHERE configuration_id = $1 AND id = $2`
	for i, id := range contactIDs {
		if _, err := tx.Exec(ctx, move, configurationID, id, -(i + 1)); err != nil {
			return errors.Wrap(err, "failed to stage contact position")
		}
	}
	for i, id := range contactIDs {
		if _, err := tx.Exec(ctx, move, configurationID, id, i+1); err != nil {
			return errors.Wrap(err, "failed to set contact position")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// lockChain reads the chain with row locks so concurrent reorders serialize.
func lockChain(ctx context.Context, tx pgx.Tx, configurationID types.ID) ([]Contact, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, configuration_id, responder_id, position, created_at
		FROM escalation_contacts
		WHERE configuration_id = $1
		ORDER BY position
		FOR UPDATE`, configurationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock escalation contacts")
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.ConfigurationID, &c.ResponderID, &c.Position, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan escalation contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
