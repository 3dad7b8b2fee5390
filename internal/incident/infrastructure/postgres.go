package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitigateops/platform/internal/activity"
	"github.com/mitigateops/platform/internal/escalation"
	"github.com/mitigateops/platform/internal/incident/domain"
	"github.com/mitigateops/platform/internal/shared/database"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

const incidentColumns = `id, reference_number, property_id, servicing_organization_id, status,
	emergency, description, created_by, created_at, updated_at`

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool        *pgxpool.Pool
	maxAttempts int
	now         func() time.Time
}

// NewPostgresRepository creates a new PostgreSQL repository. maxAttempts
// bounds the escalation job queued alongside an emergency incident.
func NewPostgresRepository(pool *pgxpool.Pool, maxAttempts int) *PostgresRepository {
	return &PostgresRepository{pool: pool, maxAttempts: maxAttempts, now: time.Now}
}

// Create saves an acknowledged incident and its new -> acknowledged entry.
// An emergency incident gets its step 0 escalation job in the same
// transaction, so it is never stored without one.
func (r *PostgresRepository) Create(ctx context.Context, inc *domain.Incident) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inc.ID, inc.ReferenceNumber, inc.PropertyID, inc.ServicingOrganizationID, inc.Status,
		inc.Emergency, inc.Description, inc.CreatedBy, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("incident with this reference number already exists")
		}
		return errors.Wrap(err, "failed to save incident")
	}

	entry := activity.NewEntry(inc.ID, activity.EventStatusChanged, inc.CreatedBy, map[string]any{
		"from": string(domain.StatusNew),
		"to":   string(inc.Status),
	}, inc.UpdatedAt)
	if err := activity.InsertTx(ctx, tx, entry); err != nil {
		return err
	}

	if inc.Emergency {
		if err := escalation.StartTx(ctx, tx, inc.ID, r.maxAttempts, r.now().UTC()); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// FindByID finds an incident by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Incident, error) {
	inc, err := scanIncident(r.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("incident", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find incident")
	}
	return inc, nil
}

// List lists incidents newest first
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Incident, error) {
	filter = filter.Normalize()

	var conditions []string
	var args []any
	argNum := 1

	if filter.OrganizationID != nil {
		conditions = append(conditions, fmt.Sprintf("servicing_organization_id = $%d", argNum))
		args = append(args, *filter.OrganizationID)
		argNum++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Emergency != nil {
		conditions = append(conditions, fmt.Sprintf("emergency = $%d", argNum))
		args = append(args, *filter.Emergency)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM incidents
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, incidentColumns, whereClause, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list incidents")
	}
	defer rows.Close()

	incidents := []domain.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan incident")
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list incidents")
	}
	return incidents, nil
}

// Transition runs the status gate in a single transaction. The row lock
// serializes concurrent transitions on the same incident, so the check and
// the write see the same status.
func (r *PostgresRepository) Transition(ctx context.Context, id types.ID, target domain.Status, actorID types.ID) (*domain.TransitionResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	inc, err := scanIncident(tx.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("incident", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock incident")
	}

	from := inc.Status
	now := r.now().UTC()
	if err := inc.TransitionTo(target, now); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE incidents SET status = $2, updated_at = $3 WHERE id = $1`, id, inc.Status, inc.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to update incident status")
	}

	entry := activity.NewEntry(id, activity.EventStatusChanged, actorID, map[string]any{
		"from": string(from),
		"to":   string(target),
	}, now)
	if err := activity.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	resolved := 0
	if target == domain.StatusActive {
		resolved, err = escalation.ResolveOpenTx(ctx, tx, id, actorID, domain.ResolutionIncidentActive, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}

	return &domain.TransitionResult{
		Incident:            inc,
		From:                from,
		To:                  target,
		ResolvedEscalations: resolved,
	}, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	inc := &domain.Incident{}
	err := row.Scan(
		&inc.ID, &inc.ReferenceNumber, &inc.PropertyID, &inc.ServicingOrganizationID, &inc.Status,
		&inc.Emergency, &inc.Description, &inc.CreatedBy, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inc, nil
}

var _ domain.Repository = (*PostgresRepository)(nil)
