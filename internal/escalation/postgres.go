package escalation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitigateops/platform/internal/scheduler"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// PostgresLog implements EventLog on the escalation_events table.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

func (l *PostgresLog) Append(ctx context.Context, event *Event) error {
	if event.ID.IsZero() {
		event.ID = types.NewID()
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO escalation_events (
			id, incident_id, responder_id, step_index, contact_method, status, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.IncidentID, event.ResponderID, event.StepIndex,
		event.ContactMethod, event.Status, event.AttemptedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append escalation event")
	}
	return nil
}

func (l *PostgresLog) ListByIncident(ctx context.Context, incidentID types.ID) ([]Event, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, incident_id, responder_id, step_index, contact_method, status,
			attempted_at, resolved_at, resolved_by, resolution_reason
		FROM escalation_events
		WHERE incident_id = $1
		ORDER BY attempted_at DESC, step_index DESC`, incidentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list escalation events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.IncidentID, &e.ResponderID, &e.StepIndex, &e.ContactMethod, &e.Status,
			&e.AttemptedAt, &e.ResolvedAt, &e.ResolvedBy, &e.ResolutionReason,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan escalation event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolveOpenTx resolves every unresolved event of the incident inside the
// caller's transaction and returns how many rows it touched. Already
// resolved rows keep their original resolution.
func ResolveOpenTx(ctx context.Context, tx pgx.Tx, incidentID, resolvedBy types.ID, reason string, at time.Time) (int, error) {
	result, err := tx.Exec(ctx, `
		UPDATE escalation_events
		SET resolved_at = $2, resolved_by = $3, resolution_reason = $4
		WHERE incident_id = $1 AND resolved_at IS NULL`,
		incidentID, at.UTC(), resolvedBy, reason,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to resolve escalation events")
	}
	return int(result.RowsAffected()), nil
}

// StartTx schedules step 0 to run immediately, inside the transaction that
// creates the emergency incident.
func StartTx(ctx context.Context, tx pgx.Tx, incidentID types.ID, maxAttempts int, now time.Time) error {
	return scheduler.EnqueueTx(ctx, tx, incidentID, 0, now, maxAttempts)
}

var _ EventLog = (*PostgresLog)(nil)
