package activity

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// PostgresSink stores entries in the activity_log table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Record(ctx context.Context, entry Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := InsertTx(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// InsertTx writes entry as part of a caller's transaction. The status gate
// uses it so the status_changed row commits together with the new status.
func InsertTx(ctx context.Context, tx pgx.Tx, entry Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal activity metadata")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO activity_log (id, incident_id, event_type, actor_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.IncidentID, entry.Type, entry.ActorID, metadata, entry.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record activity")
	}
	return nil
}

func (s *PostgresSink) Entries(ctx context.Context, incidentID types.ID) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, incident_id, event_type, actor_id, metadata, created_at
		FROM activity_log
		WHERE incident_id = $1
		ORDER BY created_at, id`, incidentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list activity")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.Type, &e.ActorID, &metadata, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan activity")
		}
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			e.Metadata = map[string]any{}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var (
	_ Sink   = (*PostgresSink)(nil)
	_ Reader = (*PostgresSink)(nil)
)
