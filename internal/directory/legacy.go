package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/shared/config"
	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// LegacyDirectory reads responders from the SQL Server database older
// dispatch installations keep their staff in. It is read-only.
type LegacyDirectory struct {
	db     *sql.DB
	query  string
	logger *zap.Logger
}

// NewLegacyDirectory opens the SQL Server connection and verifies it.
func NewLegacyDirectory(ctx context.Context, cfg config.LegacyDirectoryConfig, logger *zap.Logger) (*LegacyDirectory, error) {
	if !validTableName(cfg.Table) {
		return nil, fmt.Errorf("invalid legacy directory table %q", cfg.Table)
	}

	db, err := sql.Open("sqlserver", legacyConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy directory: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping legacy directory: %w", err)
	}

	return newLegacyDirectory(db, cfg.Table, logger), nil
}

func newLegacyDirectory(db *sql.DB, table string, logger *zap.Logger) *LegacyDirectory {
	return &LegacyDirectory{
		db:     db,
		query:  legacyQuery(table),
		logger: logger,
	}
}

func legacyConnString(cfg config.LegacyDirectoryConfig) string {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	if cfg.Encrypt {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	} else {
		connStr += ";encrypt=disable"
	}
	return connStr
}

func legacyQuery(table string) string {
	return fmt.Sprintf(`
		SELECT CAST(ResponderID AS NVARCHAR(36)), FullName, Email, MobilePhone
		FROM %s
		WHERE ResponderID = @p1 AND IsActive = 1`, table)
}

// validTableName accepts schema-qualified identifiers such as dbo.Responders.
func validTableName(table string) bool {
	if table == "" {
		return false
	}
	for _, part := range strings.Split(table, ".") {
		if part == "" {
			return false
		}
		for _, c := range part {
			if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
				return false
			}
		}
	}
	return true
}

func (d *LegacyDirectory) Responder(ctx context.Context, id types.ID) (*Responder, error) {
	var (
		rawID string
		name  string
		email sql.NullString
		phone sql.NullString
	)
	err := d.db.QueryRowContext(ctx, d.query, id.String()).Scan(&rawID, &name, &email, &phone)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("responder", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query legacy directory")
	}

	parsed, err := types.ParseID(rawID)
	if err != nil {
		d.logger.Warn("legacy responder has malformed id", zap.String("raw_id", rawID))
		parsed = id
	}

	r := &Responder{ID: parsed, Name: name, Email: email.String}
	if phone.Valid && phone.String != "" {
		p := phone.String
		r.Phone = &p
	}
	return r, nil
}

// Close releases the SQL Server connection pool.
func (d *LegacyDirectory) Close() error {
	return d.db.Close()
}

var _ Directory = (*LegacyDirectory)(nil)
