package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresAuditTrail persists cascade prevention records in a single append-only table.
// The full record is stored as JSONB next to the indexed lookup columns.
type PostgresAuditTrail struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// NewPostgresAuditTrail dials dsn and ensures the table exists.
func NewPostgresAuditTrail(ctx context.Context, dsn, table string, logger *slog.Logger) (*PostgresAuditTrail, error) {
	const op = "repo.NewPostgresAuditTrail"
	if dsn == "" {
		return nil, utils.NewConfigurationError(op, "postgres DSN is required")
	}
	if table == "" {
		table = "cascade_prevention_records"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, utils.NewConfigurationError(op, fmt.Sprintf("invalid audit table name %q", table))
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, utils.NewConfigurationError(op, "parse postgres DSN: "+err.Error())
	}
	if cfg.MaxConns == 0 || cfg.MaxConns > 8 {
		cfg.MaxConns = 8
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, utils.NewDependencyError(op, "connect to postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, utils.NewDependencyError(op, "ping postgres", err)
	}

	trail := &PostgresAuditTrail{pool: pool, table: table, logger: utils.LoggerOr(logger)}
	if err := trail.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return trail, nil
}

func (p *PostgresAuditTrail) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	propagation_id  TEXT PRIMARY KEY,
	recorded_at     TIMESTAMPTZ NOT NULL,
	source_system   TEXT NOT NULL,
	business_impact TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	record          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_recorded_at_idx ON %[1]s (recorded_at);`, p.table)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return utils.NewDependencyError("repo.ensureSchema", "create audit table", err)
	}
	return nil
}

// Append inserts rec. A propagation id that already exists is rejected and left untouched.
func (p *PostgresAuditTrail) Append(ctx context.Context, rec models.CascadePreventionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (propagation_id, recorded_at, source_system, business_impact, outcome, record)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (propagation_id) DO NOTHING`, p.table)
	tag, err := p.pool.Exec(ctx, query,
		rec.PropagationID, rec.Timestamp.UTC(), string(rec.SourceSystem), rec.BusinessImpact.String(), rec.Outcome, payload)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrDuplicatePropagation, rec.PropagationID)
	}
	return nil
}

// Get loads the record with the given propagation id.
func (p *PostgresAuditTrail) Get(ctx context.Context, propagationID string) (models.CascadePreventionRecord, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE propagation_id = $1`, p.table)
	var payload []byte
	if err := p.pool.QueryRow(ctx, query, propagationID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CascadePreventionRecord{}, models.ErrRecordNotFound
		}
		return models.CascadePreventionRecord{}, fmt.Errorf("load audit record: %w", err)
	}
	var rec models.CascadePreventionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return models.CascadePreventionRecord{}, fmt.Errorf("decode audit record: %w", err)
	}
	return rec, nil
}

// ListRange returns the records in [start, end), oldest first.
func (p *PostgresAuditTrail) ListRange(ctx context.Context, start, end time.Time) ([]models.CascadePreventionRecord, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE recorded_at >= $1 AND recorded_at < $2 ORDER BY recorded_at, propagation_id`, p.table)
	rows, err := p.pool.Query(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	out := make([]models.CascadePreventionRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		var rec models.CascadePreventionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			p.logger.Warn("skipping undecodable audit record", slog.Any("error", err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (p *PostgresAuditTrail) Close() {
	p.pool.Close()
}
