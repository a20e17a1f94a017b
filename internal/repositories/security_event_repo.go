package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// SecurityEventRepository persists the append-only security event log.
// Every query runs without query inspection so recording a query-related
// event cannot recurse into the detector.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

const securityEventColumns = `id, event_type, severity, description, ip_address, user_agent, user_id, metadata, created_at`

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var event models.SecurityEvent

	err := row.Scan(
		&event.ID, &event.Type, &event.Severity, &event.Description,
		&event.IPAddress, &event.UserAgent, &event.UserID, &event.Metadata,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &event, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		event, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

func scanCounts(rows pgx.Rows) ([]models.CountByKey, error) {
	defer rows.Close()

	counts := make([]models.CountByKey, 0)
	for rows.Next() {
		var c models.CountByKey
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", err)
	}

	return counts, nil
}

// Create inserts an event. ID and CreatedAt are assigned here when unset.
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	ctx = database.WithoutInspection(ctx)

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO security_events (id, event_type, severity, description, ip_address, user_agent, user_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + securityEventColumns

	created, err := scanSecurityEventRow(r.pool.QueryRow(ctx, query,
		event.ID, event.Type, event.Severity, event.Description,
		event.IPAddress, event.UserAgent, event.UserID, event.Metadata, event.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create security event: %w", err)
	}

	return created, nil
}

// CountByIPSince counts events of any type from ip created at or after since
func (r *SecurityEventRepository) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	ctx = database.WithoutInspection(ctx)

	var count int64
	query := `SELECT COUNT(*) FROM security_events WHERE ip_address = $1 AND created_at >= $2`
	if err := r.pool.QueryRow(ctx, query, ip, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events by ip: %w", err)
	}
	return count, nil
}

// CountDistinctIPsByTypeSince counts distinct non-empty source IPs for an event type
func (r *SecurityEventRepository) CountDistinctIPsByTypeSince(ctx context.Context, eventType models.EventType, since time.Time) (int64, error) {
	ctx = database.WithoutInspection(ctx)

	var count int64
	query := `
		SELECT COUNT(DISTINCT ip_address) FROM security_events
		WHERE event_type = $1 AND created_at >= $2 AND ip_address <> ''
	`
	if err := r.pool.QueryRow(ctx, query, eventType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count distinct ips: %w", err)
	}
	return count, nil
}

// CountBySeveritySince counts events of one severity created at or after since
func (r *SecurityEventRepository) CountBySeveritySince(ctx context.Context, severity models.Severity, since time.Time) (int64, error) {
	ctx = database.WithoutInspection(ctx)

	var count int64
	query := `SELECT COUNT(*) FROM security_events WHERE severity = $1 AND created_at >= $2`
	if err := r.pool.QueryRow(ctx, query, severity, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events by severity: %w", err)
	}
	return count, nil
}

// List returns the newest events matching filter. Empty filter fields match everything.
func (r *SecurityEventRepository) List(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	ctx = database.WithoutInspection(ctx)

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	types := make([]string, 0, len(filter.Types))
	for _, t := range filter.Types {
		types = append(types, string(t))
	}
	severities := make([]string, 0, len(filter.Severities))
	for _, s := range filter.Severities {
		severities = append(severities, string(s))
	}

	query := `
		SELECT ` + securityEventColumns + `
		FROM security_events
		WHERE (cardinality($1::text[]) = 0 OR event_type = ANY($1::text[]))
		  AND (cardinality($2::text[]) = 0 OR severity = ANY($2::text[]))
		  AND ($3 = '' OR ip_address = $3)
		  AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT $5
	`

	rows, err := r.pool.Query(ctx, query, pq.Array(types), pq.Array(severities), filter.IPAddress, filter.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// CountsByTypeSince groups events created at or after since by type
func (r *SecurityEventRepository) CountsByTypeSince(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return r.groupCount(ctx, "event_type", since, 0)
}

// CountsBySeveritySince groups events created at or after since by severity
func (r *SecurityEventRepository) CountsBySeveritySince(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return r.groupCount(ctx, "severity", since, 0)
}

// TopIPsSince returns the noisiest source addresses
func (r *SecurityEventRepository) TopIPsSince(ctx context.Context, since time.Time, limit int) ([]models.CountByKey, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.groupCount(ctx, "ip_address", since, limit)
}

// groupCount aggregates by one of a fixed set of column names. column is
// never caller-supplied.
func (r *SecurityEventRepository) groupCount(ctx context.Context, column string, since time.Time, limit int) ([]models.CountByKey, error) {
	ctx = database.WithoutInspection(ctx)

	switch column {
	case "event_type", "severity", "ip_address":
	default:
		return nil, fmt.Errorf("unsupported group column %q", column)
	}

	query := `
		SELECT ` + column + `, COUNT(*) AS n FROM security_events
		WHERE created_at >= $1 AND ` + column + ` <> ''
		GROUP BY ` + column + `
		ORDER BY n DESC, ` + column + ` ASC
	`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group security events by %s: %w", column, err)
	}

	return scanCounts(rows)
}

// DeleteOlderThan removes events created before cutoff and returns how many went
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = database.WithoutInspection(ctx)

	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old security events: %w", err)
	}
	return result.RowsAffected(), nil
}
