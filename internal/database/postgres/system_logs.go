package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// SystemLogRepository persists diagnostic signals
type SystemLogRepository struct {
	pool *Pool
}

// NewSystemLogRepository creates a new PostgreSQL system log repository
func NewSystemLogRepository(pool *Pool) *SystemLogRepository {
	return &SystemLogRepository{pool: pool}
}

var _ database.SystemLogWriter = (*SystemLogRepository)(nil)

// Write stores one system log entry
func (r *SystemLogRepository) Write(ctx context.Context, log database.SystemLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO system_logs (level, component, message, identity_id, camera_id, ts)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
	`,
		log.Level,
		log.Component,
		log.Message,
		nullString(log.IdentityID),
		nullString(log.CameraID),
		nullTime(log.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("write system log: %w", err)
	}
	return nil
}

// Recent returns the newest entries first
func (r *SystemLogRepository) Recent(ctx context.Context, limit int) ([]database.SystemLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, level, component, message, identity_id, camera_id, ts
		FROM system_logs
		ORDER BY ts DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query system logs: %w", err)
	}
	defer rows.Close()

	var out []database.SystemLog
	for rows.Next() {
		var (
			l                    database.SystemLog
			identityID, cameraID sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Level, &l.Component, &l.Message, &identityID, &cameraID, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan system log: %w", err)
		}
		l.IdentityID = identityID.String
		l.CameraID = cameraID.String
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system logs: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
