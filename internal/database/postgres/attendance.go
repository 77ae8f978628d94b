package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance log storage
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

var _ database.AttendanceWriter = (*AttendanceRepository)(nil)

// Append stores a log. A row with the same event id is left untouched.
func (r *AttendanceRepository) Append(ctx context.Context, log database.AttendanceLog) (bool, error) {
	query := `
		INSERT INTO attendance_logs (event_id, identity_id, ts, status, confidence_score, source_camera_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`

	res, err := r.pool.Exec(ctx, query,
		log.EventID,
		log.IdentityID,
		log.Timestamp,
		log.Status,
		log.ConfidenceScore,
		log.SourceCameraID,
	)
	if err != nil {
		return false, fmt.Errorf("append attendance log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns logs matching the filter, newest first
func (r *AttendanceRepository) List(ctx context.Context, f database.AttendanceFilter) ([]database.AttendanceLog, error) {
	var (
		where []string
		args  []any
	)
	if f.IdentityID != "" {
		args = append(args, f.IdentityID)
		where = append(where, fmt.Sprintf("identity_id = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("ts < $%d", len(args)))
	}

	query := `SELECT id, event_id, identity_id, ts, status, confidence_score, source_camera_id, created_at FROM attendance_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance logs: %w", err)
	}
	defer rows.Close()

	var logs []database.AttendanceLog
	for rows.Next() {
		var l database.AttendanceLog
		if err := rows.Scan(
			&l.ID,
			&l.EventID,
			&l.IdentityID,
			&l.Timestamp,
			&l.Status,
			&l.ConfidenceScore,
			&l.SourceCameraID,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attendance log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance logs: %w", err)
	}
	return logs, nil
}

// Summary aggregates logs with from <= ts < to per identity, ordered by first seen.
// The source camera is the one of the identity's first event in the range.
func (r *AttendanceRepository) Summary(ctx context.Context, from, to time.Time) ([]database.DailySummary, error) {
	query := `
		SELECT DISTINCT ON (identity_id)
			identity_id,
			ts,
			COUNT(*) OVER (PARTITION BY identity_id),
			MAX(confidence_score) OVER (PARTITION BY identity_id),
			source_camera_id
		FROM attendance_logs
		WHERE ts >= $1 AND ts < $2
		ORDER BY identity_id, ts ASC
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query attendance summary: %w", err)
	}
	defer rows.Close()

	var out []database.DailySummary
	for rows.Next() {
		var s database.DailySummary
		if err := rows.Scan(&s.IdentityID, &s.FirstSeen, &s.Events, &s.MaxConfidence, &s.SourceCameraID); err != nil {
			return nil, fmt.Errorf("scan attendance summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance summary: %w", err)
	}

	sortSummaries(out)
	return out, nil
}

// LastRecorded returns the latest recorded timestamp per identity since the given time
func (r *AttendanceRepository) LastRecorded(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity_id, MAX(ts)
		FROM attendance_logs
		WHERE ts >= $1 AND status = 'present'
		GROUP BY identity_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query last recorded: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			ts sql.NullTime
		)
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("scan last recorded: %w", err)
		}
		if ts.Valid {
			out[id] = ts.Time
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last recorded: %w", err)
	}
	return out, nil
}

// sortSummaries orders summaries by first seen, then identity.
func sortSummaries(s []database.DailySummary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].FirstSeen.Equal(s[j].FirstSeen) {
			return s[i].FirstSeen.Before(s[j].FirstSeen)
		}
		return s[i].IdentityID < s[j].IdentityID
	})
}
