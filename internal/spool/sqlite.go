// Package spool is the durable local overflow queue for attendance events
// that could not be written to the database.
package spool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

var log = logging.Component("spool")

// drainBatch is how many rows Drain reads per round trip.
const drainBatch = 100

// SQLite is a FIFO spool backed by a single SQLite file. Rows are keyed by
// event id, so pushing the same event twice keeps one copy.
type SQLite struct {
	conn  *sql.DB
	drain sync.Mutex
}

var _ attendance.Spool = (*SQLite)(nil)

// Open opens (creating if needed) the spool at path.
func Open(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("spool path is empty")
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open spool: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &SQLite{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate spool: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS spooled_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		identity_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		spooled_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS dead_letter_events (
		seq INTEGER PRIMARY KEY,
		event_id TEXT NOT NULL,
		identity_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		spooled_at DATETIME,
		reason TEXT NOT NULL,
		moved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Push stores ev at the tail of the spool.
func (s *SQLite) Push(ctx context.Context, ev attendance.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO spooled_events (event_id, identity_id, payload, spooled_at) VALUES (?, ?, ?, ?)`,
		ev.EventID.String(), ev.IdentityID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to spool event %s: %w", ev.EventID, err)
	}
	return nil
}

type spooledRow struct {
	seq   int64
	event attendance.Event
}

// Drain hands spooled events to fn oldest first and deletes each one fn
// accepts. It stops at the first error. Rows whose payload cannot be decoded
// are moved to dead_letter_events and skipped.
func (s *SQLite) Drain(ctx context.Context, fn func(attendance.Event) error) (int, error) {
	s.drain.Lock()
	defer s.drain.Unlock()

	drained := 0
	for {
		rows, corrupt, err := s.next(ctx)
		if err != nil {
			return drained, err
		}
		if err := s.deadLetter(ctx, corrupt); err != nil {
			return drained, err
		}
		if len(rows) == 0 && len(corrupt) == 0 {
			return drained, nil
		}
		for _, row := range rows {
			if err := fn(row.event); err != nil {
				return drained, err
			}
			if _, err := s.conn.ExecContext(ctx, `DELETE FROM spooled_events WHERE seq = ?`, row.seq); err != nil {
				return drained, fmt.Errorf("failed to remove spooled event %s: %w", row.event.EventID, err)
			}
			drained++
		}
	}
}

// corruptRow is a spooled row whose payload could not be decoded.
type corruptRow struct {
	seq    int64
	reason string
}

// next reads the oldest batch. The rows are fully read and closed before
// returning, since the connection pool holds a single connection.
func (s *SQLite) next(ctx context.Context) ([]spooledRow, []corruptRow, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT seq, payload FROM spooled_events ORDER BY seq LIMIT ?`, drainBatch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read spool: %w", err)
	}
	defer rows.Close()

	var (
		out     []spooledRow
		corrupt []corruptRow
	)
	for rows.Next() {
		var (
			row     spooledRow
			payload string
		)
		if err := rows.Scan(&row.seq, &payload); err != nil {
			return nil, nil, fmt.Errorf("failed to scan spooled event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &row.event); err != nil {
			corrupt = append(corrupt, corruptRow{seq: row.seq, reason: err.Error()})
			continue
		}
		out = append(out, row)
	}
	return out, corrupt, rows.Err()
}

// deadLetter moves corrupt rows out of the queue so they cannot block it.
func (s *SQLite) deadLetter(ctx context.Context, corrupt []corruptRow) error {
	for _, c := range corrupt {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin dead-letter move: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO dead_letter_events (seq, event_id, identity_id, payload, spooled_at, reason)
			SELECT seq, event_id, identity_id, payload, spooled_at, ? FROM spooled_events WHERE seq = ?`,
			c.reason, c.seq)
		if err == nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM spooled_events WHERE seq = ?`, c.seq)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to dead-letter spooled event at seq %d: %w", c.seq, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to dead-letter spooled event at seq %d: %w", c.seq, err)
		}
		log.Error().Int64("seq", c.seq).Str("reason", c.reason).Msg("corrupt spooled event moved to dead letters")
	}
	return nil
}

// Len returns the number of spooled events.
func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM spooled_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count spooled events: %w", err)
	}
	return n, nil
}

// DeadLetters returns the number of rows moved aside as undecodable.
func (s *SQLite) DeadLetters(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

// Close closes the spool file.
func (s *SQLite) Close() error {
	return s.conn.Close()
}
