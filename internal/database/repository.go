package database

import (
	"context"
	"time"
)

// EmbeddingReader provides read-only access to enrolled embeddings
type EmbeddingReader interface {
	// ListActive returns every active embedding ordered by id
	ListActive(ctx context.Context) ([]StoredEmbedding, error)
	// ListByIdentity returns all embeddings of an identity, active or not
	ListByIdentity(ctx context.Context, identityID string) ([]StoredEmbedding, error)
	// Stats returns active/inactive/identity counts
	Stats(ctx context.Context) (EmbeddingStats, error)
}

// EmbeddingWriter provides write access to enrolled embeddings
type EmbeddingWriter interface {
	EmbeddingReader

	// Save inserts an active embedding and returns its id
	Save(ctx context.Context, emb StoredEmbedding) (int64, error)
	// Replace inserts an active embedding and deactivates the identity's
	// previous ones in the same transaction
	Replace(ctx context.Context, emb StoredEmbedding) (int64, error)
	// DeactivateIdentity marks every active embedding of the identity inactive
	// and returns how many changed
	DeactivateIdentity(ctx context.Context, identityID string) (int, error)
}

// AttendanceReader provides read-only access to attendance logs
type AttendanceReader interface {
	// List returns logs matching the filter, newest first
	List(ctx context.Context, f AttendanceFilter) ([]AttendanceLog, error)
	// Summary aggregates logs with from <= timestamp < to per identity, ordered by first seen
	Summary(ctx context.Context, from, to time.Time) ([]DailySummary, error)
	// LastRecorded returns the latest recorded timestamp per identity since the given time
	LastRecorded(ctx context.Context, since time.Time) (map[string]time.Time, error)
}

// AttendanceWriter provides write access to attendance logs
type AttendanceWriter interface {
	AttendanceReader

	// Append stores a log. It is idempotent by EventID and reports whether a
	// new row was written.
	Append(ctx context.Context, log AttendanceLog) (bool, error)
}

// SystemLogWriter persists diagnostic signals
type SystemLogWriter interface {
	Write(ctx context.Context, log SystemLog) error
	Recent(ctx context.Context, limit int) ([]SystemLog, error)
}
