package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const embeddingColumns = `id, identity_id, embedding, quality_score, active, created_at, deactivated_at`

// EmbeddingRepository provides PostgreSQL-backed storage of enrolled face embeddings
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

var _ database.EmbeddingWriter = (*EmbeddingRepository)(nil)

// ListActive returns every active embedding ordered by id
func (r *EmbeddingRepository) ListActive(ctx context.Context) ([]database.StoredEmbedding, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+embeddingColumns+` FROM face_embeddings WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active embeddings: %w", err)
	}
	defer rows.Close()
	return scanEmbeddings(rows)
}

// ListByIdentity returns all embeddings of an identity, oldest first
func (r *EmbeddingRepository) ListByIdentity(ctx context.Context, identityID string) ([]database.StoredEmbedding, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+embeddingColumns+` FROM face_embeddings WHERE identity_id = $1 ORDER BY id`, identityID)
	if err != nil {
		return nil, fmt.Errorf("query identity embeddings: %w", err)
	}
	defer rows.Close()
	return scanEmbeddings(rows)
}

// Stats returns active/inactive/identity counts
func (r *EmbeddingRepository) Stats(ctx context.Context) (database.EmbeddingStats, error) {
	var stats database.EmbeddingStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE active),
			COUNT(*) FILTER (WHERE NOT active),
			COUNT(DISTINCT identity_id) FILTER (WHERE active),
			COALESCE(MAX(id), 0)
		FROM face_embeddings
	`).Scan(&stats.Active, &stats.Inactive, &stats.Identities, &stats.MaxID)
	if err != nil {
		return stats, fmt.Errorf("query embedding stats: %w", err)
	}
	return stats, nil
}

// Save inserts an active embedding and returns its id
func (r *EmbeddingRepository) Save(ctx context.Context, emb database.StoredEmbedding) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertEmbedding(ctx, tx, emb)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// Replace inserts an active embedding and deactivates the identity's previous ones
func (r *EmbeddingRepository) Replace(ctx context.Context, emb database.StoredEmbedding) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertEmbedding(ctx, tx, emb)
	if err != nil {
		return 0, err
	}
	if _, err := deactivate(ctx, tx, emb.IdentityID, id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// DeactivateIdentity marks every active embedding of the identity inactive
func (r *EmbeddingRepository) DeactivateIdentity(ctx context.Context, identityID string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := deactivate(ctx, tx, identityID, 0)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return n, nil
}

func insertEmbedding(ctx context.Context, tx *sql.Tx, emb database.StoredEmbedding) (int64, error) {
	if len(emb.Embedding) == 0 {
		return 0, errors.New("embedding vector is empty")
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO face_embeddings (identity_id, embedding, quality_score, active, created_at)
		VALUES ($1, $2::vector, $3, TRUE, COALESCE($4, NOW()))
		RETURNING id
	`,
		emb.IdentityID,
		pgvector.NewVector(emb.Embedding),
		emb.QualityScore,
		nullTime(emb.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert embedding for %s: %w", emb.IdentityID, err)
	}
	return id, nil
}

// deactivate flips the identity's active rows except keepID.
func deactivate(ctx context.Context, tx *sql.Tx, identityID string, keepID int64) (int, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE face_embeddings
		SET active = FALSE, deactivated_at = NOW()
		WHERE identity_id = $1 AND active AND id <> $2
	`, identityID, keepID)
	if err != nil {
		return 0, fmt.Errorf("deactivate embeddings of %s: %w", identityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(n), nil
}

func scanEmbeddingRow(scanner interface{ Scan(...any) error }) (database.StoredEmbedding, error) {
	var emb database.StoredEmbedding
	var vec pgvector.Vector
	var deactivatedAt sql.NullTime

	err := scanner.Scan(
		&emb.ID,
		&emb.IdentityID,
		&vec,
		&emb.QualityScore,
		&emb.Active,
		&emb.CreatedAt,
		&deactivatedAt,
	)
	if err != nil {
		return emb, fmt.Errorf("scan embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		emb.DeactivatedAt = &t
	}
	return emb, nil
}

func scanEmbeddings(rows *sql.Rows) ([]database.StoredEmbedding, error) {
	var out []database.StoredEmbedding
	for rows.Next() {
		emb, err := scanEmbeddingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}
