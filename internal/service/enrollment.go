package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/diagnostics"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/store"
)

// EnrollRequest enrolls one face embedding for an identity. It is also the
// line format of enrollment import files.
type EnrollRequest struct {
	IdentityID string    `json:"identity_id"`
	Vector     []float32 `json:"vector"`
	Quality    float64   `json:"quality_score"`
	// Replace deactivates the identity's previous embeddings.
	Replace bool `json:"replace,omitempty"`
}

// Enroll validates and persists an embedding, then publishes it to the store.
// A vector of the wrong dimension fails with store.ErrDimensionMismatch before
// anything is written.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (store.Record, error) {
	rec := store.Record{
		IdentityID: facematch.NormalizeIdentityID(req.IdentityID),
		Vector:     req.Vector,
		Quality:    req.Quality,
		CreatedAt:  s.now(),
	}
	if err := s.store.Validate(rec); err != nil {
		return store.Record{}, err
	}

	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()

	emb := database.StoredEmbedding{
		IdentityID:   rec.IdentityID,
		Embedding:    rec.Vector,
		QualityScore: rec.Quality,
		CreatedAt:    rec.CreatedAt,
	}
	var err error
	if req.Replace {
		rec.ID, err = s.repos.Embeddings.Replace(ctx, emb)
	} else {
		rec.ID, err = s.repos.Embeddings.Save(ctx, emb)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("persisting embedding: %w", err)
	}

	if req.Replace {
		rec, err = s.store.Replace(rec)
	} else {
		rec, err = s.store.Insert(rec)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("publishing embedding: %w", err)
	}

	s.log.Info().Str("identity_id", rec.IdentityID).Int64("record_id", rec.ID).Bool("replace", req.Replace).Msg("identity enrolled")
	s.diag.Publish(diagnostics.Event{
		Type:       diagnostics.EventEnrollment,
		IdentityID: rec.IdentityID,
		Reason:     "enrolled",
	})
	return rec, nil
}

// Revoke deactivates every embedding of the identity and returns how many
// were deactivated. Revocation takes effect for the next query.
func (s *Service) Revoke(ctx context.Context, identityID string) (int, error) {
	identityID = facematch.NormalizeIdentityID(identityID)
	if identityID == "" {
		return 0, store.ErrEmptyIdentity
	}

	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()

	n, err := s.repos.Embeddings.DeactivateIdentity(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("deactivating embeddings: %w", err)
	}
	s.store.Deactivate(identityID)

	s.log.Info().Str("identity_id", identityID).Int("records", n).Msg("identity revoked")
	s.diag.Publish(diagnostics.Event{
		Type:       diagnostics.EventEnrollment,
		IdentityID: identityID,
		Reason:     "revoked",
	})
	return n, nil
}

// EmbeddingStats returns persisted and in-memory embedding counts.
type EmbeddingStats struct {
	Database database.EmbeddingStats `json:"database"`
	Store    store.Stats             `json:"store"`
}

// EmbeddingStats reports enrollment counts.
func (s *Service) EmbeddingStats(ctx context.Context) (EmbeddingStats, error) {
	db, err := s.repos.Embeddings.Stats(ctx)
	if err != nil {
		return EmbeddingStats{}, fmt.Errorf("reading embedding stats: %w", err)
	}
	return EmbeddingStats{Database: db, Store: s.store.Stats()}, nil
}

// LoadStore publishes the active embeddings from persistence. A persisted
// HNSW graph is reused when it was built from exactly these records.
func (s *Service) LoadStore(ctx context.Context) error {
	rows, err := s.repos.Embeddings.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading embeddings: %w", err)
	}

	records := make([]store.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, store.Record{
			ID:         r.ID,
			IdentityID: r.IdentityID,
			Vector:     r.Embedding,
			Quality:    r.QualityScore,
			Active:     r.Active,
			CreatedAt:  r.CreatedAt,
		})
	}

	index := s.loadIndex()
	if err := s.store.LoadWithIndex(records, index); err != nil {
		return fmt.Errorf("publishing embeddings: %w", err)
	}

	stats := s.store.Stats()
	s.log.Info().
		Int("records", stats.Active).
		Int("identities", stats.Identities).
		Bool("indexed", stats.Indexed).
		Msg("embedding store loaded")
	return nil
}

func (s *Service) loadIndex() *store.HNSWIndex {
	path := s.cfg.Embedding.HNSWIndexPath
	if path == "" || s.cfg.Embedding.HNSWMinRecords <= 0 {
		return nil
	}
	index, err := store.LoadHNSWIndex(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", path).Msg("ignoring unreadable HNSW index, rebuilding")
		}
		return nil
	}
	return index
}

// Prime seeds the engine with the last recorded time of every identity still
// inside its cooldown window, so a restart does not record them again.
func (s *Service) Prime(ctx context.Context) (int, error) {
	since := s.primeSince(s.now())
	last, err := s.repos.Attendance.LastRecorded(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("reading last recorded attendance: %w", err)
	}
	for identityID, ts := range last {
		s.engine.Prime(identityID, ts)
	}
	s.log.Info().Int("identities", len(last)).Time("since", since).Msg("attendance engine primed")
	return len(last), nil
}

func (s *Service) primeSince(now time.Time) time.Time {
	cfg := s.cfg.EngineConfig()
	if cfg.Mode == attendance.CooldownDaily {
		start, _ := database.DayRange(now, cfg.Location)
		return start
	}
	return now.Add(-cfg.Cooldown)
}
