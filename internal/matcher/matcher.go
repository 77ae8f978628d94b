// Package matcher decides which enrolled identity, if any, a face embedding belongs to.
package matcher

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/face-attendance/internal/store"
)

// Reason says why a detection was rejected.
type Reason string

// Rejection reasons. ReasonNone is carried by matched results.
const (
	ReasonNone              Reason = ""
	ReasonLowQuality        Reason = "low_quality"
	ReasonNoCandidate       Reason = "no_candidate"
	ReasonAmbiguous         Reason = "ambiguous"
	ReasonDimensionMismatch Reason = "dimension_mismatch"
	ReasonInvalidVector     Reason = "invalid_vector"
)

// Config holds the matching thresholds, all on the cosine similarity scale.
type Config struct {
	QualityThreshold    float64
	SimilarityThreshold float64
	AmbiguityMargin     float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		QualityThreshold:    0.5,
		SimilarityThreshold: 0.8,
		AmbiguityMargin:     0.05,
	}
}

// Validate checks the thresholds are in range.
func (c Config) Validate() error {
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality threshold %v outside [0,1]", c.QualityThreshold)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %v outside [-1,1]", c.SimilarityThreshold)
	}
	if c.AmbiguityMargin < 0 || c.AmbiguityMargin > 2 {
		return fmt.Errorf("ambiguity margin %v outside [0,2]", c.AmbiguityMargin)
	}
	return nil
}

// Result is the outcome of resolving one detection: either a match or a rejection.
type Result struct {
	Matched    bool    `json:"matched"`
	IdentityID string  `json:"identity_id,omitempty"`
	Similarity float64 `json:"similarity"`
	Quality    float64 `json:"quality_score"`
	Reason     Reason  `json:"reason,omitempty"`

	// Candidate and runner-up of the store query, for diagnostics.
	BestIdentityID   string  `json:"best_identity_id,omitempty"`
	SecondIdentityID string  `json:"second_identity_id,omitempty"`
	SecondSimilarity float64 `json:"second_similarity,omitempty"`
}

// Label is the metric/log label of the result: "matched" or the rejection reason.
func (r Result) Label() string {
	if r.Matched {
		return "matched"
	}
	return string(r.Reason)
}

// Querier answers top-k identity queries. *store.Store and *store.Snapshot implement it.
type Querier interface {
	QueryIdentities(vec []float32, k int) ([]store.Neighbor, error)
}

// SnapshotSource hands out immutable store snapshots.
type SnapshotSource interface {
	Snapshot() *store.Snapshot
}

// Matcher resolves detections against the currently published store snapshot.
type Matcher struct {
	cfg    Config
	source SnapshotSource
}

// New creates a matcher.
func New(cfg Config, source SnapshotSource) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{cfg: cfg, source: source}, nil
}

// Config returns the thresholds in use.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Resolve matches vec against the current snapshot.
func (m *Matcher) Resolve(vec []float32, quality float64) Result {
	return Resolve(m.cfg, m.source.Snapshot(), vec, quality)
}

// Resolve applies the matching policy against q. For a fixed q (e.g. one
// snapshot) the result depends only on vec and quality.
//
// Policy, in order: low quality, malformed vector, no candidate above the
// similarity threshold, best and runner-up closer than the ambiguity margin.
func Resolve(cfg Config, q Querier, vec []float32, quality float64) Result {
	if math.IsNaN(quality) || quality < cfg.QualityThreshold {
		return Result{Reason: ReasonLowQuality, Quality: quality}
	}

	top, err := q.QueryIdentities(vec, 2)
	switch {
	case errors.Is(err, store.ErrDimensionMismatch):
		return Result{Reason: ReasonDimensionMismatch, Quality: quality}
	case err != nil:
		return Result{Reason: ReasonInvalidVector, Quality: quality}
	case len(top) == 0:
		return Result{Reason: ReasonNoCandidate, Quality: quality}
	}

	best := top[0]
	res := Result{
		Quality:        quality,
		Similarity:     best.Similarity,
		BestIdentityID: best.Record.IdentityID,
	}
	if len(top) > 1 {
		res.SecondIdentityID = top[1].Record.IdentityID
		res.SecondSimilarity = top[1].Similarity
	}

	if best.Similarity < cfg.SimilarityThreshold {
		res.Reason = ReasonNoCandidate
		return res
	}
	if len(top) > 1 && best.Similarity-top[1].Similarity < cfg.AmbiguityMargin {
		res.Reason = ReasonAmbiguous
		return res
	}

	res.Matched = true
	res.IdentityID = best.Record.IdentityID
	return res
}
