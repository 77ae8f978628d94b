package store

import "time"

// Record is one enrolled face embedding for an identity.
// Records are never modified after publication; deactivation publishes a copy.
type Record struct {
	ID         int64
	IdentityID string
	Vector     []float32
	Quality    float64
	Active     bool
	CreatedAt  time.Time
}

// Neighbor pairs a record with its cosine similarity to a query vector.
// The record's Vector is shared with the snapshot and must not be modified.
type Neighbor struct {
	Record     Record
	Similarity float64
}

// Stats summarizes the currently published snapshot.
type Stats struct {
	Version    uint64 `json:"version"`
	Records    int    `json:"records"`
	Active     int    `json:"active"`
	Identities int    `json:"identities"`
	Indexed    bool   `json:"indexed"`
	Dim        int    `json:"dim"`
}
