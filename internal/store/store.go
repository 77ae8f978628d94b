// Package store holds the active set of enrolled face embeddings and answers
// nearest-neighbor queries against it.
//
// Readers load the current snapshot through an atomic pointer and never block.
// Mutations are serialized, copy the record set, and publish a complete new
// snapshot, so an in-flight query always sees either the old or the new state.
package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Store is the embedding store.
type Store struct {
	dim            int
	hnswMinRecords int
	now            func() time.Time
	onPublish      func(*Snapshot)

	mu     sync.Mutex // serializes writers
	nextID int64
	snap   atomic.Pointer[Snapshot]
}

// Option configures a Store.
type Option func(*Store)

// WithHNSW enables the HNSW graph once at least minRecords records are active.
// Zero disables the graph and keeps exact linear search.
func WithHNSW(minRecords int) Option {
	return func(s *Store) {
		s.hnswMinRecords = minRecords
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithPublishHook registers a callback invoked after every published snapshot.
func WithPublishHook(fn func(*Snapshot)) Option {
	return func(s *Store) {
		s.onPublish = fn
	}
}

// New creates an empty store for vectors of dimension dim.
func New(dim int, opts ...Option) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	s := &Store{dim: dim, now: time.Now, nextID: 1}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(newSnapshot(0, dim, nil, nil))
	return s, nil
}

// Dim returns the fixed vector dimension.
func (s *Store) Dim() int {
	return s.dim
}

// Snapshot returns the currently published snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Stats summarizes the currently published snapshot.
func (s *Store) Stats() Stats {
	return s.Snapshot().Stats()
}

// Query returns the k nearest active records. See Snapshot.Query.
func (s *Store) Query(vec []float32, k int) ([]Neighbor, error) {
	return s.Snapshot().Query(vec, k)
}

// QueryIdentities returns the k nearest identities. See Snapshot.QueryIdentities.
func (s *Store) QueryIdentities(vec []float32, k int) ([]Neighbor, error) {
	return s.Snapshot().QueryIdentities(vec, k)
}

// Validate reports whether rec would be accepted by Insert, without changing the store.
func (s *Store) Validate(rec Record) error {
	return s.validate(&rec)
}

// validate checks a record before it is accepted and normalizes its identity id.
func (s *Store) validate(rec *Record) error {
	rec.IdentityID = facematch.NormalizeIdentityID(rec.IdentityID)
	if rec.IdentityID == "" {
		return ErrEmptyIdentity
	}
	if len(rec.Vector) != s.dim {
		return &DimensionMismatchError{Want: s.dim, Got: len(rec.Vector)}
	}
	if facematch.HasNonFinite(rec.Vector) || facematch.IsZero(rec.Vector) {
		return ErrInvalidVector
	}
	if rec.Quality < 0 || rec.Quality > 1 {
		return fmt.Errorf("%w: %v outside [0,1]", ErrInvalidQuality, rec.Quality)
	}
	return nil
}

// prepare validates rec, copies its vector and assigns an id if it has none.
// Must be called with s.mu held.
func (s *Store) prepare(rec Record) (Record, error) {
	if err := s.validate(&rec); err != nil {
		return Record{}, err
	}
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	rec.Vector = vec
	if rec.ID == 0 {
		rec.ID = s.nextID
	}
	s.nextID = max(s.nextID, rec.ID+1)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	return rec, nil
}

// publish builds and stores a new snapshot from records. Must be called with s.mu held.
func (s *Store) publish(records []Record) *Snapshot {
	prev := s.snap.Load()

	var index *HNSWIndex
	if s.hnswMinRecords > 0 {
		active := 0
		for i := range records {
			if records[i].Active {
				active++
			}
		}
		if active >= s.hnswMinRecords {
			index = BuildHNSWIndex(records, s.dim)
		}
	}

	next := newSnapshot(prev.version+1, s.dim, records, index)
	s.snap.Store(next)
	if s.onPublish != nil {
		s.onPublish(next)
	}
	return next
}

// Insert adds an active record and returns it with its assigned id.
// A vector of the wrong dimension fails with ErrDimensionMismatch.
func (s *Store) Insert(rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Active = true
	rec, err := s.prepare(rec)
	if err != nil {
		return Record{}, err
	}

	snap := s.snap.Load()
	if _, dup := snap.byID[rec.ID]; dup {
		return Record{}, fmt.Errorf("record %d already exists", rec.ID)
	}
	records := make([]Record, 0, len(snap.records)+1)
	records = append(records, snap.records...)
	records = append(records, rec)
	s.publish(records)
	return rec, nil
}

// Deactivate marks every record of the identity inactive and returns how many changed.
func (s *Store) Deactivate(identityID string) int {
	identityID = facematch.NormalizeIdentityID(identityID)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snap.Load().records
	records := make([]Record, len(prev))
	copy(records, prev)

	changed := 0
	for i := range records {
		if records[i].IdentityID == identityID && records[i].Active {
			records[i].Active = false
			changed++
		}
	}
	if changed > 0 {
		s.publish(records)
	}
	return changed
}

// Replace inserts a new record for the identity and deactivates its previous
// records. Both changes become visible in the same snapshot.
func (s *Store) Replace(rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Active = true
	rec, err := s.prepare(rec)
	if err != nil {
		return Record{}, err
	}

	snap := s.snap.Load()
	if _, dup := snap.byID[rec.ID]; dup {
		return Record{}, fmt.Errorf("record %d already exists", rec.ID)
	}
	records := make([]Record, 0, len(snap.records)+1)
	for _, r := range snap.records {
		if r.IdentityID == rec.IdentityID {
			r.Active = false
		}
		records = append(records, r)
	}
	records = append(records, rec)
	s.publish(records)
	return rec, nil
}

// Load replaces the whole record set, typically with the rows read from
// persistence at startup. Every record is validated; nothing is published on error.
func (s *Store) Load(records []Record) error {
	return s.LoadWithIndex(records, nil)
}

// LoadWithIndex is Load with a prebuilt graph. The graph is used only if it
// was built from exactly the active records being loaded; otherwise it is
// rebuilt as usual.
func (s *Store) LoadWithIndex(records []Record, index *HNSWIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevNextID := s.nextID
	s.nextID = 1
	out := make([]Record, 0, len(records))
	seen := make(map[int64]struct{}, len(records))
	for _, r := range records {
		prepared, err := s.prepare(r)
		if err != nil {
			s.nextID = prevNextID
			return fmt.Errorf("record %d (%s): %w", r.ID, r.IdentityID, err)
		}
		if _, dup := seen[prepared.ID]; dup {
			s.nextID = prevNextID
			return fmt.Errorf("duplicate record id %d", prepared.ID)
		}
		seen[prepared.ID] = struct{}{}
		out = append(out, prepared)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if index != nil && s.hnswMinRecords > 0 && index.Matches(activeMetadata(out, s.dim)) {
		prev := s.snap.Load()
		next := newSnapshot(prev.version+1, s.dim, out, index)
		s.snap.Store(next)
		if s.onPublish != nil {
			s.onPublish(next)
		}
		return nil
	}

	s.publish(out)
	return nil
}

// SaveIndex persists the current snapshot's graph. It is a no-op without a graph.
func (s *Store) SaveIndex(path string) error {
	snap := s.Snapshot()
	if snap.index == nil || path == "" {
		return nil
	}
	return snap.index.Save(path)
}

func activeMetadata(records []Record, dim int) IndexMetadata {
	meta := IndexMetadata{Dim: dim}
	for i := range records {
		if records[i].Active {
			meta.RecordCount++
			meta.MaxRecordID = max(meta.MaxRecordID, records[i].ID)
		}
	}
	return meta
}
