package store

import (
	"sort"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// hnswOversample widens the candidate set fetched from the graph before exact re-ranking.
const (
	hnswOversample    = 4
	hnswMinCandidates = 32
)

// Snapshot is an immutable view of the store. All methods are safe for
// concurrent use and never observe a later mutation.
type Snapshot struct {
	version    uint64
	dim        int
	records    []Record
	active     []int
	byID       map[int64]int
	identities int
	index      *HNSWIndex
}

func newSnapshot(version uint64, dim int, records []Record, index *HNSWIndex) *Snapshot {
	s := &Snapshot{
		version: version,
		dim:     dim,
		records: records,
		byID:    make(map[int64]int, len(records)),
		index:   index,
	}
	seen := make(map[string]struct{})
	for i := range records {
		s.byID[records[i].ID] = i
		if records[i].Active {
			s.active = append(s.active, i)
			seen[records[i].IdentityID] = struct{}{}
		}
	}
	s.identities = len(seen)
	return s
}

// Version increases by one with every published mutation.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Dim returns the fixed vector dimension.
func (s *Snapshot) Dim() int {
	return s.dim
}

// ActiveLen returns the number of active records.
func (s *Snapshot) ActiveLen() int {
	return len(s.active)
}

// Records returns a copy of all records, active and inactive, ordered by id.
func (s *Snapshot) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ActiveRecords returns a copy of the active records ordered by id.
func (s *Snapshot) ActiveRecords() []Record {
	out := make([]Record, 0, len(s.active))
	for _, i := range s.active {
		out = append(out, s.records[i])
	}
	return out
}

// Stats summarizes the snapshot.
func (s *Snapshot) Stats() Stats {
	return Stats{
		Version:    s.version,
		Records:    len(s.records),
		Active:     len(s.active),
		Identities: s.identities,
		Indexed:    s.index != nil,
		Dim:        s.dim,
	}
}

func (s *Snapshot) checkQuery(vec []float32) error {
	if len(vec) != s.dim {
		return &DimensionMismatchError{Want: s.dim, Got: len(vec)}
	}
	if facematch.HasNonFinite(vec) || facematch.IsZero(vec) {
		return ErrInvalidVector
	}
	return nil
}

// candidates scores the active records worth considering for vec. The
// graph is only consulted when it narrows the search; otherwise every active
// record is scored, so a widening caller always ends on an exact scan.
func (s *Snapshot) candidates(vec []float32, want int) []Neighbor {
	if s.index != nil {
		if n := searchSize(want); n < len(s.active) {
			ids := s.index.Search(vec, n)
			out := make([]Neighbor, 0, len(ids))
			for _, id := range ids {
				i, ok := s.byID[id]
				if !ok || !s.records[i].Active {
					continue
				}
				rec := s.records[i]
				out = append(out, Neighbor{Record: rec, Similarity: facematch.CosineSimilarity(vec, rec.Vector)})
			}
			return out
		}
	}

	out := make([]Neighbor, 0, len(s.active))
	for _, i := range s.active {
		rec := s.records[i]
		out = append(out, Neighbor{Record: rec, Similarity: facematch.CosineSimilarity(vec, rec.Vector)})
	}
	return out
}

func searchSize(want int) int {
	return max(want*hnswOversample, hnswMinCandidates)
}

// Query returns the k active records most similar to vec, best first.
// Equal similarities are ordered by record id.
func (s *Snapshot) Query(vec []float32, k int) ([]Neighbor, error) {
	if err := s.checkQuery(vec); err != nil {
		return nil, err
	}
	if k <= 0 || len(s.active) == 0 {
		return nil, nil
	}

	all := s.candidates(vec, k)
	sortNeighbors(all)
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// QueryIdentities returns the k most similar identities, best first, each
// represented by its best-scoring active record. An identity enrolled with
// several images therefore never competes with itself.
func (s *Snapshot) QueryIdentities(vec []float32, k int) ([]Neighbor, error) {
	if err := s.checkQuery(vec); err != nil {
		return nil, err
	}
	if k <= 0 || len(s.active) == 0 {
		return nil, nil
	}

	// Records of one identity can crowd the graph's answer, so the search
	// widens until k identities are found or the scan is exhaustive.
	k = min(k, s.identities)
	for want := k; ; want *= 2 {
		out := bestPerIdentity(s.candidates(vec, want), k)
		if len(out) == k || s.index == nil || searchSize(want) >= len(s.active) {
			return out, nil
		}
	}
}

// bestPerIdentity keeps the best-scoring neighbor of each identity, at most k.
func bestPerIdentity(all []Neighbor, k int) []Neighbor {
	sortNeighbors(all)
	out := make([]Neighbor, 0, k)
	seen := make(map[string]struct{}, k)
	for _, n := range all {
		if _, ok := seen[n.Record.IdentityID]; ok {
			continue
		}
		seen[n.Record.IdentityID] = struct{}{}
		out = append(out, n)
		if len(out) == k {
			break
		}
	}
	return out
}

func sortNeighbors(ns []Neighbor) {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].Similarity != ns[j].Similarity {
			return ns[i].Similarity > ns[j].Similarity
		}
		return ns[i].Record.ID < ns[j].Record.ID
	})
}
