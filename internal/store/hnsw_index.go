package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coder/hnsw"
)

// HNSWMaxNeighbors is the M parameter of the graph.
const HNSWMaxNeighbors = 16

const hnswMetadataVersion = 1

// IndexMetadata is written next to a persisted graph and used to detect a stale file.
type IndexMetadata struct {
	RecordCount int       `json:"record_count"`
	MaxRecordID int64     `json:"max_record_id"`
	Dim         int       `json:"dim"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
}

// HNSWIndex wraps an HNSW graph over the active records of one snapshot.
// It is built once and never mutated after the snapshot is published, so
// concurrent searches need no locking.
type HNSWIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64]
	meta       IndexMetadata
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildHNSWIndex builds a graph from the active records.
func BuildHNSWIndex(records []Record, dim int) *HNSWIndex {
	g := newGraph()
	meta := IndexMetadata{Dim: dim, BuildTime: time.Now()}
	for i := range records {
		rec := &records[i]
		if !rec.Active || len(rec.Vector) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(rec.ID, rec.Vector))
		meta.RecordCount++
		meta.MaxRecordID = max(meta.MaxRecordID, rec.ID)
	}
	return &HNSWIndex{graph: g, meta: meta}
}

// Search returns the record ids of the k nearest graph nodes.
func (h *HNSWIndex) Search(query []float32, k int) []int64 {
	var neighbors []hnsw.Node[int64]
	if h.savedGraph != nil {
		neighbors = h.savedGraph.Search(query, k)
	} else if h.graph != nil {
		neighbors = h.graph.Search(query, k)
	}

	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
	}
	return ids
}

// Metadata describes the records the graph was built from.
func (h *HNSWIndex) Metadata() IndexMetadata {
	return h.meta
}

// Matches reports whether the graph was built from exactly this set of active records.
func (h *HNSWIndex) Matches(meta IndexMetadata) bool {
	return h.meta.RecordCount == meta.RecordCount &&
		h.meta.MaxRecordID == meta.MaxRecordID &&
		h.meta.Dim == meta.Dim
}

// Save persists the graph to path and its metadata to path + ".meta".
func (h *HNSWIndex) Save(path string) error {
	if path == "" {
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if h.savedGraph != nil {
		err = h.savedGraph.Export(f)
	} else {
		err = h.graph.Export(f)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	meta := h.meta
	meta.Version = hnswMetadataVersion
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadIndexMetadata reads the .meta file written by Save.
func LoadIndexMetadata(path string) (IndexMetadata, error) {
	var meta IndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if meta.Version != hnswMetadataVersion {
		return meta, fmt.Errorf("unsupported index metadata version %d", meta.Version)
	}
	return meta, nil
}

// LoadHNSWIndex loads a graph persisted by Save.
func LoadHNSWIndex(path string) (*HNSWIndex, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("HNSW index file not found: %s: %w", path, os.ErrNotExist)
	}

	meta, err := LoadIndexMetadata(path)
	if err != nil {
		return nil, err
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	return &HNSWIndex{savedGraph: saved, meta: meta}, nil
}
