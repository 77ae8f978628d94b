// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockEmbeddingWriter is an in-memory implementation of database.EmbeddingWriter
type MockEmbeddingWriter struct {
	mu         sync.RWMutex
	nextID     int64
	embeddings []database.StoredEmbedding

	// Track calls
	SaveCalls       int
	ReplaceCalls    int
	DeactivateCalls []string

	// Error injection
	ListError       error
	StatsError      error
	SaveError       error
	DeactivateError error
}

var _ database.EmbeddingWriter = (*MockEmbeddingWriter)(nil)

// NewMockEmbeddingWriter creates a new mock embedding writer
func NewMockEmbeddingWriter() *MockEmbeddingWriter {
	return &MockEmbeddingWriter{nextID: 1}
}

// AddEmbedding adds an active embedding and returns its id
func (m *MockEmbeddingWriter) AddEmbedding(emb database.StoredEmbedding) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(emb)
}

func (m *MockEmbeddingWriter) insertLocked(emb database.StoredEmbedding) int64 {
	if emb.ID == 0 {
		emb.ID = m.nextID
	}
	m.nextID = max(m.nextID, emb.ID+1)
	emb.Active = true
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now()
	}
	m.embeddings = append(m.embeddings, emb)
	return emb.ID
}

// ListActive returns every active embedding ordered by id
func (m *MockEmbeddingWriter) ListActive(ctx context.Context) ([]database.StoredEmbedding, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredEmbedding
	for _, e := range m.embeddings {
		if e.Active {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListByIdentity returns all embeddings of an identity
func (m *MockEmbeddingWriter) ListByIdentity(ctx context.Context, identityID string) ([]database.StoredEmbedding, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredEmbedding
	for _, e := range m.embeddings {
		if e.IdentityID == identityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stats returns active/inactive/identity counts
func (m *MockEmbeddingWriter) Stats(ctx context.Context) (database.EmbeddingStats, error) {
	if m.StatsError != nil {
		return database.EmbeddingStats{}, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats database.EmbeddingStats
	identities := make(map[string]struct{})
	for _, e := range m.embeddings {
		if e.Active {
			stats.Active++
			identities[e.IdentityID] = struct{}{}
		} else {
			stats.Inactive++
		}
		stats.MaxID = max(stats.MaxID, e.ID)
	}
	stats.Identities = len(identities)
	return stats, nil
}

// Save inserts an active embedding
func (m *MockEmbeddingWriter) Save(ctx context.Context, emb database.StoredEmbedding) (int64, error) {
	if m.SaveError != nil {
		return 0, m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	return m.insertLocked(emb), nil
}

// Replace inserts an active embedding and deactivates the identity's others
func (m *MockEmbeddingWriter) Replace(ctx context.Context, emb database.StoredEmbedding) (int64, error) {
	if m.SaveError != nil {
		return 0, m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplaceCalls++
	m.deactivateLocked(emb.IdentityID)
	return m.insertLocked(emb), nil
}

// DeactivateIdentity marks the identity's embeddings inactive
func (m *MockEmbeddingWriter) DeactivateIdentity(ctx context.Context, identityID string) (int, error) {
	if m.DeactivateError != nil {
		return 0, m.DeactivateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeactivateCalls = append(m.DeactivateCalls, identityID)
	return m.deactivateLocked(identityID), nil
}

func (m *MockEmbeddingWriter) deactivateLocked(identityID string) int {
	now := time.Now()
	n := 0
	for i := range m.embeddings {
		if m.embeddings[i].IdentityID == identityID && m.embeddings[i].Active {
			m.embeddings[i].Active = false
			m.embeddings[i].DeactivatedAt = &now
			n++
		}
	}
	return n
}

// MockAttendanceWriter is an in-memory implementation of database.AttendanceWriter
type MockAttendanceWriter struct {
	mu     sync.RWMutex
	nextID int64
	logs   []database.AttendanceLog
	byID   map[uuid.UUID]struct{}

	appendCalls int
	appendError error

	// Error injection
	ListError error
}

var _ database.AttendanceWriter = (*MockAttendanceWriter)(nil)

// NewMockAttendanceWriter creates a new mock attendance writer
func NewMockAttendanceWriter() *MockAttendanceWriter {
	return &MockAttendanceWriter{nextID: 1, byID: make(map[uuid.UUID]struct{})}
}

// SetAppendError makes every following Append fail with err; nil restores it.
func (m *MockAttendanceWriter) SetAppendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendError = err
}

// AppendCalls returns how many times Append was called
func (m *MockAttendanceWriter) AppendCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appendCalls
}

// Logs returns a copy of the stored logs in insertion order
func (m *MockAttendanceWriter) Logs() []database.AttendanceLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.AttendanceLog, len(m.logs))
	copy(out, m.logs)
	return out
}

// Append stores a log unless its event id is already present
func (m *MockAttendanceWriter) Append(ctx context.Context, log database.AttendanceLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if m.appendError != nil {
		return false, m.appendError
	}
	if _, dup := m.byID[log.EventID]; dup {
		return false, nil
	}
	log.ID = m.nextID
	m.nextID++
	log.CreatedAt = time.Now()
	m.byID[log.EventID] = struct{}{}
	m.logs = append(m.logs, log)
	return true, nil
}

// List returns logs matching the filter, newest first
func (m *MockAttendanceWriter) List(ctx context.Context, f database.AttendanceFilter) ([]database.AttendanceLog, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	var out []database.AttendanceLog
	for _, l := range m.logs {
		if f.IdentityID != "" && l.IdentityID != f.IdentityID {
			continue
		}
		if !f.From.IsZero() && l.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !l.Timestamp.Before(f.To) {
			continue
		}
		out = append(out, l)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Summary aggregates logs per identity, ordered by first seen
func (m *MockAttendanceWriter) Summary(ctx context.Context, from, to time.Time) ([]database.DailySummary, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	byIdentity := make(map[string]*database.DailySummary)
	for _, l := range m.logs {
		if l.Timestamp.Before(from) || !l.Timestamp.Before(to) {
			continue
		}
		s, ok := byIdentity[l.IdentityID]
		if !ok {
			s = &database.DailySummary{IdentityID: l.IdentityID, FirstSeen: l.Timestamp, SourceCameraID: l.SourceCameraID}
			byIdentity[l.IdentityID] = s
		}
		s.Events++
		s.MaxConfidence = max(s.MaxConfidence, l.ConfidenceScore)
		if l.Timestamp.Before(s.FirstSeen) {
			s.FirstSeen = l.Timestamp
			s.SourceCameraID = l.SourceCameraID
		}
	}
	m.mu.RUnlock()

	out := make([]database.DailySummary, 0, len(byIdentity))
	for _, s := range byIdentity {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].IdentityID < out[j].IdentityID
	})
	return out, nil
}

// LastRecorded returns the latest timestamp per identity since the given time
func (m *MockAttendanceWriter) LastRecorded(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time)
	for _, l := range m.logs {
		if l.Timestamp.Before(since) {
			continue
		}
		if l.Timestamp.After(out[l.IdentityID]) {
			out[l.IdentityID] = l.Timestamp
		}
	}
	return out, nil
}

// MockSystemLogWriter is an in-memory implementation of database.SystemLogWriter
type MockSystemLogWriter struct {
	mu   sync.RWMutex
	logs []database.SystemLog

	// Error injection
	WriteError error
}

var _ database.SystemLogWriter = (*MockSystemLogWriter)(nil)

// NewMockSystemLogWriter creates a new mock system log writer
func NewMockSystemLogWriter() *MockSystemLogWriter {
	return &MockSystemLogWriter{}
}

// Write stores a log entry
func (m *MockSystemLogWriter) Write(ctx context.Context, log database.SystemLog) error {
	if m.WriteError != nil {
		return m.WriteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = int64(len(m.logs) + 1)
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	m.logs = append(m.logs, log)
	return nil
}

// Recent returns the newest entries first
func (m *MockSystemLogWriter) Recent(ctx context.Context, limit int) ([]database.SystemLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.SystemLog, 0, len(m.logs))
	for i := len(m.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}
