package store

import (
	"sync"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// provenanceKey identifies a provenance record for deduplication.
type provenanceKey struct {
	kind, path, repoPath, commit string
}

// MemoryStore implements Store using in-memory data structures.
type MemoryStore struct {
	mu         sync.RWMutex
	blobs      map[types.BlobID]int64
	reports    []*types.MatchReport
	seen       map[string]bool // report structural IDs
	provenance map[types.BlobID][]types.Provenance
	provSeen   map[types.BlobID]map[provenanceKey]bool
}

// NewMemory creates a new in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		blobs:      make(map[types.BlobID]int64),
		seen:       make(map[string]bool),
		provenance: make(map[types.BlobID][]types.Provenance),
		provSeen:   make(map[types.BlobID]map[provenanceKey]bool),
	}
}

// AddBlob stores a blob record. Adding a known blob is a no-op.
func (m *MemoryStore) AddBlob(id types.BlobID, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.blobs[id]; !exists {
		m.blobs[id] = size
	}
	return nil
}

// AddProvenance associates provenance with a blob.
func (m *MemoryStore) AddProvenance(blobID types.BlobID, prov types.Provenance) error {
	path, repoPath, commit, err := provenanceFields(prov)
	if err != nil {
		return err
	}
	key := provenanceKey{kind: prov.Kind(), path: path, repoPath: repoPath, commit: commit}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := m.provSeen[blobID]
	if seen == nil {
		seen = make(map[provenanceKey]bool)
		m.provSeen[blobID] = seen
	}
	if seen[key] {
		return nil
	}
	seen[key] = true
	m.provenance[blobID] = append(m.provenance[blobID], prov)
	return nil
}

// AddReport stores a match report, deduplicated by structural ID.
func (m *MemoryStore) AddReport(r *types.MatchReport) error {
	if err := validateReport(r); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[r.StructuralID] {
		return nil
	}
	m.seen[r.StructuralID] = true
	m.reports = append(m.reports, r)
	return nil
}

// GetReports retrieves the reports for a blob.
func (m *MemoryStore) GetReports(blobID types.BlobID) ([]*types.MatchReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*types.MatchReport{}
	for _, r := range m.reports {
		if r.BlobID == blobID {
			result = append(result, r)
		}
	}
	return result, nil
}

// GetAllReports retrieves every report.
func (m *MemoryStore) GetAllReports() ([]*types.MatchReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*types.MatchReport, len(m.reports))
	copy(result, m.reports)
	return result, nil
}

// GetProvenance retrieves every provenance record of a blob.
func (m *MemoryStore) GetProvenance(blobID types.BlobID) ([]types.Provenance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Provenance, len(m.provenance[blobID]))
	copy(result, m.provenance[blobID])
	return result, nil
}

// ReportExists checks if a report with this structural ID exists.
func (m *MemoryStore) ReportExists(structuralID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.seen[structuralID], nil
}

// BlobExists checks if a blob has already been scanned.
func (m *MemoryStore) BlobExists(id types.BlobID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.blobs[id]
	return exists, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
