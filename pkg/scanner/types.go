package scanner

import (
	"github.com/praetorian-inc/trawl/pkg/types"
)

// ContentItem is one in-memory buffer handed to ScanBatch.
type ContentItem struct {
	Source   string            `json:"source"`             // label reported back, e.g. "upload:42"
	Content  []byte            `json:"content"`            // bytes to scan
	Metadata map[string]string `json:"metadata,omitempty"` // passed through untouched
}

// ScanResult is the outcome of scanning one blob.
type ScanResult struct {
	Source   string               `json:"source"`
	BlobID   types.BlobID         `json:"blob_id"`
	Reports  []*types.MatchReport `json:"reports"`
	Skipped  bool                 `json:"skipped,omitempty"` // already in the store
	Error    string               `json:"error,omitempty"`
	Metadata map[string]string    `json:"metadata,omitempty"`
}

// BatchScanResult holds per-item results in input order.
type BatchScanResult struct {
	Results []ScanResult `json:"results"`
	Total   int          `json:"total"` // reports across all items
}

// Stats summarizes a ScanEnumerator run.
type Stats struct {
	Blobs   int `json:"blobs"`
	Skipped int `json:"skipped"`
	Matched int `json:"matched"` // blobs with at least one report
	Reports int `json:"reports"`
	Errors  int `json:"errors"`
}
