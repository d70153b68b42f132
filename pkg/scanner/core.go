// Package scanner ties compiled rules to a result store: every scanned blob
// is recorded with its provenance and match reports.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/praetorian-inc/trawl"
	"github.com/praetorian-inc/trawl/pkg/enum"
	"github.com/praetorian-inc/trawl/pkg/logging"
	"github.com/praetorian-inc/trawl/pkg/store"
	"github.com/praetorian-inc/trawl/pkg/types"
)

// Config controls a Core.
type Config struct {
	// Store receives blobs, provenance and reports. When nil the Core
	// creates and owns an in-memory store.
	Store store.Store

	// Incremental skips blobs already present in the store. Their
	// provenance is still recorded.
	Incremental bool

	// Workers bounds ScanBatch parallelism (0 = runtime.NumCPU()).
	Workers int

	// Logger defaults to the "scanner" component logger.
	Logger *zerolog.Logger
}

// Core wraps rules and a store for scanning operations.
type Core struct {
	rules       *trawl.Rules
	store       store.Store
	ownsStore   bool
	incremental bool
	workers     int
	logger      zerolog.Logger
}

// NewCore creates a Core scanning with rules. The caller keeps ownership
// of rules and of a store passed in cfg.
func NewCore(rules *trawl.Rules, cfg Config) (*Core, error) {
	if rules == nil {
		return nil, errors.New("rules are required")
	}

	c := &Core{
		rules:       rules,
		store:       cfg.Store,
		incremental: cfg.Incremental,
		workers:     cfg.Workers,
		logger:      logging.Component("scanner"),
	}
	if cfg.Logger != nil {
		c.logger = *cfg.Logger
	}
	if c.workers <= 0 {
		c.workers = runtime.NumCPU()
	}
	if c.store == nil {
		s, err := store.New(store.Config{Path: store.MemoryPath})
		if err != nil {
			return nil, fmt.Errorf("creating store: %w", err)
		}
		c.store = s
		c.ownsStore = true
	}
	return c, nil
}

// Store returns the store results are recorded in.
func (c *Core) Store() store.Store {
	return c.store
}

// Rules returns the rules the Core scans with.
func (c *Core) Rules() *trawl.Rules {
	return c.rules
}

// Scan scans content and records the outcome. prov may be nil.
func (c *Core) Scan(content []byte, prov types.Provenance) (*ScanResult, error) {
	return c.scan(content, types.ComputeBlobID(content), prov)
}

// ScanFile reads the file at path and scans it with file provenance.
func (c *Core) ScanFile(path string) (*ScanResult, error) {
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, types.NewScanError(types.ScanFileNotFound, err, "could not open file %q", path)
	case err != nil:
		return nil, types.NewScanError(types.ScanFileUnreadable, err, "could not read file %q: %v", path, err)
	}
	return c.Scan(content, types.FileProvenance{FilePath: path})
}

func (c *Core) scan(content []byte, blobID types.BlobID, prov types.Provenance) (*ScanResult, error) {
	res := &ScanResult{BlobID: blobID}
	if prov != nil {
		res.Source = prov.Path()
	}

	if c.incremental {
		exists, err := c.store.BlobExists(blobID)
		if err != nil {
			return nil, fmt.Errorf("checking blob %s: %w", blobID.Short(), err)
		}
		if exists {
			res.Skipped = true
			if err := c.recordProvenance(blobID, prov); err != nil {
				return nil, err
			}
			c.logger.Debug().Str("blob", blobID.Short()).Str("source", res.Source).Msg("blob already scanned, skipping")
			return res, nil
		}
	}

	reports, err := c.rules.ScanBuffer(content)
	if err != nil {
		return nil, err
	}
	res.Reports = reports

	if err := c.store.AddBlob(blobID, int64(len(content))); err != nil {
		return nil, fmt.Errorf("storing blob %s: %w", blobID.Short(), err)
	}
	if err := c.recordProvenance(blobID, prov); err != nil {
		return nil, err
	}
	for _, r := range reports {
		if err := c.store.AddReport(r); err != nil {
			return nil, fmt.Errorf("storing report for %s: %w", r.RuleID(), err)
		}
	}

	if len(reports) > 0 {
		c.logger.Debug().
			Str("blob", blobID.Short()).
			Str("source", res.Source).
			Int("reports", len(reports)).
			Msg("rules matched")
	}
	return res, nil
}

func (c *Core) recordProvenance(blobID types.BlobID, prov types.Provenance) error {
	if prov == nil {
		return nil
	}
	if err := c.store.AddProvenance(blobID, prov); err != nil {
		return fmt.Errorf("storing provenance for %s: %w", blobID.Short(), err)
	}
	return nil
}

// ScanBatch scans items in parallel. A failing item carries its error in
// its result and does not stop the batch; results keep input order.
func (c *Core) ScanBatch(ctx context.Context, items []ContentItem) (*BatchScanResult, error) {
	results := make([]ScanResult, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := items[i]
			res, err := c.Scan(item.Content, types.BufferProvenance{Source: item.Source})
			if err != nil {
				res = &ScanResult{Source: item.Source, BlobID: types.ComputeBlobID(item.Content), Error: err.Error()}
			}
			res.Metadata = item.Metadata
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &BatchScanResult{Results: results}
	for _, r := range results {
		batch.Total += len(r.Reports)
	}
	return batch, nil
}

// ResultFunc receives a scan result along with the scanned content.
type ResultFunc func(res *ScanResult, content []byte) error

// ScanEnumerator scans every blob e yields. onResult, when non-nil, sees
// each result and may stop the run by returning an error; it may be called
// concurrently. Per-blob scan failures are logged and counted.
func (c *Core) ScanEnumerator(ctx context.Context, e enum.Enumerator, onResult ResultFunc) (Stats, error) {
	var (
		mu    sync.Mutex
		stats Stats
	)

	err := e.Enumerate(ctx, func(content []byte, blobID types.BlobID, prov types.Provenance) error {
		res, err := c.scan(content, blobID, prov)

		mu.Lock()
		stats.Blobs++
		switch {
		case err != nil:
			stats.Errors++
		case res.Skipped:
			stats.Skipped++
		case len(res.Reports) > 0:
			stats.Matched++
			stats.Reports += len(res.Reports)
		}
		mu.Unlock()

		if err != nil {
			var scanErr *types.ScanError
			if errors.As(err, &scanErr) {
				c.logger.Warn().Err(err).Str("source", prov.Path()).Msg("scan failed")
				return nil
			}
			return err
		}
		if onResult != nil {
			return onResult(res, content)
		}
		return nil
	})
	return stats, err
}

// Close releases the store when the Core created it.
func (c *Core) Close() error {
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}
