// Package reports tracks the region size reports received from region
// servers and produces the point-in-time snapshots the quota observer
// consumes.
package reports

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calderadb/quotad/pkg/quota"
)

type report struct {
	sizeBytes int64
	seen      time.Time
}

// Registry remembers the last size reported for every region.  Regions that
// stop being reported, after a split, merge or move, decay out through
// Prune.
type Registry struct {
	mu    sync.Mutex
	sizes map[quota.Region]report
}

func NewRegistry() *Registry {
	return &Registry{sizes: make(map[quota.Region]report)}
}

// RecordSize stores the latest report for region, replacing any earlier one.
func (r *Registry) RecordSize(region quota.Region, sizeBytes int64, when time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes[region] = report{sizeBytes: sizeBytes, seen: when}
}

// SnapshotRegionSizes returns a point-in-time copy of all reported sizes.
// The observer evaluates every subject of a pass against one such snapshot.
func (r *Registry) SnapshotRegionSizes() map[quota.Region]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[quota.Region]int64, len(r.sizes))
	for region, rep := range r.sizes {
		snapshot[region] = rep.sizeBytes
	}
	return snapshot
}

// Len returns the number of regions with a live report.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sizes)
}

// Prune drops reports last refreshed before now minus maxAge and returns how
// many were dropped.
func (r *Registry) Prune(maxAge time.Duration, now time.Time) int {
	cutoff := now.Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for region, rep := range r.sizes {
		if rep.seen.Before(cutoff) {
			delete(r.sizes, region)
			dropped++
		}
	}
	return dropped
}

// RunPruner periodically drops stale reports until ctx is cancelled.  It
// wakes at half the maximum age so a report expires at most maxAge*1.5 after
// its last refresh.
func (r *Registry) RunPruner(ctx context.Context, maxAge time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := r.Prune(maxAge, time.Now()); dropped > 0 {
				log.Info().Int("dropped", dropped).Msg("dropped stale region size reports")
			}
		}
	}
}
