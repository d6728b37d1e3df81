// Package retain decides which snapshots a destination keeps and reclaims
// the chunks no surviving snapshot references. Planning is pure; execution
// deletes manifests before chunks and re-derives chunk liveness from the
// manifests actually remaining on disk, so an interruption between the two
// phases can strand garbage but never a live reference.
package retain

import (
	"fmt"
	"time"

	"github.com/airgapsync/libairgap-go/chunk"
	"github.com/airgapsync/libairgap-go/manifest"
	"github.com/airgapsync/libairgap-go/store"
)

// Policy bounds snapshot history. A snapshot survives while any configured
// bound still covers it; it becomes deletable only once every configured
// bound has expired for it. A zero field disables that bound, and the newest
// snapshot is always kept regardless of policy.
type Policy struct {
	// MaxSnapshots keeps the most recent snapshots up to this count.
	MaxSnapshots int

	// MaxAgeDays keeps snapshots newer than this many days.
	MaxAgeDays int
}

// Decision is a pure retention plan: which snapshots survive, which are
// removed, and which chunk addresses become unreferenced once only the kept
// snapshots remain.
type Decision struct {
	Keep         []manifest.SnapshotID
	Delete       []manifest.SnapshotID
	Unreferenced []chunk.Address
}

// GCResult summarizes one garbage collection run.
type GCResult struct {
	SnapshotsDeleted int
	ChunksDeleted    int
	BytesReclaimed   uint64
}

// Plan computes the retention decision for the given snapshot set.
// manifests must be in ascending sequence order; stored lists every chunk
// address currently present in the chunk store.
func Plan(manifests []*manifest.Manifest, stored []chunk.Address, policy Policy, now time.Time) *Decision {
	d := &Decision{}
	if len(manifests) == 0 {
		d.Unreferenced = append(d.Unreferenced, stored...)
		return d
	}

	var cutoff time.Time
	if policy.MaxAgeDays > 0 {
		cutoff = now.Add(-time.Duration(policy.MaxAgeDays) * 24 * time.Hour)
	}

	kept := make([]*manifest.Manifest, 0, len(manifests))
	for i, m := range manifests {
		newest := i == len(manifests)-1
		withinCount := policy.MaxSnapshots > 0 && len(manifests)-i <= policy.MaxSnapshots
		withinAge := policy.MaxAgeDays > 0 && !m.CreatedAt.Before(cutoff)
		anyBound := policy.MaxSnapshots > 0 || policy.MaxAgeDays > 0

		// Each configured bound protects independently: a snapshot is
		// deleted only when no configured bound still covers it.
		if !newest && anyBound && !withinCount && !withinAge {
			d.Delete = append(d.Delete, m.ID)
			continue
		}
		d.Keep = append(d.Keep, m.ID)
		kept = append(kept, m)
	}

	live := make(map[chunk.Address]struct{})
	for _, m := range kept {
		for a := range m.Addresses() {
			live[a] = struct{}{}
		}
	}
	for _, a := range stored {
		if _, ok := live[a]; !ok {
			d.Unreferenced = append(d.Unreferenced, a)
		}
	}
	return d
}

// Execute applies a retention decision. Manifests are deleted first; chunk
// liveness is then recomputed from the manifests still on disk rather than
// trusted from the plan. A planned chunk deletion that turns out to be live
// aborts with ErrStillReferenced before anything is lost.
func Execute(d *Decision, manifests *manifest.Store, chunks *store.Store) (*GCResult, error) {
	res := &GCResult{}

	for _, id := range d.Delete {
		if err := manifests.Delete(id); err != nil {
			return res, fmt.Errorf("retain: delete snapshot %s: %w", id, err)
		}
		res.SnapshotsDeleted++
	}

	remaining, err := manifests.List()
	if err != nil {
		return res, fmt.Errorf("retain: reload snapshots: %w", err)
	}
	live := make(map[chunk.Address]struct{})
	for _, m := range remaining {
		for a := range m.Addresses() {
			live[a] = struct{}{}
		}
	}

	for _, a := range d.Unreferenced {
		if _, ok := live[a]; ok {
			return res, fmt.Errorf("%w: %s", ErrStillReferenced, a)
		}
		rec, err := chunks.Stat(a)
		if err != nil {
			return res, fmt.Errorf("retain: stat chunk %s: %w", a, err)
		}
		if err := chunks.Delete(a); err != nil {
			return res, fmt.Errorf("retain: delete chunk %s: %w", a, err)
		}
		res.ChunksDeleted++
		res.BytesReclaimed += rec.StoredSize
	}
	return res, nil
}
