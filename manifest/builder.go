package manifest

import (
	"fmt"
	"sort"
	"time"

	"github.com/airgapsync/libairgap-go/chunk"
)

// Build assembles and seals the manifest for a new snapshot. entries is the
// complete file set of the snapshot (carried-over unchanged entries included);
// prev is the manifest of the parent snapshot, or nil for the first snapshot
// of a chain. Entries are sorted by path so the same logical snapshot always
// seals to the same digest.
func Build(prev *Manifest, entries []FileEntry, keyVersion uint32, now time.Time) (*Manifest, error) {
	files := make([]FileEntry, len(entries))
	copy(files, entries)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var totalBytes uint64
	distinct := make(map[chunk.Address]struct{})
	for i, f := range files {
		if i > 0 && files[i-1].Path == f.Path {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, f.Path)
		}
		totalBytes += uint64(f.Size)
		for _, a := range f.Chunks {
			distinct[a] = struct{}{}
		}
	}

	// Second precision matches the identifier rendering, so the ID string
	// and the encoded timestamp never disagree.
	stamp := now.UTC().Truncate(time.Second)

	m := &Manifest{
		ID:         SnapshotID{Seq: 1, Time: stamp},
		Files:      files,
		TotalBytes: totalBytes,
		ChunkCount: uint64(len(distinct)),
		CreatedAt:  stamp,
		KeyVersion: keyVersion,
	}
	if prev != nil {
		m.Parent = prev.ID
		m.ID.Seq = prev.ID.Seq + 1
	}
	if err := m.Seal(); err != nil {
		return nil, err
	}
	return m, nil
}
