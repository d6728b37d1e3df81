// Package manifest defines the snapshot model: an immutable, digest-protected
// description of a source tree at one point in time, with every file expressed
// as an ordered list of chunk addresses. Manifests form a parent chain that
// gives the destination its snapshot history.
package manifest

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"time"

	"github.com/airgapsync/libairgap-go/chunk"
)

// idTimeLayout renders the timestamp half of a snapshot identifier.
const idTimeLayout = "20060102T150405Z"

// SnapshotID identifies a snapshot by monotonic sequence number and creation
// time. The zero value means "no snapshot" and is used as the parent of the
// first snapshot in a chain.
type SnapshotID struct {
	Seq  uint64    `cbor:"1,keyasint"`
	Time time.Time `cbor:"2,keyasint"`
}

// IsZero reports whether the ID is the zero "no snapshot" value.
func (id SnapshotID) IsZero() bool { return id.Seq == 0 && id.Time.IsZero() }

// String renders the ID as "00000042-20240131T120000Z".
func (id SnapshotID) String() string {
	return fmt.Sprintf("%08d-%s", id.Seq, id.Time.UTC().Format(idTimeLayout))
}

// ParseID parses the string form produced by String.
func ParseID(s string) (SnapshotID, error) {
	var seq uint64
	var stamp string
	if _, err := fmt.Sscanf(s, "%d-%s", &seq, &stamp); err != nil || seq == 0 {
		return SnapshotID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	ts, err := time.Parse(idTimeLayout, stamp)
	if err != nil {
		return SnapshotID{}, fmt.Errorf("%w: %q: %w", ErrInvalidID, s, err)
	}
	return SnapshotID{Seq: seq, Time: ts}, nil
}

// FileEntry describes one file within a snapshot. Chunks lists the addresses
// whose plaintexts, concatenated in order, reproduce the file content.
// ContentHash is the BLAKE3 digest of the whole file, independent of chunk
// boundaries.
type FileEntry struct {
	Path        string          `cbor:"1,keyasint"`
	Size        int64           `cbor:"2,keyasint"`
	ModTime     time.Time       `cbor:"3,keyasint"`
	Mode        fs.FileMode     `cbor:"4,keyasint"`
	Chunks      []chunk.Address `cbor:"5,keyasint"`
	ContentHash chunk.Address   `cbor:"6,keyasint"`
}

// Manifest is the complete record of one snapshot. Files are sorted by path.
// Digest covers the deterministic CBOR encoding of the manifest with Digest
// itself zeroed, so any mutation after sealing is detectable.
type Manifest struct {
	ID         SnapshotID  `cbor:"1,keyasint"`
	Parent     SnapshotID  `cbor:"2,keyasint"`
	Files      []FileEntry `cbor:"3,keyasint"`
	TotalBytes uint64      `cbor:"4,keyasint"`
	ChunkCount uint64      `cbor:"5,keyasint"`
	CreatedAt  time.Time   `cbor:"6,keyasint"`
	KeyVersion uint32      `cbor:"7,keyasint"`
	Digest     [32]byte    `cbor:"8,keyasint"`
}

// computeDigest returns SHA-256 over the manifest body with Digest zeroed.
func (m *Manifest) computeDigest() ([32]byte, error) {
	body := *m
	body.Digest = [32]byte{}
	data, err := Marshal(&body)
	if err != nil {
		return [32]byte{}, fmt.Errorf("manifest: encode for digest: %w", err)
	}
	return sha256.Sum256(data), nil
}

// Seal computes and records the manifest digest. Called once when the
// manifest is built; the manifest must not change afterwards.
func (m *Manifest) Seal() error {
	d, err := m.computeDigest()
	if err != nil {
		return err
	}
	m.Digest = d
	return nil
}

// VerifyDigest recomputes the digest and compares it against the recorded
// one. Returns ErrIntegrity on mismatch.
func (m *Manifest) VerifyDigest() error {
	d, err := m.computeDigest()
	if err != nil {
		return err
	}
	if d != m.Digest {
		return fmt.Errorf("%w: snapshot %s", ErrIntegrity, m.ID)
	}
	return nil
}

// Addresses returns the set of chunk addresses the manifest references.
func (m *Manifest) Addresses() map[chunk.Address]struct{} {
	set := make(map[chunk.Address]struct{})
	for _, f := range m.Files {
		for _, a := range f.Chunks {
			set[a] = struct{}{}
		}
	}
	return set
}

// Entry returns the file entry for path, or nil when the snapshot does not
// contain it.
func (m *Manifest) Entry(path string) *FileEntry {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i]
		}
	}
	return nil
}
