package manifest

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgapsync/libairgap-go/chunk"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testEntry(path string, data ...[]byte) FileEntry {
	var size int64
	addrs := make([]chunk.Address, 0, len(data))
	for _, d := range data {
		size += int64(len(d))
		addrs = append(addrs, chunk.AddressOf(d))
	}
	var whole []byte
	for _, d := range data {
		whole = append(whole, d...)
	}
	return FileEntry{
		Path:        path,
		Size:        size,
		ModTime:     testTime,
		Mode:        0644,
		Chunks:      addrs,
		ContentHash: chunk.AddressOf(whole),
	}
}

func TestSnapshotID_String(t *testing.T) {
	id := SnapshotID{Seq: 42, Time: time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)}
	assert.Equal(t, "00000042-20240131T120000Z", id.String())
}

func TestParseID_RoundTrip(t *testing.T) {
	id := SnapshotID{Seq: 7, Time: testTime}
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id.Seq, parsed.Seq)
	assert.True(t, id.Time.Equal(parsed.Time))
}

func TestParseID_Invalid(t *testing.T) {
	for _, s := range []string{"", "nonsense", "00000000-20240131T120000Z", "1-notatime"} {
		_, err := ParseID(s)
		assert.ErrorIs(t, err, ErrInvalidID, s)
	}
}

func TestBuild_FirstSnapshot(t *testing.T) {
	entries := []FileEntry{
		testEntry("b.txt", []byte("bravo")),
		testEntry("a.txt", []byte("alpha")),
	}
	m, err := Build(nil, entries, 1, testTime)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m.ID.Seq)
	assert.True(t, m.Parent.IsZero())
	require.Len(t, m.Files, 2)
	assert.Equal(t, "a.txt", m.Files[0].Path, "entries must be sorted by path")
	assert.Equal(t, "b.txt", m.Files[1].Path)
	assert.Equal(t, uint64(10), m.TotalBytes)
	assert.Equal(t, uint64(2), m.ChunkCount)
	assert.NotZero(t, m.Digest)
	assert.NoError(t, m.VerifyDigest())
}

func TestBuild_ChildChains(t *testing.T) {
	first, err := Build(nil, []FileEntry{testEntry("a", []byte("x"))}, 1, testTime)
	require.NoError(t, err)

	second, err := Build(first, []FileEntry{testEntry("a", []byte("y"))}, 1, testTime.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), second.ID.Seq)
	assert.Equal(t, first.ID.String(), second.Parent.String())
}

func TestBuild_CountsDistinctChunks(t *testing.T) {
	shared := []byte("same bytes in both files")
	m, err := Build(nil, []FileEntry{
		testEntry("one", shared),
		testEntry("two", shared),
	}, 1, testTime)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ChunkCount, "identical content must be counted once")
}

func TestBuild_DuplicatePath(t *testing.T) {
	_, err := Build(nil, []FileEntry{
		testEntry("same", []byte("a")),
		testEntry("same", []byte("b")),
	}, 1, testTime)
	assert.ErrorIs(t, err, ErrDuplicatePath)
}

func TestBuild_Deterministic(t *testing.T) {
	entries := []FileEntry{testEntry("a", []byte("1")), testEntry("b", []byte("2"))}
	m1, err := Build(nil, entries, 1, testTime)
	require.NoError(t, err)
	reversed := []FileEntry{entries[1], entries[0]}
	m2, err := Build(nil, reversed, 1, testTime)
	require.NoError(t, err)
	assert.Equal(t, m1.Digest, m2.Digest, "entry order must not affect the sealed digest")
}

func TestVerifyDigest_DetectsMutation(t *testing.T) {
	m, err := Build(nil, []FileEntry{testEntry("a", []byte("payload"))}, 1, testTime)
	require.NoError(t, err)

	m.Files[0].Size++
	assert.ErrorIs(t, m.VerifyDigest(), ErrIntegrity)
}

func TestStore_WriteLoad(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)

	m, err := Build(nil, []FileEntry{testEntry("doc.txt", []byte("hello"))}, 3, testTime)
	require.NoError(t, err)
	require.NoError(t, s.Write(m))

	got, err := s.Load(m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Digest, got.Digest)
	assert.Equal(t, uint32(3), got.KeyVersion)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "doc.txt", got.Files[0].Path)
}

func TestStore_LoadMissing(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Load(SnapshotID{Seq: 9, Time: testTime})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_WriteRejectsMissingParent(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)

	first, err := Build(nil, []FileEntry{testEntry("a", []byte("1"))}, 1, testTime)
	require.NoError(t, err)
	child, err := Build(first, []FileEntry{testEntry("a", []byte("2"))}, 1, testTime.Add(time.Minute))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Write(child), ErrParentMissing)

	require.NoError(t, s.Write(first))
	assert.NoError(t, s.Write(child))
}

func TestStore_LoadToleratesPrunedParent(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)

	first, err := Build(nil, []FileEntry{testEntry("a", []byte("1"))}, 1, testTime)
	require.NoError(t, err)
	child, err := Build(first, []FileEntry{testEntry("a", []byte("2"))}, 1, testTime.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.Write(first))
	require.NoError(t, s.Write(child))

	require.NoError(t, s.Delete(first.ID))

	_, err = s.Load(child.ID)
	assert.NoError(t, err, "retention may prune a parent after the child exists")
}

func TestStore_ListAscending(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)

	var prev *Manifest
	for i := 0; i < 3; i++ {
		m, err := Build(prev, []FileEntry{testEntry("a", []byte{byte(i)})}, 1, testTime.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		require.NoError(t, s.Write(m))
		prev = m
	}

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, m := range all {
		assert.Equal(t, uint64(i+1), m.ID.Seq)
	}

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.ID.Seq)
}

func TestStore_LatestEmpty(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Latest()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	require.NoError(t, err)

	m, err := Build(nil, []FileEntry{testEntry("a", []byte("original"))}, 1, testTime)
	require.NoError(t, err)
	require.NoError(t, s.Write(m))

	// Flip one byte of the stored manifest.
	path := s.path(m.ID)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = s.Load(m.ID)
	assert.ErrorIs(t, err, ErrIntegrity)
}
