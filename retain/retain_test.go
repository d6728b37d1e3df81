package retain

import (
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgapsync/libairgap-go/chunk"
	"github.com/airgapsync/libairgap-go/crypt"
	"github.com/airgapsync/libairgap-go/manifest"
	"github.com/airgapsync/libairgap-go/store"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func snapshotAt(t *testing.T, prev *manifest.Manifest, created time.Time, content string) *manifest.Manifest {
	t.Helper()
	data := []byte(content)
	m, err := manifest.Build(prev, []manifest.FileEntry{{
		Path:        "data.bin",
		Size:        int64(len(data)),
		ModTime:     created,
		Mode:        0644,
		Chunks:      []chunk.Address{chunk.AddressOf(data)},
		ContentHash: chunk.AddressOf(data),
	}}, 1, created)
	require.NoError(t, err)
	return m
}

func ids(ms []*manifest.Manifest) []manifest.SnapshotID {
	out := make([]manifest.SnapshotID, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestPlan_KeepsEverythingUnderLimits(t *testing.T) {
	var ms []*manifest.Manifest
	var prev *manifest.Manifest
	for i := 0; i < 3; i++ {
		prev = snapshotAt(t, prev, now.Add(time.Duration(i)*time.Hour), fmt.Sprintf("v%d", i))
		ms = append(ms, prev)
	}

	d := Plan(ms, nil, Policy{MaxSnapshots: 10, MaxAgeDays: 365}, now)
	assert.Equal(t, ids(ms), d.Keep)
	assert.Empty(t, d.Delete)
}

func TestPlan_MaxSnapshots(t *testing.T) {
	var ms []*manifest.Manifest
	var prev *manifest.Manifest
	for i := 0; i < 5; i++ {
		prev = snapshotAt(t, prev, now.Add(time.Duration(i)*time.Hour), fmt.Sprintf("v%d", i))
		ms = append(ms, prev)
	}

	d := Plan(ms, nil, Policy{MaxSnapshots: 2}, now)
	assert.Equal(t, ids(ms[:3]), d.Delete)
	assert.Equal(t, ids(ms[3:]), d.Keep)
}

func TestPlan_MaxAgeAndCount(t *testing.T) {
	// Snapshots at t-40d, t-10d, t-1d with max_snapshots=2 and
	// retain_days=30: the oldest has fallen outside both bounds.
	a := snapshotAt(t, nil, now.Add(-40*24*time.Hour), "a")
	b := snapshotAt(t, a, now.Add(-10*24*time.Hour), "b")
	c := snapshotAt(t, b, now.Add(-1*24*time.Hour), "c")
	ms := []*manifest.Manifest{a, b, c}

	d := Plan(ms, nil, Policy{MaxSnapshots: 2, MaxAgeDays: 30}, now)
	assert.Equal(t, []manifest.SnapshotID{a.ID}, d.Delete)
	assert.Equal(t, []manifest.SnapshotID{b.ID, c.ID}, d.Keep)
}

func TestPlan_CountBoundProtectsOldSnapshot(t *testing.T) {
	// The oldest snapshot is past the age bound but still among the five
	// most recent; the count bound keeps it.
	a := snapshotAt(t, nil, now.Add(-40*24*time.Hour), "a")
	b := snapshotAt(t, a, now.Add(-10*24*time.Hour), "b")
	c := snapshotAt(t, b, now.Add(-1*24*time.Hour), "c")
	ms := []*manifest.Manifest{a, b, c}

	d := Plan(ms, nil, Policy{MaxSnapshots: 5, MaxAgeDays: 30}, now)
	assert.Empty(t, d.Delete)
	assert.Equal(t, ids(ms), d.Keep)
}

func TestPlan_AgeBoundProtectsExcessSnapshot(t *testing.T) {
	// Five recent snapshots with max_snapshots=2: all are within the age
	// bound, so none may be deleted.
	var ms []*manifest.Manifest
	var prev *manifest.Manifest
	for i := 0; i < 5; i++ {
		prev = snapshotAt(t, prev, now.Add(time.Duration(i-5)*24*time.Hour), fmt.Sprintf("v%d", i))
		ms = append(ms, prev)
	}

	d := Plan(ms, nil, Policy{MaxSnapshots: 2, MaxAgeDays: 30}, now)
	assert.Empty(t, d.Delete)
	assert.Equal(t, ids(ms), d.Keep)
}

func TestPlan_KeepsAtLeastOne(t *testing.T) {
	old := snapshotAt(t, nil, now.Add(-500*24*time.Hour), "ancient")

	d := Plan([]*manifest.Manifest{old}, nil, Policy{MaxSnapshots: 1, MaxAgeDays: 1}, now)
	assert.Equal(t, []manifest.SnapshotID{old.ID}, d.Keep,
		"the newest snapshot survives every policy")
	assert.Empty(t, d.Delete)
}

func TestPlan_Unreferenced(t *testing.T) {
	a := snapshotAt(t, nil, now.Add(-48*time.Hour), "old content")
	b := snapshotAt(t, a, now.Add(-time.Hour), "new content")

	stored := []chunk.Address{
		chunk.AddressOf([]byte("old content")),
		chunk.AddressOf([]byte("new content")),
	}

	d := Plan([]*manifest.Manifest{a, b}, stored, Policy{MaxSnapshots: 1}, now)
	assert.Equal(t, []manifest.SnapshotID{a.ID}, d.Delete)
	assert.Equal(t, []chunk.Address{chunk.AddressOf([]byte("old content"))}, d.Unreferenced)
}

func TestPlan_NoSnapshots(t *testing.T) {
	orphan := chunk.AddressOf([]byte("orphan"))
	d := Plan(nil, []chunk.Address{orphan}, Policy{}, now)
	assert.Empty(t, d.Keep)
	assert.Equal(t, []chunk.Address{orphan}, d.Unreferenced)
}

func gcFixture(t *testing.T) (string, *manifest.Store, *store.Store, *crypt.Pipeline) {
	t.Helper()
	dir := t.TempDir()
	ms, err := manifest.OpenStore(dir)
	require.NoError(t, err)
	cs, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	raw := make([]byte, crypt.KeySize)
	_, err = rand.Read(raw)
	require.NoError(t, err)
	p, err := crypt.NewPipeline(crypt.Key{Algorithm: crypt.AlgChaCha20Poly1305, Version: 1, Raw: raw}, 3)
	require.NoError(t, err)
	return dir, ms, cs, p
}

func putSnapshot(t *testing.T, ms *manifest.Store, cs *store.Store, p *crypt.Pipeline, prev *manifest.Manifest, created time.Time, content string) *manifest.Manifest {
	t.Helper()
	sc, err := p.Seal([]byte(content))
	require.NoError(t, err)
	_, err = cs.Put(sc)
	require.NoError(t, err)

	m := snapshotAt(t, prev, created, content)
	require.NoError(t, ms.Write(m))
	return m
}

func TestExecute_ReclaimsChunks(t *testing.T) {
	_, ms, cs, p := gcFixture(t)

	a := putSnapshot(t, ms, cs, p, nil, now.Add(-48*time.Hour), "only in first")
	b := putSnapshot(t, ms, cs, p, a, now.Add(-time.Hour), "only in second")

	stored, err := cs.Addresses()
	require.NoError(t, err)

	d := Plan([]*manifest.Manifest{a, b}, stored, Policy{MaxSnapshots: 1}, now)
	res, err := Execute(d, ms, cs)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SnapshotsDeleted)
	assert.Equal(t, 1, res.ChunksDeleted)
	assert.NotZero(t, res.BytesReclaimed)

	_, err = ms.Load(a.ID)
	assert.ErrorIs(t, err, manifest.ErrNotFound)

	ok, err := cs.Exists(chunk.AddressOf([]byte("only in second")))
	require.NoError(t, err)
	assert.True(t, ok, "chunks of the kept snapshot must survive")

	ok, err = cs.Exists(chunk.AddressOf([]byte("only in first")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecute_SharedChunkSurvives(t *testing.T) {
	_, ms, cs, p := gcFixture(t)

	a := putSnapshot(t, ms, cs, p, nil, now.Add(-48*time.Hour), "shared payload")
	b := putSnapshot(t, ms, cs, p, a, now.Add(-time.Hour), "shared payload")

	stored, err := cs.Addresses()
	require.NoError(t, err)

	d := Plan([]*manifest.Manifest{a, b}, stored, Policy{MaxSnapshots: 1}, now)
	res, err := Execute(d, ms, cs)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SnapshotsDeleted)
	assert.Zero(t, res.ChunksDeleted, "chunk referenced by the kept snapshot must not be collected")

	ok, err := cs.Exists(chunk.AddressOf([]byte("shared payload")))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecute_StillReferencedAborts(t *testing.T) {
	_, ms, cs, p := gcFixture(t)

	m := putSnapshot(t, ms, cs, p, nil, now.Add(-time.Hour), "live data")

	// A stale plan that wrongly lists the live chunk as unreferenced.
	d := &Decision{
		Keep:         []manifest.SnapshotID{m.ID},
		Unreferenced: []chunk.Address{chunk.AddressOf([]byte("live data"))},
	}

	_, err := Execute(d, ms, cs)
	assert.ErrorIs(t, err, ErrStillReferenced)

	ok, err := cs.Exists(chunk.AddressOf([]byte("live data")))
	require.NoError(t, err)
	assert.True(t, ok, "the live chunk must not be deleted")
}
