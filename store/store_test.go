package store

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgapsync/libairgap-go/chunk"
	"github.com/airgapsync/libairgap-go/crypt"
)

func testPipeline(t *testing.T) *crypt.Pipeline {
	t.Helper()
	raw := make([]byte, crypt.KeySize)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	p, err := crypt.NewPipeline(crypt.Key{
		Algorithm: crypt.AlgChaCha20Poly1305,
		Version:   1,
		Raw:       raw,
	}, 3)
	require.NoError(t, err)
	return p
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seal(t *testing.T, p *crypt.Pipeline, data []byte) *crypt.SealedChunk {
	t.Helper()
	sc, err := p.Seal(data)
	require.NoError(t, err)
	return sc
}

func TestPut_ThenGet(t *testing.T) {
	s := openTestStore(t)
	p := testPipeline(t)

	sc := seal(t, p, []byte("chunk store round trip"))
	existed, err := s.Put(sc)
	require.NoError(t, err)
	assert.False(t, existed)

	got, err := s.Get(sc.Address)
	require.NoError(t, err)
	assert.Equal(t, sc, got)

	plaintext, err := p.Open(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk store round trip"), plaintext)
}

func TestPut_Idempotent(t *testing.T) {
	s := openTestStore(t)
	p := testPipeline(t)

	sc := seal(t, p, []byte("stored once"))
	existed, err := s.Put(sc)
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = s.Put(sc)
	require.NoError(t, err)
	assert.True(t, existed, "second put of same address must report existing")

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPut_ConcurrentSameAddress(t *testing.T) {
	s := openTestStore(t)
	p := testPipeline(t)

	data := []byte("raced from multiple workers")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Put(seal(t, p, data))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "identical content must be stored at most once")
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(chunk.AddressOf([]byte("never stored")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExists(t *testing.T) {
	s := openTestStore(t)
	p := testPipeline(t)

	sc := seal(t, p, []byte("existence"))
	ok, err := s.Exists(sc.Address)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Put(sc)
	require.NoError(t, err)

	ok, err = s.Exists(sc.Address)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStat(t *testing.T) {
	s := openTestStore(t)
	p := testPipeline(t)

	sc := seal(t, p, []byte("stat me"))
	_, err := s.Put(sc)
	require.NoError(t, err)

	rec, err := s.Stat(sc.Address)
	require.NoError(t, err)
	assert.Equal(t, sc.PlainSize, rec.PlainSize)
	assert.Equal(t, uint32(1), rec.KeyVersion)
	assert.NotZero(t, rec.StoredSize)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	p := testPipeline(t)

	sc := seal(t, p, []byte("to be collected"))
	_, err := s.Put(sc)
	require.NoError(t, err)

	require.NoError(t, s.Delete(sc.Address))

	ok, err := s.Exists(sc.Address)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(sc.Address)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(sc.Address), ErrNotFound)
}

func TestAddresses(t *testing.T) {
	s := openTestStore(t)
	p := testPipeline(t)

	want := make(map[chunk.Address]bool)
	for i := 0; i < 5; i++ {
		sc := seal(t, p, []byte{byte(i), 0xaa})
		_, err := s.Put(sc)
		require.NoError(t, err)
		want[sc.Address] = true
	}

	addrs, err := s.Addresses()
	require.NoError(t, err)
	require.Len(t, addrs, 5)
	for _, a := range addrs {
		assert.True(t, want[a])
	}
}

func TestOpen_SweepsTemporaries(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Simulate a crash mid-write.
	shard := filepath.Join(dir, "chunks", "ab")
	require.NoError(t, os.MkdirAll(shard, 0700))
	tmp := filepath.Join(shard, ".tmp-deadbeef0000")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0600))

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "temporary file should be swept on open")
}

func TestReopen_IndexPersists(t *testing.T) {
	dir := t.TempDir()
	p := testPipeline(t)

	s, err := Open(dir)
	require.NoError(t, err)
	sc := seal(t, p, []byte("survives reopen"))
	_, err = s.Put(sc)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(sc.Address)
	require.NoError(t, err)

	plaintext, err := p.Open(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives reopen"), plaintext)
}
