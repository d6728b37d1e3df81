// Package store persists unique sealed chunks on the destination, keyed by
// content address. Chunk blobs live in a two-level fan-out directory
// ({root}/chunks/{ab}/{hex address}); a bbolt index maps each address to its
// record for O(log n) lookups without touching the blob files.
//
// Crash safety: a blob is written to a temporary name and atomically renamed
// into place before the index entry is created. A chunk is therefore visible
// if and only if it is fully persisted. Orphaned temporaries are swept on
// open; a renamed blob that never got its index entry is invisible and is
// simply rewritten the next time its content is stored.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/airgapsync/libairgap-go/chunk"
	"github.com/airgapsync/libairgap-go/crypt"
)

var bucketChunks = []byte("chunks")

// Record is the index entry kept per chunk.
type Record struct {
	PlainSize  uint64 `cbor:"1,keyasint"`
	StoredSize uint64 `cbor:"2,keyasint"`
	KeyVersion uint32 `cbor:"3,keyasint"`
}

// Store is a content-addressed chunk store rooted at a destination
// directory. It is safe for concurrent use by multiple sync workers;
// concurrent Put calls for the same address are idempotent.
type Store struct {
	root string
	db   *bbolt.DB
}

// Open opens or creates the chunk store under root. Leftover temporary
// files from an interrupted sync are removed.
func Open(root string) (*Store, error) {
	chunkDir := filepath.Join(root, "chunks")
	if err := os.MkdirAll(chunkDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create chunk directory: %w", ErrIO, err)
	}

	db, err := bbolt.Open(filepath.Join(root, "index.db"), 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open chunk index: %w", ErrIO, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create index bucket: %w", ErrIO, err)
	}

	s := &Store{root: root, db: db}
	s.sweepTemporaries()
	return s, nil
}

// Close closes the underlying index database.
func (s *Store) Close() error { return s.db.Close() }

// blobPath returns the fan-out file path for an address.
func (s *Store) blobPath(addr chunk.Address) string {
	hexAddr := addr.String()
	return filepath.Join(s.root, "chunks", hexAddr[:2], hexAddr)
}

// sweepTemporaries removes .tmp- files left by an interrupted write.
func (s *Store) sweepTemporaries() {
	_ = filepath.WalkDir(filepath.Join(s.root, "chunks"), func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".tmp-") {
			_ = os.Remove(path)
		}
		return nil
	})
}

// Put persists a sealed chunk. It is idempotent: storing an address that
// already exists is a no-op and reports existed=true. The blob file is
// durable before the index entry is written.
func (s *Store) Put(sc *crypt.SealedChunk) (existed bool, err error) {
	if exists, err := s.Exists(sc.Address); err != nil {
		return false, err
	} else if exists {
		return true, nil
	}

	blob := crypt.EncodeBlob(sc)
	path := s.blobPath(sc.Address)

	err = withRetry(func() error {
		return writeAtomic(path, blob)
	})
	if err != nil {
		return false, fmt.Errorf("%w: write chunk %s: %w", ErrIO, sc.Address, err)
	}

	rec, err := cbor.Marshal(Record{
		PlainSize:  sc.PlainSize,
		StoredSize: uint64(len(blob)),
		KeyVersion: sc.KeyVersion,
	})
	if err != nil {
		return false, fmt.Errorf("store: encode index record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		if b.Get(sc.Address[:]) != nil {
			existed = true // lost a same-address race; blob is identical
			return nil
		}
		return b.Put(sc.Address[:], rec)
	})
	if err != nil {
		return false, fmt.Errorf("%w: index chunk %s: %w", ErrIO, sc.Address, err)
	}
	return existed, nil
}

// Get retrieves a sealed chunk by address.
func (s *Store) Get(addr chunk.Address) (*crypt.SealedChunk, error) {
	exists, err := s.Exists(addr)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}

	var blob []byte
	err = withRetry(func() error {
		var rerr error
		blob, rerr = os.ReadFile(s.blobPath(addr))
		return rerr
	})
	if err != nil {
		if os.IsNotExist(err) {
			// Indexed but missing on disk: the destination was damaged.
			return nil, fmt.Errorf("%w: indexed chunk %s missing on disk", ErrCorrupt, addr)
		}
		return nil, fmt.Errorf("%w: read chunk %s: %w", ErrIO, addr, err)
	}
	return crypt.DecodeBlob(addr, blob)
}

// Exists reports whether a chunk address is present in the index.
func (s *Store) Exists(addr chunk.Address) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketChunks).Get(addr[:]) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: index lookup: %w", ErrIO, err)
	}
	return found, nil
}

// Stat returns the index record for an address.
func (s *Store) Stat(addr chunk.Address) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get(addr[:])
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return cbor.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a chunk from the index and disk. Only the retention engine
// calls this, after establishing that no live manifest references the
// address. The index entry is removed first so a crash leaves an orphaned
// blob (harmless, swept later) rather than an indexed hole.
func (s *Store) Delete(addr chunk.Address) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		if b.Get(addr[:]) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return b.Delete(addr[:])
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: unindex chunk %s: %w", ErrIO, addr, err)
	}

	if err := os.Remove(s.blobPath(addr)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove chunk %s: %w", ErrIO, addr, err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketChunks).Stats().KeyN
		return nil
	})
	return n, err
}

// Addresses returns every stored chunk address. Used by the retention
// engine to compute the unreferenced set.
func (s *Store) Addresses() ([]chunk.Address, error) {
	var addrs []chunk.Address
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).ForEach(func(k, _ []byte) error {
			if len(k) != chunk.AddressSize {
				return fmt.Errorf("%w: index key %s has length %d", ErrCorrupt, hex.EncodeToString(k), len(k))
			}
			var a chunk.Address
			copy(a[:], k)
			addrs = append(addrs, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// writeAtomic writes data to a temporary file in the target's directory and
// renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return err
	}
	tmp := filepath.Join(dir, ".tmp-"+hex.EncodeToString(suffix[:]))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
