package manifest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileExt = ".manifest"

// Store keeps sealed manifests as individual files under
// {dest}/manifests/{id}.manifest. Manifests are written atomically and never
// modified in place; the only mutations are Write and Delete.
type Store struct {
	dir string
}

// OpenStore opens or creates the manifest directory under the destination
// root.
func OpenStore(dest string) (*Store, error) {
	dir := filepath.Join(dest, "manifests")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create manifest directory: %w", ErrIO, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id SnapshotID) string {
	return filepath.Join(s.dir, id.String()+fileExt)
}

// Write persists a sealed manifest. The caller must only write after every
// chunk the manifest references is durable in the chunk store; the manifest
// appearing on disk is what makes the snapshot visible. A non-zero parent
// must already be present.
func (s *Store) Write(m *Manifest) error {
	if err := m.VerifyDigest(); err != nil {
		return err
	}
	if !m.Parent.IsZero() {
		if _, err := os.Stat(s.path(m.Parent)); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: snapshot %s names parent %s", ErrParentMissing, m.ID, m.Parent)
			}
			return fmt.Errorf("%w: stat parent %s: %w", ErrIO, m.Parent, err)
		}
	}

	data, err := Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: encode snapshot %s: %w", m.ID, err)
	}

	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	tmp := filepath.Join(s.dir, ".tmp-"+hex.EncodeToString(suffix[:]))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("%w: write snapshot %s: %w", ErrIO, m.ID, err)
	}
	if _, err := f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, s.path(m.ID))
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write snapshot %s: %w", ErrIO, m.ID, err)
	}
	return nil
}

// Load reads a manifest and verifies its digest. A parent that was pruned by
// retention is tolerated; parent presence is only enforced at Write time.
func (s *Store) Load(id SnapshotID) (*Manifest, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: read snapshot %s: %w", ErrIO, id, err)
	}
	var m Manifest
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: snapshot %s: undecodable: %v", ErrIntegrity, id, err)
	}
	if err := m.VerifyDigest(); err != nil {
		return nil, err
	}
	return &m, nil
}

// IDs returns the identifiers of all stored snapshots in ascending sequence
// order. Files that do not parse as snapshot IDs are ignored.
func (s *Store) IDs() ([]SnapshotID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list manifests: %w", ErrIO, err)
	}
	var ids []SnapshotID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id, err := ParseID(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Seq < ids[j].Seq })
	return ids, nil
}

// List loads every stored manifest in ascending sequence order, verifying
// each digest.
func (s *Store) List() ([]*Manifest, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	manifests := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		m, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Latest loads the manifest with the highest sequence number. Returns
// ErrNotFound when the destination holds no snapshots yet.
func (s *Store) Latest() (*Manifest, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no snapshots", ErrNotFound)
	}
	return s.Load(ids[len(ids)-1])
}

// Delete removes a snapshot manifest. Only the retention engine calls this.
func (s *Store) Delete(id SnapshotID) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: delete snapshot %s: %w", ErrIO, id, err)
	}
	return nil
}
