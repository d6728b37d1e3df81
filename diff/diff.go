// Package diff compares a source tree against the previous snapshot manifest
// and partitions the result into added, modified, deleted and unchanged
// files. Metadata (size and modification time) decides the common case; file
// content is only read when metadata is inconclusive or verification is
// forced. A rename is reported as a delete plus an add; content addressing
// in the chunk store keeps the bytes from being transferred twice.
package diff

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airgapsync/libairgap-go/chunk"
	"github.com/airgapsync/libairgap-go/manifest"
)

// Options controls the scan.
type Options struct {
	// Exclude lists patterns matched against path segments. Supported
	// forms: "*.tmp" (glob), "name" (literal), "build/" (directories only).
	Exclude []string

	// FollowSymlinks resolves symbolic links to regular files and includes
	// the target content under the link's path. Links to directories are
	// never descended. When false, symlinks are skipped entirely.
	FollowSymlinks bool

	// IncludeHidden includes entries whose name starts with a dot.
	IncludeHidden bool

	// VerifyContent forces a full content hash of every file, catching
	// modifications that preserve size and mtime.
	VerifyContent bool
}

// Change describes one file to be transferred.
type Change struct {
	Path    string
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
}

// ChangeSet is the outcome of comparing a source tree against the previous
// snapshot. Unchanged entries are carried over verbatim from the previous
// manifest, chunk references included.
type ChangeSet struct {
	Added     []Change
	Modified  []Change
	Deleted   []string
	Unchanged []manifest.FileEntry
}

// Empty reports whether the source is identical to the previous snapshot.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Deleted) == 0
}

// TransferBytes returns the total size of files that need transferring.
func (cs *ChangeSet) TransferBytes() uint64 {
	var n uint64
	for _, c := range cs.Added {
		n += uint64(c.Size)
	}
	for _, c := range cs.Modified {
		n += uint64(c.Size)
	}
	return n
}

// scanned is one regular file found in the source tree.
type scanned struct {
	rel  string
	size int64
	mod  time.Time
	mode fs.FileMode
	abs  string
}

// Diff scans sourceRoot and compares it against prev. prev may be nil for
// the first snapshot, in which case every file is an addition. The scan is
// parallelized across top-level subdirectories; the walk finishes before any
// transfer begins.
func Diff(ctx context.Context, sourceRoot string, prev *manifest.Manifest, opts Options) (*ChangeSet, error) {
	info, err := os.Stat(sourceRoot)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, sourceRoot)
	}

	rules, err := compileExcludes(opts.Exclude)
	if err != nil {
		return nil, err
	}

	files, err := scanTree(ctx, sourceRoot, rules, opts)
	if err != nil {
		return nil, err
	}

	prevEntries := make(map[string]*manifest.FileEntry)
	if prev != nil {
		for i := range prev.Files {
			prevEntries[prev.Files[i].Path] = &prev.Files[i]
		}
	}

	cs := &ChangeSet{}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.rel] = true
		change := Change{Path: f.rel, Size: f.size, ModTime: f.mod, Mode: f.mode}

		old, ok := prevEntries[f.rel]
		if !ok {
			cs.Added = append(cs.Added, change)
			continue
		}
		if old.Size != f.size || !old.ModTime.Equal(f.mod.Truncate(time.Second)) {
			cs.Modified = append(cs.Modified, change)
			continue
		}
		if opts.VerifyContent {
			sum, err := hashFile(f.abs)
			if err != nil {
				return nil, err
			}
			if sum != old.ContentHash {
				cs.Modified = append(cs.Modified, change)
				continue
			}
		}
		cs.Unchanged = append(cs.Unchanged, *old)
	}

	for path := range prevEntries {
		if !seen[path] {
			cs.Deleted = append(cs.Deleted, path)
		}
	}
	sort.Strings(cs.Deleted)
	return cs, nil
}

// scanTree walks the source. Each top-level subdirectory gets its own
// goroutine; files directly under the root are handled inline.
func scanTree(ctx context.Context, root string, rules []excludeRule, opts Options) ([]scanned, error) {
	top, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, root, err)
	}

	var mu sync.Mutex
	var files []scanned
	collect := func(batch []scanned) {
		mu.Lock()
		files = append(files, batch...)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, entry := range top {
		name := entry.Name()
		if !opts.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		if excluded(rules, name, entry.IsDir()) {
			continue
		}

		if entry.IsDir() {
			sub := filepath.Join(root, name)
			g.Go(func() error {
				batch, err := walkDir(ctx, root, sub, rules, opts)
				if err != nil {
					return err
				}
				collect(batch)
				return nil
			})
			continue
		}

		s, ok, err := statEntry(root, filepath.Join(root, name), entry, opts)
		if err != nil {
			return nil, err
		}
		if ok {
			collect([]scanned{s})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

func walkDir(ctx context.Context, root, dir string, rules []excludeRule, opts Options) ([]scanned, error) {
	var batch []scanned
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk %s: %w", ErrIO, path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrIO, path, err)
		}
		rel = filepath.ToSlash(rel)

		if !opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded(rules, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		s, ok, serr := statEntry(root, path, d, opts)
		if serr != nil {
			return serr
		}
		if ok {
			batch = append(batch, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// statEntry resolves one directory entry to a scanned file. Irregular files
// are skipped; symlinks follow the Options policy.
func statEntry(root, path string, d fs.DirEntry, opts Options) (scanned, bool, error) {
	info, err := d.Info()
	if err != nil {
		return scanned{}, false, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		if !opts.FollowSymlinks {
			return scanned{}, false, nil
		}
		info, err = os.Stat(path)
		if err != nil {
			return scanned{}, false, fmt.Errorf("%w: resolve symlink %s: %w", ErrIO, path, err)
		}
	}
	if !info.Mode().IsRegular() {
		return scanned{}, false, nil
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return scanned{}, false, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
	}
	return scanned{
		rel:  filepath.ToSlash(rel),
		size: info.Size(),
		mod:  info.ModTime(),
		mode: info.Mode().Perm(),
		abs:  path,
	}, true, nil
}

func hashFile(path string) (chunk.Address, error) {
	f, err := os.Open(path)
	if err != nil {
		return chunk.Address{}, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	defer f.Close()
	sum, _, err := chunk.HashReader(f)
	if err != nil {
		return chunk.Address{}, fmt.Errorf("%w: hash %s: %w", ErrIO, path, err)
	}
	return sum, nil
}
