package sync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/airgapsync/libairgap-go/audit"
	"github.com/airgapsync/libairgap-go/chunk"
	"github.com/airgapsync/libairgap-go/crypt"
	"github.com/airgapsync/libairgap-go/diff"
	"github.com/airgapsync/libairgap-go/manifest"
)

// Result summarizes one completed sync.
type Result struct {
	SnapshotID       manifest.SnapshotID
	Unchanged        bool
	FilesTransferred int
	FilesDeleted     int
	BytesTransferred uint64
	ChunksWritten    int
	ChunksDeduped    int
	Duration         time.Duration
}

// Sync runs one incremental snapshot of the source onto the destination.
// The commit order is strict: chunks first, then the manifest, then the
// audit entry. An interruption at any point leaves either the previous
// snapshot intact or the new one fully committed, never a half state; a
// re-run after an interruption converges because chunks already written are
// deduplicated away.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if err := e.begin("sync"); err != nil {
		return nil, err
	}
	start := time.Now()

	s, err := e.acquire()
	if err != nil {
		e.setState(StateFailed, nil)
		return nil, err
	}
	defer s.release()

	res, err := e.runSync(ctx, s, start)
	if err != nil {
		if isCancel(err) {
			_, _ = s.audit.Append(audit.KindSyncCancelled, map[string]string{"source": e.cfg.SourceRoot})
			e.setState(StateCancelled, nil)
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		_, _ = s.audit.Append(audit.KindSyncFailed, map[string]string{"error": err.Error()})
		e.setState(StateFailed, nil)
		return nil, err
	}

	e.setState(StateIdle, logrus.Fields{
		"snapshot": res.SnapshotID.String(),
		"files":    res.FilesTransferred,
		"bytes":    res.BytesTransferred,
		"duration": res.Duration.String(),
	})
	return res, nil
}

func (e *Engine) runSync(ctx context.Context, s *session, start time.Time) (*Result, error) {
	if _, err := s.audit.Append(audit.KindSyncStarted, map[string]string{
		"source":      e.cfg.SourceRoot,
		"destination": e.cfg.DestinationRoot,
	}); err != nil {
		return nil, err
	}

	prev, err := s.latest()
	if err != nil {
		return nil, err
	}

	e.setState(StateScanning, logrus.Fields{"source": e.cfg.SourceRoot})
	cs, err := diff.Diff(ctx, e.cfg.SourceRoot, prev, e.diffOptions())
	if err != nil {
		return nil, err
	}
	e.setState(StateDiffing, logrus.Fields{
		"added":     len(cs.Added),
		"modified":  len(cs.Modified),
		"deleted":   len(cs.Deleted),
		"unchanged": len(cs.Unchanged),
	})

	if prev != nil && prev.KeyVersion != e.key.Version {
		_, err = s.audit.Append(audit.KindKeyRotated, map[string]uint32{
			"from": prev.KeyVersion,
			"to":   e.key.Version,
		})
		if err != nil {
			return nil, err
		}
	}

	if cs.Empty() && prev != nil {
		// Nothing to do; the previous snapshot already describes the source.
		if _, err := s.audit.Append(audit.KindSnapshotCommitted, map[string]any{
			"snapshot":  prev.ID.String(),
			"unchanged": true,
		}); err != nil {
			return nil, err
		}
		return &Result{SnapshotID: prev.ID, Unchanged: true, Duration: time.Since(start)}, nil
	}

	if err := checkFreeSpace(e.cfg.DestinationRoot, cs.TransferBytes()); err != nil {
		return nil, err
	}

	e.setState(StateTransferring, logrus.Fields{"bytes": cs.TransferBytes()})
	entries, fresh, stats, err := e.transfer(ctx, s, cs)
	if err != nil {
		return nil, err
	}

	if e.cfg.VerifyAfterWrite {
		e.setState(StateVerifying, logrus.Fields{"chunks": len(fresh)})
		if err := e.verifyFresh(ctx, s, fresh); err != nil {
			return nil, err
		}
	}

	e.setState(StateCommitting, nil)
	all := append(entries, cs.Unchanged...)
	m, err := manifest.Build(prev, all, e.key.Version, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.manifests.Write(m); err != nil {
		return nil, err
	}
	if _, err := s.audit.Append(audit.KindSnapshotCommitted, map[string]any{
		"snapshot": m.ID.String(),
		"files":    len(m.Files),
		"bytes":    m.TotalBytes,
		"chunks":   m.ChunkCount,
	}); err != nil {
		return nil, err
	}

	return &Result{
		SnapshotID:       m.ID,
		FilesTransferred: len(cs.Added) + len(cs.Modified),
		FilesDeleted:     len(cs.Deleted),
		BytesTransferred: stats.bytes,
		ChunksWritten:    stats.written,
		ChunksDeduped:    stats.deduped,
		Duration:         time.Since(start),
	}, nil
}

// DryRun scans and diffs without transferring anything. The destination is
// still locked briefly to read the latest manifest consistently.
func (e *Engine) DryRun(ctx context.Context) (*diff.ChangeSet, error) {
	if err := e.begin("dry-run"); err != nil {
		return nil, err
	}

	s, err := e.acquire()
	if err != nil {
		e.setState(StateFailed, nil)
		return nil, err
	}
	defer s.release()

	prev, err := s.latest()
	if err != nil {
		e.setState(StateFailed, nil)
		return nil, err
	}

	cs, err := diff.Diff(ctx, e.cfg.SourceRoot, prev, e.diffOptions())
	if err != nil {
		if isCancel(err) {
			e.setState(StateCancelled, nil)
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		e.setState(StateFailed, nil)
		return nil, err
	}
	e.setState(StateIdle, logrus.Fields{
		"added":    len(cs.Added),
		"modified": len(cs.Modified),
		"deleted":  len(cs.Deleted),
	})
	return cs, nil
}

func (e *Engine) diffOptions() diff.Options {
	return diff.Options{
		Exclude:        e.cfg.Exclude,
		FollowSymlinks: e.cfg.FollowSymlinks,
		IncludeHidden:  e.cfg.IncludeHidden,
		VerifyContent:  false,
	}
}

type transferStats struct {
	bytes   uint64
	written int
	deduped int
}

// transfer seals and stores the chunks of every added or modified file.
// Files are processed concurrently with one pipeline per worker; chunk-level
// deduplication happens against the destination index before any encryption
// work is spent.
func (e *Engine) transfer(ctx context.Context, s *session, cs *diff.ChangeSet) ([]manifest.FileEntry, []chunk.Address, transferStats, error) {
	changes := make([]diff.Change, 0, len(cs.Added)+len(cs.Modified))
	changes = append(changes, cs.Added...)
	changes = append(changes, cs.Modified...)

	workers := e.cfg.ParallelFiles
	if workers > len(changes) && len(changes) > 0 {
		workers = len(changes)
	}
	pipelines := make(chan *crypt.Pipeline, workers)
	for i := 0; i < workers; i++ {
		p, err := crypt.NewPipeline(e.key, e.cfg.CompressionLevel)
		if err != nil {
			return nil, nil, transferStats{}, err
		}
		pipelines <- p
	}

	var (
		mu      stdsync.Mutex
		entries []manifest.FileEntry
		fresh   []chunk.Address
		stats   transferStats

		filesDone atomic.Int64
		bytesDone atomic.Uint64
	)
	bytesTotal := cs.TransferBytes()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ParallelFiles)
	for _, c := range changes {
		c := c
		g.Go(func() error {
			p := <-pipelines
			defer func() { pipelines <- p }()

			entry, written, deduped, err := e.transferFile(gctx, s, p, c, &bytesDone)
			if err != nil {
				return err
			}

			mu.Lock()
			entries = append(entries, entry)
			fresh = append(fresh, written...)
			stats.bytes += uint64(entry.Size)
			stats.written += len(written)
			stats.deduped += deduped
			mu.Unlock()

			e.emit(Progress{
				Phase:      StateTransferring,
				FilesTotal: len(changes),
				FilesDone:  int(filesDone.Add(1)),
				BytesTotal: bytesTotal,
				BytesDone:  bytesDone.Load(),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, transferStats{}, err
	}
	return entries, fresh, stats, nil
}

// transferFile chunks, seals and stores one file, returning its manifest
// entry and the addresses actually written (as opposed to deduplicated).
func (e *Engine) transferFile(ctx context.Context, s *session, p *crypt.Pipeline, c diff.Change, bytesDone *atomic.Uint64) (manifest.FileEntry, []chunk.Address, int, error) {
	var entry manifest.FileEntry

	path := filepath.Join(e.cfg.SourceRoot, filepath.FromSlash(c.Path))
	f, err := os.Open(path)
	if err != nil {
		return entry, nil, 0, fmt.Errorf("sync: open %s: %w", c.Path, err)
	}
	defer f.Close()

	hasher := chunk.NewHasher()
	r := bufio.NewReaderSize(f, e.cfg.BufferSize)
	chunker, err := e.newChunker(r)
	if err != nil {
		return entry, nil, 0, err
	}

	var (
		addrs   []chunk.Address
		written []chunk.Address
		deduped int
		size    int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return entry, nil, 0, err
		}
		piece, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return entry, nil, 0, fmt.Errorf("sync: chunk %s: %w", c.Path, err)
		}
		_, _ = hasher.Write(piece.Data)
		size += int64(len(piece.Data))

		addr := piece.Address()
		addrs = append(addrs, addr)

		exists, err := s.chunks.Exists(addr)
		if err != nil {
			return entry, nil, 0, err
		}
		if exists {
			deduped++
		} else {
			sc, err := p.Seal(piece.Data)
			if err != nil {
				return entry, nil, 0, err
			}
			existed, err := s.chunks.Put(sc)
			if err != nil {
				return entry, nil, 0, err
			}
			if existed {
				deduped++
			} else {
				written = append(written, addr)
			}
		}
		bytesDone.Add(uint64(len(piece.Data)))
	}

	entry = manifest.FileEntry{
		Path:        c.Path,
		Size:        size,
		ModTime:     c.ModTime.Truncate(time.Second),
		Mode:        c.Mode,
		Chunks:      addrs,
		ContentHash: hasher.Sum(),
	}
	return entry, written, deduped, nil
}

func (e *Engine) newChunker(r io.Reader) (chunk.Chunker, error) {
	if e.cfg.ContentDefinedChunks {
		return chunk.NewRolling(r, e.cfg.ChunkSize)
	}
	return chunk.NewFixed(r, e.cfg.ChunkSize)
}

// verifyFresh re-reads every chunk written by this sync and authenticates it
// before the snapshot is committed.
func (e *Engine) verifyFresh(ctx context.Context, s *session, fresh []chunk.Address) error {
	p, err := crypt.NewPipeline(e.key, e.cfg.CompressionLevel)
	if err != nil {
		return err
	}
	for i, addr := range fresh {
		if err := ctx.Err(); err != nil {
			return err
		}
		sc, err := s.chunks.Get(addr)
		if err != nil {
			return err
		}
		if _, err := p.Open(sc); err != nil {
			return err
		}
		e.emit(Progress{Phase: StateVerifying, FilesTotal: len(fresh), FilesDone: i + 1})
	}
	return nil
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
