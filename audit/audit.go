// Package audit maintains a tamper-evident record of every consequential
// engine operation. Entries are hash-chained and individually signed with
// Ed25519; the log lives on the destination next to the data it describes,
// so possession of the medium is possession of the evidence. Verification
// needs only the public key.
package audit

import (
	"bufio"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "audit-"
	fileSuffix = ".log"

	// DefaultMaxFileSize triggers rollover to a fresh log file.
	DefaultMaxFileSize = 4 << 20
)

// SignKey is the Ed25519 private key entries are signed with. The key is
// supplied by the caller's key manager and never persisted here.
type SignKey = ed25519.PrivateKey

// Log is an append-only signed audit log rooted at {dest}/audit. A single
// writer per destination is assumed; appends are serialized internally.
type Log struct {
	mu          sync.Mutex
	dir         string
	key         SignKey
	maxFileSize int64

	f         *os.File
	fileIndex int
	fileSize  int64

	nextSeq    uint64
	prevDigest [32]byte
	closed     bool
}

// Option adjusts log behavior.
type Option func(*Log)

// WithMaxFileSize overrides the rollover threshold.
func WithMaxFileSize(n int64) Option {
	return func(l *Log) { l.maxFileSize = n }
}

// Open opens or creates the audit log under dir. Existing files are scanned
// to recover the chain position, so appends continue seamlessly across
// process restarts.
func Open(dir string, key SignKey, opts ...Option) (*Log, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: signing key must be %d bytes", ErrInvalidKey, ed25519.PrivateKeySize)
	}
	auditDir := filepath.Join(dir, "audit")
	if err := os.MkdirAll(auditDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create audit directory: %w", ErrIO, err)
	}

	l := &Log{dir: auditDir, key: key, maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(l)
	}

	indices, err := listFiles(auditDir)
	if err != nil {
		return nil, err
	}

	// A crash inside rollover can leave the next file created but still
	// empty, before its file-opened entry went in. Appending there would
	// restart the chain at sequence zero; drop empty trailing files and
	// continue in the newest file that holds entries.
	for len(indices) > 0 {
		path := l.filePath(indices[len(indices)-1])
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: stat audit file: %w", ErrIO, err)
		}
		if info.Size() > 0 {
			break
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("%w: remove empty audit file: %w", ErrIO, err)
		}
		indices = indices[:len(indices)-1]
	}

	if len(indices) > 0 {
		l.fileIndex = indices[len(indices)-1]
		if err := l.recover(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(l.filePath(l.fileIndex), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: open audit file: %w", ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat audit file: %w", ErrIO, err)
	}
	l.f = f
	l.fileSize = info.Size()
	return l, nil
}

// Close flushes and closes the current audit file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

func (l *Log) filePath(index int) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s%06d%s", filePrefix, index, fileSuffix))
}

// recover reads the newest file and restores nextSeq and prevDigest from its
// final entry.
func (l *Log) recover() error {
	entries, err := readFile(l.filePath(l.fileIndex))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	last := entries[len(entries)-1]
	d, err := last.digest()
	if err != nil {
		return err
	}
	l.nextSeq = last.Seq + 1
	l.prevDigest = d
	return nil
}

// Append signs and persists one entry, fsyncing before returning. The
// payload is encoded with deterministic CBOR and only its digest is stored.
func (l *Log) Append(kind Kind, payload any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if !knownKinds[kind] {
		return nil, fmt.Errorf("audit: unknown entry kind %q", kind)
	}

	if l.fileSize >= l.maxFileSize {
		if err := l.rollover(); err != nil {
			return nil, err
		}
	}
	return l.append(kind, payload)
}

// append writes one chained entry to the current file. Caller holds mu.
func (l *Log) append(kind Kind, payload any) (*Entry, error) {
	pd, err := digestPayload(payload)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Seq:           l.nextSeq,
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Kind:          kind,
		PayloadDigest: pd,
		PrevDigest:    l.prevDigest,
	}
	if err := e.sign(l.key); err != nil {
		return nil, err
	}

	data, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("audit: encode entry %d: %w", e.Seq, err)
	}
	line := base64.StdEncoding.EncodeToString(data) + "\n"
	if _, err := l.f.WriteString(line); err != nil {
		return nil, fmt.Errorf("%w: append entry %d: %w", ErrIO, e.Seq, err)
	}
	if err := l.f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync entry %d: %w", ErrIO, e.Seq, err)
	}

	d, err := e.digest()
	if err != nil {
		return nil, err
	}
	l.fileSize += int64(len(line))
	l.nextSeq++
	l.prevDigest = d
	return e, nil
}

// rollover terminates the current file with a file-closed entry, then starts
// the next file with a file-opened entry chained to it. Caller holds mu.
func (l *Log) rollover() error {
	if _, err := l.append(KindFileClosed, nil); err != nil {
		return err
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("%w: close audit file: %w", ErrIO, err)
	}

	l.fileIndex++
	f, err := os.OpenFile(l.filePath(l.fileIndex), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("%w: create audit file: %w", ErrIO, err)
	}
	l.f = f
	l.fileSize = 0

	_, err = l.append(KindFileOpened, nil)
	return err
}

// listFiles returns the sorted indices of audit files present in dir.
func listFiles(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list audit directory: %w", ErrIO, err)
	}
	var indices []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(name, filePrefix+"%d"+fileSuffix, &idx); err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// readFile decodes every entry of one audit file.
func readFile(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorrupt, filepath.Base(path), lineNo, err)
		}
		var e Entry
		if err := decMode.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorrupt, filepath.Base(path), lineNo, err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	return entries, nil
}
