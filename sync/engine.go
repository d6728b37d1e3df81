// Package sync orchestrates snapshots end to end: scan, diff, encrypted
// chunk transfer, verification, snapshot commit, restore and garbage
// collection. One Engine serves one source/destination pair; the destination
// is locked for the duration of every operation so two processes can never
// write the same medium concurrently.
package sync

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	stdsync "sync"

	"github.com/sirupsen/logrus"

	"github.com/airgapsync/libairgap-go/audit"
	"github.com/airgapsync/libairgap-go/config"
	"github.com/airgapsync/libairgap-go/crypt"
	"github.com/airgapsync/libairgap-go/manifest"
	"github.com/airgapsync/libairgap-go/store"
)

// Engine coordinates all destination operations. Safe for use from multiple
// goroutines, but operations are serialized: a second call while one is
// running fails with ErrEngineBusy.
type Engine struct {
	cfg     config.Config
	key     crypt.Key
	signKey audit.SignKey
	log     *logrus.Logger

	mu       stdsync.Mutex
	state    State
	observer chan<- Progress
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithLogger replaces the default logger.
func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithObserver registers a progress channel. Events are delivered
// best-effort: when the channel is full the event is dropped rather than
// blocking the transfer.
func WithObserver(ch chan<- Progress) Option {
	return func(e *Engine) { e.observer = ch }
}

// New validates the configuration and keys and returns an engine. No
// destination I/O happens until the first operation.
func New(cfg config.Config, key crypt.Key, signKey audit.SignKey, opts ...Option) (*Engine, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if len(signKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w", audit.ErrInvalidKey)
	}

	e := &Engine{
		cfg:     cfg,
		key:     key,
		signKey: signKey,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.New()
		e.log.SetLevel(logrus.InfoLevel)
	}
	return e, nil
}

// State returns the engine's current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// begin transitions out of a terminal state or fails with ErrEngineBusy.
func (e *Engine) begin(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.terminal() {
		return fmt.Errorf("%w: %s while %s", ErrEngineBusy, op, e.state)
	}
	e.state = StateScanning
	return nil
}

// setState records and logs a phase transition.
func (e *Engine) setState(s State, fields logrus.Fields) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["phase"] = s
	e.log.WithFields(fields).Info("state transition")
}

// emit delivers a progress event without ever blocking.
func (e *Engine) emit(p Progress) {
	if e.observer == nil {
		return
	}
	select {
	case e.observer <- p:
	default:
	}
}

// session holds the per-operation destination resources.
type session struct {
	lock      *os.File
	chunks    *store.Store
	manifests *manifest.Store
	audit     *audit.Log
}

// acquire locks the destination and opens its stores and audit log.
func (e *Engine) acquire() (*session, error) {
	dest := e.cfg.DestinationRoot
	if err := os.MkdirAll(dest, 0700); err != nil {
		return nil, fmt.Errorf("sync: create destination: %w", err)
	}

	lock, err := tryLock(filepath.Join(dest, ".lock"))
	if err != nil {
		return nil, err
	}

	s := &session{lock: lock}
	fail := func(err error) (*session, error) {
		s.release()
		return nil, err
	}

	if s.chunks, err = store.Open(dest); err != nil {
		return fail(err)
	}
	if s.manifests, err = manifest.OpenStore(dest); err != nil {
		return fail(err)
	}
	if s.audit, err = audit.Open(dest, e.signKey); err != nil {
		return fail(err)
	}
	return s, nil
}

// release closes everything acquire opened, in reverse order.
func (s *session) release() {
	if s.audit != nil {
		_ = s.audit.Close()
	}
	if s.chunks != nil {
		_ = s.chunks.Close()
	}
	releaseLock(s.lock)
}

// latest loads the newest snapshot, or nil when the destination is empty.
func (s *session) latest() (*manifest.Manifest, error) {
	m, err := s.manifests.Latest()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, manifest.ErrNotFound) || errors.Is(err, store.ErrNotFound)
}
