package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/airgapsync/libairgap-go/audit"
	"github.com/airgapsync/libairgap-go/retain"
)

// GC applies the configured retention policy: prune snapshots beyond the
// count or age bounds, then reclaim every chunk no surviving snapshot
// references. The newest snapshot is never pruned.
func (e *Engine) GC(ctx context.Context) (*retain.GCResult, error) {
	if err := e.begin("gc"); err != nil {
		return nil, err
	}

	s, err := e.acquire()
	if err != nil {
		e.setState(StateFailed, nil)
		return nil, err
	}
	defer s.release()

	res, err := e.runGC(ctx, s)
	if err != nil {
		if isCancel(err) {
			e.setState(StateCancelled, nil)
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		_, _ = s.audit.Append(audit.KindSyncFailed, map[string]string{"error": err.Error()})
		e.setState(StateFailed, nil)
		return nil, err
	}

	if _, err := s.audit.Append(audit.KindGCRun, map[string]any{
		"snapshots_deleted": res.SnapshotsDeleted,
		"chunks_deleted":    res.ChunksDeleted,
		"bytes_reclaimed":   res.BytesReclaimed,
	}); err != nil {
		e.setState(StateFailed, nil)
		return nil, err
	}
	e.setState(StateIdle, logrus.Fields{
		"snapshots": res.SnapshotsDeleted,
		"chunks":    res.ChunksDeleted,
		"bytes":     res.BytesReclaimed,
	})
	return res, nil
}

func (e *Engine) runGC(ctx context.Context, s *session) (*retain.GCResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifests, err := s.manifests.List()
	if err != nil {
		return nil, err
	}
	stored, err := s.chunks.Addresses()
	if err != nil {
		return nil, err
	}

	policy := retain.Policy{
		MaxSnapshots: e.cfg.MaxSnapshots,
		MaxAgeDays:   e.cfg.MaxAgeDays,
	}
	decision := retain.Plan(manifests, stored, policy, time.Now())

	e.setState(StateCommitting, logrus.Fields{
		"keep":   len(decision.Keep),
		"delete": len(decision.Delete),
		"chunks": len(decision.Unreferenced),
	})
	return retain.Execute(decision, s.manifests, s.chunks)
}
