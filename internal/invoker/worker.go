package invoker

import (
	"context"
	"errors"
	"time"

	"remindd/internal/engine"
	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan string) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case id := <-queue:
			s.invoke(ctx, id)
		}
	}
}

// invoke runs one engine invocation and acts on the directive. Transient
// failures are not retried here; the armed check time or the sweep is the
// retry path.
func (s *Service) invoke(ctx context.Context, id string) {
	s.mu.Lock()
	timeout := s.cfg.execTimeout()
	s.mu.Unlock()

	now := time.Now().UTC()
	ectx, cancel := context.WithTimeout(ctx, timeout)
	d, err := s.exec.Execute(ectx, id, now)
	cancel()

	if err != nil {
		switch {
		case errors.Is(err, reminder.ErrNotFound):
			// Deleted between trigger and invocation. Nothing to do.
			s.log.Debug("invocation for missing reminder", logx.String("id", id))
		case errors.Is(err, reminder.ErrSendFailed):
			s.log.Warn("invocation send failed; recheck armed", logx.String("id", id), logx.Err(err))
		default:
			s.log.Warn("invocation failed", logx.String("id", id), logx.Err(err))
		}
	}

	switch d.Kind {
	case engine.KindReFireAt:
		s.Schedule(id, d.At)
	case engine.KindStop:
		s.Cancel(id)
	}
}
