package usecase

import (
	"context"
	"log/slog"
)

// StuckJobRecoverer is the queue primitive the sweeper relies on.
type StuckJobRecoverer interface {
	RecoverStuck(ctx context.Context) (int, error)
}

// RecoverySweeper moves ids left in the processing set by a crashed worker
// back to the active queue. Attempt counters are left untouched.
type RecoverySweeper struct {
	queue  StuckJobRecoverer
	logger *slog.Logger
}

func NewRecoverySweeper(queue StuckJobRecoverer, logger *slog.Logger) *RecoverySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoverySweeper{queue: queue, logger: logger}
}

func (s *RecoverySweeper) RecoverStuckJobs(ctx context.Context) (int, error) {
	n, err := s.queue.RecoverStuck(ctx)
	if err != nil {
		s.logger.Warn("stuck_job_recovery_failed", "error", err)
		return 0, err
	}
	if n == 0 {
		s.logger.Info("stuck_job_recovery_noop")
		return 0, nil
	}
	s.logger.Warn("stuck_jobs_recovered", "count", n)
	return n, nil
}
