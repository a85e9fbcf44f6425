package runner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/gridsense/unitexport/internal/retrieval"
)

// Scheduler re-runs a fixed request on a cron schedule. Artifact names are
// deterministic per request, so each run overwrites the previous export
// instead of accumulating stale files.
type Scheduler struct {
	ctx    context.Context
	runner *Runner
	req    retrieval.Request
	logger *logrus.Logger
	cron   *cron.Cron
}

// NewScheduler creates a scheduler bound to a parent context; when the
// context is canceled, in-flight runs abort without partial artifacts.
func NewScheduler(ctx context.Context, runner *Runner, req retrieval.Request, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		ctx:    ctx,
		runner: runner,
		req:    req,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start registers the cron entry and begins scheduling.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// runOnce performs one scheduled export.
func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Minute)
	defer cancel()

	result, err := s.runner.Run(ctx, s.req)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled run failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"artifacts": len(result.Artifacts),
		"failures":  len(result.Failures),
	}).Info("Scheduled run completed")
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
