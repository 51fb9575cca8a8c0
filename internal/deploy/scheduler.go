// internal/deploy/scheduler.go
//
// Auto-deploy scheduler.
//
// On every tick of deploy.auto_cron the scheduler lists active sites that
// have auto_deploy set and a repository, and runs them through DeployMany
// as the system user.  A tick that finds the previous tick still running is
// skipped rather than queued.

package deploy

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/yanizio/hostbus/internal/site"
)

// AutoNote is written to deployment_notes for scheduled attempts.
const AutoNote = "auto-deploy"

// AutoSource lists the sites eligible for scheduled deployment.
type AutoSource interface {
	AutoDeployable(ctx context.Context) ([]site.Record, error)
}

// Scheduler runs periodic auto-deploys.
type Scheduler struct {
	cron    *cron.Cron
	engine  *Engine
	sites   AutoSource
	log     *zap.SugaredLogger
	running atomic.Bool
}

// NewScheduler parses spec (standard five-field cron) and registers the
// auto-deploy job.  Call Start to begin ticking.
func NewScheduler(spec string, e *Engine, sites AutoSource, log *zap.SugaredLogger) (*Scheduler, error) {
	if log == nil {
		log = zap.S()
	}
	s := &Scheduler{
		cron:   cron.New(),
		engine: e,
		sites:  sites,
		log:    log.With("component", "scheduler"),
	}
	id, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) })
	if err != nil {
		return nil, err
	}
	s.log.Infow("auto-deploy registered", "cron", spec, "entry_id", id)
	return s, nil
}

// Start begins ticking in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for a running tick to finish or ctx to
// end, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// RunOnce performs a single auto-deploy pass and returns its outcomes.
func (s *Scheduler) RunOnce(ctx context.Context) []Outcome {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous auto-deploy pass still running; skipping")
		return nil
	}
	defer s.running.Store(false)

	sites, err := s.sites.AutoDeployable(ctx)
	if err != nil {
		s.log.Errorw("list auto-deploy sites", "error", err)
		return nil
	}
	if len(sites) == 0 {
		return nil
	}

	reqs := make([]Request, len(sites))
	for i, rec := range sites {
		reqs[i] = Request{Site: rec, Options: Options{Notes: AutoNote}}
	}
	out := s.engine.DeployMany(ctx, reqs)

	var failed int
	for _, o := range out {
		if !o.Succeeded {
			failed++
			s.log.Warnw("auto-deploy failed", "app", o.AppName, "error", Message(o.Err))
		}
	}
	s.log.Infow("auto-deploy pass finished", "sites", len(out), "failed", failed)
	return out
}
