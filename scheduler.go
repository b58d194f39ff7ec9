/*
Copyright 2025 Replyloop Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package autopilot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/replyloop/autopilot/config"
	redlock "github.com/replyloop/autopilot/internal/lock"
	"github.com/replyloop/autopilot/model"
)

// RunOnce processes one batch of the reply queue and one batch of scheduled
// posts. It is what both the scheduler tick and the external trigger endpoint
// invoke; overlapping invocations are safe because each item is claimed with
// a conditional update before any remote call.
func (a *Autopilot) RunOnce(ctx context.Context) (BatchResult, error) {
	start := time.Now()

	result, repliesErr := a.ProcessReplyQueue(ctx)
	posts, postsErr := a.ProcessScheduledPosts(ctx)
	result.Add(posts)
	result.DurationMs = time.Since(start).Milliseconds()

	if repliesErr != nil {
		return result, repliesErr
	}
	return result, postsErr
}

// Scheduler is the periodic driver. It is constructed and started explicitly
// by the process entry point; nothing starts on import.
type Scheduler struct {
	engine *Autopilot
	cron   *cron.Cron
	ticks  atomic.Int64
}

// NewScheduler creates a stopped scheduler around the delivery engine.
func NewScheduler(engine *Autopilot) *Scheduler {
	return &Scheduler{
		engine: engine,
		cron:   cron.New(),
	}
}

// Start begins ticking at the configured interval. Every tick runs one
// processing pass and a stuck-delivery recovery sweep; every
// TokenSweepEvery-th tick also sweeps stale credentials.
func (s *Scheduler) Start(ctx context.Context) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	spec := fmt.Sprintf("@every %ds", cnf.Scheduler.IntervalSec)
	if _, err := s.cron.AddFunc(spec, func() {
		s.tick(ctx, cnf)
	}); err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("scheduler started, ticking every %ds", cnf.Scheduler.IntervalSec)
	return nil
}

// Stop halts the tick schedule and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logrus.Info("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context, cnf *config.Configuration) {
	tick := s.ticks.Add(1)

	// Best-effort guard so concurrent scheduler processes don't scan the
	// same batch. The pending-to-processing claim is the real safety; losing
	// this lock only saves wasted queries.
	locker := redlock.NewLocker(s.engine.redis, "autopilot:scheduler:tick", model.GenerateUUIDWithSuffix("lock"))
	if err := locker.Lock(ctx, time.Duration(cnf.Scheduler.IntervalSec)*time.Second); err != nil {
		logrus.Debugf("tick %d skipped, another scheduler holds the lock: %v", tick, err)
		return
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Debugf("tick lock release: %v", err)
		}
	}()

	result, err := s.engine.RunOnce(ctx)
	if err != nil {
		logrus.Errorf("tick %d completed with error: %v", tick, err)
	}
	if result.Processed > 0 || result.Errors > 0 {
		logrus.WithFields(logrus.Fields{
			"tick":        tick,
			"processed":   result.Processed,
			"errors":      result.Errors,
			"duration_ms": result.DurationMs,
		}).Info("processing pass complete")
	}

	threshold := time.Duration(cnf.Queue.StuckThresholdSec) * time.Second
	if n, err := s.engine.RecoverStuckDeliveries(ctx, threshold); err != nil {
		logrus.Errorf("stuck delivery recovery failed: %v", err)
	} else if n > 0 {
		logrus.Infof("requeued %d stuck deliveries", n)
	}

	if tick%int64(cnf.Scheduler.TokenSweepEvery) == 0 {
		staleness := time.Duration(cnf.Scheduler.StalenessThreshold) * time.Hour
		if err := s.engine.SweepStaleCredentials(ctx, staleness); err != nil {
			logrus.Errorf("credential sweep failed: %v", err)
		}
	}
}
