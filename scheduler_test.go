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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/replyloop/autopilot/model"
)

func newTestEngineWithRedis(t *testing.T, ds *fakeDataSource) *Autopilot {
	t.Helper()
	mr := miniredis.RunT(t)
	engine := newTestEngine(ds, &fakePlatform{})
	engine.redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return engine
}

func TestRunOnceCombinesBothBatches(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetDueQueueItemsFn = func(now time.Time, limit int) ([]*model.QueueItem, error) {
		return []*model.QueueItem{dueItem("qi_1")}, nil
	}
	ds.GetDueScheduledPostsFn = func(now time.Time, limit int) ([]*model.ScheduledPost, error) {
		return []*model.ScheduledPost{duePost("post_1", "hello")}, nil
	}
	engine := newTestEngine(ds, &fakePlatform{})

	result, err := engine.RunOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 1, ds.Calls["MarkQueueItemSent"])
	assert.Equal(t, 1, ds.Calls["MarkScheduledPostSent"])
}

func TestSchedulerTickProcessesBatch(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetDueQueueItemsFn = func(now time.Time, limit int) ([]*model.QueueItem, error) {
		return []*model.QueueItem{dueItem("qi_1")}, nil
	}
	engine := newTestEngineWithRedis(t, ds)

	s := NewScheduler(engine)
	s.tick(context.Background(), cnf)

	assert.Equal(t, 1, ds.Calls["MarkQueueItemSent"])
	// The tick lock was released, so a second tick runs again.
	s.tick(context.Background(), cnf)
	assert.Equal(t, 2, ds.Calls["MarkQueueItemSent"])
}

func TestSchedulerTickSkipsWhenLockHeld(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	engine := newTestEngineWithRedis(t, ds)

	// Another scheduler process holds the tick lock.
	err := engine.redis.SetNX(context.Background(), "autopilot:scheduler:tick", "other-holder", time.Minute).Err()
	assert.NoError(t, err)

	s := NewScheduler(engine)
	s.tick(context.Background(), cnf)

	assert.Zero(t, ds.Calls["GetDueQueueItems"])
	assert.Zero(t, ds.Calls["GetDueScheduledPosts"])
	assert.Zero(t, ds.Calls["GetStuckQueueItems"])
}

func TestSchedulerTickRecoversStuckWork(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetStuckQueueItemsFn = func(cutoff time.Time, limit int) ([]*model.QueueItem, error) {
		return []*model.QueueItem{stuckItem("qi_orphan", 0)}, nil
	}
	engine := newTestEngineWithRedis(t, ds)

	s := NewScheduler(engine)
	s.tick(context.Background(), cnf)

	assert.Equal(t, 1, ds.Calls["GetStuckScheduledPosts"])
	assert.Equal(t, 1, ds.Retried["qi_orphan"])
}

func TestSchedulerTokenSweepCadence(t *testing.T) {
	cnf := mockEngineConfig()
	cnf.Scheduler.TokenSweepEvery = 2

	ds := newFakeDataSource()
	engine := newTestEngineWithRedis(t, ds)

	s := NewScheduler(engine)

	s.tick(context.Background(), cnf)
	assert.Zero(t, ds.Calls["GetStaleCredentials"])

	s.tick(context.Background(), cnf)
	assert.Equal(t, 1, ds.Calls["GetStaleCredentials"])

	s.tick(context.Background(), cnf)
	assert.Equal(t, 1, ds.Calls["GetStaleCredentials"])

	s.tick(context.Background(), cnf)
	assert.Equal(t, 2, ds.Calls["GetStaleCredentials"])
}

func TestSchedulerStartAndStop(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	engine := newTestEngineWithRedis(t, ds)

	s := NewScheduler(engine)
	assert.NoError(t, s.Start(context.Background()))
	s.Stop()
}
