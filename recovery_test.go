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

	"github.com/stretchr/testify/assert"

	"github.com/replyloop/autopilot/model"
)

func stuckItem(id string, retryCount int) *model.QueueItem {
	return &model.QueueItem{
		QueueItemID: id,
		AccountID:   "acc_1",
		TargetID:    "123456789",
		Payload:     "thanks for the mention!",
		Status:      model.StatusProcessing,
		RetryCount:  retryCount,
	}
}

func TestRecoverStuckDeliveriesRequeuesItem(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetStuckQueueItemsFn = func(cutoff time.Time, limit int) ([]*model.QueueItem, error) {
		return []*model.QueueItem{stuckItem("qi_1", 0)}, nil
	}
	engine := newTestEngine(ds, &fakePlatform{})

	recovered, err := engine.RecoverStuckDeliveries(context.Background(), 10*time.Minute)

	assert.NoError(t, err)
	assert.Equal(t, 1, recovered)
	// The requeue consumes a retry so a crash loop still terminates.
	assert.Equal(t, 1, ds.Retried["qi_1"])
	assert.Empty(t, ds.Failed)
}

func TestRecoverStuckDeliveriesFailsItemAtRetryBudget(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetStuckQueueItemsFn = func(cutoff time.Time, limit int) ([]*model.QueueItem, error) {
		return []*model.QueueItem{stuckItem("qi_1", 2)}, nil
	}
	engine := newTestEngine(ds, &fakePlatform{})

	recovered, err := engine.RecoverStuckDeliveries(context.Background(), 10*time.Minute)

	assert.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Contains(t, ds.Failed["qi_1"], "abandoned in processing")
	assert.Zero(t, ds.Calls["RetryQueueItem"])
}

func TestRecoverStuckDeliveriesResumesThread(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetStuckScheduledPostsFn = func(cutoff time.Time, limit int) ([]*model.ScheduledPost, error) {
		return []*model.ScheduledPost{{
			PostID:    "post_1",
			AccountID: "acc_1",
			Status:    model.StatusProcessing,
			Parts: []model.PostPart{
				{Text: "part one", PlatformID: "900001"},
				{Text: "part two"},
			},
			PublishedCount: 1,
		}}, nil
	}
	engine := newTestEngine(ds, &fakePlatform{})

	recovered, err := engine.RecoverStuckDeliveries(context.Background(), 10*time.Minute)

	assert.NoError(t, err)
	assert.Equal(t, 1, recovered)
	// Back to pending; the published prefix stays recorded so the resumed
	// run continues from part two instead of re-posting part one.
	assert.Equal(t, 1, ds.Retried["post_1"])
	assert.Empty(t, ds.PostFailed)
}

func TestRecoverStuckDeliveriesFailsPostAtRetryBudget(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetStuckScheduledPostsFn = func(cutoff time.Time, limit int) ([]*model.ScheduledPost, error) {
		return []*model.ScheduledPost{{
			PostID:    "post_1",
			AccountID: "acc_1",
			Status:    model.StatusProcessing,
			Parts: []model.PostPart{
				{Text: "part one", PlatformID: "900001"},
				{Text: "part two", PlatformID: "900002"},
				{Text: "part three"},
			},
			PublishedCount: 2,
			RetryCount:     2,
		}}, nil
	}
	engine := newTestEngine(ds, &fakePlatform{})

	recovered, err := engine.RecoverStuckDeliveries(context.Background(), 10*time.Minute)

	assert.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 2, ds.PostFailed["post_1"])
	assert.Contains(t, ds.Failed["post_1"], "abandoned in processing")
	assert.Zero(t, ds.Calls["RetryScheduledPost"])
}

func TestRecoverStuckDeliveriesFloorsThreshold(t *testing.T) {
	mockEngineConfig()

	var cutoff time.Time
	ds := newFakeDataSource()
	ds.GetStuckQueueItemsFn = func(c time.Time, limit int) ([]*model.QueueItem, error) {
		cutoff = c
		return nil, nil
	}
	engine := newTestEngine(ds, &fakePlatform{})

	_, err := engine.RecoverStuckDeliveries(context.Background(), time.Second)

	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-minStuckThreshold), cutoff, 5*time.Second)
}

func TestRecoverStuckDeliveriesNothingStuck(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	engine := newTestEngine(ds, &fakePlatform{})

	recovered, err := engine.RecoverStuckDeliveries(context.Background(), 10*time.Minute)

	assert.NoError(t, err)
	assert.Zero(t, recovered)
	assert.Zero(t, ds.Calls["RetryQueueItem"])
	assert.Zero(t, ds.Calls["RetryScheduledPost"])
	assert.Zero(t, ds.Calls["FailQueueItem"])
	assert.Zero(t, ds.Calls["FailScheduledPost"])
}
