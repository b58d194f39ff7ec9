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

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/replyloop/autopilot/model"
	"github.com/replyloop/autopilot/platform"
)

func dueItem(id string) *model.QueueItem {
	return &model.QueueItem{
		QueueItemID:      id,
		AccountID:        "acc_1",
		TargetID:         "123456789",
		TargetUser:       "counterpart",
		Payload:          "thanks for the mention!",
		Status:           model.StatusPending,
		ScheduledFor:     time.Now().Add(-time.Minute),
		ContentCreatedAt: time.Now().Add(-time.Hour),
	}
}

func TestProcessReplyQueueSendsDueItem(t *testing.T) {
	cnf := mockEngineConfig()
	_ = cnf

	ds := newFakeDataSource()
	ds.GetDueQueueItemsFn = func(now time.Time, limit int) ([]*model.QueueItem, error) {
		return []*model.QueueItem{dueItem("qi_1")}, nil
	}
	client := &fakePlatform{}
	engine := newTestEngine(ds, client)

	result, err := engine.ProcessReplyQueue(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, "qi_1", ds.SentID)
	assert.Equal(t, "900001", ds.SentPlatformID)
	assert.Equal(t, 1, client.PostCalls)
}

func TestProcessReplyQueueSkipsLostClaims(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetDueQueueItemsFn = func(now time.Time, limit int) ([]*model.QueueItem, error) {
		return []*model.QueueItem{dueItem("qi_1"), dueItem("qi_2")}, nil
	}
	ds.ClaimQueueItemFn = func(id string) (bool, error) {
		// A concurrent trigger already took qi_1.
		return id != "qi_1", nil
	}
	client := &fakePlatform{}
	engine := newTestEngine(ds, client)

	result, err := engine.ProcessReplyQueue(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, client.PostCalls)
	assert.Equal(t, "qi_2", ds.SentID)
}

func TestProcessReplyQueueBatchSurvivesOneBadItem(t *testing.T) {
	mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetDueQueueItemsFn = func(now time.Time, limit int) ([]*model.QueueItem, error) {
		return []*model.QueueItem{dueItem("qi_1"), dueItem("qi_2")}, nil
	}
	client := &fakePlatform{
		PostContentFn: func(accessToken, text, replyToID string) (*platform.Post, error) {
			return nil, errors.New("transient platform error")
		},
	}
	engine := newTestEngine(ds, client)

	result, err := engine.ProcessReplyQueue(context.Background())

	// Failed sends are retried, not batch errors; both items were attempted.
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 1, ds.Retried["qi_1"])
	assert.Equal(t, 1, ds.Retried["qi_2"])
}

func TestProcessQueueItemValidationFailureIsTerminal(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	client := &fakePlatform{}
	engine := newTestEngine(ds, client)

	item := dueItem("qi_bad")
	item.TargetID = "not-a-snowflake"

	err := engine.processQueueItem(context.Background(), cnf, item)

	assert.NoError(t, err)
	assert.Contains(t, ds.Failed["qi_bad"], "not a valid platform item id")
	assert.Zero(t, client.PostCalls)
	assert.Zero(t, ds.Calls["RetryQueueItem"])
}

func TestProcessQueueItemComplianceDenialReschedules(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetOrCreatePolicyFn = func(accountID string) (*model.AutomationPolicy, error) {
		p := alwaysOnPolicy(accountID)
		p.MaxPerHour = 5
		return p, nil
	}
	ds.GetSendCountersFn = func(accountID, targetUser string, now time.Time) (model.SendCounters, error) {
		return model.SendCounters{SentThisHour: 5}, nil
	}
	client := &fakePlatform{}
	engine := newTestEngine(ds, client)

	err := engine.processQueueItem(context.Background(), cnf, dueItem("qi_1"))

	assert.NoError(t, err)
	assert.Zero(t, client.PostCalls)
	assert.Equal(t, ReasonHourlyCap, ds.RescheduleError["qi_1"])
	next, ok := ds.Rescheduled["qi_1"]
	assert.True(t, ok)
	// Rescheduled to roughly the top of the next hour, never into the past.
	assert.True(t, next.After(time.Now().Add(-time.Second)))
	assert.True(t, next.Before(time.Now().Add(time.Hour+time.Minute)))
	assert.Zero(t, ds.Calls["RetryQueueItem"])
}

func TestProcessQueueItemPermanentFilterSkips(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetOrCreatePolicyFn = func(accountID string) (*model.AutomationPolicy, error) {
		p := alwaysOnPolicy(accountID)
		p.VerifiedOnly = true
		return p, nil
	}
	client := &fakePlatform{}
	engine := newTestEngine(ds, client)

	item := dueItem("qi_1")
	item.Author = model.ContentAuthor{Handle: "counterpart", Verified: false}

	err := engine.processQueueItem(context.Background(), cnf, item)

	assert.NoError(t, err)
	assert.Zero(t, client.PostCalls)
	assert.Equal(t, ReasonNotVerified, ds.Skipped["qi_1"])
	assert.Zero(t, ds.Calls["RescheduleQueueItem"])
	assert.Zero(t, ds.Calls["FailQueueItem"])
}

func TestProcessQueueItemRetryThenFail(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	client := &fakePlatform{
		PostContentFn: func(accessToken, text, replyToID string) (*platform.Post, error) {
			return nil, errors.New("platform hiccup")
		},
	}
	engine := newTestEngine(ds, client)

	// First two failures consume retries.
	for want := 1; want <= 2; want++ {
		item := dueItem("qi_1")
		item.RetryCount = want - 1
		assert.NoError(t, engine.processQueueItem(context.Background(), cnf, item))
		assert.Equal(t, want, ds.Retried["qi_1"])
	}
	assert.Empty(t, ds.Failed)

	// The third failure exhausts MaxRetries and the item fails terminally.
	item := dueItem("qi_1")
	item.RetryCount = 2
	assert.NoError(t, engine.processQueueItem(context.Background(), cnf, item))
	assert.Contains(t, ds.Failed["qi_1"], "platform hiccup")
}

func TestProcessQueueItemSucceedsWithinRetryBudget(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	client := &fakePlatform{}
	engine := newTestEngine(ds, client)

	// Two retries already consumed; the third attempt succeeds.
	item := dueItem("qi_1")
	item.RetryCount = 2

	err := engine.processQueueItem(context.Background(), cnf, item)

	assert.NoError(t, err)
	assert.Equal(t, "qi_1", ds.SentID)
	assert.Empty(t, ds.Failed)
}

func TestProcessQueueItemCircuitOpenReschedulesWithoutRetry(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	client := &fakePlatform{
		PostContentFn: func(accessToken, text, replyToID string) (*platform.Post, error) {
			return nil, errors.New("down")
		},
	}
	engine := newTestEngine(ds, client)

	// Trip the post breaker so the next attempt is rejected outright.
	for i := 0; i < 5; i++ {
		_ = engine.breakers.Get(OpPost).Execute(context.Background(), func(ctx context.Context) error {
			return errors.New("down")
		})
	}

	before := client.PostCalls
	err := engine.processQueueItem(context.Background(), cnf, dueItem("qi_1"))

	assert.NoError(t, err)
	assert.Equal(t, before, client.PostCalls)
	assert.Zero(t, ds.Calls["RetryQueueItem"])

	next := ds.Rescheduled["qi_1"]
	expected := time.Now().Add(time.Duration(cnf.Queue.CircuitRetryDelaySec) * time.Second)
	assert.WithinDuration(t, expected, next, 5*time.Second)
}

func TestProcessQueueItemAccountRestrictedPausesAndFails(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	client := &fakePlatform{
		PostContentFn: func(accessToken, text, replyToID string) (*platform.Post, error) {
			return nil, errors.Wrap(platform.ErrAccountRestricted, "account suspended")
		},
	}
	engine := newTestEngine(ds, client)

	err := engine.processQueueItem(context.Background(), cnf, dueItem("qi_1"))

	assert.NoError(t, err)
	assert.Equal(t, []string{"acc_1"}, ds.DisabledPolicy)
	assert.Contains(t, ds.Failed["qi_1"], "account suspended")
}

func TestProcessQueueItemRateLimitPausesAndReschedules(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	client := &fakePlatform{
		PostContentFn: func(accessToken, text, replyToID string) (*platform.Post, error) {
			return nil, platform.ErrRateLimited
		},
	}
	engine := newTestEngine(ds, client)

	err := engine.processQueueItem(context.Background(), cnf, dueItem("qi_1"))

	assert.NoError(t, err)
	assert.Equal(t, []string{"acc_1"}, ds.DisabledPolicy)
	// Rate limits park the item instead of burning a retry.
	assert.Zero(t, ds.Calls["RetryQueueItem"])
	assert.Zero(t, ds.Calls["FailQueueItem"])
	assert.Equal(t, 1, ds.Calls["RescheduleQueueItem"])
}

func TestProcessQueueItemRateLimitWithoutPausePolicy(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetOrCreatePolicyFn = func(accountID string) (*model.AutomationPolicy, error) {
		p := alwaysOnPolicy(accountID)
		p.PauseOnRateLimit = false
		return p, nil
	}
	client := &fakePlatform{
		PostContentFn: func(accessToken, text, replyToID string) (*platform.Post, error) {
			return nil, platform.ErrRateLimited
		},
	}
	engine := newTestEngine(ds, client)

	err := engine.processQueueItem(context.Background(), cnf, dueItem("qi_1"))

	assert.NoError(t, err)
	assert.Empty(t, ds.DisabledPolicy)
	assert.Equal(t, 1, ds.Calls["RescheduleQueueItem"])
}

func TestProcessQueueItemReauthRequiredFails(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetCredentialFn = func(accountID string) (*model.Credential, error) {
		return &model.Credential{AccountID: accountID, IsActive: false}, nil
	}
	client := &fakePlatform{}
	engine := newTestEngine(ds, client)

	err := engine.processQueueItem(context.Background(), cnf, dueItem("qi_1"))

	assert.NoError(t, err)
	assert.Contains(t, ds.Failed["qi_1"], "reauthorization required")
	assert.Zero(t, client.PostCalls)
}

func TestProcessQueueItemPolicyErrorDefersItem(t *testing.T) {
	cnf := mockEngineConfig()

	ds := newFakeDataSource()
	ds.GetOrCreatePolicyFn = func(accountID string) (*model.AutomationPolicy, error) {
		return nil, errors.New("db gone")
	}
	client := &fakePlatform{}
	engine := newTestEngine(ds, client)

	err := engine.processQueueItem(context.Background(), cnf, dueItem("qi_1"))

	// Infrastructure errors surface to the batch but put the item back
	// without consuming a retry.
	assert.Error(t, err)
	assert.Equal(t, 1, ds.Calls["RescheduleQueueItem"])
	assert.Zero(t, ds.Calls["RetryQueueItem"])
	assert.Zero(t, client.PostCalls)
}
