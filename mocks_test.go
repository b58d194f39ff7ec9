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
	"sync"
	"time"

	"github.com/replyloop/autopilot/config"
	"github.com/replyloop/autopilot/internal/breaker"
	"github.com/replyloop/autopilot/model"
	"github.com/replyloop/autopilot/platform"
)

// fakeDataSource is a scripted IDataSource. Tests override the function
// fields they care about; everything else is a no-op. Calls records every
// method invocation for exactly-once assertions.
type fakeDataSource struct {
	mu    sync.Mutex
	Calls map[string]int

	GetDueQueueItemsFn  func(now time.Time, limit int) ([]*model.QueueItem, error)
	ClaimQueueItemFn    func(id string) (bool, error)
	GetCredentialFn     func(accountID string) (*model.Credential, error)
	GetOrCreatePolicyFn func(accountID string) (*model.AutomationPolicy, error)
	GetSendCountersFn   func(accountID, targetUser string, now time.Time) (model.SendCounters, error)

	GetDueScheduledPostsFn func(now time.Time, limit int) ([]*model.ScheduledPost, error)
	ClaimScheduledPostFn   func(id string) (bool, error)

	GetStuckQueueItemsFn     func(cutoff time.Time, limit int) ([]*model.QueueItem, error)
	GetStuckScheduledPostsFn func(cutoff time.Time, limit int) ([]*model.ScheduledPost, error)

	// Outcomes recorded by the write methods.
	SentID          string
	SentPlatformID  string
	Rescheduled     map[string]time.Time
	RescheduleError map[string]string
	Retried         map[string]int
	Failed          map[string]string
	Skipped         map[string]string
	UpdatedTokens   []string
	Deactivated     []string
	DisabledPolicy  []string
	PostProgress    map[string]int
	PostFailed      map[string]int
}

func newFakeDataSource() *fakeDataSource {
	return &fakeDataSource{
		Calls:           make(map[string]int),
		Rescheduled:     make(map[string]time.Time),
		RescheduleError: make(map[string]string),
		Retried:         make(map[string]int),
		Failed:          make(map[string]string),
		Skipped:         make(map[string]string),
		PostProgress:    make(map[string]int),
		PostFailed:      make(map[string]int),
	}
}

func (f *fakeDataSource) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[method]++
}

func (f *fakeDataSource) CreateQueueItem(_ context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	f.record("CreateQueueItem")
	return item, nil
}

func (f *fakeDataSource) GetQueueItem(_ context.Context, id string) (*model.QueueItem, error) {
	f.record("GetQueueItem")
	return &model.QueueItem{QueueItemID: id}, nil
}

func (f *fakeDataSource) GetDueQueueItems(_ context.Context, now time.Time, limit int) ([]*model.QueueItem, error) {
	f.record("GetDueQueueItems")
	if f.GetDueQueueItemsFn != nil {
		return f.GetDueQueueItemsFn(now, limit)
	}
	return nil, nil
}

func (f *fakeDataSource) ClaimQueueItem(_ context.Context, id string) (bool, error) {
	f.record("ClaimQueueItem")
	if f.ClaimQueueItemFn != nil {
		return f.ClaimQueueItemFn(id)
	}
	return true, nil
}

func (f *fakeDataSource) MarkQueueItemSent(_ context.Context, id string, platformPostID string, _ time.Time) error {
	f.record("MarkQueueItemSent")
	f.SentID = id
	f.SentPlatformID = platformPostID
	return nil
}

func (f *fakeDataSource) RescheduleQueueItem(_ context.Context, id string, scheduledFor time.Time, lastError string) error {
	f.record("RescheduleQueueItem")
	f.Rescheduled[id] = scheduledFor
	f.RescheduleError[id] = lastError
	return nil
}

func (f *fakeDataSource) RetryQueueItem(_ context.Context, id string, retryCount int, _ time.Time, _ string) error {
	f.record("RetryQueueItem")
	f.Retried[id] = retryCount
	return nil
}

func (f *fakeDataSource) FailQueueItem(_ context.Context, id string, lastError string) error {
	f.record("FailQueueItem")
	f.Failed[id] = lastError
	return nil
}

func (f *fakeDataSource) CancelQueueItem(_ context.Context, id string) (bool, error) {
	f.record("CancelQueueItem")
	return true, nil
}

func (f *fakeDataSource) SkipQueueItem(_ context.Context, id string, reason string) error {
	f.record("SkipQueueItem")
	f.Skipped[id] = reason
	return nil
}

func (f *fakeDataSource) GetStuckQueueItems(_ context.Context, cutoff time.Time, limit int) ([]*model.QueueItem, error) {
	f.record("GetStuckQueueItems")
	if f.GetStuckQueueItemsFn != nil {
		return f.GetStuckQueueItemsFn(cutoff, limit)
	}
	return nil, nil
}

func (f *fakeDataSource) GetQueueStats(_ context.Context) (map[model.Status]int, error) {
	f.record("GetQueueStats")
	return map[model.Status]int{}, nil
}

func (f *fakeDataSource) GetSendCounters(_ context.Context, accountID, targetUser string, now time.Time) (model.SendCounters, error) {
	f.record("GetSendCounters")
	if f.GetSendCountersFn != nil {
		return f.GetSendCountersFn(accountID, targetUser, now)
	}
	return model.SendCounters{}, nil
}

func (f *fakeDataSource) CreateScheduledPost(_ context.Context, post *model.ScheduledPost) (*model.ScheduledPost, error) {
	f.record("CreateScheduledPost")
	return post, nil
}

func (f *fakeDataSource) GetScheduledPost(_ context.Context, id string) (*model.ScheduledPost, error) {
	f.record("GetScheduledPost")
	return &model.ScheduledPost{PostID: id}, nil
}

func (f *fakeDataSource) GetDueScheduledPosts(_ context.Context, now time.Time, limit int) ([]*model.ScheduledPost, error) {
	f.record("GetDueScheduledPosts")
	if f.GetDueScheduledPostsFn != nil {
		return f.GetDueScheduledPostsFn(now, limit)
	}
	return nil, nil
}

func (f *fakeDataSource) ClaimScheduledPost(_ context.Context, id string) (bool, error) {
	f.record("ClaimScheduledPost")
	if f.ClaimScheduledPostFn != nil {
		return f.ClaimScheduledPostFn(id)
	}
	return true, nil
}

func (f *fakeDataSource) GetStuckScheduledPosts(_ context.Context, cutoff time.Time, limit int) ([]*model.ScheduledPost, error) {
	f.record("GetStuckScheduledPosts")
	if f.GetStuckScheduledPostsFn != nil {
		return f.GetStuckScheduledPostsFn(cutoff, limit)
	}
	return nil, nil
}

func (f *fakeDataSource) SaveScheduledPostProgress(_ context.Context, id string, _ []model.PostPart, publishedCount int) error {
	f.record("SaveScheduledPostProgress")
	f.PostProgress[id] = publishedCount
	return nil
}

func (f *fakeDataSource) MarkScheduledPostSent(_ context.Context, id string, _ time.Time) error {
	f.record("MarkScheduledPostSent")
	f.SentID = id
	return nil
}

func (f *fakeDataSource) RescheduleScheduledPost(_ context.Context, id string, scheduledFor time.Time, lastError string) error {
	f.record("RescheduleScheduledPost")
	f.Rescheduled[id] = scheduledFor
	f.RescheduleError[id] = lastError
	return nil
}

func (f *fakeDataSource) RetryScheduledPost(_ context.Context, id string, retryCount int, _ time.Time, _ string) error {
	f.record("RetryScheduledPost")
	f.Retried[id] = retryCount
	return nil
}

func (f *fakeDataSource) FailScheduledPost(_ context.Context, id string, publishedCount int, lastError string) error {
	f.record("FailScheduledPost")
	f.PostFailed[id] = publishedCount
	f.Failed[id] = lastError
	return nil
}

func (f *fakeDataSource) GetOrCreatePolicy(_ context.Context, accountID string) (*model.AutomationPolicy, error) {
	f.record("GetOrCreatePolicy")
	if f.GetOrCreatePolicyFn != nil {
		return f.GetOrCreatePolicyFn(accountID)
	}
	return alwaysOnPolicy(accountID), nil
}

func (f *fakeDataSource) UpdatePolicy(_ context.Context, _ *model.AutomationPolicy) error {
	f.record("UpdatePolicy")
	return nil
}

func (f *fakeDataSource) DisablePolicy(_ context.Context, accountID string) error {
	f.record("DisablePolicy")
	f.DisabledPolicy = append(f.DisabledPolicy, accountID)
	return nil
}

func (f *fakeDataSource) SaveCredential(_ context.Context, _ *model.Credential) error {
	f.record("SaveCredential")
	return nil
}

func (f *fakeDataSource) GetCredential(_ context.Context, accountID string) (*model.Credential, error) {
	f.record("GetCredential")
	if f.GetCredentialFn != nil {
		return f.GetCredentialFn(accountID)
	}
	return &model.Credential{AccountID: accountID, AccessToken: "live-token", RefreshToken: "refresh-token", IsActive: true}, nil
}

func (f *fakeDataSource) UpdateCredentialTokens(_ context.Context, accountID, accessToken, refreshToken string) error {
	f.record("UpdateCredentialTokens")
	f.UpdatedTokens = append(f.UpdatedTokens, accessToken)
	return nil
}

func (f *fakeDataSource) TouchCredentialActivity(_ context.Context, _ string, _ time.Time) error {
	f.record("TouchCredentialActivity")
	return nil
}

func (f *fakeDataSource) DeactivateCredential(_ context.Context, accountID string) error {
	f.record("DeactivateCredential")
	f.Deactivated = append(f.Deactivated, accountID)
	return nil
}

func (f *fakeDataSource) GetStaleCredentials(_ context.Context, _ time.Time) ([]*model.Credential, error) {
	f.record("GetStaleCredentials")
	return nil, nil
}

// fakePlatform is a scripted platform client.
type fakePlatform struct {
	mu        sync.Mutex
	PostCalls int

	PostContentFn  func(accessToken, text, replyToID string) (*platform.Post, error)
	RefreshTokenFn func(refreshToken string) (*platform.TokenPair, error)
	VerifyFn       func(accessToken string) error
}

func (f *fakePlatform) PostContent(_ context.Context, accessToken, text, replyToID string) (*platform.Post, error) {
	f.mu.Lock()
	f.PostCalls++
	f.mu.Unlock()
	if f.PostContentFn != nil {
		return f.PostContentFn(accessToken, text, replyToID)
	}
	return &platform.Post{ID: "900001", Text: text}, nil
}

func (f *fakePlatform) RefreshToken(_ context.Context, refreshToken string) (*platform.TokenPair, error) {
	if f.RefreshTokenFn != nil {
		return f.RefreshTokenFn(refreshToken)
	}
	return &platform.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
}

func (f *fakePlatform) VerifyCredentials(_ context.Context, accessToken string) error {
	if f.VerifyFn != nil {
		return f.VerifyFn(accessToken)
	}
	return nil
}

// mockCache is an in-memory cache.Cache for tests.
type mockCache struct {
	mu    sync.Mutex
	items map[string]interface{}
}

func newMockCache() *mockCache {
	return &mockCache{items: make(map[string]interface{})}
}

func (m *mockCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *mockCache) Get(_ context.Context, key string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value, ok := m.items[key]; ok {
		if p, ok := data.(*model.AutomationPolicy); ok {
			if v, ok := value.(*model.AutomationPolicy); ok {
				*p = *v
			}
		}
	}
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// alwaysOnPolicy permits sending at any time of any day, so processor tests
// are not hostage to the wall clock.
func alwaysOnPolicy(accountID string) *model.AutomationPolicy {
	p := model.DefaultPolicy(accountID)
	p.ActiveStart = model.ClockTime{Hour: 0, Minute: 0}
	p.ActiveEnd = model.ClockTime{Hour: 23, Minute: 59}
	p.ActiveDays = []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
	p.MinIntervalGlobal = 0
	p.MinIntervalPerTarget = 0
	return p
}

// newTestEngine builds an engine around scripted collaborators, bypassing
// the redis-backed constructor.
func newTestEngine(ds *fakeDataSource, client platform.Client) *Autopilot {
	return &Autopilot{
		datasource: ds,
		platform:   client,
		breakers:   breaker.NewRegistry(breaker.DefaultFailureThreshold, breaker.DefaultCooldownPeriod),
		cache:      newMockCache(),
	}
}

func mockEngineConfig() *config.Configuration {
	cnf := &config.Configuration{}
	cnf.Queue.BatchSize = 10
	cnf.Queue.MaxRetries = 3
	cnf.Queue.RetryDelaySec = 300
	cnf.Queue.CircuitRetryDelaySec = 600
	cnf.Queue.ThreadPacingSec = 0
	cnf.Queue.StuckThresholdSec = 600
	cnf.Queue.EventQueue = "send_events"
	cnf.Breaker.FailureThreshold = 5
	cnf.Breaker.CooldownSec = 60
	cnf.Scheduler.IntervalSec = 60
	cnf.Scheduler.TokenSweepEvery = 30
	cnf.Scheduler.StalenessThreshold = 12
	config.MockConfig(cnf)
	return cnf
}
