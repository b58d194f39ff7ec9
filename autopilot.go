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
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/replyloop/autopilot/cache"
	"github.com/replyloop/autopilot/config"
	"github.com/replyloop/autopilot/database"
	"github.com/replyloop/autopilot/internal/breaker"
	redis_db "github.com/replyloop/autopilot/internal/redis-db"
	"github.com/replyloop/autopilot/model"
	"github.com/replyloop/autopilot/platform"
)

// Breaker operation names. Each owns an independent circuit so a failing
// token-refresh endpoint never blocks plain posting and vice versa.
const (
	OpPost    = "post"
	OpRefresh = "refresh"
	OpLookup  = "lookup"
)

const policyCacheTTL = 5 * time.Minute

// Autopilot is the delivery engine. It owns the breaker registry and talks to
// everything else through interfaces.
type Autopilot struct {
	datasource database.IDataSource
	platform   platform.Client
	breakers   *breaker.Registry
	redis      redis.UniversalClient
	cache      cache.Cache
}

// NewAutopilot initializes the delivery engine with the provided datasource
// and platform client. It fetches the configuration and wires up Redis, the
// policy cache and the circuit breaker registry.
func NewAutopilot(db database.IDataSource, client platform.Client) (*Autopilot, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	policyCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}
	registry := breaker.NewRegistry(configuration.Breaker.FailureThreshold, time.Duration(configuration.Breaker.CooldownSec)*time.Second)

	newAutopilot := &Autopilot{
		datasource: db,
		platform:   client,
		breakers:   registry,
		redis:      redisClient.Client(),
		cache:      policyCache,
	}
	return newAutopilot, nil
}

// EnqueueReply inserts a new reply item in pending state after validating it.
func (a *Autopilot) EnqueueReply(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	if err := item.ValidateStructure(); err != nil {
		return nil, err
	}
	return a.datasource.CreateQueueItem(ctx, item)
}

// SchedulePost inserts a new scheduled post or thread in pending state.
func (a *Autopilot) SchedulePost(ctx context.Context, post *model.ScheduledPost) (*model.ScheduledPost, error) {
	if err := post.ValidateStructure(); err != nil {
		return nil, err
	}
	return a.datasource.CreateScheduledPost(ctx, post)
}

// GetQueueItem retrieves a queue item by id.
func (a *Autopilot) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	return a.datasource.GetQueueItem(ctx, id)
}

// GetScheduledPost retrieves a scheduled post by id.
func (a *Autopilot) GetScheduledPost(ctx context.Context, id string) (*model.ScheduledPost, error) {
	return a.datasource.GetScheduledPost(ctx, id)
}

// CancelReply cancels a pending queue item. Items already processing finish
// their current attempt; cancellation only takes effect while pending.
func (a *Autopilot) CancelReply(ctx context.Context, id string) (bool, error) {
	return a.datasource.CancelQueueItem(ctx, id)
}

// QueueStats returns the per-status item counts for the operator dashboard.
func (a *Autopilot) QueueStats(ctx context.Context) (map[model.Status]int, error) {
	return a.datasource.GetQueueStats(ctx)
}

// GetPolicy returns the account's automation policy, creating defaults on
// first use. Reads go through the policy cache.
func (a *Autopilot) GetPolicy(ctx context.Context, accountID string) (*model.AutomationPolicy, error) {
	key := policyCacheKey(accountID)
	var cached model.AutomationPolicy
	if err := a.cache.Get(ctx, key, &cached); err == nil && cached.PolicyID != "" {
		return &cached, nil
	}

	policy, err := a.datasource.GetOrCreatePolicy(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := a.cache.Set(ctx, key, policy, policyCacheTTL); err != nil {
		logrus.Warnf("failed to cache policy for account %s: %v", accountID, err)
	}
	return policy, nil
}

// UpdatePolicy merges a partial user edit onto the stored policy, clamping
// each field to its safe range, and invalidates the cache entry.
func (a *Autopilot) UpdatePolicy(ctx context.Context, accountID string, update model.PolicyUpdate) (*model.AutomationPolicy, error) {
	policy, err := a.datasource.GetOrCreatePolicy(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := policy.Apply(update); err != nil {
		return nil, err
	}
	if err := a.datasource.UpdatePolicy(ctx, policy); err != nil {
		return nil, err
	}
	if err := a.cache.Delete(ctx, policyCacheKey(accountID)); err != nil {
		logrus.Warnf("failed to invalidate policy cache for account %s: %v", accountID, err)
	}
	return policy, nil
}

// ConnectAccount stores a fresh credential pair for an account.
func (a *Autopilot) ConnectAccount(ctx context.Context, cred *model.Credential) error {
	cred.IsActive = true
	cred.LastActivity = time.Now()
	return a.datasource.SaveCredential(ctx, cred)
}

// DisconnectAccount clears the stored tokens for an account.
func (a *Autopilot) DisconnectAccount(ctx context.Context, accountID string) error {
	return a.datasource.DeactivateCredential(ctx, accountID)
}

func policyCacheKey(accountID string) string {
	return fmt.Sprintf("autopilot:policy:%s", accountID)
}
