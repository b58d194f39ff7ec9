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

package database

import (
	"context"
	"time"

	"github.com/replyloop/autopilot/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	queueItem     // Interface for reply-queue operations
	scheduledPost // Interface for scheduled post and thread operations
	policy        // Interface for automation policy operations
	credential    // Interface for platform credential operations
}

// queueItem defines methods for handling reply queue items.
type queueItem interface {
	CreateQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error)                        // Inserts a new pending item
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)                                       // Retrieves an item by ID
	GetDueQueueItems(ctx context.Context, now time.Time, limit int) ([]*model.QueueItem, error)                  // Retrieves due pending items, oldest schedule first
	ClaimQueueItem(ctx context.Context, id string) (bool, error)                                                 // Atomically flips pending to processing; false if already taken
	MarkQueueItemSent(ctx context.Context, id string, platformPostID string, sentAt time.Time) error             // Terminal success
	RescheduleQueueItem(ctx context.Context, id string, scheduledFor time.Time, lastError string) error          // Back to pending without consuming a retry
	RetryQueueItem(ctx context.Context, id string, retryCount int, scheduledFor time.Time, lastError string) error // Back to pending with a consumed retry
	FailQueueItem(ctx context.Context, id string, lastError string) error                                        // Terminal failure
	CancelQueueItem(ctx context.Context, id string) (bool, error)                                                // Cancels a pending item; false if not pending
	SkipQueueItem(ctx context.Context, id string, reason string) error                                           // Cancels a claimed item that can never pass the content filters
	GetStuckQueueItems(ctx context.Context, cutoff time.Time, limit int) ([]*model.QueueItem, error)             // Retrieves items abandoned in processing by a dead worker
	GetQueueStats(ctx context.Context) (map[model.Status]int, error)                                             // Counts items per status
	GetSendCounters(ctx context.Context, accountID, targetUser string, now time.Time) (model.SendCounters, error) // Live compliance counters for one user
}

// scheduledPost defines methods for handling scheduled standalone posts and threads.
type scheduledPost interface {
	CreateScheduledPost(ctx context.Context, post *model.ScheduledPost) (*model.ScheduledPost, error)
	GetScheduledPost(ctx context.Context, id string) (*model.ScheduledPost, error)
	GetDueScheduledPosts(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledPost, error)
	ClaimScheduledPost(ctx context.Context, id string) (bool, error)
	GetStuckScheduledPosts(ctx context.Context, cutoff time.Time, limit int) ([]*model.ScheduledPost, error)
	SaveScheduledPostProgress(ctx context.Context, id string, parts []model.PostPart, publishedCount int) error // Persists platform ids as thread parts publish
	MarkScheduledPostSent(ctx context.Context, id string, sentAt time.Time) error
	RescheduleScheduledPost(ctx context.Context, id string, scheduledFor time.Time, lastError string) error
	RetryScheduledPost(ctx context.Context, id string, retryCount int, scheduledFor time.Time, lastError string) error
	FailScheduledPost(ctx context.Context, id string, publishedCount int, lastError string) error
}

// policy defines methods for handling automation policies.
type policy interface {
	GetOrCreatePolicy(ctx context.Context, accountID string) (*model.AutomationPolicy, error) // Creates safe defaults on first use
	UpdatePolicy(ctx context.Context, policy *model.AutomationPolicy) error
	DisablePolicy(ctx context.Context, accountID string) error // Emergency pause
}

// credential defines methods for handling platform credentials.
// Token values are encrypted before they reach the table.
type credential interface {
	SaveCredential(ctx context.Context, cred *model.Credential) error
	GetCredential(ctx context.Context, accountID string) (*model.Credential, error)
	UpdateCredentialTokens(ctx context.Context, accountID, accessToken, refreshToken string) error
	TouchCredentialActivity(ctx context.Context, accountID string, at time.Time) error
	DeactivateCredential(ctx context.Context, accountID string) error
	GetStaleCredentials(ctx context.Context, cutoff time.Time) ([]*model.Credential, error)
}
