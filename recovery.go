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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/replyloop/autopilot/config"
	"github.com/replyloop/autopilot/model"

	"github.com/pkg/errors"
)

// minStuckThreshold floors the recovery threshold so a sweep never steals an
// item from a worker that is merely slow.
const minStuckThreshold = 2 * time.Minute

// RecoverStuckDeliveries requeues queue items and scheduled posts that a dead
// worker left in processing. Each requeue consumes a retry, so an item that
// keeps killing its worker still terminates in failed once the retry budget
// runs out. A crash between the platform call and the sent write makes
// recovery at-least-once; the platform offers no idempotency key to dedupe on.
// Returns how many deliveries were moved out of processing.
func (a *Autopilot) RecoverStuckDeliveries(ctx context.Context, threshold time.Duration) (int, error) {
	ctx, span := otel.Tracer("autopilot.queue").Start(ctx, "RecoverStuckDeliveries")
	defer span.End()

	if threshold < minStuckThreshold {
		threshold = minStuckThreshold
	}

	cnf, err := config.Fetch()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-threshold)
	recovered := 0

	items, err := a.datasource.GetStuckQueueItems(ctx, cutoff, cnf.Queue.BatchSize)
	if err != nil {
		return recovered, err
	}
	for _, item := range items {
		retryCount := item.RetryCount + 1
		if retryCount >= cnf.Queue.MaxRetries {
			if err := a.failItem(ctx, item, errors.Errorf("abandoned in processing; retry budget exhausted after %d attempts", retryCount)); err != nil {
				logrus.Errorf("failed to resolve stuck queue item %s: %v", item.QueueItemID, err)
				continue
			}
		} else {
			if err := a.datasource.RetryQueueItem(ctx, item.QueueItemID, retryCount, time.Now(), "requeued after processing stall"); err != nil {
				logrus.Errorf("failed to requeue stuck queue item %s: %v", item.QueueItemID, err)
				continue
			}
		}
		logrus.Warnf("recovered stuck queue item %s (attempt %d)", item.QueueItemID, retryCount)
		recovered++
	}

	posts, err := a.datasource.GetStuckScheduledPosts(ctx, cutoff, cnf.Queue.BatchSize)
	if err != nil {
		return recovered, err
	}
	for _, post := range posts {
		retryCount := post.RetryCount + 1
		if retryCount >= cnf.Queue.MaxRetries {
			msg := fmt.Sprintf("abandoned in processing; retry budget exhausted after %d attempts", retryCount)
			if err := a.datasource.FailScheduledPost(ctx, post.PostID, post.PublishedCount, msg); err != nil {
				logrus.Errorf("failed to resolve stuck scheduled post %s: %v", post.PostID, err)
				continue
			}
			a.emitEvent(model.NewSendEvent(model.EventSendFailed, post.AccountID, post.PostID, map[string]interface{}{
				"error":           msg,
				"published_parts": post.PublishedCount,
			}))
		} else {
			// Requeued mid-thread posts resume from the persisted published
			// count, so the already-visible prefix is not duplicated.
			if err := a.datasource.RetryScheduledPost(ctx, post.PostID, retryCount, time.Now(), "requeued after processing stall"); err != nil {
				logrus.Errorf("failed to requeue stuck scheduled post %s: %v", post.PostID, err)
				continue
			}
		}
		logrus.Warnf("recovered stuck scheduled post %s (attempt %d)", post.PostID, retryCount)
		recovered++
	}

	return recovered, nil
}
