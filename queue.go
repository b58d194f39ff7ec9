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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/replyloop/autopilot/config"
	"github.com/replyloop/autopilot/internal/breaker"
	"github.com/replyloop/autopilot/internal/notification"
	"github.com/replyloop/autopilot/model"
	"github.com/replyloop/autopilot/platform"

	"github.com/pkg/errors"
)

// BatchResult summarizes one processing pass. It is the payload of the
// trigger endpoint's response.
type BatchResult struct {
	Processed  int   `json:"processed"`
	Errors     int   `json:"errors"`
	DurationMs int64 `json:"duration_ms"`
}

// Add folds another batch into this one.
func (r *BatchResult) Add(other BatchResult) {
	r.Processed += other.Processed
	r.Errors += other.Errors
	r.DurationMs += other.DurationMs
}

// ProcessReplyQueue processes one bounded batch of due reply items. It is
// safe to invoke from overlapping triggers: the conditional pending to
// processing flip guarantees each item is attempted by at most one caller.
// One item's failure never aborts the rest of the batch.
func (a *Autopilot) ProcessReplyQueue(ctx context.Context) (BatchResult, error) {
	ctx, span := otel.Tracer("autopilot.queue").Start(ctx, "ProcessReplyQueue")
	defer span.End()

	start := time.Now()
	var result BatchResult

	cnf, err := config.Fetch()
	if err != nil {
		return result, err
	}

	items, err := a.datasource.GetDueQueueItems(ctx, time.Now(), cnf.Queue.BatchSize)
	if err != nil {
		return result, err
	}

	for _, item := range items {
		claimed, err := a.datasource.ClaimQueueItem(ctx, item.QueueItemID)
		if err != nil {
			logrus.Errorf("failed to claim queue item %s: %v", item.QueueItemID, err)
			result.Errors++
			continue
		}
		if !claimed {
			// Another processor run got there first.
			continue
		}

		result.Processed++
		if err := a.processQueueItem(ctx, cnf, item); err != nil {
			logrus.Errorf("queue item %s: %v", item.QueueItemID, err)
			result.Errors++
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// processQueueItem drives one claimed item through validation, compliance and
// the send itself. Returning nil means the item reached a coherent state, not
// necessarily that it was sent.
func (a *Autopilot) processQueueItem(ctx context.Context, cnf *config.Configuration, item *model.QueueItem) error {
	now := time.Now()

	if err := item.ValidateStructure(); err != nil {
		// Structural failures are terminal; retrying cannot fix them.
		if ferr := a.datasource.FailQueueItem(ctx, item.QueueItemID, err.Error()); ferr != nil {
			return ferr
		}
		a.emitEvent(model.NewSendEvent(model.EventSendFailed, item.AccountID, item.QueueItemID, map[string]interface{}{
			"error":    err.Error(),
			"terminal": true,
		}))
		return nil
	}

	policy, err := a.GetPolicy(ctx, item.AccountID)
	if err != nil {
		return a.deferItem(ctx, cnf, item, errors.Wrap(err, "policy unavailable"))
	}
	counters, err := a.datasource.GetSendCounters(ctx, item.AccountID, item.TargetUser, now)
	if err != nil {
		return a.deferItem(ctx, cnf, item, errors.Wrap(err, "counters unavailable"))
	}

	decision := CanSend(policy, counters, item, now)
	if !decision.Allowed {
		if decision.Permanent {
			logrus.Infof("queue item %s filtered: %s", item.QueueItemID, decision.Reason)
			return a.datasource.SkipQueueItem(ctx, item.QueueItemID, decision.Reason)
		}
		// A denial is a normal reschedule, not a failure. Never earlier
		// than now, to keep the queue from busy-polling.
		next := now.Add(decision.RetryAfter)
		if next.Before(now) {
			next = now
		}
		return a.datasource.RescheduleQueueItem(ctx, item.QueueItemID, next, decision.Reason)
	}

	var post *platform.Post
	sendErr := a.WithTokenRefresh(ctx, OpPost, item.AccountID, func(accessToken string) error {
		p, err := a.platform.PostContent(ctx, accessToken, item.Payload, item.TargetID)
		if err != nil {
			return err
		}
		post = p
		return nil
	})
	if sendErr != nil {
		return a.handleSendFailure(ctx, cnf, item, policy, sendErr)
	}

	sentAt := time.Now()
	if err := a.datasource.MarkQueueItemSent(ctx, item.QueueItemID, post.ID, sentAt); err != nil {
		return err
	}

	event := model.EventPostSent
	if item.IsReplyItem() {
		event = model.EventReplySent
	}
	a.emitEvent(model.NewSendEvent(event, item.AccountID, item.QueueItemID, map[string]interface{}{
		"platform_post_id": post.ID,
		"target_id":        item.TargetID,
		"retry_count":      item.RetryCount,
	}))
	return nil
}

// handleSendFailure classifies a send error and moves the item to the state
// the failure calls for.
func (a *Autopilot) handleSendFailure(ctx context.Context, cnf *config.Configuration, item *model.QueueItem, policy *model.AutomationPolicy, sendErr error) error {
	now := time.Now()

	switch {
	case breaker.IsCircuitOpen(sendErr):
		// External outage, not the item's fault: short reschedule, no
		// retry consumed.
		next := now.Add(time.Duration(cnf.Queue.CircuitRetryDelaySec) * time.Second)
		return a.datasource.RescheduleQueueItem(ctx, item.QueueItemID, next, sendErr.Error())

	case platform.IsAccountRestricted(sendErr):
		if policy.PauseOnBlock {
			a.emergencyPause(ctx, item.AccountID, sendErr.Error())
		}
		return a.failItem(ctx, item, sendErr)

	case platform.IsRateLimited(sendErr):
		if policy.PauseOnRateLimit {
			a.emergencyPause(ctx, item.AccountID, sendErr.Error())
		}
		next := now.Add(time.Duration(cnf.Queue.CircuitRetryDelaySec) * time.Second)
		return a.datasource.RescheduleQueueItem(ctx, item.QueueItemID, next, sendErr.Error())

	case IsReauthRequired(sendErr):
		// The wrapper already deactivated the credential.
		return a.failItem(ctx, item, sendErr)

	default:
		retryCount := item.RetryCount + 1
		if retryCount >= cnf.Queue.MaxRetries {
			return a.failItem(ctx, item, sendErr)
		}
		// Fixed delay, mirroring the compliance minimum spacing.
		next := now.Add(time.Duration(cnf.Queue.RetryDelaySec) * time.Second)
		return a.datasource.RetryQueueItem(ctx, item.QueueItemID, retryCount, next, sendErr.Error())
	}
}

// failItem marks an item terminally failed and emits the failure event.
func (a *Autopilot) failItem(ctx context.Context, item *model.QueueItem, sendErr error) error {
	if err := a.datasource.FailQueueItem(ctx, item.QueueItemID, sendErr.Error()); err != nil {
		return err
	}
	a.emitEvent(model.NewSendEvent(model.EventSendFailed, item.AccountID, item.QueueItemID, map[string]interface{}{
		"error":       sendErr.Error(),
		"retry_count": item.RetryCount,
	}))
	return nil
}

// deferItem puts a claimed item back to pending after an infrastructure
// error, without consuming a retry, and propagates the error to the batch.
func (a *Autopilot) deferItem(ctx context.Context, cnf *config.Configuration, item *model.QueueItem, cause error) error {
	next := time.Now().Add(time.Duration(cnf.Queue.RetryDelaySec) * time.Second)
	if err := a.datasource.RescheduleQueueItem(ctx, item.QueueItemID, next, cause.Error()); err != nil {
		logrus.Errorf("failed to defer queue item %s: %v", item.QueueItemID, err)
	}
	return cause
}

// emergencyPause flips the account's policy off after a detected block or
// rate-limit signal. This is the only policy field the engine writes, and it
// is logged as a distinct event type.
func (a *Autopilot) emergencyPause(ctx context.Context, accountID, reason string) {
	if err := a.datasource.DisablePolicy(ctx, accountID); err != nil {
		logrus.Errorf("emergency pause failed for account %s: %v", accountID, err)
		return
	}
	if err := a.cache.Delete(ctx, policyCacheKey(accountID)); err != nil {
		logrus.Warnf("failed to invalidate policy cache for account %s: %v", accountID, err)
	}

	logrus.WithFields(logrus.Fields{
		"account_id": accountID,
		"reason":     reason,
	}).Warn("emergency pause engaged")

	a.emitEvent(model.NewSendEvent(model.EventEmergencyPause, accountID, "", map[string]interface{}{
		"reason": reason,
	}))
	notification.NotifyError(errors.Errorf("automation paused for account %s: %s", accountID, reason))
}
