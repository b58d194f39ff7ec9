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
	"github.com/replyloop/autopilot/internal/breaker"
	"github.com/replyloop/autopilot/model"
	"github.com/replyloop/autopilot/platform"
)

// ProcessScheduledPosts processes one bounded batch of due standalone posts
// and threads. Claiming works the same way as for reply items, so concurrent
// triggers are safe here too.
func (a *Autopilot) ProcessScheduledPosts(ctx context.Context) (BatchResult, error) {
	ctx, span := otel.Tracer("autopilot.queue").Start(ctx, "ProcessScheduledPosts")
	defer span.End()

	start := time.Now()
	var result BatchResult

	cnf, err := config.Fetch()
	if err != nil {
		return result, err
	}

	posts, err := a.datasource.GetDueScheduledPosts(ctx, time.Now(), cnf.Queue.BatchSize)
	if err != nil {
		return result, err
	}

	for _, post := range posts {
		claimed, err := a.datasource.ClaimScheduledPost(ctx, post.PostID)
		if err != nil {
			logrus.Errorf("failed to claim scheduled post %s: %v", post.PostID, err)
			result.Errors++
			continue
		}
		if !claimed {
			continue
		}

		result.Processed++
		if err := a.processScheduledPost(ctx, cnf, post); err != nil {
			logrus.Errorf("scheduled post %s: %v", post.PostID, err)
			result.Errors++
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// processScheduledPost publishes a post or thread. Thread parts are published
// in order, each replying to the previous part's platform id, with a short
// pacing delay in between. A failure after at least one part has been
// published is terminal: the platform has no way to un-publish the prefix,
// so the parent is failed with the published count preserved.
func (a *Autopilot) processScheduledPost(ctx context.Context, cnf *config.Configuration, post *model.ScheduledPost) error {
	now := time.Now()

	if err := post.ValidateStructure(); err != nil {
		if ferr := a.datasource.FailScheduledPost(ctx, post.PostID, post.PublishedCount, err.Error()); ferr != nil {
			return ferr
		}
		a.emitEvent(model.NewSendEvent(model.EventSendFailed, post.AccountID, post.PostID, map[string]interface{}{
			"error":    err.Error(),
			"terminal": true,
		}))
		return nil
	}

	policy, err := a.GetPolicy(ctx, post.AccountID)
	if err != nil {
		next := now.Add(time.Duration(cnf.Queue.RetryDelaySec) * time.Second)
		if rerr := a.datasource.RescheduleScheduledPost(ctx, post.PostID, next, err.Error()); rerr != nil {
			logrus.Errorf("failed to defer scheduled post %s: %v", post.PostID, rerr)
		}
		return err
	}
	counters, err := a.datasource.GetSendCounters(ctx, post.AccountID, "", now)
	if err != nil {
		next := now.Add(time.Duration(cnf.Queue.RetryDelaySec) * time.Second)
		if rerr := a.datasource.RescheduleScheduledPost(ctx, post.PostID, next, err.Error()); rerr != nil {
			logrus.Errorf("failed to defer scheduled post %s: %v", post.PostID, rerr)
		}
		return err
	}

	// No content filters apply to the account's own posts; nil item skips them.
	decision := CanSend(policy, counters, nil, now)
	if !decision.Allowed {
		next := now.Add(decision.RetryAfter)
		if next.Before(now) {
			next = now
		}
		return a.datasource.RescheduleScheduledPost(ctx, post.PostID, next, decision.Reason)
	}

	pacing := time.Duration(cnf.Queue.ThreadPacingSec) * time.Second
	parts := post.Parts
	var prevID string
	if post.PublishedCount > 0 && post.PublishedCount <= len(parts) {
		prevID = parts[post.PublishedCount-1].PlatformID
	}

	for i := post.PublishedCount; i < len(parts); i++ {
		if i > post.PublishedCount {
			time.Sleep(pacing)
		}

		replyTo := prevID
		text := parts[i].Text
		var published *platform.Post
		sendErr := a.WithTokenRefresh(ctx, OpPost, post.AccountID, func(accessToken string) error {
			p, err := a.platform.PostContent(ctx, accessToken, text, replyTo)
			if err != nil {
				return err
			}
			published = p
			return nil
		})
		if sendErr != nil {
			return a.handlePostFailure(ctx, cnf, post, policy, i, sendErr)
		}

		parts[i].PlatformID = published.ID
		prevID = published.ID
		if err := a.datasource.SaveScheduledPostProgress(ctx, post.PostID, parts, i+1); err != nil {
			return err
		}
	}

	sentAt := time.Now()
	if err := a.datasource.MarkScheduledPostSent(ctx, post.PostID, sentAt); err != nil {
		return err
	}
	a.emitEvent(model.NewSendEvent(model.EventPostSent, post.AccountID, post.PostID, map[string]interface{}{
		"parts":       len(parts),
		"thread":      post.IsThread(),
		"retry_count": post.RetryCount,
	}))
	return nil
}

// handlePostFailure resolves a failed part publish. publishedCount is how
// many parts made it out before the failure.
func (a *Autopilot) handlePostFailure(ctx context.Context, cnf *config.Configuration, post *model.ScheduledPost, policy *model.AutomationPolicy, publishedCount int, sendErr error) error {
	now := time.Now()

	if publishedCount > 0 {
		// Partial thread: the published prefix cannot be taken back, so
		// retrying from scratch would duplicate it. Terminal.
		if err := a.datasource.FailScheduledPost(ctx, post.PostID, publishedCount,
			fmt.Sprintf("thread failed after %d of %d parts: %v", publishedCount, len(post.Parts), sendErr)); err != nil {
			return err
		}
		a.emitEvent(model.NewSendEvent(model.EventSendFailed, post.AccountID, post.PostID, map[string]interface{}{
			"error":           sendErr.Error(),
			"published_parts": publishedCount,
			"total_parts":     len(post.Parts),
		}))
		return nil
	}

	switch {
	case breaker.IsCircuitOpen(sendErr):
		next := now.Add(time.Duration(cnf.Queue.CircuitRetryDelaySec) * time.Second)
		return a.datasource.RescheduleScheduledPost(ctx, post.PostID, next, sendErr.Error())

	case platform.IsAccountRestricted(sendErr):
		if policy.PauseOnBlock {
			a.emergencyPause(ctx, post.AccountID, sendErr.Error())
		}
		return a.failPost(ctx, post, sendErr)

	case platform.IsRateLimited(sendErr):
		if policy.PauseOnRateLimit {
			a.emergencyPause(ctx, post.AccountID, sendErr.Error())
		}
		next := now.Add(time.Duration(cnf.Queue.CircuitRetryDelaySec) * time.Second)
		return a.datasource.RescheduleScheduledPost(ctx, post.PostID, next, sendErr.Error())

	case IsReauthRequired(sendErr):
		return a.failPost(ctx, post, sendErr)

	default:
		retryCount := post.RetryCount + 1
		if retryCount >= cnf.Queue.MaxRetries {
			return a.failPost(ctx, post, sendErr)
		}
		next := now.Add(time.Duration(cnf.Queue.RetryDelaySec) * time.Second)
		return a.datasource.RetryScheduledPost(ctx, post.PostID, retryCount, next, sendErr.Error())
	}
}

func (a *Autopilot) failPost(ctx context.Context, post *model.ScheduledPost, sendErr error) error {
	if err := a.datasource.FailScheduledPost(ctx, post.PostID, 0, sendErr.Error()); err != nil {
		return err
	}
	a.emitEvent(model.NewSendEvent(model.EventSendFailed, post.AccountID, post.PostID, map[string]interface{}{
		"error":       sendErr.Error(),
		"retry_count": post.RetryCount,
	}))
	return nil
}
