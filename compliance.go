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
	"time"

	"github.com/replyloop/autopilot/model"
)

// Denial reasons, stable strings surfaced in last_error and logs.
const (
	ReasonDisabled        = "automation_disabled"
	ReasonInactiveDay     = "outside_active_days"
	ReasonOutsideHours    = "outside_active_hours"
	ReasonDailyCap        = "daily_cap_reached"
	ReasonHourlyCap       = "hourly_cap_reached"
	ReasonGlobalInterval  = "global_interval_not_elapsed"
	ReasonTargetInterval  = "per_target_interval_not_elapsed"
	ReasonContentTooOld   = "content_too_old"
	ReasonSentimentFilter = "sentiment_filtered"
	ReasonNotVerified     = "author_not_verified"
	ReasonFollowerCount   = "author_below_follower_threshold"
	ReasonRetweetSkipped  = "retweet_skipped"
	ReasonReplySkipped    = "reply_skipped"
)

// disabledRecheck is how long to wait before re-checking a disabled policy.
// Only a user action can re-enable it, so there is no computable wait.
const disabledRecheck = time.Hour

// Decision is the compliance evaluator's verdict on one candidate send.
type Decision struct {
	Allowed bool
	Reason  string

	// RetryAfter is the smallest wait that could flip the failing check,
	// e.g. time until the active window opens or a cooldown elapses.
	RetryAfter time.Duration

	// Permanent marks denials no amount of waiting can fix (content
	// filters). The item should be dropped, not rescheduled.
	Permanent bool
}

// CanSend decides whether a send is currently permitted under the policy and
// the account's live counters. Checks run in a fixed order and the first
// failure wins, so denial reasons are deterministic. The item carries the
// content-filter attributes and may be nil for standalone posts, which have
// no replied-to content to filter on.
//
// The function is pure: it never reads the clock or mutates anything, which
// is what makes the window arithmetic testable in isolation.
func CanSend(policy *model.AutomationPolicy, counters model.SendCounters, item *model.QueueItem, now time.Time) Decision {
	if !policy.Enabled {
		return denied(ReasonDisabled, disabledRecheck)
	}

	if !policy.DayActive(now.Weekday()) {
		return denied(ReasonInactiveDay, nextWindowOpen(policy, now).Sub(now))
	}
	minutes := now.Hour()*60 + now.Minute()
	if minutes < policy.ActiveStart.Minutes() || minutes > policy.ActiveEnd.Minutes() {
		return denied(ReasonOutsideHours, nextWindowOpen(policy, now).Sub(now))
	}

	if counters.SentToday >= policy.MaxPerDay {
		return denied(ReasonDailyCap, startOfNextDay(now).Sub(now))
	}
	if counters.SentThisHour >= policy.MaxPerHour {
		return denied(ReasonHourlyCap, now.Truncate(time.Hour).Add(time.Hour).Sub(now))
	}

	if since, ok := counters.SinceLastSend(now); ok && since < policy.MinIntervalGlobal {
		return denied(ReasonGlobalInterval, policy.MinIntervalGlobal-since)
	}
	if since, ok := counters.SinceLastSendToTarget(now); ok && since < policy.MinIntervalPerTarget {
		return denied(ReasonTargetInterval, policy.MinIntervalPerTarget-since)
	}

	if item != nil && item.IsReplyItem() {
		if d := filterContent(policy, item, now); !d.Allowed {
			return d
		}
	}

	return Decision{Allowed: true}
}

// filterContent applies the policy's content filters to the replied-to item.
// Every denial here is permanent; the content never changes.
func filterContent(policy *model.AutomationPolicy, item *model.QueueItem, now time.Time) Decision {
	if policy.MaxContentAge > 0 && item.ContentAge(now) > policy.MaxContentAge {
		return deniedPermanent(ReasonContentTooOld)
	}
	if policy.SentimentFilter != "" && policy.SentimentFilter != model.SentimentAll && item.Sentiment != policy.SentimentFilter {
		return deniedPermanent(ReasonSentimentFilter)
	}
	if policy.VerifiedOnly && !item.Author.Verified {
		return deniedPermanent(ReasonNotVerified)
	}
	if policy.MinFollowerCount > 0 && item.Author.FollowerCount < policy.MinFollowerCount {
		return deniedPermanent(ReasonFollowerCount)
	}
	if policy.SkipRetweets && item.IsRetweet {
		return deniedPermanent(ReasonRetweetSkipped)
	}
	if policy.SkipReplies && item.IsReply {
		return deniedPermanent(ReasonReplySkipped)
	}
	return Decision{Allowed: true}
}

// nextWindowOpen returns the next instant at which the policy's active window
// opens: the first active day at ActiveStart strictly after now. Windows do
// not wrap midnight, so scanning day by day is sufficient.
func nextWindowOpen(policy *model.AutomationPolicy, now time.Time) time.Time {
	for i := 0; i <= 7; i++ {
		day := now.AddDate(0, 0, i)
		candidate := time.Date(day.Year(), day.Month(), day.Day(),
			policy.ActiveStart.Hour, policy.ActiveStart.Minute, 0, 0, now.Location())
		if !policy.DayActive(candidate.Weekday()) {
			continue
		}
		if candidate.After(now) {
			return candidate
		}
	}
	// Unreachable when the policy has at least one active day.
	return now.Add(24 * time.Hour)
}

func startOfNextDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}

func denied(reason string, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Reason: reason, RetryAfter: retryAfter}
}

func deniedPermanent(reason string) Decision {
	return Decision{Reason: reason, Permanent: true}
}
