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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/replyloop/autopilot/model"
)

// 2024-01-01 was a Monday, which makes the weekday arithmetic below readable.
var (
	monday    = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	wednesday = time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)
	saturday  = time.Date(2024, time.January, 6, 0, 0, 0, 0, time.UTC)
)

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
}

func replyItem() *model.QueueItem {
	return &model.QueueItem{
		QueueItemID:      "qi_test",
		AccountID:        "acc_1",
		TargetID:         "123456789",
		TargetUser:       "counterpart",
		Payload:          "thanks for the mention!",
		ContentCreatedAt: at(wednesday, 9, 30),
		Sentiment:        model.SentimentPositive,
		Author:           model.ContentAuthor{Handle: "counterpart", Verified: true, FollowerCount: 1200},
	}
}

func TestCanSendAllowsInsideWindow(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	now := at(wednesday, 10, 0)

	decision := CanSend(policy, model.SendCounters{}, replyItem(), now)

	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestCanSendDisabledPolicyWinsFirst(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	policy.Enabled = false

	// Even on an inactive day with blown caps, the disabled reason wins.
	counters := model.SendCounters{SentToday: 99, SentThisHour: 99}
	decision := CanSend(policy, counters, replyItem(), at(saturday, 3, 0))

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonDisabled, decision.Reason)
	assert.Equal(t, time.Hour, decision.RetryAfter)
	assert.False(t, decision.Permanent)
}

func TestCanSendInactiveDayWaitsForNextWindow(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	now := at(saturday, 10, 0)

	decision := CanSend(policy, model.SendCounters{}, replyItem(), now)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonInactiveDay, decision.Reason)
	// Saturday 10:00 to Monday 09:00 is 47 hours.
	assert.Equal(t, 47*time.Hour, decision.RetryAfter)

	// Re-evaluating at now+RetryAfter lands inside the window.
	later := now.Add(decision.RetryAfter)
	fresh := replyItem()
	fresh.ContentCreatedAt = later.Add(-time.Hour)
	again := CanSend(policy, model.SendCounters{}, fresh, later)
	assert.True(t, again.Allowed)
}

func TestCanSendOutsideHoursWaitsForTomorrow(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	now := at(wednesday, 18, 30)

	decision := CanSend(policy, model.SendCounters{}, replyItem(), now)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonOutsideHours, decision.Reason)
	assert.Equal(t, 14*time.Hour+30*time.Minute, decision.RetryAfter)
}

func TestCanSendWindowBoundsInclusive(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")

	start := CanSend(policy, model.SendCounters{}, replyItem(), at(wednesday, 9, 0))
	assert.True(t, start.Allowed)

	end := CanSend(policy, model.SendCounters{}, replyItem(), at(wednesday, 17, 0))
	assert.True(t, end.Allowed)

	after := CanSend(policy, model.SendCounters{}, replyItem(), at(wednesday, 17, 1))
	assert.False(t, after.Allowed)
	assert.Equal(t, ReasonOutsideHours, after.Reason)
}

func TestCanSendDailyCap(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	now := at(wednesday, 10, 0)

	decision := CanSend(policy, model.SendCounters{SentToday: policy.MaxPerDay}, replyItem(), now)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonDailyCap, decision.Reason)
	assert.Equal(t, 14*time.Hour, decision.RetryAfter)
}

func TestCanSendHourlyCap(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	now := at(wednesday, 10, 20)

	decision := CanSend(policy, model.SendCounters{SentThisHour: policy.MaxPerHour}, replyItem(), now)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonHourlyCap, decision.Reason)
	assert.Equal(t, 40*time.Minute, decision.RetryAfter)
}

func TestCanSendGlobalInterval(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	now := at(wednesday, 10, 0)
	counters := model.SendCounters{LastSendAt: now.Add(-2 * time.Minute)}

	decision := CanSend(policy, counters, replyItem(), now)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonGlobalInterval, decision.Reason)
	assert.Equal(t, 3*time.Minute, decision.RetryAfter)
}

func TestCanSendPerTargetInterval(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	now := at(wednesday, 10, 0)
	counters := model.SendCounters{
		LastSendAt:         now.Add(-time.Hour),
		LastSendToTargetAt: now.Add(-time.Hour),
	}

	decision := CanSend(policy, counters, replyItem(), now)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonTargetInterval, decision.Reason)
	assert.Equal(t, 23*time.Hour, decision.RetryAfter)
}

func TestCanSendNoPriorTargetSendIsAllowed(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	now := at(wednesday, 10, 0)

	// LastSendToTargetAt is zero: a first reply to this user is never held
	// back by the per-target interval.
	counters := model.SendCounters{LastSendAt: now.Add(-time.Hour)}
	decision := CanSend(policy, counters, replyItem(), now)

	assert.True(t, decision.Allowed)
}

func TestCanSendContentFiltersArePermanent(t *testing.T) {
	now := at(wednesday, 10, 0)

	tests := []struct {
		name   string
		policy func(*model.AutomationPolicy)
		item   func(*model.QueueItem)
		reason string
	}{
		{
			name:   "content too old",
			item:   func(q *model.QueueItem) { q.ContentCreatedAt = now.Add(-25 * time.Hour) },
			reason: ReasonContentTooOld,
		},
		{
			name:   "sentiment mismatch",
			policy: func(p *model.AutomationPolicy) { p.SentimentFilter = model.SentimentPositive },
			item:   func(q *model.QueueItem) { q.Sentiment = model.SentimentNegative },
			reason: ReasonSentimentFilter,
		},
		{
			name:   "unscored content fails a sentiment filter",
			policy: func(p *model.AutomationPolicy) { p.SentimentFilter = model.SentimentPositive },
			item:   func(q *model.QueueItem) { q.Sentiment = "" },
			reason: ReasonSentimentFilter,
		},
		{
			name:   "author not verified",
			policy: func(p *model.AutomationPolicy) { p.VerifiedOnly = true },
			item:   func(q *model.QueueItem) { q.Author.Verified = false },
			reason: ReasonNotVerified,
		},
		{
			name:   "author below follower threshold",
			policy: func(p *model.AutomationPolicy) { p.MinFollowerCount = 5000 },
			reason: ReasonFollowerCount,
		},
		{
			name:   "retweet skipped",
			policy: func(p *model.AutomationPolicy) { p.SkipRetweets = true },
			item:   func(q *model.QueueItem) { q.IsRetweet = true },
			reason: ReasonRetweetSkipped,
		},
		{
			name:   "reply skipped",
			policy: func(p *model.AutomationPolicy) { p.SkipReplies = true },
			item:   func(q *model.QueueItem) { q.IsReply = true },
			reason: ReasonReplySkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := model.DefaultPolicy("acc_1")
			if tt.policy != nil {
				tt.policy(policy)
			}
			item := replyItem()
			if tt.item != nil {
				tt.item(item)
			}

			decision := CanSend(policy, model.SendCounters{}, item, now)

			assert.False(t, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.True(t, decision.Permanent)
		})
	}
}

func TestCanSendNilItemSkipsContentFilters(t *testing.T) {
	// A standalone post has no replied-to content, so a strict filter set
	// must not block it.
	policy := model.DefaultPolicy("acc_1")
	policy.VerifiedOnly = true
	policy.MinFollowerCount = 100000
	policy.SentimentFilter = model.SentimentPositive

	decision := CanSend(policy, model.SendCounters{}, nil, at(wednesday, 10, 0))

	assert.True(t, decision.Allowed)
}

func TestCanSendStandalonePostItemSkipsContentFilters(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")
	policy.VerifiedOnly = true

	item := replyItem()
	item.TargetID = "" // standalone post queued as an item
	item.Author = model.ContentAuthor{}

	decision := CanSend(policy, model.SendCounters{}, item, at(wednesday, 10, 0))

	assert.True(t, decision.Allowed)
}

func TestNextWindowOpenSameDay(t *testing.T) {
	policy := model.DefaultPolicy("acc_1")

	// Monday 07:00: the window opens later the same day.
	open := nextWindowOpen(policy, at(monday, 7, 0))
	assert.Equal(t, at(monday, 9, 0), open)

	// Monday 09:00 exactly: already open, the next opening is Tuesday.
	open = nextWindowOpen(policy, at(monday, 9, 0))
	assert.Equal(t, at(monday.AddDate(0, 0, 1), 9, 0), open)
}
