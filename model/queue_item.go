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

package model

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

// MaxPayloadLength is the platform's hard cap on post length, counted in runes.
const MaxPayloadLength = 280

// Platform item ids are numeric strings (snowflake-style).
var targetIDPattern = regexp.MustCompile(`^\d{1,20}$`)

// QueueItem is one unit of outbound work: a reply to an existing platform
// item, or a standalone post when TargetID is empty. Items are created
// pending by an upstream producer and mutated only by the queue processor.
type QueueItem struct {
	QueueItemID    string     `json:"queue_item_id"`
	AccountID      string     `json:"account_id"`
	TargetID       string     `json:"target_id,omitempty"`
	TargetUser     string     `json:"target_user,omitempty"`
	Payload        string     `json:"payload"`
	Status         Status     `json:"status"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	RetryCount     int        `json:"retry_count"`
	LastError      string     `json:"last_error,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	PlatformPostID string     `json:"platform_post_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	// Attributes of the item being replied to, captured at enqueue time
	// and consumed by the compliance content filters.
	Author           ContentAuthor `json:"author"`
	ContentCreatedAt time.Time     `json:"content_created_at"`
	Sentiment        string        `json:"sentiment,omitempty"`
	IsRetweet        bool          `json:"is_retweet"`
	IsReply          bool          `json:"is_reply"`
}

// ContentAuthor describes the counterpart whose content is being replied to.
type ContentAuthor struct {
	Handle        string `json:"handle"`
	Verified      bool   `json:"verified"`
	FollowerCount int    `json:"follower_count"`
}

// IsReplyItem reports whether the item targets an existing platform post.
func (q *QueueItem) IsReplyItem() bool {
	return q.TargetID != ""
}

// ValidateStructure checks the preconditions that no amount of retrying can
// fix: a malformed target id or an over-length payload. Callers treat a
// failure here as terminal.
func (q *QueueItem) ValidateStructure() error {
	if q.AccountID == "" {
		return fmt.Errorf("queue item %s has no account reference", q.QueueItemID)
	}
	if q.Payload == "" {
		return fmt.Errorf("queue item %s has an empty payload", q.QueueItemID)
	}
	if n := utf8.RuneCountInString(q.Payload); n > MaxPayloadLength {
		return fmt.Errorf("payload is %d characters, platform limit is %d", n, MaxPayloadLength)
	}
	if q.TargetID != "" && !targetIDPattern.MatchString(q.TargetID) {
		return fmt.Errorf("target id %q is not a valid platform item id", q.TargetID)
	}
	return nil
}

// ContentAge returns how old the replied-to content is at the given instant.
func (q *QueueItem) ContentAge(now time.Time) time.Duration {
	if q.ContentCreatedAt.IsZero() {
		return 0
	}
	return now.Sub(q.ContentCreatedAt)
}
