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
	"time"
	"unicode/utf8"
)

// PostPart is one entry of a thread. PlatformID is filled in as each part is
// published; the next part replies to it.
type PostPart struct {
	Text       string `json:"text"`
	PlatformID string `json:"platform_id,omitempty"`
}

// ScheduledPost is a standalone post or an ordered thread, published as a
// unit. PublishedCount records how many parts made it out when a thread
// fails partway, for operator visibility.
type ScheduledPost struct {
	PostID         string     `json:"post_id"`
	AccountID      string     `json:"account_id"`
	Parts          []PostPart `json:"parts"`
	Status         Status     `json:"status"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	PublishedCount int        `json:"published_count"`
	RetryCount     int        `json:"retry_count"`
	LastError      string     `json:"last_error,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsThread reports whether the post has more than one part.
func (p *ScheduledPost) IsThread() bool {
	return len(p.Parts) > 1
}

// ValidateStructure checks the terminal, non-retryable preconditions.
func (p *ScheduledPost) ValidateStructure() error {
	if p.AccountID == "" {
		return fmt.Errorf("scheduled post %s has no account reference", p.PostID)
	}
	if len(p.Parts) == 0 {
		return fmt.Errorf("scheduled post %s has no parts", p.PostID)
	}
	for i, part := range p.Parts {
		if part.Text == "" {
			return fmt.Errorf("part %d of post %s is empty", i+1, p.PostID)
		}
		if n := utf8.RuneCountInString(part.Text); n > MaxPayloadLength {
			return fmt.Errorf("part %d of post %s is %d characters, platform limit is %d", i+1, p.PostID, n, MaxPayloadLength)
		}
	}
	return nil
}
