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
	"errors"
	"time"

	"github.com/replyloop/autopilot/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// EnqueueReply is the request body for inserting a reply into the queue.
// Author and content attributes are captured at enqueue time so the
// compliance content filters can run without a platform lookup.
type EnqueueReply struct {
	AccountID        string `json:"account_id"`
	TargetID         string `json:"target_id"`
	TargetUser       string `json:"target_user"`
	Payload          string `json:"payload"`
	ScheduledFor     string `json:"scheduled_for,omitempty"` // RFC3339, defaults to now
	Sentiment        string `json:"sentiment,omitempty"`
	AuthorHandle     string `json:"author_handle,omitempty"`
	AuthorVerified   bool   `json:"author_verified,omitempty"`
	AuthorFollowers  int    `json:"author_followers,omitempty"`
	ContentCreatedAt string `json:"content_created_at,omitempty"` // RFC3339
	IsRetweet        bool   `json:"is_retweet,omitempty"`
	IsReply          bool   `json:"is_reply,omitempty"`
}

// SchedulePost is the request body for scheduling a standalone post or a
// thread. Each part becomes one platform post; parts after the first reply
// to the previous one.
type SchedulePost struct {
	AccountID    string   `json:"account_id"`
	Parts        []string `json:"parts"`
	ScheduledFor string   `json:"scheduled_for,omitempty"` // RFC3339, defaults to now
}

// ConnectAccount is the request body for storing an account's token pair.
type ConnectAccount struct {
	AccountID    string `json:"account_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func validateDateFormat(value string) error {
	if value == "" {
		return nil
	}
	_, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return errors.New("please format the date as RFC3339 (e.g., 2025-08-27T15:28:03+00:00)")
	}
	return nil
}

func dateRule(field *string) validation.Rule {
	return validation.By(func(interface{}) error {
		return validateDateFormat(*field)
	})
}

func (r *EnqueueReply) ValidateEnqueueReply() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.Payload, validation.Required, validation.RuneLength(1, model.MaxPayloadLength)),
		validation.Field(&r.ScheduledFor, dateRule(&r.ScheduledFor)),
		validation.Field(&r.ContentCreatedAt, dateRule(&r.ContentCreatedAt)),
		validation.Field(&r.Sentiment, validation.In("", model.SentimentAll, model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative)),
	)
}

func (s *SchedulePost) ValidateSchedulePost() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.AccountID, validation.Required),
		validation.Field(&s.Parts, validation.Required, validation.Length(1, 25), validation.Each(validation.RuneLength(1, model.MaxPayloadLength))),
		validation.Field(&s.ScheduledFor, dateRule(&s.ScheduledFor)),
	)
}

func (c *ConnectAccount) ValidateConnectAccount() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AccountID, validation.Required),
		validation.Field(&c.AccessToken, validation.Required),
		validation.Field(&c.RefreshToken, validation.Required),
	)
}

// ToQueueItem converts the request into a queue item. Validation must have
// passed first; date fields parse cleanly here.
func (r *EnqueueReply) ToQueueItem() *model.QueueItem {
	item := &model.QueueItem{
		AccountID:  r.AccountID,
		TargetID:   r.TargetID,
		TargetUser: r.TargetUser,
		Payload:    r.Payload,
		Sentiment:  r.Sentiment,
		IsRetweet:  r.IsRetweet,
		IsReply:    r.IsReply,
		Author: model.ContentAuthor{
			Handle:        r.AuthorHandle,
			Verified:      r.AuthorVerified,
			FollowerCount: r.AuthorFollowers,
		},
	}
	if r.ScheduledFor != "" {
		item.ScheduledFor, _ = time.Parse(time.RFC3339, r.ScheduledFor)
	}
	if r.ContentCreatedAt != "" {
		item.ContentCreatedAt, _ = time.Parse(time.RFC3339, r.ContentCreatedAt)
	}
	return item
}

// ToScheduledPost converts the request into a scheduled post.
func (s *SchedulePost) ToScheduledPost() *model.ScheduledPost {
	post := &model.ScheduledPost{
		AccountID: s.AccountID,
	}
	for _, text := range s.Parts {
		post.Parts = append(post.Parts, model.PostPart{Text: text})
	}
	if s.ScheduledFor != "" {
		post.ScheduledFor, _ = time.Parse(time.RFC3339, s.ScheduledFor)
	}
	return post
}

// ToCredential converts the request into a credential record.
func (c *ConnectAccount) ToCredential() *model.Credential {
	return &model.Credential{
		AccountID:    c.AccountID,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
	}
}
