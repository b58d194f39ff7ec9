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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/replyloop/autopilot/internal/apierror"
	"github.com/replyloop/autopilot/model"
)

// CreateScheduledPost inserts a new scheduled post in pending state. Thread
// parts are serialized to JSON only here, at the persistence boundary.
func (d Datasource) CreateScheduledPost(ctx context.Context, post *model.ScheduledPost) (*model.ScheduledPost, error) {
	if post.PostID == "" {
		post.PostID = model.GenerateUUIDWithSuffix("post")
	}
	post.Status = model.StatusPending
	post.CreatedAt = time.Now()
	if post.ScheduledFor.IsZero() {
		post.ScheduledFor = post.CreatedAt
	}

	partsJSON, err := json.Marshal(post.Parts)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Failed to serialize post parts", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO scheduled_posts (post_id, account_id, parts, status, scheduled_for, published_count, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, post.PostID, post.AccountID, partsJSON, post.Status.String(), post.ScheduledFor, post.PublishedCount, post.RetryCount, post.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Scheduled post with ID '%s' already exists", post.PostID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create scheduled post", err)
	}
	return post, nil
}

const scheduledPostColumns = `post_id, account_id, parts, status, scheduled_for, published_count,
	retry_count, COALESCE(last_error, ''), sent_at, created_at`

func scanScheduledPost(row interface{ Scan(...interface{}) error }) (*model.ScheduledPost, error) {
	post := &model.ScheduledPost{}
	var status string
	var partsJSON []byte
	var sentAt sql.NullTime

	err := row.Scan(&post.PostID, &post.AccountID, &partsJSON, &status, &post.ScheduledFor,
		&post.PublishedCount, &post.RetryCount, &post.LastError, &sentAt, &post.CreatedAt)
	if err != nil {
		return nil, err
	}

	post.Status, err = model.ParseStatus(status)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Corrupt scheduled post status", err)
	}
	if err := json.Unmarshal(partsJSON, &post.Parts); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Corrupt scheduled post parts", err)
	}
	if sentAt.Valid {
		post.SentAt = &sentAt.Time
	}
	return post, nil
}

// GetScheduledPost retrieves a scheduled post by its ID.
func (d Datasource) GetScheduledPost(ctx context.Context, id string) (*model.ScheduledPost, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+scheduledPostColumns+`
		FROM scheduled_posts
		WHERE post_id = $1
	`, id)

	post, err := scanScheduledPost(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Scheduled post with ID '%s' not found", id), err)
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

// GetDueScheduledPosts retrieves pending posts whose schedule has arrived.
func (d Datasource) GetDueScheduledPosts(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledPost, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+scheduledPostColumns+`
		FROM scheduled_posts
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due scheduled posts", err)
	}
	defer rows.Close()

	var posts []*model.ScheduledPost
	for rows.Next() {
		post, err := scanScheduledPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ClaimScheduledPost atomically flips a pending post to processing, the same
// mutual-exclusion point used for queue items.
func (d Datasource) ClaimScheduledPost(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'processing', claimed_at = $2
		WHERE post_id = $1 AND status = 'pending'
	`, id, time.Now())
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim scheduled post", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// GetStuckScheduledPosts retrieves posts abandoned in processing before the
// cutoff. A recovered mid-thread post resumes from its published count.
func (d Datasource) GetStuckScheduledPosts(ctx context.Context, cutoff time.Time, limit int) ([]*model.ScheduledPost, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+scheduledPostColumns+`
		FROM scheduled_posts
		WHERE status = 'processing' AND claimed_at <= $1
		ORDER BY claimed_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stuck scheduled posts", err)
	}
	defer rows.Close()

	var posts []*model.ScheduledPost
	for rows.Next() {
		post, err := scanScheduledPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// SaveScheduledPostProgress persists platform-assigned ids as thread parts
// publish, so a partial thread is visible to operators.
func (d Datasource) SaveScheduledPostProgress(ctx context.Context, id string, parts []model.PostPart, publishedCount int) error {
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to serialize post parts", err)
	}
	_, err = d.Conn.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET parts = $2, published_count = $3
		WHERE post_id = $1
	`, id, partsJSON, publishedCount)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save scheduled post progress", err)
	}
	return nil
}

// MarkScheduledPostSent records a fully published post or thread.
func (d Datasource) MarkScheduledPostSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'sent', sent_at = $2, last_error = NULL
		WHERE post_id = $1
	`, id, sentAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark scheduled post sent", err)
	}
	return nil
}

// RescheduleScheduledPost returns a post to pending without consuming a retry.
func (d Datasource) RescheduleScheduledPost(ctx context.Context, id string, scheduledFor time.Time, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'pending', scheduled_for = $2, last_error = NULLIF($3, '')
		WHERE post_id = $1
	`, id, scheduledFor, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reschedule scheduled post", err)
	}
	return nil
}

// RetryScheduledPost returns a post to pending with its retry count consumed.
func (d Datasource) RetryScheduledPost(ctx context.Context, id string, retryCount int, scheduledFor time.Time, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'pending', retry_count = $2, scheduled_for = $3, last_error = $4
		WHERE post_id = $1
	`, id, retryCount, scheduledFor, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to schedule post retry", err)
	}
	return nil
}

// FailScheduledPost marks a post terminally failed, preserving how many
// parts made it out before the failure.
func (d Datasource) FailScheduledPost(ctx context.Context, id string, publishedCount int, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE scheduled_posts
		SET status = 'failed', published_count = $2, last_error = $3
		WHERE post_id = $1
	`, id, publishedCount, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark scheduled post failed", err)
	}
	return nil
}
