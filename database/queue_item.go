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
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/replyloop/autopilot/internal/apierror"
	"github.com/replyloop/autopilot/model"
)

// CreateQueueItem inserts a new queue item in pending state. The id is
// generated here if the producer did not set one.
func (d Datasource) CreateQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	if item.QueueItemID == "" {
		item.QueueItemID = model.GenerateUUIDWithSuffix("qi")
	}
	item.Status = model.StatusPending
	item.CreatedAt = time.Now()
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = item.CreatedAt
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO queue_items (queue_item_id, account_id, target_id, target_user, payload, status,
			scheduled_for, retry_count, author_handle, author_verified, author_followers,
			content_created_at, sentiment, is_retweet, is_reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, item.QueueItemID, item.AccountID, item.TargetID, item.TargetUser, item.Payload, item.Status.String(),
		item.ScheduledFor, item.RetryCount, item.Author.Handle, item.Author.Verified, item.Author.FollowerCount,
		nullTime(item.ContentCreatedAt), item.Sentiment, item.IsRetweet, item.IsReply, item.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Queue item with ID '%s' already exists", item.QueueItemID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create queue item", err)
	}
	return item, nil
}

const queueItemColumns = `queue_item_id, account_id, COALESCE(target_id, ''), COALESCE(target_user, ''),
	payload, status, scheduled_for, retry_count, COALESCE(last_error, ''), sent_at,
	COALESCE(platform_post_id, ''), COALESCE(author_handle, ''), author_verified, author_followers,
	content_created_at, COALESCE(sentiment, ''), is_retweet, is_reply, created_at`

func scanQueueItem(row interface{ Scan(...interface{}) error }) (*model.QueueItem, error) {
	item := &model.QueueItem{}
	var status string
	var sentAt, contentCreatedAt sql.NullTime

	err := row.Scan(&item.QueueItemID, &item.AccountID, &item.TargetID, &item.TargetUser,
		&item.Payload, &status, &item.ScheduledFor, &item.RetryCount, &item.LastError, &sentAt,
		&item.PlatformPostID, &item.Author.Handle, &item.Author.Verified, &item.Author.FollowerCount,
		&contentCreatedAt, &item.Sentiment, &item.IsRetweet, &item.IsReply, &item.CreatedAt)
	if err != nil {
		return nil, err
	}

	item.Status, err = model.ParseStatus(status)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Corrupt queue item status", err)
	}
	if sentAt.Valid {
		item.SentAt = &sentAt.Time
	}
	if contentCreatedAt.Valid {
		item.ContentCreatedAt = contentCreatedAt.Time
	}
	return item, nil
}

// GetQueueItem retrieves a queue item by its ID.
func (d Datasource) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE queue_item_id = $1
	`, id)

	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item with ID '%s' not found", id), err)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetDueQueueItems retrieves pending items whose schedule has arrived,
// ordered oldest schedule first and bounded by limit to cap per-tick latency.
func (d Datasource) GetDueQueueItems(ctx context.Context, now time.Time, limit int) ([]*model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due queue items", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClaimQueueItem atomically flips a pending item to processing. This is the
// mutual-exclusion point: a second concurrent processor sees zero affected
// rows and skips the item.
func (d Datasource) ClaimQueueItem(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'processing', claimed_at = $2
		WHERE queue_item_id = $1 AND status = 'pending'
	`, id, time.Now())
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim queue item", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkQueueItemSent records a successful delivery.
func (d Datasource) MarkQueueItemSent(ctx context.Context, id string, platformPostID string, sentAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'sent', sent_at = $2, platform_post_id = $3, last_error = NULL
		WHERE queue_item_id = $1
	`, id, sentAt, platformPostID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark queue item sent", err)
	}
	return nil
}

// RescheduleQueueItem returns an item to pending at a later time without
// consuming a retry (compliance denials and circuit-open rejections).
func (d Datasource) RescheduleQueueItem(ctx context.Context, id string, scheduledFor time.Time, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', scheduled_for = $2, last_error = NULLIF($3, '')
		WHERE queue_item_id = $1
	`, id, scheduledFor, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reschedule queue item", err)
	}
	return nil
}

// RetryQueueItem returns an item to pending with its retry count consumed.
func (d Datasource) RetryQueueItem(ctx context.Context, id string, retryCount int, scheduledFor time.Time, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', retry_count = $2, scheduled_for = $3, last_error = $4
		WHERE queue_item_id = $1
	`, id, retryCount, scheduledFor, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to schedule queue item retry", err)
	}
	return nil
}

// FailQueueItem marks an item terminally failed, keeping the last error for
// operator display.
func (d Datasource) FailQueueItem(ctx context.Context, id string, lastError string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'failed', last_error = $2
		WHERE queue_item_id = $1
	`, id, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark queue item failed", err)
	}
	return nil
}

// CancelQueueItem cancels a pending item. Items already processing finish
// their attempt first; cancellation only wins the conditional update while
// the item is pending.
func (d Datasource) CancelQueueItem(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'cancelled'
		WHERE queue_item_id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel queue item", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SkipQueueItem cancels an item that can never pass the content filters,
// recording the filter reason. Unlike CancelQueueItem this also applies to an
// item the processor has already claimed.
func (d Datasource) SkipQueueItem(ctx context.Context, id string, reason string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'cancelled', last_error = $2
		WHERE queue_item_id = $1
	`, id, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to skip queue item", err)
	}
	return nil
}

// GetStuckQueueItems retrieves items abandoned in processing, claimed before
// the cutoff and never moved to a terminal state. These are orphans of a
// worker that died mid-attempt.
func (d Datasource) GetStuckQueueItems(ctx context.Context, cutoff time.Time, limit int) ([]*model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE status = 'processing' AND claimed_at <= $1
		ORDER BY claimed_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stuck queue items", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetQueueStats counts queue items per status.
func (d Datasource) GetQueueStats(ctx context.Context) (map[model.Status]int, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM queue_items
		GROUP BY status
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue stats", err)
	}
	defer rows.Close()

	stats := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		parsed, err := model.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		stats[parsed] = count
	}
	return stats, rows.Err()
}

// GetSendCounters computes the live compliance counters for one account:
// sends today, sends this hour, last send, and last send to the given
// counterpart. Replies and scheduled posts both count; the caps and spacing
// are account-level limits, not per-table ones. Counters are read fresh on
// every tick; nothing is cached.
func (d Datasource) GetSendCounters(ctx context.Context, accountID, targetUser string, now time.Time) (model.SendCounters, error) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfHour := now.Truncate(time.Hour)

	var counters model.SendCounters
	var lastSend, lastToTarget sql.NullTime

	err := d.Conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE sent_at >= $2),
			COUNT(*) FILTER (WHERE sent_at >= $3),
			MAX(sent_at),
			MAX(sent_at) FILTER (WHERE target_user = NULLIF($4, ''))
		FROM (
			SELECT sent_at, COALESCE(target_user, '') AS target_user
			FROM queue_items
			WHERE account_id = $1 AND status = 'sent'
			UNION ALL
			SELECT sent_at, ''
			FROM scheduled_posts
			WHERE account_id = $1 AND status = 'sent'
		) sends
	`, accountID, startOfDay, startOfHour, targetUser).
		Scan(&counters.SentToday, &counters.SentThisHour, &lastSend, &lastToTarget)
	if err != nil {
		return counters, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute send counters", err)
	}

	if lastSend.Valid {
		counters.LastSendAt = lastSend.Time
	}
	// An empty targetUser means there is no counterpart (standalone posts);
	// the per-target clock stays zero then. NULLIF keeps rows whose
	// target_user is also empty from matching in SQL.
	if targetUser != "" && lastToTarget.Valid {
		counters.LastSendToTargetAt = lastToTarget.Time
	}
	return counters, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
