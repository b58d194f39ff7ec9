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
	"time"

	"github.com/lib/pq"

	"github.com/replyloop/autopilot/internal/apierror"
	"github.com/replyloop/autopilot/model"
)

const policyColumns = `policy_id, account_id, enabled, max_per_day, max_per_hour,
	min_interval_global_sec, min_interval_per_target_sec, active_start, active_end, active_days,
	sentiment_filter, verified_only, skip_retweets, skip_replies, min_follower_count,
	max_content_age_sec, pause_on_block, pause_on_rate_limit, created_at, updated_at`

func scanPolicy(row interface{ Scan(...interface{}) error }) (*model.AutomationPolicy, error) {
	p := &model.AutomationPolicy{}
	var globalSec, targetSec, ageSec int64
	var activeStart, activeEnd string
	var days pq.Int64Array
	var updatedAt sql.NullTime

	err := row.Scan(&p.PolicyID, &p.AccountID, &p.Enabled, &p.MaxPerDay, &p.MaxPerHour,
		&globalSec, &targetSec, &activeStart, &activeEnd, &days,
		&p.SentimentFilter, &p.VerifiedOnly, &p.SkipRetweets, &p.SkipReplies, &p.MinFollowerCount,
		&ageSec, &p.PauseOnBlock, &p.PauseOnRateLimit, &p.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.MinIntervalGlobal = time.Duration(globalSec) * time.Second
	p.MinIntervalPerTarget = time.Duration(targetSec) * time.Second
	p.MaxContentAge = time.Duration(ageSec) * time.Second
	if p.ActiveStart, err = model.ParseClockTime(activeStart); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Corrupt policy active window", err)
	}
	if p.ActiveEnd, err = model.ParseClockTime(activeEnd); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Corrupt policy active window", err)
	}
	for _, d := range days {
		p.ActiveDays = append(p.ActiveDays, time.Weekday(d))
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return p, nil
}

func policyDays(p *model.AutomationPolicy) pq.Int64Array {
	days := make(pq.Int64Array, 0, len(p.ActiveDays))
	for _, d := range p.ActiveDays {
		days = append(days, int64(d))
	}
	return days
}

// GetOrCreatePolicy loads the account's automation policy, creating it with
// safe defaults on first use.
func (d Datasource) GetOrCreatePolicy(ctx context.Context, accountID string) (*model.AutomationPolicy, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+policyColumns+`
		FROM automation_policies
		WHERE account_id = $1
	`, accountID)

	p, err := scanPolicy(row)
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve automation policy", err)
	}

	p = model.DefaultPolicy(accountID)
	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO automation_policies (policy_id, account_id, enabled, max_per_day, max_per_hour,
			min_interval_global_sec, min_interval_per_target_sec, active_start, active_end, active_days,
			sentiment_filter, verified_only, skip_retweets, skip_replies, min_follower_count,
			max_content_age_sec, pause_on_block, pause_on_rate_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, p.PolicyID, p.AccountID, p.Enabled, p.MaxPerDay, p.MaxPerHour,
		int64(p.MinIntervalGlobal.Seconds()), int64(p.MinIntervalPerTarget.Seconds()),
		p.ActiveStart.String(), p.ActiveEnd.String(), policyDays(p),
		p.SentimentFilter, p.VerifiedOnly, p.SkipRetweets, p.SkipReplies, p.MinFollowerCount,
		int64(p.MaxContentAge.Seconds()), p.PauseOnBlock, p.PauseOnRateLimit, p.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create default automation policy", err)
	}
	return p, nil
}

// UpdatePolicy persists an edited policy.
func (d Datasource) UpdatePolicy(ctx context.Context, p *model.AutomationPolicy) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE automation_policies
		SET enabled = $2, max_per_day = $3, max_per_hour = $4,
			min_interval_global_sec = $5, min_interval_per_target_sec = $6,
			active_start = $7, active_end = $8, active_days = $9,
			sentiment_filter = $10, verified_only = $11, skip_retweets = $12, skip_replies = $13,
			min_follower_count = $14, max_content_age_sec = $15,
			pause_on_block = $16, pause_on_rate_limit = $17, updated_at = NOW()
		WHERE account_id = $1
	`, p.AccountID, p.Enabled, p.MaxPerDay, p.MaxPerHour,
		int64(p.MinIntervalGlobal.Seconds()), int64(p.MinIntervalPerTarget.Seconds()),
		p.ActiveStart.String(), p.ActiveEnd.String(), policyDays(p),
		p.SentimentFilter, p.VerifiedOnly, p.SkipRetweets, p.SkipReplies,
		p.MinFollowerCount, int64(p.MaxContentAge.Seconds()),
		p.PauseOnBlock, p.PauseOnRateLimit)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update automation policy", err)
	}
	return nil
}

// DisablePolicy is the emergency pause: the engine flips enabled to false on
// a detected block signal. This is the only policy field the engine writes.
func (d Datasource) DisablePolicy(ctx context.Context, accountID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE automation_policies
		SET enabled = FALSE, updated_at = NOW()
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to disable automation policy", err)
	}
	return nil
}
