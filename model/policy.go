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
)

// Hard safety ceilings for automation caps. User supplied values are clamped
// to these ranges, never trusted as-is.
const (
	MaxSendsPerDay  = 50
	MaxSendsPerHour = 10

	MinIntervalFloor = 30 * time.Second
)

// Sentiment filter values. SentimentAll disables the filter.
const (
	SentimentAll      = "all"
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// ClockTime is a wall-clock time of day ("HH:MM") without a date.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseClockTime parses "HH:MM" into a ClockTime.
func ParseClockTime(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ct, fmt.Errorf("invalid clock time %q: %v", s, err)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ct, fmt.Errorf("clock time %q out of range", s)
	}
	return ct, nil
}

// Minutes returns the time of day as minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// AutomationPolicy is a user's compliance configuration. It is read-only to
// the delivery engine except for Enabled, which the engine flips to false on
// a detected block signal (emergency pause).
type AutomationPolicy struct {
	PolicyID  string `json:"policy_id"`
	AccountID string `json:"account_id"`
	Enabled   bool   `json:"enabled"`

	MaxPerDay  int `json:"max_per_day"`
	MaxPerHour int `json:"max_per_hour"`

	MinIntervalGlobal    time.Duration `json:"min_interval_global"`
	MinIntervalPerTarget time.Duration `json:"min_interval_per_target"`

	ActiveStart ClockTime      `json:"active_start"`
	ActiveEnd   ClockTime      `json:"active_end"`
	ActiveDays  []time.Weekday `json:"active_days"`

	SentimentFilter   string        `json:"sentiment_filter"`
	VerifiedOnly      bool          `json:"verified_only"`
	SkipRetweets      bool          `json:"skip_retweets"`
	SkipReplies       bool          `json:"skip_replies"`
	MinFollowerCount  int           `json:"min_follower_count"`
	MaxContentAge     time.Duration `json:"max_content_age"`

	PauseOnBlock     bool `json:"pause_on_block"`
	PauseOnRateLimit bool `json:"pause_on_rate_limit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPolicy returns the safe defaults applied on first use of an account.
func DefaultPolicy(accountID string) *AutomationPolicy {
	return &AutomationPolicy{
		PolicyID:             GenerateUUIDWithSuffix("pol"),
		AccountID:            accountID,
		Enabled:              true,
		MaxPerDay:            20,
		MaxPerHour:           5,
		MinIntervalGlobal:    5 * time.Minute,
		MinIntervalPerTarget: 24 * time.Hour,
		ActiveStart:          ClockTime{Hour: 9},
		ActiveEnd:            ClockTime{Hour: 17},
		ActiveDays:           []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		SentimentFilter:      SentimentAll,
		MinFollowerCount:     0,
		MaxContentAge:        24 * time.Hour,
		PauseOnBlock:         true,
		PauseOnRateLimit:     true,
		CreatedAt:            time.Now(),
	}
}

// PolicyUpdate carries a partial user edit. Nil fields are left untouched.
type PolicyUpdate struct {
	Enabled              *bool          `json:"enabled,omitempty"`
	MaxPerDay            *int           `json:"max_per_day,omitempty"`
	MaxPerHour           *int           `json:"max_per_hour,omitempty"`
	MinIntervalGlobal    *int           `json:"min_interval_global_seconds,omitempty"`
	MinIntervalPerTarget *int           `json:"min_interval_per_target_seconds,omitempty"`
	ActiveStart          *string        `json:"active_start,omitempty"`
	ActiveEnd            *string        `json:"active_end,omitempty"`
	ActiveDays           []time.Weekday `json:"active_days,omitempty"`
	SentimentFilter      *string        `json:"sentiment_filter,omitempty"`
	VerifiedOnly         *bool          `json:"verified_only,omitempty"`
	SkipRetweets         *bool          `json:"skip_retweets,omitempty"`
	SkipReplies          *bool          `json:"skip_replies,omitempty"`
	MinFollowerCount     *int           `json:"min_follower_count,omitempty"`
	MaxContentAge        *int           `json:"max_content_age_seconds,omitempty"`
	PauseOnBlock         *bool          `json:"pause_on_block,omitempty"`
	PauseOnRateLimit     *bool          `json:"pause_on_rate_limit,omitempty"`
}

// Apply merges an update onto the policy, clamping every numeric field to its
// safe range and validating the active window. Values outside their range are
// pulled back to the nearest bound rather than rejected.
func (p *AutomationPolicy) Apply(update PolicyUpdate) error {
	if update.Enabled != nil {
		p.Enabled = *update.Enabled
	}
	if update.MaxPerDay != nil {
		p.MaxPerDay = clampInt(*update.MaxPerDay, 1, MaxSendsPerDay)
	}
	if update.MaxPerHour != nil {
		p.MaxPerHour = clampInt(*update.MaxPerHour, 1, MaxSendsPerHour)
	}
	if update.MinIntervalGlobal != nil {
		p.MinIntervalGlobal = clampDuration(time.Duration(*update.MinIntervalGlobal)*time.Second, MinIntervalFloor, 24*time.Hour)
	}
	if update.MinIntervalPerTarget != nil {
		p.MinIntervalPerTarget = clampDuration(time.Duration(*update.MinIntervalPerTarget)*time.Second, MinIntervalFloor, 30*24*time.Hour)
	}
	if update.ActiveStart != nil {
		ct, err := ParseClockTime(*update.ActiveStart)
		if err != nil {
			return err
		}
		p.ActiveStart = ct
	}
	if update.ActiveEnd != nil {
		ct, err := ParseClockTime(*update.ActiveEnd)
		if err != nil {
			return err
		}
		p.ActiveEnd = ct
	}
	if update.ActiveDays != nil {
		days, err := normalizeDays(update.ActiveDays)
		if err != nil {
			return err
		}
		p.ActiveDays = days
	}
	if update.SentimentFilter != nil {
		switch *update.SentimentFilter {
		case SentimentAll, SentimentPositive, SentimentNeutral, SentimentNegative:
			p.SentimentFilter = *update.SentimentFilter
		default:
			return fmt.Errorf("unknown sentiment filter %q", *update.SentimentFilter)
		}
	}
	if update.VerifiedOnly != nil {
		p.VerifiedOnly = *update.VerifiedOnly
	}
	if update.SkipRetweets != nil {
		p.SkipRetweets = *update.SkipRetweets
	}
	if update.SkipReplies != nil {
		p.SkipReplies = *update.SkipReplies
	}
	if update.MinFollowerCount != nil {
		p.MinFollowerCount = clampInt(*update.MinFollowerCount, 0, 1_000_000)
	}
	if update.MaxContentAge != nil {
		p.MaxContentAge = clampDuration(time.Duration(*update.MaxContentAge)*time.Second, time.Minute, 7*24*time.Hour)
	}
	if update.PauseOnBlock != nil {
		p.PauseOnBlock = *update.PauseOnBlock
	}
	if update.PauseOnRateLimit != nil {
		p.PauseOnRateLimit = *update.PauseOnRateLimit
	}

	if err := p.validateWindow(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now()
	return nil
}

// validateWindow rejects active-hour windows that wrap midnight. Overnight
// windows are not supported; the window check would be ambiguous.
func (p *AutomationPolicy) validateWindow() error {
	if p.ActiveStart.Minutes() > p.ActiveEnd.Minutes() {
		return fmt.Errorf("active hours %s-%s wrap midnight, which is not supported", p.ActiveStart, p.ActiveEnd)
	}
	if len(p.ActiveDays) == 0 {
		return fmt.Errorf("at least one active day is required")
	}
	return nil
}

// DayActive reports whether the given weekday is in the policy's active set.
func (p *AutomationPolicy) DayActive(day time.Weekday) bool {
	for _, d := range p.ActiveDays {
		if d == day {
			return true
		}
	}
	return false
}

func normalizeDays(days []time.Weekday) ([]time.Weekday, error) {
	seen := map[time.Weekday]bool{}
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return nil, fmt.Errorf("invalid weekday %d", d)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
