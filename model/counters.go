package model

import "time"

// SendCounters are the live per-user counters the compliance evaluator reads.
// They are computed fresh from storage on every processing tick; nothing here
// is cached across ticks.
type SendCounters struct {
	SentToday    int `json:"sent_today"`
	SentThisHour int `json:"sent_this_hour"`

	// Zero time means no prior send exists for the dimension.
	LastSendAt         time.Time `json:"last_send_at"`
	LastSendToTargetAt time.Time `json:"last_send_to_target_at"`
}

// SinceLastSend returns the elapsed time since the user's last send, and
// whether a prior send exists at all.
func (c SendCounters) SinceLastSend(now time.Time) (time.Duration, bool) {
	if c.LastSendAt.IsZero() {
		return 0, false
	}
	return now.Sub(c.LastSendAt), true
}

// SinceLastSendToTarget returns the elapsed time since the user last replied
// to the same counterpart, and whether such a send exists.
func (c SendCounters) SinceLastSendToTarget(now time.Time) (time.Duration, bool) {
	if c.LastSendToTargetAt.IsZero() {
		return 0, false
	}
	return now.Sub(c.LastSendToTargetAt), true
}
