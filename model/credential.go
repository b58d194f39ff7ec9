package model

import "time"

// Credential holds the OAuth token pair for one connected platform account.
// Token values are encrypted before they reach storage; the struct carries
// them in the clear only inside the process.
type Credential struct {
	AccountID    string    `json:"account_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Stale reports whether the credential has been unused long enough that a
// proactive refresh sweep should exercise it.
func (c *Credential) Stale(now time.Time, threshold time.Duration) bool {
	if c.LastActivity.IsZero() {
		return true
	}
	return now.Sub(c.LastActivity) > threshold
}
