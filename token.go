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
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/replyloop/autopilot/internal/breaker"
	"github.com/replyloop/autopilot/platform"
)

// ErrReauthRequired is surfaced when the stored refresh token no longer works.
// The account needs the user to reconnect; retrying cannot help.
var ErrReauthRequired = errors.New("account reauthorization required")

// IsReauthRequired reports whether err indicates the account must reconnect.
func IsReauthRequired(err error) bool {
	return errors.Is(err, ErrReauthRequired)
}

// WithTokenRefresh runs operation with a live access token for the account.
// It is the single choke point for outbound platform calls: every call routes
// through the named circuit breaker, and an auth-expired failure triggers
// exactly one token refresh followed by one retry of the operation. A failed
// refresh deactivates the credential and surfaces ErrReauthRequired.
func (a *Autopilot) WithTokenRefresh(ctx context.Context, op, accountID string, operation func(accessToken string) error) error {
	cred, err := a.datasource.GetCredential(ctx, accountID)
	if err != nil {
		return err
	}
	if !cred.IsActive || cred.AccessToken == "" {
		return errors.Wrapf(ErrReauthRequired, "account %s has no active credential", accountID)
	}

	err = a.breakers.Get(op).Execute(ctx, func(ctx context.Context) error {
		return operation(cred.AccessToken)
	})
	if err == nil {
		a.touchActivity(ctx, accountID)
		return nil
	}
	if !platform.IsAuthExpired(err) {
		return err
	}

	logrus.Infof("access token expired for account %s, refreshing", accountID)

	var pair *platform.TokenPair
	refreshErr := a.breakers.Get(OpRefresh).Execute(ctx, func(ctx context.Context) error {
		var rerr error
		pair, rerr = a.platform.RefreshToken(ctx, cred.RefreshToken)
		return rerr
	})
	if refreshErr != nil {
		if breaker.IsCircuitOpen(refreshErr) {
			// The refresh endpoint is down, not the credential. Leave the
			// account connected and let the caller reschedule.
			return refreshErr
		}
		if derr := a.datasource.DeactivateCredential(ctx, accountID); derr != nil {
			logrus.Errorf("failed to deactivate credential for account %s: %v", accountID, derr)
		}
		return errors.Wrapf(ErrReauthRequired, "token refresh failed for account %s: %v", accountID, refreshErr)
	}

	if err := a.datasource.UpdateCredentialTokens(ctx, accountID, pair.AccessToken, pair.RefreshToken); err != nil {
		return err
	}

	return a.breakers.Get(op).Execute(ctx, func(ctx context.Context) error {
		return operation(pair.AccessToken)
	})
}

func (a *Autopilot) touchActivity(ctx context.Context, accountID string) {
	if err := a.datasource.TouchCredentialActivity(ctx, accountID, time.Now()); err != nil {
		logrus.Warnf("failed to record credential activity for account %s: %v", accountID, err)
	}
}

// SweepStaleCredentials proactively exercises credentials that have not been
// used recently, so an expiring token is rotated before it blocks a real
// send. Runs on the scheduler's coarse cadence.
func (a *Autopilot) SweepStaleCredentials(ctx context.Context, staleness time.Duration) error {
	cutoff := time.Now().Add(-staleness)
	creds, err := a.datasource.GetStaleCredentials(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, cred := range creds {
		accountID := cred.AccountID
		err := a.WithTokenRefresh(ctx, OpLookup, accountID, func(accessToken string) error {
			return a.platform.VerifyCredentials(ctx, accessToken)
		})
		switch {
		case err == nil:
			logrus.Debugf("credential sweep: account %s healthy", accountID)
		case IsReauthRequired(err):
			// Already deactivated by the wrapper; the user has to reconnect.
			logrus.Warnf("credential sweep: account %s requires reauthorization", accountID)
		case breaker.IsCircuitOpen(err):
			logrus.Warnf("credential sweep halted, circuit open: %v", err)
			return nil
		default:
			logrus.Warnf("credential sweep: account %s check failed: %v", accountID, err)
		}
	}
	return nil
}
