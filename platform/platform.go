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

// Package platform talks to the social platform's HTTP API. The delivery
// engine only depends on the Client interface so tests can substitute a
// scripted implementation.
package platform

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrAuthExpired is returned when the platform rejects the access token.
	// The caller is expected to refresh and retry exactly once.
	ErrAuthExpired = errors.New("platform: access token expired")

	// ErrAccountRestricted is returned when the platform reports the account
	// as suspended, locked or blocked. This is the emergency-pause signal.
	ErrAccountRestricted = errors.New("platform: account restricted")

	// ErrRateLimited is returned on a platform-side rate limit response.
	ErrRateLimited = errors.New("platform: rate limited")
)

// IsAuthExpired reports whether err is a token-expiry rejection.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsAccountRestricted reports whether err is a block or suspension signal.
func IsAccountRestricted(err error) bool {
	return errors.Is(err, ErrAccountRestricted)
}

// IsRateLimited reports whether err is a platform rate limit.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Post is the platform's record of a published post.
type Post struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TokenPair is a rotated OAuth token pair. The platform invalidates the old
// refresh token when it issues a new one, so both values must be persisted
// together.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Client is the surface the delivery engine needs from the platform.
type Client interface {
	// PostContent publishes text as a new post, or as a reply when replyToID
	// is non-empty.
	PostContent(ctx context.Context, accessToken, text, replyToID string) (*Post, error)

	// RefreshToken exchanges a refresh token for a new token pair.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)

	// VerifyCredentials makes a cheap authenticated call. The token sweep
	// uses it to surface expired tokens before a real send trips over them.
	VerifyCredentials(ctx context.Context, accessToken string) error
}
