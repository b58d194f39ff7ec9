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

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/replyloop/autopilot/config"
	"github.com/replyloop/autopilot/internal/request"
)

// HTTPClient is the production Client backed by the platform's REST API.
type HTTPClient struct {
	baseURL      string
	clientID     string
	clientSecret string
}

// NewHTTPClient builds a client from the platform section of the config.
func NewHTTPClient(cfg config.PlatformConfig) *HTTPClient {
	return &HTTPClient{
		baseURL:      strings.TrimSuffix(cfg.BaseUrl, "/"),
		clientID:     cfg.ClientId,
		clientSecret: cfg.ClientSecret,
	}
}

type postRequest struct {
	Text  string         `json:"text"`
	Reply *postReplyMeta `json:"reply,omitempty"`
}

type postReplyMeta struct {
	InReplyToPostID string `json:"in_reply_to_tweet_id"`
}

type apiEnvelope struct {
	Data   *Post  `json:"data"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (e *apiEnvelope) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if len(e.Errors) > 0 {
		return e.Errors[0].Message
	}
	return e.Title
}

// PostContent publishes a post or reply on behalf of the connected account.
func (h *HTTPClient) PostContent(ctx context.Context, accessToken, text, replyToID string) (*Post, error) {
	body := postRequest{Text: text}
	if replyToID != "" {
		body.Reply = &postReplyMeta{InReplyToPostID: replyToID}
	}

	payload, err := request.ToJsonReq(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/tweets", h.baseURL), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var envelope apiEnvelope
	resp, err := request.Call(req, &envelope)
	if err != nil {
		return nil, errors.Wrap(err, "platform post request failed")
	}
	if err := h.mapStatus(resp.StatusCode, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return nil, errors.New("platform returned no post data")
	}
	return envelope.Data, nil
}

// RefreshToken exchanges the refresh token for a new pair. The token endpoint
// takes a form-encoded body with client basic auth, unlike the JSON API.
func (h *HTTPClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", h.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/oauth2/token", h.baseURL), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(h.clientID, h.clientSecret))

	client := &http.Client{Timeout: request.DefaultTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "platform token refresh failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		// A rejected refresh token is not recoverable by retrying; the
		// account has to be reconnected.
		return nil, errors.Errorf("platform token refresh rejected with status %d", resp.StatusCode)
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, errors.Wrap(err, "platform token refresh returned malformed response")
	}
	if pair.AccessToken == "" {
		return nil, errors.New("platform token refresh returned empty access token")
	}
	return &pair, nil
}

// VerifyCredentials calls the authenticated users/me endpoint and discards
// the body. Only the status code matters.
func (h *HTTPClient) VerifyCredentials(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/me", h.baseURL), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var envelope apiEnvelope
	resp, err := request.Call(req, &envelope)
	if err != nil {
		return errors.Wrap(err, "platform credential check failed")
	}
	return h.mapStatus(resp.StatusCode, &envelope)
}

// mapStatus translates platform HTTP statuses into the typed errors the
// delivery engine branches on.
func (h *HTTPClient) mapStatus(status int, envelope *apiEnvelope) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrAuthExpired
	case status == http.StatusForbidden:
		msg := strings.ToLower(envelope.message())
		if strings.Contains(msg, "suspend") || strings.Contains(msg, "block") || strings.Contains(msg, "lock") {
			return errors.Wrap(ErrAccountRestricted, envelope.message())
		}
		return errors.Errorf("platform rejected request: %s", envelope.message())
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return errors.Errorf("platform returned status %d: %s", status, envelope.message())
	}
}
