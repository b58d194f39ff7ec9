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

	"github.com/replyloop/autopilot/internal/apierror"
	"github.com/replyloop/autopilot/model"
)

// SaveCredential inserts or replaces the credential for an account. Tokens
// are sealed by the vault before they reach the table.
func (d Datasource) SaveCredential(ctx context.Context, cred *model.Credential) error {
	access, err := d.Vault.Encrypt(cred.AccessToken)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encrypt access token", err)
	}
	refresh, err := d.Vault.Encrypt(cred.RefreshToken)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encrypt refresh token", err)
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO credentials (account_id, access_token, refresh_token, last_activity, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE
		SET access_token = $2, refresh_token = $3, last_activity = $4, is_active = $5, updated_at = NOW()
	`, cred.AccountID, access, refresh, nullTime(cred.LastActivity), cred.IsActive, cred.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save credential", err)
	}
	return nil
}

// GetCredential loads and decrypts the credential for an account.
func (d Datasource) GetCredential(ctx context.Context, accountID string) (*model.Credential, error) {
	cred := &model.Credential{}
	var access, refresh sql.NullString
	var lastActivity, updatedAt sql.NullTime

	err := d.Conn.QueryRowContext(ctx, `
		SELECT account_id, access_token, refresh_token, last_activity, is_active, created_at, updated_at
		FROM credentials
		WHERE account_id = $1
	`, accountID).Scan(&cred.AccountID, &access, &refresh, &lastActivity, &cred.IsActive, &cred.CreatedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No credential for account '%s'", accountID), err)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credential", err)
	}

	if cred.AccessToken, err = d.Vault.Decrypt(access.String); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decrypt access token", err)
	}
	if cred.RefreshToken, err = d.Vault.Decrypt(refresh.String); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decrypt refresh token", err)
	}
	if lastActivity.Valid {
		cred.LastActivity = lastActivity.Time
	}
	if updatedAt.Valid {
		cred.UpdatedAt = updatedAt.Time
	}
	return cred, nil
}

// UpdateCredentialTokens persists a rotated token pair after a successful
// refresh.
func (d Datasource) UpdateCredentialTokens(ctx context.Context, accountID, accessToken, refreshToken string) error {
	access, err := d.Vault.Encrypt(accessToken)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encrypt access token", err)
	}
	refresh, err := d.Vault.Encrypt(refreshToken)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encrypt refresh token", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		UPDATE credentials
		SET access_token = $2, refresh_token = $3, last_activity = NOW(), updated_at = NOW()
		WHERE account_id = $1
	`, accountID, access, refresh)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update credential tokens", err)
	}
	return nil
}

// TouchCredentialActivity records that the credential was exercised.
func (d Datasource) TouchCredentialActivity(ctx context.Context, accountID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE credentials
		SET last_activity = $2
		WHERE account_id = $1
	`, accountID, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to touch credential activity", err)
	}
	return nil
}

// DeactivateCredential clears the token pair and flags the account as
// needing reconnection. Used on disconnect and on irrecoverable auth failure.
func (d Datasource) DeactivateCredential(ctx context.Context, accountID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE credentials
		SET access_token = NULL, refresh_token = NULL, is_active = FALSE, updated_at = NOW()
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to deactivate credential", err)
	}
	return nil
}

// GetStaleCredentials lists active credentials whose last activity is older
// than the cutoff. The token sweep pre-refreshes these before they block
// real sends.
func (d Datasource) GetStaleCredentials(ctx context.Context, cutoff time.Time) ([]*model.Credential, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT account_id, access_token, refresh_token, last_activity, is_active, created_at, updated_at
		FROM credentials
		WHERE is_active = TRUE AND (last_activity IS NULL OR last_activity < $1)
	`, cutoff)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale credentials", err)
	}
	defer rows.Close()

	var creds []*model.Credential
	for rows.Next() {
		cred := &model.Credential{}
		var access, refresh sql.NullString
		var lastActivity, updatedAt sql.NullTime
		if err := rows.Scan(&cred.AccountID, &access, &refresh, &lastActivity, &cred.IsActive, &cred.CreatedAt, &updatedAt); err != nil {
			return nil, err
		}
		if cred.AccessToken, err = d.Vault.Decrypt(access.String); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decrypt access token", err)
		}
		if cred.RefreshToken, err = d.Vault.Decrypt(refresh.String); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decrypt refresh token", err)
		}
		if lastActivity.Valid {
			cred.LastActivity = lastActivity.Time
		}
		if updatedAt.Valid {
			cred.UpdatedAt = updatedAt.Time
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}
