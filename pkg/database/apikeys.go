/*
Copyright The Charted Authors.
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
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/names"
)

// APIKey is an opaque bearer token with an attached scope bitfield. Keys
// authenticate as their owner but only for routes whose required scopes
// are a subset of the key's.
type APIKey struct {
	ID          string      `db:"id" json:"id"`
	Owner       string      `db:"owner" json:"owner"`
	Name        string      `db:"name" json:"name"`
	Description *string     `db:"description" json:"description"`
	Token       string      `db:"token" json:"token,omitempty"`
	Scopes      auth.Scopes `db:"scopes" json:"scopes"`
	ExpiresAt   *time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

const apiKeyColumns = "id, owner, name, description, token, scopes, expires_at, created_at, updated_at"

// Redacted returns a copy with the token blanked. The token is shown
// once, on creation; list and fetch responses carry the redacted form.
func (k *APIKey) Redacted() *APIKey {
	redacted := *k
	redacted.Token = ""
	return &redacted
}

// generateToken mints an API key token: 32 bytes of entropy, hex encoded.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "unable to read entropy for token")
	}
	return hex.EncodeToString(buf), nil
}

// CreateAPIKey mints a token for the owner ID with the given scopes. A
// nil expiresAt means the key never expires. Name collisions within the
// owner surface as ErrExists.
func (d *Database) CreateAPIKey(ctx context.Context, owner, name string, description *string, scopes auth.Scopes, expiresAt *time.Time) (*APIKey, error) {
	if err := names.Validate(name); err != nil {
		return nil, err
	}
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	key := &APIKey{
		ID:          NewID(),
		Owner:       owner,
		Name:        name,
		Description: description,
		Token:       token,
		Scopes:      scopes,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := d.db.NamedExecContext(ctx,
		"INSERT INTO api_keys (id, owner, name, description, token, scopes, expires_at, created_at, updated_at) "+
			"VALUES (:id, :owner, :name, :description, :token, :scopes, :expires_at, :created_at, :updated_at)",
		key,
	); err != nil {
		var existing APIKey
		query := d.db.Rebind("SELECT id FROM api_keys WHERE owner = ? AND LOWER(name) = ?")
		if gerr := d.db.GetContext(ctx, &existing, query, owner, names.Fold(name)); gerr == nil {
			d.Log("create api key: %q already exists for %s", name, owner)
			return nil, ErrExists
		}
		return nil, errors.Wrapf(err, "unable to create api key %q", name)
	}
	return key, nil
}

// GetAPIKey fetches a key by name under the owner ID.
func (d *Database) GetAPIKey(ctx context.Context, owner, name string) (*APIKey, error) {
	var key APIKey
	query := d.db.Rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE owner = ? AND LOWER(name) = ?")
	if err := d.db.GetContext(ctx, &key, query, owner, names.Fold(name)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "unable to fetch api key %q", name)
	}
	return &key, nil
}

// GetAPIKeyByToken looks a key up by exact token match.
func (d *Database) GetAPIKeyByToken(ctx context.Context, token string) (*APIKey, error) {
	var key APIKey
	query := d.db.Rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE token = ?")
	if err := d.db.GetContext(ctx, &key, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "unable to fetch api key by token")
	}
	return &key, nil
}

// ListAPIKeys returns every key of the owner ID, oldest first.
func (d *Database) ListAPIKeys(ctx context.Context, owner string) ([]*APIKey, error) {
	var keys []*APIKey
	query := d.db.Rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE owner = ? ORDER BY id")
	if err := d.db.SelectContext(ctx, &keys, query, owner); err != nil {
		return nil, errors.Wrapf(err, "unable to list api keys for %s", owner)
	}
	return keys, nil
}

// DeleteAPIKey removes the key by name under the owner ID.
func (d *Database) DeleteAPIKey(ctx context.Context, owner, name string) error {
	query := d.db.Rebind("DELETE FROM api_keys WHERE owner = ? AND LOWER(name) = ?")
	result, err := d.db.ExecContext(ctx, query, owner, names.Fold(name))
	if err != nil {
		return errors.Wrapf(err, "unable to delete api key %q", name)
	}
	return ensureAffected(result)
}

// DeleteExpiredAPIKeys removes every key whose expiry has passed and
// returns how many were swept.
func (d *Database) DeleteExpiredAPIKeys(ctx context.Context) (int64, error) {
	query, args, err := d.statementBuilder.
		Delete("api_keys").
		Where(sq.NotEq{"expires_at": nil}).
		Where(sq.Lt{"expires_at": time.Now().UTC()}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "unable to build expired key sweep")
	}

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "unable to sweep expired api keys")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}
