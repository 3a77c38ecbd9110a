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
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// Session pairs an access and refresh JWT with the account they were
// minted for. The row is the authority: a signed token whose session row
// is gone no longer authenticates. ExpiresAt tracks the refresh token's
// expiry so the janitor can sweep dead rows.
type Session struct {
	ID           string    `db:"id" json:"id"`
	Account      string    `db:"account" json:"account"`
	AccessToken  string    `db:"access_token" json:"access_token,omitempty"`
	RefreshToken string    `db:"refresh_token" json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

const sessionColumns = "id, account, access_token, refresh_token, expires_at, created_at"

// Redacted returns a copy with the token bytes blanked. Tokens are shown
// on login and refresh; inspection responses carry the redacted form.
func (s *Session) Redacted() *Session {
	redacted := *s
	redacted.AccessToken = ""
	redacted.RefreshToken = ""
	return &redacted
}

// CreateSession stores a freshly minted session row.
func (d *Database) CreateSession(ctx context.Context, session *Session) error {
	if _, err := d.db.NamedExecContext(ctx,
		"INSERT INTO sessions (id, account, access_token, refresh_token, expires_at, created_at) "+
			"VALUES (:id, :account, :access_token, :refresh_token, :expires_at, :created_at)",
		session,
	); err != nil {
		return errors.Wrapf(err, "unable to create session %s", session.ID)
	}
	return nil
}

// GetSession fetches the session by ID, filtered by the account it
// belongs to.
func (d *Database) GetSession(ctx context.Context, id, account string) (*Session, error) {
	var session Session
	query := d.db.Rebind("SELECT " + sessionColumns + " FROM sessions WHERE id = ? AND account = ?")
	if err := d.db.GetContext(ctx, &session, query, id, account); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "unable to fetch session %s", id)
	}
	return &session, nil
}

// DeleteSession removes the session by ID, filtered by account. A
// missing row surfaces as ErrNotFound so logout can report it.
func (d *Database) DeleteSession(ctx context.Context, id, account string) error {
	query := d.db.Rebind("DELETE FROM sessions WHERE id = ? AND account = ?")
	result, err := d.db.ExecContext(ctx, query, id, account)
	if err != nil {
		return errors.Wrapf(err, "unable to delete session %s", id)
	}
	return ensureAffected(result)
}

// DeleteExpiredSessions removes every session whose refresh expiry has
// passed and returns how many were swept.
func (d *Database) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	query, args, err := d.statementBuilder.
		Delete("sessions").
		Where(sq.Lt{"expires_at": time.Now().UTC()}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "unable to build expired session sweep")
	}

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "unable to sweep expired sessions")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}
