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
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSession(t *testing.T) {
	db, mock := newTestFixture(t)

	session := &Session{
		ID:           NewID(),
		Account:      NewID(),
		AccessToken:  "access.jwt",
		RefreshToken: "refresh.jwt",
		ExpiresAt:    time.Now().UTC().Add(7 * 24 * time.Hour),
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO sessions (id, account, access_token, refresh_token, expires_at, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?)")).
		WithArgs(session.ID, session.Account, "access.jwt", "refresh.jwt", session.ExpiresAt, session.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.CreateSession(context.Background(), session))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionScopedToAccount(t *testing.T) {
	db, mock := newTestFixture(t)

	id, account := NewID(), NewID()
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "account", "access_token", "refresh_token", "expires_at", "created_at"}).
		AddRow(id, account, "access.jwt", "refresh.jwt", now.Add(time.Hour), now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+sessionColumns+" FROM sessions WHERE id = ? AND account = ?")).
		WithArgs(id, account).
		WillReturnRows(rows)

	session, err := db.GetSession(context.Background(), id, account)
	require.NoError(t, err)
	assert.Equal(t, id, session.ID)
	assert.Equal(t, account, session.Account)
	assert.Equal(t, "refresh.jwt", session.RefreshToken)
}

func TestDeleteSessionNotFound(t *testing.T) {
	db, mock := newTestFixture(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE id = ? AND account = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.DeleteSession(context.Background(), NewID(), NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteExpiredSessions(t *testing.T) {
	db, mock := newTestFixture(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at < ?")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	swept, err := db.DeleteExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, swept)
}
