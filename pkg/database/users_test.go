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
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charted.dev/charted/pkg/names"
)

const insertUserQuery = "INSERT INTO users (id, username, email, password, description, avatar_hash, admin, created_at, updated_at) " +
	"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"

func TestCreateUser(t *testing.T) {
	db, mock := newTestFixture(t)

	mock.ExpectExec(regexp.QuoteMeta(insertUserQuery)).
		WithArgs(sqlmock.AnyArg(), "noel", "noel@example.com", "$2a$10$stub", nil, nil, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := db.CreateUser(context.Background(), "noel", "noel@example.com", "$2a$10$stub", false)
	require.NoError(t, err)
	assert.True(t, IsID(user.ID))
	assert.Equal(t, "noel", user.Username)
	require.NotNil(t, user.Password)
	assert.Equal(t, "$2a$10$stub", *user.Password)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserInvalidName(t *testing.T) {
	db, _ := newTestFixture(t)

	_, err := db.CreateUser(context.Background(), "a", "a@example.com", "", false)
	assert.ErrorIs(t, err, names.ErrNameTooShort)

	_, err = db.CreateUser(context.Background(), "no spaces", "b@example.com", "", false)
	assert.ErrorIs(t, err, names.ErrInvalidName)
}

func TestCreateUserAlreadyExists(t *testing.T) {
	db, mock := newTestFixture(t)

	mock.ExpectExec(regexp.QuoteMeta(insertUserQuery)).
		WillReturnError(fmt.Errorf("UNIQUE constraint failed: users.email"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE LOWER(username) = ? OR email = ?")).
		WithArgs("noel", "noel@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(NewID()))

	_, err := db.CreateUser(context.Background(), "Noel", "noel@example.com", "", false)
	assert.ErrorIs(t, err, ErrExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByName(t *testing.T) {
	db, mock := newTestFixture(t)

	id := NewID()
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "password", "description", "avatar_hash", "admin", "created_at", "updated_at"}).
		AddRow(id, "Noel", "noel@example.com", nil, nil, nil, true, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+userColumns+" FROM users WHERE LOWER(username) = ?")).
		WithArgs("noel").
		WillReturnRows(rows)

	user, err := db.GetUserByName(context.Background(), "NOEL")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "Noel", user.Username)
	assert.Nil(t, user.Password)
	assert.True(t, user.Admin)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserNotFound(t *testing.T) {
	db, mock := newTestFixture(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+userColumns+" FROM users WHERE id = ?")).
		WillReturnError(sql.ErrNoRows)

	_, err := db.GetUser(context.Background(), NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountUsers(t *testing.T) {
	db, mock := newTestFixture(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(id) FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := db.CountUsers(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestUpdateUser(t *testing.T) {
	db, mock := newTestFixture(t)
	id := NewID()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET updated_at = ?, description = ? WHERE id = ?")).
		WithArgs(sqlmock.AnyArg(), "chart hoarder", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.UpdateUser(context.Background(), id, UserPatch{Description: strptr("chart hoarder")})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserClearsDescription(t *testing.T) {
	db, mock := newTestFixture(t)
	id := NewID()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET updated_at = ?, description = ? WHERE id = ?")).
		WithArgs(sqlmock.AnyArg(), nil, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.UpdateUser(context.Background(), id, UserPatch{Description: strptr("")})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserNotFound(t *testing.T) {
	db, mock := newTestFixture(t)

	mock.ExpectExec("UPDATE users SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.UpdateUser(context.Background(), NewID(), UserPatch{Description: strptr("gone")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	db, mock := newTestFixture(t)
	id := NewID()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM repository_releases WHERE repository IN (SELECT id FROM repositories WHERE owner = ?)")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM repositories WHERE owner = ?")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM api_keys WHERE owner = ?")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE account = ?")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = ?")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, db.DeleteUser(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserNotFound(t *testing.T) {
	db, mock := newTestFixture(t)
	id := NewID()

	mock.ExpectBegin()
	for i := 0; i < 4; i++ {
		mock.ExpectExec("DELETE FROM").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = ?")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := db.DeleteUser(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}
