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

package sessions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/database"
)

func newTestManager(t *testing.T) (*Manager, *database.Database) {
	t.Helper()

	db, err := database.Connect(database.DialectSQLite, filepath.Join(t.TempDir(), "charted.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewManager(db, auth.Local{}, "beep boop do not tell anyone", nil), db
}

func registerUser(t *testing.T, db *database.Database, username, password string) *database.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	user, err := db.CreateUser(context.Background(), username, username+"@example.com", hash, false)
	require.NoError(t, err)
	return user
}

func TestLogin(t *testing.T) {
	manager, db := newTestManager(t)
	ctx := context.Background()
	user := registerUser(t, db, "noel", "noelissocute")

	session, err := manager.Login(ctx, "noel", "noelissocute")
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.Account)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.NotEqual(t, session.AccessToken, session.RefreshToken)

	stored, err := db.GetSession(ctx, session.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, session.RefreshToken, stored.RefreshToken)
}

func TestLoginByEmail(t *testing.T) {
	manager, db := newTestManager(t)
	registerUser(t, db, "noel", "noelissocute")

	session, err := manager.Login(context.Background(), "noel@example.com", "noelissocute")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
}

func TestLoginWrongPassword(t *testing.T) {
	manager, db := newTestManager(t)
	registerUser(t, db, "noel", "noelissocute")

	_, err := manager.Login(context.Background(), "noel", "hunter2")
	assert.ErrorIs(t, err, auth.ErrInvalidPassword)
}

func TestLoginUnknownUser(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.Login(context.Background(), "ghost", "boo")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDecode(t *testing.T) {
	manager, db := newTestManager(t)
	user := registerUser(t, db, "noel", "noelissocute")

	session, err := manager.Login(context.Background(), "noel", "noelissocute")
	require.NoError(t, err)

	claims, err := manager.Decode(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, session.ID, claims.SessionID)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Contains(t, claims.Audience, Audience)
}

func TestDecodeExpired(t *testing.T) {
	manager, _ := newTestManager(t)

	token, err := manager.sign(database.NewID(), database.NewID(), time.Now().UTC().Add(-time.Hour), time.Minute)
	require.NoError(t, err)

	_, err = manager.Decode(token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestDecodeTampered(t *testing.T) {
	manager, db := newTestManager(t)
	registerUser(t, db, "noel", "noelissocute")

	session, err := manager.Login(context.Background(), "noel", "noelissocute")
	require.NoError(t, err)

	_, err = manager.Decode(session.AccessToken + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsForeignAlgorithm(t *testing.T) {
	manager, _ := newTestManager(t)

	claims := &Claims{
		UserID:    database.NewID(),
		SessionID: database.NewID(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("beep boop do not tell anyone"))
	require.NoError(t, err)

	_, err = manager.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAfterLogout(t *testing.T) {
	manager, db := newTestManager(t)
	user := registerUser(t, db, "noel", "noelissocute")
	ctx := context.Background()

	session, err := manager.Login(ctx, "noel", "noelissocute")
	require.NoError(t, err)
	require.NoError(t, manager.Logout(ctx, session.ID, user.ID))

	_, _, err = manager.Verify(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestLogoutTwice(t *testing.T) {
	manager, db := newTestManager(t)
	user := registerUser(t, db, "noel", "noelissocute")
	ctx := context.Background()

	session, err := manager.Login(ctx, "noel", "noelissocute")
	require.NoError(t, err)
	require.NoError(t, manager.Logout(ctx, session.ID, user.ID))
	assert.ErrorIs(t, manager.Logout(ctx, session.ID, user.ID), database.ErrNotFound)
}

func TestRefreshRotatesSession(t *testing.T) {
	manager, db := newTestManager(t)
	user := registerUser(t, db, "noel", "noelissocute")
	ctx := context.Background()

	session, err := manager.Login(ctx, "noel", "noelissocute")
	require.NoError(t, err)

	rotated, err := manager.Refresh(ctx, session)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, rotated.ID)
	assert.Equal(t, user.ID, rotated.Account)

	_, err = db.GetSession(ctx, session.ID, user.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, _, err = manager.Verify(ctx, rotated.AccessToken)
	assert.NoError(t, err)
}
