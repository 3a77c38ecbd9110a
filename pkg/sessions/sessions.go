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

// Package sessions mints, verifies and rotates the JWT pairs that back
// interactive logins. Every pair is anchored to a row in the sessions
// table; the row is the authority, so deleting it revokes both tokens no
// matter how much lifetime their signatures have left.
package sessions // import "charted.dev/charted/pkg/sessions"

import (
	"context"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/database"
)

const (
	// Issuer is the iss claim minted into every session token.
	Issuer = "Noelware/charted-server"

	// Audience is the fixed aud claim.
	Audience = "charted-server"

	// AccessTokenTTL is how long an access token stays valid.
	AccessTokenTTL = 2 * 24 * time.Hour

	// RefreshTokenTTL is how long a refresh token stays valid. It also
	// bounds the session row's lifetime.
	RefreshTokenTTL = 7 * 24 * time.Hour
)

var (
	// ErrSessionExpired indicates the token's exp claim has passed.
	ErrSessionExpired = errors.New("sessions: token has expired")

	// ErrInvalidToken indicates the token failed signature or claim
	// validation.
	ErrInvalidToken = errors.New("sessions: token is invalid")

	// ErrUnknownSession indicates a well-formed token whose session row
	// no longer exists.
	ErrUnknownSession = errors.New("sessions: session does not exist")
)

// Claims are the JWT claims carried by both tokens of a session pair.
// Access and refresh tokens share sid and uid and differ only in exp.
type Claims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager drives the session lifecycle against the database and the
// configured authentication backend.
type Manager struct {
	db      *database.Database
	backend auth.Backend
	secret  []byte

	Log func(string, ...interface{})
}

// NewManager wires a session manager. The secret signs every token with
// HS512; rotating it invalidates all outstanding sessions at once. The
// logger may be nil.
func NewManager(db *database.Database, backend auth.Backend, secret string, logger func(string, ...interface{})) *Manager {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Manager{
		db:      db,
		backend: backend,
		secret:  []byte(secret),
		Log:     logger,
	}
}

// Authenticate resolves the account by username or email and checks the
// password against the configured backend. It backs both login and HTTP
// Basic authentication.
func (m *Manager) Authenticate(ctx context.Context, usernameOrEmail, password string) (*database.User, error) {
	var (
		user *database.User
		err  error
	)
	if govalidator.IsEmail(usernameOrEmail) {
		user, err = m.db.GetUserByEmail(ctx, usernameOrEmail)
	} else {
		user, err = m.db.GetUserByName(ctx, usernameOrEmail)
	}
	if err != nil {
		return nil, err
	}

	hash := ""
	if user.Password != nil {
		hash = *user.Password
	}
	if err := m.backend.Authenticate(ctx, user.Username, hash, password); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates the account and mints a fresh session pair.
func (m *Manager) Login(ctx context.Context, usernameOrEmail, password string) (*database.Session, error) {
	user, err := m.Authenticate(ctx, usernameOrEmail, password)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, user.ID)
}

// Refresh rotates a session: the old row is destroyed and a new pair is
// minted for the same account. The caller must have verified that the
// presented token is the session's refresh token.
func (m *Manager) Refresh(ctx context.Context, session *database.Session) (*database.Session, error) {
	if err := m.db.DeleteSession(ctx, session.ID, session.Account); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, err
	}
	return m.create(ctx, session.Account)
}

// Logout destroys the session row. A missing row surfaces as
// database.ErrNotFound so the handler can report it.
func (m *Manager) Logout(ctx context.Context, sid, account string) error {
	return m.db.DeleteSession(ctx, sid, account)
}

// Verify decodes a session token and loads the row it is anchored to.
func (m *Manager) Verify(ctx context.Context, token string) (*database.Session, *Claims, error) {
	claims, err := m.Decode(token)
	if err != nil {
		return nil, nil, err
	}

	session, err := m.db.GetSession(ctx, claims.SessionID, claims.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, ErrUnknownSession
		}
		return nil, nil, err
	}
	return session, claims, nil
}

// Decode parses and validates a session token without consulting the
// session table.
func (m *Manager) Decode(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		m.Log("decode session token: %v", err)
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (m *Manager) create(ctx context.Context, account string) (*database.Session, error) {
	sid := database.NewID()
	now := time.Now().UTC()

	access, err := m.sign(account, sid, now, AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(account, sid, now, RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	session := &database.Session{
		ID:           sid,
		Account:      account,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(RefreshTokenTTL),
		CreatedAt:    now,
	}
	if err := m.db.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	m.Log("created session %s for account %s", sid, account)
	return session, nil
}

func (m *Manager) sign(account, sid string, now time.Time, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:    account,
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "unable to sign session token")
	}
	return signed, nil
}
