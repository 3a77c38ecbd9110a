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

package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/sessions"
)

// AuthOptions configure the authentication middleware for one route.
type AuthOptions struct {
	// AllowUnauthorized lets requests with no Authorization header pass
	// with no identity attached. Presented credentials are still checked.
	AllowUnauthorized bool

	// RequireRefreshToken restricts the route to the Bearer scheme and
	// requires the presented token to be the session's refresh token.
	RequireRefreshToken bool

	// Scopes are the bits an API key must carry to use the route.
	// Interactive sessions are not scope-limited.
	Scopes auth.Scopes
}

// Identity is what the middleware attaches to an authenticated request:
// the resolved account and, for Bearer requests, the session row plus
// the token that was presented.
type Identity struct {
	User    *database.User
	Session *database.Session
	Token   string
}

type identityContextKey struct{}

// IdentityFrom returns the identity the middleware attached, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok
}

// The authorization schemes the middleware understands.
const (
	schemeBearer = "bearer"
	schemeAPIKey = "apikey"
	schemeBasic  = "basic"
)

// authenticate wraps next with the authentication and scope checks of
// opts. On success the request context carries an *Identity.
func (s *Server) authenticate(opts AuthOptions, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if opts.AllowUnauthorized {
				next(w, r)
				return
			}
			respondError(w, apierrors.New(apierrors.MissingAuthorizationHeader, "missing Authorization header"))
			return
		}

		identity, aerr := s.resolveIdentity(r.Context(), header, opts)
		if aerr != nil {
			respondError(w, aerr)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityContextKey{}, identity)))
	}
}

// resolveIdentity classifies the Authorization header into one of the
// three schemes and runs its checks.
func (s *Server) resolveIdentity(ctx context.Context, header string, opts AuthOptions) (*Identity, *apierrors.Error) {
	if !utf8.ValidString(header) {
		return nil, apierrors.New(apierrors.InvalidUtf8, "Authorization header is not valid UTF-8")
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 {
		return nil, apierrors.Newf(apierrors.InvalidAuthorizationParts,
			"Authorization header must be \"Type Value\", received %d parts", len(parts))
	}

	scheme, value := strings.ToLower(parts[0]), parts[1]
	switch scheme {
	case schemeBearer, schemeAPIKey, schemeBasic:
	default:
		return nil, apierrors.Newf(apierrors.InvalidAuthenticationType, "unknown authorization type %q", parts[0])
	}
	if opts.RequireRefreshToken && scheme != schemeBearer {
		return nil, apierrors.New(apierrors.RefreshTokenRequired, "route requires a session refresh token")
	}

	switch scheme {
	case schemeBearer:
		return s.resolveBearer(ctx, value, opts)
	case schemeAPIKey:
		return s.resolveAPIKey(ctx, value, opts)
	default:
		return s.resolveBasic(ctx, value)
	}
}

func (s *Server) resolveBearer(ctx context.Context, token string, opts AuthOptions) (*Identity, *apierrors.Error) {
	session, _, err := s.sessions.Verify(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrSessionExpired):
			return nil, apierrors.New(apierrors.SessionExpired, "session token has expired")
		case errors.Is(err, sessions.ErrUnknownSession):
			return nil, apierrors.New(apierrors.UnknownSession, "session no longer exists")
		case errors.Is(err, sessions.ErrInvalidToken):
			return nil, apierrors.New(apierrors.InvalidSessionToken, "session token is invalid")
		}
		return nil, apierrors.New(apierrors.InternalServerError, "unable to verify session token")
	}
	if opts.RequireRefreshToken && token != session.RefreshToken {
		return nil, apierrors.New(apierrors.RefreshTokenRequired, "route requires the session's refresh token")
	}

	user, err := s.db.GetUser(ctx, session.Account)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apierrors.New(apierrors.UnknownSession, "session account no longer exists")
		}
		return nil, apierrors.New(apierrors.InternalServerError, "unable to resolve session account")
	}
	return &Identity{User: user, Session: session, Token: token}, nil
}

func (s *Server) resolveAPIKey(ctx context.Context, token string, opts AuthOptions) (*Identity, *apierrors.Error) {
	key, err := s.db.GetAPIKeyByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apierrors.New(apierrors.EntityNotFound, "api key doesn't exist")
		}
		return nil, apierrors.New(apierrors.InternalServerError, "unable to resolve api key")
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(s.now()) {
		return nil, apierrors.New(apierrors.EntityNotFound, "api key has expired")
	}
	if missing, ok := key.Scopes.Missing(opts.Scopes); ok {
		return nil, apierrors.Newf(apierrors.AccessNotPermitted,
			"api key is missing the %q scope", missing).
			WithDetails(map[string]string{"scope": missing.String()})
	}

	user, err := s.db.GetUser(ctx, key.Owner)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apierrors.New(apierrors.EntityNotFound, "api key owner no longer exists")
		}
		return nil, apierrors.New(apierrors.InternalServerError, "unable to resolve api key owner")
	}
	return &Identity{User: user}, nil
}

func (s *Server) resolveBasic(ctx context.Context, value string) (*Identity, *apierrors.Error) {
	if !s.config.Sessions.EnableBasicAuth {
		return nil, apierrors.New(apierrors.UnsupportedAuthorizationKind, "Basic authorization is not enabled on this instance")
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, apierrors.New(apierrors.BadRequest, "Basic credentials are not valid base64")
	}
	if !utf8.Valid(decoded) {
		return nil, apierrors.New(apierrors.InvalidUtf8, "Basic credentials are not valid UTF-8")
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return nil, apierrors.New(apierrors.BadRequest, "Basic credentials must be \"user:password\"")
	}

	user, err := s.sessions.Authenticate(ctx, username, password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidPassword):
			return nil, apierrors.New(apierrors.InvalidPassword, "invalid password")
		case errors.Is(err, auth.ErrMissingPassword):
			return nil, apierrors.New(apierrors.MissingPassword, "account has no password")
		case errors.Is(err, database.ErrNotFound):
			return nil, apierrors.Newf(apierrors.EntityNotFound, "user %q doesn't exist", username)
		}
		return nil, apierrors.New(apierrors.InternalServerError, "unable to authenticate")
	}
	return &Identity{User: user}, nil
}
