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
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/sessions"
)

// minPasswordLen is the shortest password an account may register with.
const minPasswordLen = 8

type registerUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegisterUser implements PUT /users.
func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	if !s.config.Registrations {
		respondError(w, apierrors.New(apierrors.RegistrationsDisabled, "registrations are disabled on this instance"))
		return
	}

	var body registerUserRequest
	if aerr := decodeBody(r, &body); aerr != nil {
		respondError(w, aerr)
		return
	}
	if !govalidator.IsEmail(body.Email) {
		respondError(w, apierrors.Newf(apierrors.ValidationFailed, "%q is not a valid email address", body.Email).
			WithDetails(map[string]string{"field": "email"}))
		return
	}
	if len(body.Password) < minPasswordLen {
		respondError(w, apierrors.Newf(apierrors.ValidationFailed, "password must be at least %d characters", minPasswordLen).
			WithDetails(map[string]string{"field": "password"}))
		return
	}

	if s.config.SingleUser {
		count, err := s.db.CountUsers(r.Context())
		if err != nil {
			respondSystemFailure(w, r, err)
			return
		}
		if count > 0 {
			respondError(w, apierrors.New(apierrors.RegistrationsDisabled, "instance is configured for a single user"))
			return
		}
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	user, err := s.db.CreateUser(r.Context(), body.Username, body.Email, hash, false)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrExists):
			respondError(w, apierrors.Newf(apierrors.EntityAlreadyExists, "user %q already exists", body.Username))
		case isNameError(err):
			respondError(w, apierrors.New(apierrors.ValidationFailed, err.Error()).
				WithDetails(map[string]string{"field": "username"}))
		default:
			respondSystemFailure(w, r, err)
		}
		return
	}

	if err := s.registry.CreateIndex(r.Context(), user.ID); err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusCreated, user)
}

type loginRequest struct {
	Login struct {
		Username string `json:"username,omitempty"`
		Email    string `json:"email,omitempty"`
	} `json:"login"`
	Password string `json:"password"`
}

// handleLogin implements POST /users/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if aerr := decodeBody(r, &body); aerr != nil {
		respondError(w, aerr)
		return
	}

	login := body.Login.Username
	if login == "" {
		login = body.Login.Email
	}
	if login == "" {
		respondError(w, apierrors.New(apierrors.ValidationFailed, "login needs a username or an email").
			WithDetails(map[string]string{"field": "login"}))
		return
	}
	if body.Password == "" {
		respondError(w, apierrors.New(apierrors.MissingPassword, "no password provided"))
		return
	}

	session, err := s.sessions.Login(r.Context(), login, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "user %q doesn't exist", login))
		case errors.Is(err, auth.ErrInvalidPassword):
			respondError(w, apierrors.New(apierrors.InvalidPassword, "invalid password"))
		case errors.Is(err, auth.ErrMissingPassword):
			respondError(w, apierrors.New(apierrors.MissingPassword, "account has no password"))
		default:
			respondSystemFailure(w, r, err)
		}
		return
	}
	respond(w, http.StatusCreated, session)
}

// handleGetSession implements GET /users/@me/session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if identity.Session == nil {
		respondError(w, apierrors.New(apierrors.UnknownSession, "request is not backed by a session"))
		return
	}
	respond(w, http.StatusOK, identity.Session.Redacted())
}

// handleRefreshSession implements POST /users/@me/session/refresh. The
// middleware has already required the refresh token.
func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	session, err := s.sessions.Refresh(r.Context(), identity.Session)
	if err != nil {
		if errors.Is(err, sessions.ErrUnknownSession) {
			respondError(w, apierrors.New(apierrors.UnknownSession, "session no longer exists"))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusCreated, session)
}

// handleLogout implements DELETE /users/@me/session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if identity.Session == nil {
		respondError(w, apierrors.New(apierrors.UnknownSession, "request is not backed by a session"))
		return
	}
	if err := s.sessions.Logout(r.Context(), identity.Session.ID, identity.Session.Account); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.New(apierrors.EntityNotFound, "session no longer exists"))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

// handleGetUser implements GET /users/{idOrName}.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	idOrName := mux.Vars(r)["idOrName"]

	var (
		user *database.User
		err  error
	)
	if database.IsID(idOrName) {
		user, err = s.db.GetUser(r.Context(), idOrName)
	} else {
		user, err = s.db.GetUserByName(r.Context(), idOrName)
	}
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "user %q doesn't exist", idOrName))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusOK, user)
}

// handleGetSelf implements GET /users/@me.
func (s *Server) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	respond(w, http.StatusOK, identity.User)
}

type patchSelfRequest struct {
	Email       *string `json:"email,omitempty"`
	Password    *string `json:"password,omitempty"`
	Description *string `json:"description,omitempty"`
}

// handlePatchSelf implements PATCH /users/@me.
func (s *Server) handlePatchSelf(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var body patchSelfRequest
	if aerr := decodeBody(r, &body); aerr != nil {
		respondError(w, aerr)
		return
	}

	patch := database.UserPatch{
		Email:       body.Email,
		Description: body.Description,
	}
	if body.Email != nil && !govalidator.IsEmail(*body.Email) {
		respondError(w, apierrors.Newf(apierrors.ValidationFailed, "%q is not a valid email address", *body.Email).
			WithDetails(map[string]string{"field": "email"}))
		return
	}
	if body.Password != nil {
		if len(*body.Password) < minPasswordLen {
			respondError(w, apierrors.Newf(apierrors.ValidationFailed, "password must be at least %d characters", minPasswordLen).
				WithDetails(map[string]string{"field": "password"}))
			return
		}
		hash, err := auth.HashPassword(*body.Password)
		if err != nil {
			respondSystemFailure(w, r, err)
			return
		}
		patch.Password = &hash
	}

	if err := s.db.UpdateUser(r.Context(), identity.User.ID, patch); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.New(apierrors.EntityNotFound, "account no longer exists"))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}

	user, err := s.db.GetUser(r.Context(), identity.User.ID)
	if err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusOK, user)
}

// handleDeleteSelf implements DELETE /users/@me: stored artifacts first,
// database rows second so a crash leaves rows the janitor can map to
// missing objects rather than unowned objects.
func (s *Server) handleDeleteSelf(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	owner := &database.Owner{ID: identity.User.ID, Name: identity.User.Username, Kind: database.OwnerUser}

	if err := s.registry.PurgeOwner(r.Context(), owner); err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	if err := s.db.DeleteUser(r.Context(), identity.User.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.New(apierrors.EntityNotFound, "account no longer exists"))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

// isNameError reports whether err came from name grammar validation.
func isNameError(err error) bool {
	for _, sentinel := range nameErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
