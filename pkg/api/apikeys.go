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
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/database"
)

type createAPIKeyRequest struct {
	Name        string       `json:"name"`
	Description *string      `json:"description,omitempty"`
	Scopes      []auth.Scope `json:"scopes"`
	ExpiresIn   *string      `json:"expires_in,omitempty"`
}

// handleCreateAPIKey implements PUT /apikeys. The response is the only
// place the token bytes ever appear.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var body createAPIKeyRequest
	if aerr := decodeBody(r, &body); aerr != nil {
		respondError(w, aerr)
		return
	}
	if len(body.Scopes) == 0 {
		respondError(w, apierrors.New(apierrors.ValidationFailed, "api key needs at least one scope").
			WithDetails(map[string]string{"field": "scopes"}))
		return
	}

	var expiresAt *time.Time
	if body.ExpiresIn != nil {
		duration, err := time.ParseDuration(*body.ExpiresIn)
		if err != nil || duration <= 0 {
			respondError(w, apierrors.Newf(apierrors.ValidationFailed, "%q is not a valid expiry duration", *body.ExpiresIn).
				WithDetails(map[string]string{"field": "expires_in"}))
			return
		}
		expiry := s.now().Add(duration)
		expiresAt = &expiry
	}

	key, err := s.db.CreateAPIKey(r.Context(), identity.User.ID, body.Name, body.Description, auth.NewScopes(body.Scopes...), expiresAt)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrExists):
			respondError(w, apierrors.Newf(apierrors.EntityAlreadyExists, "api key %q already exists", body.Name))
		case isNameError(err):
			respondError(w, apierrors.New(apierrors.ValidationFailed, err.Error()).
				WithDetails(map[string]string{"field": "name"}))
		default:
			respondSystemFailure(w, r, err)
		}
		return
	}
	respond(w, http.StatusCreated, key)
}

// handleListAPIKeys implements GET /apikeys with token bytes redacted.
func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	keys, err := s.db.ListAPIKeys(r.Context(), identity.User.ID)
	if err != nil {
		respondSystemFailure(w, r, err)
		return
	}

	redacted := make([]*database.APIKey, len(keys))
	for i, key := range keys {
		redacted[i] = key.Redacted()
	}
	respond(w, http.StatusOK, redacted)
}

// handleDeleteAPIKey implements DELETE /apikeys/{name}.
func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	name := mux.Vars(r)["name"]

	if err := s.db.DeleteAPIKey(r.Context(), identity.User.ID, name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "api key %q doesn't exist", name))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}
