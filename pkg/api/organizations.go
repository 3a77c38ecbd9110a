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

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/database"
)

type createOrganizationRequest struct {
	Name        string  `json:"name"`
	DisplayName *string `json:"display_name,omitempty"`
}

// handleCreateOrganization implements PUT /organizations. Creating one
// also creates its chart index, since organizations are namespace roots
// like users.
func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var body createOrganizationRequest
	if aerr := decodeBody(r, &body); aerr != nil {
		respondError(w, aerr)
		return
	}

	if s.config.SingleOrg {
		count, err := s.db.CountOrganizations(r.Context())
		if err != nil {
			respondSystemFailure(w, r, err)
			return
		}
		if count > 0 {
			respondError(w, apierrors.New(apierrors.AccessNotPermitted, "instance is configured for a single organization"))
			return
		}
	}

	org, err := s.db.CreateOrganization(r.Context(), body.Name, identity.User.ID, body.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrExists):
			respondError(w, apierrors.Newf(apierrors.EntityAlreadyExists, "organization %q already exists", body.Name))
		case isNameError(err):
			respondError(w, apierrors.New(apierrors.ValidationFailed, err.Error()).
				WithDetails(map[string]string{"field": "name"}))
		default:
			respondSystemFailure(w, r, err)
		}
		return
	}

	if err := s.registry.CreateIndex(r.Context(), org.ID); err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusCreated, org)
}

// handleGetOrganization implements GET /organizations/{idOrName}.
func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	idOrName := mux.Vars(r)["idOrName"]
	org, err := s.db.GetOrganization(r.Context(), idOrName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "organization %q doesn't exist", idOrName))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusOK, org)
}

// handleDeleteOrganization implements DELETE /organizations/{idOrName}:
// only the administering account may delete it, artifacts go first.
func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	idOrName := mux.Vars(r)["idOrName"]
	org, err := s.db.GetOrganization(r.Context(), idOrName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "organization %q doesn't exist", idOrName))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}

	identity, _ := IdentityFrom(r.Context())
	if identity == nil || identity.User.ID != org.Owner {
		respondError(w, apierrors.Newf(apierrors.AccessNotPermitted, "you do not administer %q", org.Name))
		return
	}

	owner := &database.Owner{ID: org.ID, Name: org.Name, Kind: database.OwnerOrganization}
	if err := s.registry.PurgeOwner(r.Context(), owner); err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	if err := s.db.DeleteOrganization(r.Context(), org.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "organization %q doesn't exist", idOrName))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}
