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
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/avatars"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/storage"
)

// handleUploadAvatar implements POST /users/@me/avatar: one multipart
// field carrying the image.
func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	part, aerr := firstPart(r, avatars.AcceptedTypes()...)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		respondError(w, apierrors.New(apierrors.IncompleteMultipartStream, "unable to read avatar bytes"))
		return
	}

	hash, err := s.avatars.Store(r.Context(), identity.User.ID, part.Header.Get("Content-Type"), data)
	if err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	if err := s.db.UpdateUser(r.Context(), identity.User.ID, database.UserPatch{AvatarHash: &hash}); err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusCreated, map[string]string{"avatar_hash": hash})
}

// handleGetAvatar implements GET /users/{idOrName}/avatar: the stored
// image when one was uploaded, the account's Gravatar otherwise.
func (s *Server) handleGetAvatar(w http.ResponseWriter, r *http.Request) {
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

	if user.AvatarHash != nil {
		rc, contentType, err := s.avatars.Open(r.Context(), user.ID, *user.AvatarHash)
		if err == nil {
			defer rc.Close()
			w.Header().Set("Content-Type", contentType)
			w.WriteHeader(http.StatusOK)
			io.Copy(w, rc)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			respondSystemFailure(w, r, err)
			return
		}
	}

	data, contentType, err := s.avatars.Gravatar(r.Context(), user.Email)
	if err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
