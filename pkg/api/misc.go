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

	"charted.dev/charted/internal/version"
	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/storage"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"message": "Hello, world! 👋",
		"docs":    "https://charts.noelware.org/docs",
		"version": version.GetVersion(),
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, version.Get())
}

// handleGetIndex serves the owner's index.yaml the way helm expects it:
// raw YAML, no envelope.
func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	owner, err := s.db.GetOwner(r.Context(), mux.Vars(r)["owner"])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "owner %q doesn't exist", mux.Vars(r)["owner"]))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}

	rc, err := s.registry.OpenIndex(r.Context(), owner.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "%q has no chart index", owner.Name))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}
