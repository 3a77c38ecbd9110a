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
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/registry"
	"charted.dev/charted/pkg/storage"
)

// Media types a chart tarball may be uploaded with.
var chartMediaTypes = []string{"application/gzip", "application/tar+gzip"}

type createRepositoryRequest struct {
	Name        string  `json:"name"`
	Owner       string  `json:"owner,omitempty"`
	Type        string  `json:"type,omitempty"`
	Private     bool    `json:"private,omitempty"`
	Description *string `json:"description,omitempty"`
}

// handleCreateRepository implements PUT /repositories. The optional
// owner field targets an organization the caller administers; it
// defaults to the caller.
func (s *Server) handleCreateRepository(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var body createRepositoryRequest
	if aerr := decodeBody(r, &body); aerr != nil {
		respondError(w, aerr)
		return
	}

	owner := &database.Owner{ID: identity.User.ID, Name: identity.User.Username, Kind: database.OwnerUser}
	if body.Owner != "" {
		resolved, aerr := s.resolveOwner(r.Context(), body.Owner)
		if aerr != nil {
			respondError(w, aerr)
			return
		}
		owner = resolved
		if _, aerr := s.requireManage(r.Context(), r, owner); aerr != nil {
			respondError(w, aerr)
			return
		}
	}

	chartType := body.Type
	if chartType == "" {
		chartType = database.TypeApplication
	}
	if !database.ValidChartType(chartType) {
		respondError(w, apierrors.Newf(apierrors.ValidationFailed, "unknown chart type %q", chartType).
			WithDetails(map[string]string{"field": "type"}))
		return
	}

	repo, err := s.db.CreateRepository(r.Context(), owner.ID, body.Name, chartType, body.Private, body.Description)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrExists):
			respondError(w, apierrors.Newf(apierrors.EntityAlreadyExists, "repository %s/%s already exists", owner.Name, body.Name))
		case isNameError(err):
			respondError(w, apierrors.New(apierrors.ValidationFailed, err.Error()).
				WithDetails(map[string]string{"field": "name"}))
		default:
			respondSystemFailure(w, r, err)
		}
		return
	}
	respond(w, http.StatusCreated, repo)
}

// lookupRepository resolves the {owner}/{repo} path segments and applies
// the privacy rule: private repositories are indistinguishable from
// missing ones for callers that do not administer the owner.
func (s *Server) lookupRepository(r *http.Request) (*database.Owner, *database.Repository, *apierrors.Error) {
	vars := mux.Vars(r)
	owner, aerr := s.resolveOwner(r.Context(), vars["owner"])
	if aerr != nil {
		return nil, nil, aerr
	}

	repo, err := s.db.GetRepository(r.Context(), owner.ID, vars["repo"])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, apierrors.Newf(apierrors.EntityNotFound, "repository %s/%s doesn't exist", vars["owner"], vars["repo"])
		}
		return nil, nil, apierrors.New(apierrors.InternalServerError, "unable to resolve repository")
	}

	if repo.Private {
		identity, _ := IdentityFrom(r.Context())
		ok, err := s.canManage(r.Context(), identity, owner)
		if err != nil {
			return nil, nil, apierrors.New(apierrors.InternalServerError, "unable to check ownership")
		}
		if !ok {
			return nil, nil, apierrors.Newf(apierrors.EntityNotFound, "repository %s/%s doesn't exist", vars["owner"], vars["repo"])
		}
	}
	return owner, repo, nil
}

// handleGetRepository implements GET /repositories/{owner}/{repo}.
func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	_, repo, aerr := s.lookupRepository(r)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	respond(w, http.StatusOK, repo)
}

// handleDeleteRepository implements DELETE /repositories/{owner}/{repo}.
func (s *Server) handleDeleteRepository(w http.ResponseWriter, r *http.Request) {
	owner, repo, aerr := s.lookupRepository(r)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	if _, aerr := s.requireManage(r.Context(), r, owner); aerr != nil {
		respondError(w, aerr)
		return
	}

	if err := s.registry.DeleteRepository(r.Context(), owner, repo); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "repository %s/%s doesn't exist", owner.Name, repo.Name))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

// handleListReleases implements GET .../releases. Pre-release tags are
// hidden unless ?prereleases=true.
func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	_, repo, aerr := s.lookupRepository(r)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	prereleases := boolQuery(r, "prereleases", false)

	releases, err := s.db.ListReleases(r.Context(), repo.ID)
	if err != nil {
		respondSystemFailure(w, r, err)
		return
	}

	visible := make([]*database.Release, 0, len(releases))
	tags := make(map[string]*semver.Version, len(releases))
	for _, release := range releases {
		version, err := semver.StrictNewVersion(release.Tag)
		if err != nil {
			continue
		}
		if !prereleases && version.Prerelease() != "" {
			continue
		}
		tags[release.Tag] = version
		visible = append(visible, release)
	}
	sort.Slice(visible, func(i, j int) bool {
		return tags[visible[i].Tag].GreaterThan(tags[visible[j].Tag])
	})
	respond(w, http.StatusOK, visible)
}

// handleGetRelease implements GET .../releases/{versionOrId}.
func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	_, repo, aerr := s.lookupRepository(r)
	if aerr != nil {
		respondError(w, aerr)
		return
	}

	versionOrID := mux.Vars(r)["versionOrId"]
	release, err := s.db.GetRelease(r.Context(), repo.ID, versionOrID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "release %q doesn't exist", versionOrID))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusOK, release)
}

// serveArtifact streams tarball or provenance bytes resolved by the
// registry, translating its errors into the wire taxonomy.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request,
	open func(owner, repo, version string, prereleases bool) (io.ReadCloser, string, error)) {
	owner, repo, aerr := s.lookupRepository(r)
	if aerr != nil {
		respondError(w, aerr)
		return
	}

	version := mux.Vars(r)["version"]
	rc, resolved, err := open(owner.ID, repo.ID, version, boolQuery(r, "prereleases", false))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "no artifact stored for version %q", version))
		case errors.Is(err, registry.ErrPrereleaseNotAllowed):
			respondError(w, apierrors.Newf(apierrors.BadRequest, "%q is a pre-release, repeat the request with ?prereleases=true", version))
		case errors.Is(err, registry.ErrInvalidVersion):
			respondError(w, apierrors.Newf(apierrors.ValidationFailed, "%q is not a valid semver version", version))
		default:
			respondSystemFailure(w, r, err)
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("X-Resolved-Version", resolved)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// handleGetTarball implements GET .../releases/{id}/{version}/tarball.
func (s *Server) handleGetTarball(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, func(owner, repo, version string, prereleases bool) (io.ReadCloser, string, error) {
		return s.registry.GetTarball(r.Context(), owner, repo, version, prereleases)
	})
}

// handleGetProvenance implements GET .../releases/{id}/{version}/provenance.
func (s *Server) handleGetProvenance(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, func(owner, repo, version string, prereleases bool) (io.ReadCloser, string, error) {
		return s.registry.GetProvenance(r.Context(), owner, repo, version, prereleases)
	})
}

// handleUploadTarball implements POST .../releases/{version}/tarball:
// one multipart field carrying the gzipped chart.
func (s *Server) handleUploadTarball(w http.ResponseWriter, r *http.Request) {
	owner, repo, aerr := s.lookupRepository(r)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	if _, aerr := s.requireManage(r.Context(), r, owner); aerr != nil {
		respondError(w, aerr)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	part, aerr := firstPart(r, chartMediaTypes...)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	defer part.Close()

	version := mux.Vars(r)["version"]
	release, err := s.registry.Publish(r.Context(), owner, repo, version, part)
	if err != nil {
		var invalid registry.InvalidTarballError
		switch {
		case errors.As(err, &invalid):
			respondError(w, apierrors.New(apierrors.InvalidTarball, "chart tarball was rejected").
				WithDetails(map[string]string{"why": string(invalid)}))
		case errors.Is(err, registry.ErrInvalidVersion):
			respondError(w, apierrors.Newf(apierrors.ValidationFailed, "%q is not a valid semver version", version))
		case errors.Is(err, database.ErrExists):
			respondError(w, apierrors.Newf(apierrors.EntityAlreadyExists, "version %q is already released", version))
		default:
			respondSystemFailure(w, r, err)
		}
		return
	}
	respond(w, http.StatusCreated, release)
}

// handleUploadProvenance implements POST .../releases/{version}/provenance.
// The bytes are stored opaque; this service does not sign or verify.
func (s *Server) handleUploadProvenance(w http.ResponseWriter, r *http.Request) {
	owner, repo, aerr := s.lookupRepository(r)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	if _, aerr := s.requireManage(r.Context(), r, owner); aerr != nil {
		respondError(w, aerr)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	part, aerr := firstPart(r, chartMediaTypes...)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	defer part.Close()

	version := mux.Vars(r)["version"]
	if err := s.registry.PublishProvenance(r.Context(), owner, repo, version, part); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "version %q has no release", version))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusCreated, nil)
}

// handleDeleteRelease implements DELETE .../releases/{version}.
func (s *Server) handleDeleteRelease(w http.ResponseWriter, r *http.Request) {
	owner, repo, aerr := s.lookupRepository(r)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	if _, aerr := s.requireManage(r.Context(), r, owner); aerr != nil {
		respondError(w, aerr)
		return
	}

	version := mux.Vars(r)["version"]
	release, err := s.db.GetRelease(r.Context(), repo.ID, version)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, apierrors.Newf(apierrors.EntityNotFound, "release %q doesn't exist", version))
			return
		}
		respondSystemFailure(w, r, err)
		return
	}

	if err := s.registry.DeleteRelease(r.Context(), owner, repo, release); err != nil {
		respondSystemFailure(w, r, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}
