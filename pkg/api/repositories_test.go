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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/database"
)

// createRepo provisions a repository over the API and returns it.
func createRepo(t *testing.T, s *Server, token, name string, private bool) *database.Repository {
	t.Helper()
	rec := performJSON(t, s, "PUT", "/repositories", map[string]interface{}{
		"name":    name,
		"private": private,
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var repo database.Repository
	dataAs(t, rec, &repo)
	return &repo
}

// uploadChart publishes a chart version through the multipart endpoint.
func uploadChart(t *testing.T, s *Server, token, owner, repo, version string, archive []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "application/gzip", archive)
	return perform(t, s, "POST", fmt.Sprintf("/repositories/%s/%s/releases/%s/tarball", owner, repo, version), body,
		map[string]string{"Authorization": "Bearer " + token, "Content-Type": contentType})
}

func TestCreateRepository(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")

	repo := createRepo(t, s, session.AccessToken, "charted", false)
	assert.Equal(t, "charted", repo.Name)
	assert.Equal(t, database.TypeApplication, repo.Type)
	assert.False(t, repo.Private)

	// Same name again collides.
	rec := performJSON(t, s, "PUT", "/repositories", map[string]string{"name": "charted"}, session.AccessToken)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apierrors.EntityAlreadyExists, firstError(t, rec).Code)
}

func TestCreateRepositoryValidation(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")

	rec := performJSON(t, s, "PUT", "/repositories", map[string]string{"name": "Not Valid!"}, session.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.ValidationFailed, firstError(t, rec).Code)

	rec = performJSON(t, s, "PUT", "/repositories", map[string]string{"name": "ok", "type": "mystery"}, session.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.ValidationFailed, firstError(t, rec).Code)
}

func TestCreateRepositoryInOrganization(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	seedUser(t, s, "boel")
	owner := loginUser(t, s, "noel")
	other := loginUser(t, s, "boel")

	rec := performJSON(t, s, "PUT", "/organizations", map[string]string{"name": "noelware"}, owner.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// The administering account may create repositories under the org.
	rec = performJSON(t, s, "PUT", "/repositories", map[string]string{"name": "charted", "owner": "noelware"}, owner.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Anyone else is refused.
	rec = performJSON(t, s, "PUT", "/repositories", map[string]string{"name": "sneaky", "owner": "noelware"}, other.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierrors.AccessNotPermitted, firstError(t, rec).Code)
}

func TestPrivateRepositoryVisibility(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	seedUser(t, s, "boel")
	owner := loginUser(t, s, "noel")
	other := loginUser(t, s, "boel")
	createRepo(t, s, owner.AccessToken, "secret", true)

	// The owner sees it.
	rec := perform(t, s, "GET", "/repositories/noel/secret", nil, map[string]string{"Authorization": "Bearer " + owner.AccessToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Anonymous callers and other accounts get the same 404 a missing
	// repository would give.
	for name, headers := range map[string]map[string]string{
		"anonymous":  nil,
		"other user": {"Authorization": "Bearer " + other.AccessToken},
	} {
		rec := perform(t, s, "GET", "/repositories/noel/secret", nil, headers)
		assert.Equal(t, http.StatusNotFound, rec.Code, name)
		assert.Equal(t, apierrors.EntityNotFound, firstError(t, rec).Code, name)
	}
}

func TestUploadAndDownloadTarball(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	archive := chartArchive(t, "charted", "0.1.0")
	rec := uploadChart(t, s, session.AccessToken, "noel", "charted", "0.1.0", archive)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var release database.Release
	dataAs(t, rec, &release)
	assert.Equal(t, "0.1.0", release.Tag)

	// Anonymous download, byte for byte what was uploaded.
	path := fmt.Sprintf("/repositories/noel/charted/releases/%s/0.1.0/tarball", release.ID)
	rec = perform(t, s, "GET", path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0.1.0", rec.Header().Get("X-Resolved-Version"))
	assert.Equal(t, archive, rec.Body.Bytes())

	// The owner's index now advertises the release.
	rec = perform(t, s, "GET", "/indexes/noel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "charted:")
	assert.Contains(t, rec.Body.String(), "version: 0.1.0")
}

func TestDownloadLatest(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	repo := createRepo(t, s, session.AccessToken, "charted", false)

	for _, version := range []string{"0.1.0", "0.2.0", "1.0.0-rc.1"} {
		rec := uploadChart(t, s, session.AccessToken, "noel", "charted", version, chartArchive(t, "charted", version))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	path := fmt.Sprintf("/repositories/noel/%s/releases/any/latest/tarball", repo.Name)
	rec := perform(t, s, "GET", path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.2.0", rec.Header().Get("X-Resolved-Version"))

	rec = perform(t, s, "GET", path+"?prereleases=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.0.0-rc.1", rec.Header().Get("X-Resolved-Version"))
}

func TestDownloadPrereleaseGating(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)
	rec := uploadChart(t, s, session.AccessToken, "noel", "charted", "1.0.0-beta.1", chartArchive(t, "charted", "1.0.0-beta.1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	path := "/repositories/noel/charted/releases/any/1.0.0-beta.1/tarball"
	rec = perform(t, s, "GET", path, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.BadRequest, firstError(t, rec).Code)

	rec = perform(t, s, "GET", path+"?prereleases=true", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDownloadErrors(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	// Nothing released.
	rec := perform(t, s, "GET", "/repositories/noel/charted/releases/any/0.9.9/tarball", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.EntityNotFound, firstError(t, rec).Code)

	// Not semver.
	rec = perform(t, s, "GET", "/repositories/noel/charted/releases/any/bogus/tarball", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.ValidationFailed, firstError(t, rec).Code)
}

func TestUploadRejectsMalformedTarball(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	evil := archiveOf(t, map[string]string{"evil/malware.yaml": "boom\n"})
	rec := uploadChart(t, s, session.AccessToken, "noel", "charted", "0.1.0", evil)
	require.Equal(t, http.StatusNotAcceptable, rec.Code, rec.Body.String())

	aerr := firstError(t, rec)
	assert.Equal(t, apierrors.InvalidTarball, aerr.Code)
	details, ok := aerr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, details["why"], "evil")

	// Nothing was stored and nothing hit the index.
	rec = perform(t, s, "GET", "/repositories/noel/charted/releases", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var releases []*database.Release
	dataAs(t, rec, &releases)
	assert.Empty(t, releases)
}

func TestUploadContentTypeChecks(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	// Wrong part content type.
	body, contentType := multipartBody(t, "text/plain", []byte("not a chart"))
	rec := perform(t, s, "POST", "/repositories/noel/charted/releases/0.1.0/tarball", body,
		map[string]string{"Authorization": "Bearer " + session.AccessToken, "Content-Type": contentType})
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Equal(t, apierrors.InvalidContentType, firstError(t, rec).Code)

	// Not multipart at all.
	rec = perform(t, s, "POST", "/repositories/noel/charted/releases/0.1.0/tarball", strings.NewReader("raw"),
		map[string]string{"Authorization": "Bearer " + session.AccessToken, "Content-Type": "application/gzip"})
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Equal(t, apierrors.MissingMultipartBoundary, firstError(t, rec).Code)
}

func TestUploadDuplicateVersion(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	archive := chartArchive(t, "charted", "0.1.0")
	rec := uploadChart(t, s, session.AccessToken, "noel", "charted", "0.1.0", archive)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = uploadChart(t, s, session.AccessToken, "noel", "charted", "0.1.0", archive)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apierrors.EntityAlreadyExists, firstError(t, rec).Code)
}

func TestUploadInvalidVersion(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	rec := uploadChart(t, s, session.AccessToken, "noel", "charted", "not-semver", chartArchive(t, "charted", "0.1.0"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.ValidationFailed, firstError(t, rec).Code)
}

func TestUploadRequiresOwnership(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	seedUser(t, s, "boel")
	owner := loginUser(t, s, "noel")
	other := loginUser(t, s, "boel")
	createRepo(t, s, owner.AccessToken, "charted", false)

	rec := uploadChart(t, s, other.AccessToken, "noel", "charted", "0.1.0", chartArchive(t, "charted", "0.1.0"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierrors.AccessNotPermitted, firstError(t, rec).Code)
}

func TestListReleases(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	for _, version := range []string{"0.1.0", "1.0.0", "1.1.0-beta.1"} {
		rec := uploadChart(t, s, session.AccessToken, "noel", "charted", version, chartArchive(t, "charted", version))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := perform(t, s, "GET", "/repositories/noel/charted/releases", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var releases []*database.Release
	dataAs(t, rec, &releases)
	require.Len(t, releases, 2)
	assert.Equal(t, "1.0.0", releases[0].Tag)
	assert.Equal(t, "0.1.0", releases[1].Tag)

	rec = perform(t, s, "GET", "/repositories/noel/charted/releases?prereleases=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dataAs(t, rec, &releases)
	require.Len(t, releases, 3)
	assert.Equal(t, "1.1.0-beta.1", releases[0].Tag)
}

func TestProvenanceRoundTrip(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)
	rec := uploadChart(t, s, session.AccessToken, "noel", "charted", "0.1.0", chartArchive(t, "charted", "0.1.0"))
	require.Equal(t, http.StatusCreated, rec.Code)

	prov := []byte("provenance signature bytes")
	body, contentType := multipartBody(t, "application/gzip", prov)
	rec = perform(t, s, "POST", "/repositories/noel/charted/releases/0.1.0/provenance", body,
		map[string]string{"Authorization": "Bearer " + session.AccessToken, "Content-Type": contentType})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = perform(t, s, "GET", "/repositories/noel/charted/releases/any/0.1.0/provenance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, prov, rec.Body.Bytes())
}

func TestProvenanceRequiresRelease(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	body, contentType := multipartBody(t, "application/gzip", []byte("sig"))
	rec := perform(t, s, "POST", "/repositories/noel/charted/releases/0.1.0/provenance", body,
		map[string]string{"Authorization": "Bearer " + session.AccessToken, "Content-Type": contentType})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.EntityNotFound, firstError(t, rec).Code)
}

func TestDeleteRelease(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)
	rec := uploadChart(t, s, session.AccessToken, "noel", "charted", "0.1.0", chartArchive(t, "charted", "0.1.0"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = perform(t, s, "DELETE", "/repositories/noel/charted/releases/0.1.0", nil,
		map[string]string{"Authorization": "Bearer " + session.AccessToken})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = perform(t, s, "GET", "/repositories/noel/charted/releases/any/0.1.0/tarball", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRepository(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")
	createRepo(t, s, session.AccessToken, "charted", false)

	rec := perform(t, s, "DELETE", "/repositories/noel/charted", nil,
		map[string]string{"Authorization": "Bearer " + session.AccessToken})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = perform(t, s, "GET", "/repositories/noel/charted", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetIndexUnknownOwner(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s, "GET", "/indexes/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.EntityNotFound, firstError(t, rec).Code)
}
