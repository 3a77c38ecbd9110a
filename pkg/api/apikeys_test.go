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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/database"
)

func TestCreateAPIKey(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")

	rec := performJSON(t, s, "PUT", "/apikeys", map[string]interface{}{
		"name":   "ci-publisher",
		"scopes": []string{"repo:access", "repo:releases:create"},
	}, session.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var key database.APIKey
	dataAs(t, rec, &key)
	assert.Equal(t, "ci-publisher", key.Name)
	assert.NotEmpty(t, key.Token, "the create response is the only place the token appears")
	assert.Nil(t, key.ExpiresAt)

	// The minted key drives the API on its granted scopes.
	createRepo(t, s, session.AccessToken, "charted", false)
	uploadRec := uploadChart(t, s, session.AccessToken, "noel", "charted", "0.1.0", chartArchive(t, "charted", "0.1.0"))
	require.Equal(t, http.StatusCreated, uploadRec.Code)

	rec = perform(t, s, "GET", "/repositories/noel/charted/releases", nil,
		map[string]string{"Authorization": "ApiKey " + key.Token})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAPIKeyValidation(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")

	cases := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"no scopes", map[string]interface{}{"name": "ci"}},
		{"unknown scope", map[string]interface{}{"name": "ci", "scopes": []string{"repo:world-domination"}}},
		{"bad expiry", map[string]interface{}{"name": "ci", "scopes": []string{"repo:access"}, "expires_in": "soon"}},
		{"negative expiry", map[string]interface{}{"name": "ci", "scopes": []string{"repo:access"}, "expires_in": "-1h"}},
		{"bad name", map[string]interface{}{"name": "Not Valid!", "scopes": []string{"repo:access"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := performJSON(t, s, "PUT", "/apikeys", tc.payload, session.AccessToken)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateAPIKeyWithExpiry(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")

	rec := performJSON(t, s, "PUT", "/apikeys", map[string]interface{}{
		"name":       "short-lived",
		"scopes":     []string{"repo:access"},
		"expires_in": "24h",
	}, session.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var key database.APIKey
	dataAs(t, rec, &key)
	require.NotNil(t, key.ExpiresAt)
	assert.True(t, key.ExpiresAt.After(key.CreatedAt))
}

func TestListAPIKeysRedactsTokens(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")

	rec := performJSON(t, s, "PUT", "/apikeys", map[string]interface{}{
		"name":   "ci",
		"scopes": []string{"repo:access"},
	}, session.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = perform(t, s, "GET", "/apikeys", nil, map[string]string{"Authorization": "Bearer " + session.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var keys []*database.APIKey
	dataAs(t, rec, &keys)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci", keys[0].Name)
	assert.Empty(t, keys[0].Token)
}

func TestDeleteAPIKey(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s, "noel")
	session := loginUser(t, s, "noel")

	rec := performJSON(t, s, "PUT", "/apikeys", map[string]interface{}{
		"name":   "ci",
		"scopes": []string{"user:access"},
	}, session.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	var key database.APIKey
	dataAs(t, rec, &key)

	rec = perform(t, s, "DELETE", "/apikeys/ci", nil, map[string]string{"Authorization": "Bearer " + session.AccessToken})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The revoked key no longer authenticates.
	rec = perform(t, s, "GET", "/users/@me", nil, map[string]string{"Authorization": "ApiKey " + key.Token})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Double delete reports the key gone.
	rec = perform(t, s, "DELETE", "/apikeys/ci", nil, map[string]string{"Authorization": "Bearer " + session.AccessToken})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.EntityNotFound, firstError(t, rec).Code)
}
