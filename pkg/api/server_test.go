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
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/config"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/registry"
	"charted.dev/charted/pkg/sessions"
)

const testPassword = "hunter2hunter2"

// newTestServer assembles a server over a filesystem store and a SQLite
// database, both under temporary directories.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecretKey = "test-signing-secret"
	cfg.BaseURL = "http://charts.test"
	cfg.Sessions.EnableBasicAuth = true
	cfg.Storage.Filesystem.Directory = t.TempDir()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "charted.db")

	store, err := cfg.OpenStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))

	db, err := cfg.ConnectDatabase(nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := registry.New(store, db, cfg.BaseURL, t.Logf)
	mgr := sessions.NewManager(db, auth.Local{}, cfg.JWTSecretKey, t.Logf)
	return NewServer(cfg, db, store, reg, mgr)
}

// envelope mirrors the response body of every JSON endpoint.
type envelope struct {
	Success bool               `json:"success"`
	Data    json.RawMessage    `json:"data"`
	Errors  []*apierrors.Error `json:"errors"`
}

// perform runs one request through the full router.
func perform(t *testing.T, s *Server, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// performJSON marshals payload and runs the request; token, when set, is
// sent as a Bearer credential.
func performJSON(t *testing.T, s *Server, method, path string, payload interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return perform(t, s, method, path, body, headers)
}

// decode parses the response envelope.
func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}

// dataAs unmarshals the envelope's data into out.
func dataAs(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	env := decode(t, rec)
	require.True(t, env.Success, "expected a success envelope, body: %s", rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
}

// firstError returns the first error of a failure envelope.
func firstError(t *testing.T, rec *httptest.ResponseRecorder) *apierrors.Error {
	t.Helper()
	env := decode(t, rec)
	require.False(t, env.Success, "expected a failure envelope, body: %s", rec.Body.String())
	require.NotEmpty(t, env.Errors)
	return env.Errors[0]
}

// seedUser registers an account directly against the database along with
// its chart index.
func seedUser(t *testing.T, s *Server, username string) *database.User {
	t.Helper()
	ctx := context.Background()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	user, err := s.db.CreateUser(ctx, username, username+"@example.test", hash, false)
	require.NoError(t, err)
	require.NoError(t, s.registry.CreateIndex(ctx, user.ID))
	return user
}

// loginUser mints a session pair for the account.
func loginUser(t *testing.T, s *Server, username string) *database.Session {
	t.Helper()
	session, err := s.sessions.Login(context.Background(), username, testPassword)
	require.NoError(t, err)
	return session
}

// chartArchive builds a minimal valid chart tarball.
func chartArchive(t *testing.T, name, version string) []byte {
	t.Helper()
	return archiveOf(t, map[string]string{
		"Chart.yaml":                fmt.Sprintf("apiVersion: v2\nname: %s\nversion: %s\n", name, version),
		"values.yaml":               "replicas: 1\n",
		"templates/deployment.yaml": "kind: Deployment\n",
	})
}

// archiveOf assembles a gzipped tar out of the file map.
func archiveOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// multipartBody wraps data in a single multipart field with the given
// part content type, returning the body and the request Content-Type.
func multipartBody(t *testing.T, contentType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="chart"; filename="chart.tgz"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHeartbeat(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s, "GET", "/heartbeat", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRoot(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s, "GET", "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data map[string]string
	dataAs(t, rec, &data)
	assert.NotEmpty(t, data["version"])
}

func TestInfo(t *testing.T) {
	s := newTestServer(t)
	rec := perform(t, s, "GET", "/info", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data map[string]interface{}
	dataAs(t, rec, &data)
	assert.Contains(t, data, "go_version")
}

func TestVersionedPrefix(t *testing.T) {
	s := newTestServer(t)
	user := seedUser(t, s, "noel")

	for _, path := range []string{"/users/noel", "/v1/users/noel"} {
		rec := perform(t, s, "GET", path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var got database.User
		dataAs(t, rec, &got)
		assert.Equal(t, user.ID, got.ID, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	perform(t, s, "GET", "/heartbeat", nil, nil)

	rec := perform(t, s, "GET", "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "charted_http_requests_total")
}

func TestListenAndServe(t *testing.T) {
	s := newTestServer(t)
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	s.http.Addr = fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- s.ListenAndServe(ctx) }()

	url := fmt.Sprintf("http://%s/heartbeat", s.http.Addr)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(25 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-errs)
}
