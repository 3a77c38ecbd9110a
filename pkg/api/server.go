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
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"charted.dev/charted/internal/version"
	"charted.dev/charted/pkg/api/logger"
	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/avatars"
	"charted.dev/charted/pkg/config"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/registry"
	"charted.dev/charted/pkg/sessions"
	"charted.dev/charted/pkg/storage"
)

// Server wires the registry, database and session manager behind the
// HTTP route table.
type Server struct {
	config   *config.Config
	db       *database.Database
	store    storage.Store
	registry *registry.Registry
	sessions *sessions.Manager
	avatars  *avatars.Client
	http     *http.Server

	// now stamps expiry checks, swapped out in tests.
	now func() time.Time
}

// NewServer assembles the HTTP surface over the given components.
func NewServer(cfg *config.Config, db *database.Database, store storage.Store, reg *registry.Registry, mgr *sessions.Manager) *Server {
	s := &Server{
		config:   cfg,
		db:       db,
		store:    store,
		registry: reg,
		sessions: mgr,
		avatars:  avatars.NewClient(storage.NewNamespace(store, "avatars"), logger.Debugf),
		now:      time.Now,
	}
	s.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handlers.CombinedLoggingHandler(os.Stderr, s.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// route is one entry of the routing table.
type route struct {
	name    string
	path    string
	methods string
	handler http.HandlerFunc
	auth    *AuthOptions
}

// routes builds the table for the v1 API. Read routes on charts allow
// anonymous callers since helm pulls with no credentials; privacy on
// private repositories is enforced inside the handlers.
func (s *Server) routes() []route {
	optional := &AuthOptions{AllowUnauthorized: true}
	pull := &AuthOptions{AllowUnauthorized: true, Scopes: auth.NewScopes(auth.RepoAccess)}

	return []route{
		{"Root", "/", "GET", s.handleRoot, nil},
		{"Heartbeat", "/heartbeat", "GET", s.handleHeartbeat, nil},
		{"Info", "/info", "GET", s.handleInfo, nil},

		{"GetIndex", "/indexes/{owner}", "GET", s.handleGetIndex, nil},

		{"RegisterUser", "/users", "PUT", s.handleRegisterUser, nil},
		{"Login", "/users/login", "POST", s.handleLogin, nil},
		{"GetSelf", "/users/@me", "GET", s.handleGetSelf, &AuthOptions{Scopes: auth.NewScopes(auth.UserAccess)}},
		{"PatchSelf", "/users/@me", "PATCH", s.handlePatchSelf, &AuthOptions{Scopes: auth.NewScopes(auth.UserUpdate)}},
		{"DeleteSelf", "/users/@me", "DELETE", s.handleDeleteSelf, &AuthOptions{Scopes: auth.NewScopes(auth.UserDelete)}},
		{"GetSession", "/users/@me/session", "GET", s.handleGetSession, &AuthOptions{}},
		{"RefreshSession", "/users/@me/session/refresh", "POST", s.handleRefreshSession, &AuthOptions{RequireRefreshToken: true}},
		{"Logout", "/users/@me/session", "DELETE", s.handleLogout, &AuthOptions{}},
		{"UploadAvatar", "/users/@me/avatar", "POST", s.handleUploadAvatar, &AuthOptions{Scopes: auth.NewScopes(auth.UserAvatarUpdate)}},
		{"GetAvatar", "/users/{idOrName}/avatar", "GET", s.handleGetAvatar, nil},
		{"GetUser", "/users/{idOrName}", "GET", s.handleGetUser, optional},

		{"CreateRepository", "/repositories", "PUT", s.handleCreateRepository, &AuthOptions{Scopes: auth.NewScopes(auth.RepoCreate)}},
		{"GetRepository", "/repositories/{owner}/{repo}", "GET", s.handleGetRepository, optional},
		{"DeleteRepository", "/repositories/{owner}/{repo}", "DELETE", s.handleDeleteRepository, &AuthOptions{Scopes: auth.NewScopes(auth.RepoDelete)}},
		{"ListReleases", "/repositories/{owner}/{repo}/releases", "GET", s.handleListReleases, pull},
		{"GetRelease", "/repositories/{owner}/{repo}/releases/{versionOrId}", "GET", s.handleGetRelease, pull},
		{"GetTarball", "/repositories/{owner}/{repo}/releases/{id}/{version}/tarball", "GET", s.handleGetTarball, pull},
		{"GetProvenance", "/repositories/{owner}/{repo}/releases/{id}/{version}/provenance", "GET", s.handleGetProvenance, pull},
		{"UploadTarball", "/repositories/{owner}/{repo}/releases/{version}/tarball", "POST", s.handleUploadTarball,
			&AuthOptions{Scopes: auth.NewScopes(auth.RepoReleaseCreate)}},
		{"UploadProvenance", "/repositories/{owner}/{repo}/releases/{version}/provenance", "POST", s.handleUploadProvenance,
			&AuthOptions{Scopes: auth.NewScopes(auth.RepoReleaseCreate)}},
		{"DeleteRelease", "/repositories/{owner}/{repo}/releases/{version}", "DELETE", s.handleDeleteRelease,
			&AuthOptions{Scopes: auth.NewScopes(auth.RepoReleaseDelete)}},

		{"CreateOrganization", "/organizations", "PUT", s.handleCreateOrganization, &AuthOptions{Scopes: auth.NewScopes(auth.OrgCreate)}},
		{"GetOrganization", "/organizations/{idOrName}", "GET", s.handleGetOrganization, optional},
		{"DeleteOrganization", "/organizations/{idOrName}", "DELETE", s.handleDeleteOrganization, &AuthOptions{Scopes: auth.NewScopes(auth.OrgDelete)}},

		{"CreateAPIKey", "/apikeys", "PUT", s.handleCreateAPIKey, &AuthOptions{Scopes: auth.NewScopes(auth.APIKeyCreate)}},
		{"ListAPIKeys", "/apikeys", "GET", s.handleListAPIKeys, &AuthOptions{Scopes: auth.NewScopes(auth.APIKeyView)}},
		{"DeleteAPIKey", "/apikeys/{name}", "DELETE", s.handleDeleteAPIKey, &AuthOptions{Scopes: auth.NewScopes(auth.APIKeyDelete)}},
	}
}

// Handler builds the router. Every route is mounted bare and under the
// /v1 prefix, which is the current default API version.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.StrictSlash(true)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	for _, prefix := range []string{"", "/v1"} {
		sub := router
		if prefix != "" {
			sub = router.PathPrefix(prefix).Subrouter()
		}
		for _, rt := range s.routes() {
			handler := rt.handler
			if rt.auth != nil {
				handler = s.authenticate(*rt.auth, handler)
			}
			sub.NewRoute().
				Name(prefix + rt.name).
				Path(rt.path).
				Methods(rt.methods).
				Handler(instrument(rt.name, handler))
		}
	}
	return router
}

// ListenAndServe blocks until the context is cancelled or the listener
// fails, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		logger.Infof("charted %s listening on %s", version.GetVersion(), s.http.Addr)
		errs <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
