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

// Package registry ties the database and the object store together into
// the chart registry proper: publishing release tarballs, resolving
// versions, and regenerating the per-owner index.yaml Helm clients pull.
//
// Objects live under two roots. Chart artifacts are stored at
// repositories/{ownerID}/{repoID}/tarballs/{version}.tgz with an optional
// {version}.provenance.tgz next to each, and the generated index for an
// owner at metadata/{ownerID}/index.yaml. Both segments are ULIDs, so
// renaming an owner or repository never moves objects.
package registry // import "charted.dev/charted/pkg/registry"

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"charted.dev/charted/pkg/chart"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/storage"
)

const (
	tarballSuffix    = ".tgz"
	provenanceSuffix = ".provenance.tgz"
)

// Registry serves chart artifacts out of a storage backend and keeps the
// release catalog in the database consistent with what is stored.
type Registry struct {
	store        storage.Store
	metadata     *storage.Namespace
	repositories *storage.Namespace
	db           *database.Database
	baseURL      string

	mu      sync.Mutex
	owners  map[string]*sync.Mutex
	uploads map[string]*sync.Mutex

	// Log is called with fmt-style arguments for debug output.
	Log func(string, ...interface{})
}

// New wires a registry over the given store and database. baseURL is the
// externally reachable server URL index entries point back at.
func New(store storage.Store, db *database.Database, baseURL string, logger func(string, ...interface{})) *Registry {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Registry{
		store:        store,
		metadata:     storage.NewNamespace(store, "metadata"),
		repositories: storage.NewNamespace(store, "repositories"),
		db:           db,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		owners:       map[string]*sync.Mutex{},
		uploads:      map[string]*sync.Mutex{},
		Log:          logger,
	}
}

// tarballsDir is the directory holding every artifact of one repository,
// relative to the repositories namespace.
func tarballsDir(owner, repo string) string {
	return path.Join(owner, repo, "tarballs")
}

func tarballPath(owner, repo, version string) string {
	return path.Join(tarballsDir(owner, repo), version+tarballSuffix)
}

func provenancePath(owner, repo, version string) string {
	return path.Join(tarballsDir(owner, repo), version+provenanceSuffix)
}

// indexPath is the owner's index.yaml, relative to the metadata namespace.
func indexPath(owner string) string {
	return path.Join(owner, chart.IndexPath)
}

// ownerMutex returns the serialization point for one owner's index.
func (r *Registry) ownerMutex(owner string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	mu, ok := r.owners[owner]
	if !ok {
		mu = &sync.Mutex{}
		r.owners[owner] = mu
	}
	return mu
}

// uploadMutex returns the serialization point for one (owner, repository,
// version) publish.
func (r *Registry) uploadMutex(owner, repo, version string) *sync.Mutex {
	key := fmt.Sprintf("%s/%s/%s", owner, repo, version)
	r.mu.Lock()
	defer r.mu.Unlock()
	mu, ok := r.uploads[key]
	if !ok {
		mu = &sync.Mutex{}
		r.uploads[key] = mu
	}
	return mu
}

// withOwnerLock runs fn while holding the owner's index lock. In-process
// writers are serialized with a mutex; when the store is a local
// filesystem other processes sharing the directory are kept out with a
// file lock next to the index.
func (r *Registry) withOwnerLock(ctx context.Context, owner string, fn func() error) error {
	mu := r.ownerMutex(owner)
	mu.Lock()
	defer mu.Unlock()

	if fs, ok := r.store.(*storage.Filesystem); ok {
		lockPath := filepath.Join(fs.Dir(), "metadata", owner, "index.lock")
		if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
			return err
		}
		fileLock := flock.New(lockPath)
		lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		locked, err := fileLock.TryLockContext(lockCtx, time.Second)
		if err == nil && locked {
			defer fileLock.Unlock()
		}
		if err != nil {
			return err
		}
	}
	return fn()
}
