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

package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/storage"
)

// newTestRegistry backs a registry with a filesystem store and a SQLite
// database, both under temporary directories.
func newTestRegistry(t *testing.T) (*Registry, *database.Database) {
	t.Helper()

	store := storage.NewFilesystem(t.TempDir())
	require.NoError(t, store.Init(context.Background()))

	db, err := database.Connect(database.DialectSQLite, filepath.Join(t.TempDir(), "charted.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(store, db, "http://charts.test", t.Logf), db
}

// seedRepository creates a user with a repository for tests to publish
// into.
func seedRepository(t *testing.T, db *database.Database) (*database.Owner, *database.Repository) {
	t.Helper()
	ctx := context.Background()

	user, err := db.CreateUser(ctx, "noel", "noel@example.test", "", false)
	require.NoError(t, err)
	repo, err := db.CreateRepository(ctx, user.ID, "charted", database.TypeApplication, false, nil)
	require.NoError(t, err)

	return &database.Owner{ID: user.ID, Name: user.Username, Kind: database.OwnerUser}, repo
}

// tarEntry is one entry of a test tarball; Dir entries carry no body.
type tarEntry struct {
	Name string
	Body string
	Dir  bool
	Link bool
}

// buildTarball assembles a gzipped tar archive out of entries.
func buildTarball(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, entry := range entries {
		header := &tar.Header{Name: entry.Name, Mode: 0o644}
		switch {
		case entry.Dir:
			header.Typeflag = tar.TypeDir
			header.Mode = 0o755
		case entry.Link:
			header.Typeflag = tar.TypeSymlink
			header.Linkname = "/etc/passwd"
		default:
			header.Typeflag = tar.TypeReg
			header.Size = int64(len(entry.Body))
		}
		require.NoError(t, tw.WriteHeader(header))
		if !entry.Dir && !entry.Link {
			_, err := tw.Write([]byte(entry.Body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// testChart is a minimal valid chart archive for the given version.
func testChart(t *testing.T, name, version string) []byte {
	t.Helper()
	manifest := fmt.Sprintf("apiVersion: v2\nname: %s\nversion: %s\n", name, version)
	return buildTarball(t, []tarEntry{
		{Name: "Chart.yaml", Body: manifest},
		{Name: "values.yaml", Body: "replicas: 1\n"},
		{Name: "templates/", Dir: true},
		{Name: "templates/deployment.yaml", Body: "kind: Deployment\n"},
		{Name: "README.md", Body: "# " + name + "\n"},
	})
}

// publish uploads a chart for the version and fails the test on error.
func publish(t *testing.T, reg *Registry, owner *database.Owner, repo *database.Repository, version string) *database.Release {
	t.Helper()
	release, err := reg.Publish(context.Background(), owner, repo, version, bytes.NewReader(testChart(t, repo.Name, version)))
	require.NoError(t, err)
	return release
}
