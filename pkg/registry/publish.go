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
	"bytes"
	"context"
	"io"
	"path"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/storage"
)

// chartContentType is what tarball and provenance objects are stored as.
const chartContentType = "application/gzip"

// Publish validates body as a chart tarball and publishes it as the
// given version of the repository: the object is written first, then the
// release row recorded, then the owner's index refreshed. The body is
// validated as it streams and the bytes stored are exactly the bytes
// read. Publishing a version that already has a release fails with
// database.ErrExists and leaves the existing artifact alone.
func (r *Registry) Publish(ctx context.Context, owner *database.Owner, repo *database.Repository, version string, body io.Reader) (*database.Release, error) {
	if _, err := semver.StrictNewVersion(version); err != nil {
		return nil, errors.Wrap(ErrInvalidVersion, err.Error())
	}

	// Serialize writers racing on the same version. The unique index on
	// release tags backstops writers on other replicas.
	mu := r.uploadMutex(owner.ID, repo.ID, version)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.db.GetRelease(ctx, repo.ID, version); err == nil {
		return nil, database.ErrExists
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	var buf bytes.Buffer
	tee := io.TeeReader(body, &buf)
	if err := ValidateTarball(tee); err != nil {
		return nil, err
	}
	// The validator stops reading at the end of the tar stream; pull any
	// trailing bytes through so the stored object is the whole body.
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return nil, errors.Wrap(err, "unable to read chart archive")
	}

	key := tarballPath(owner.ID, repo.ID, version)
	if err := r.repositories.Upload(ctx, key, &storage.UploadRequest{
		ContentType: chartContentType,
		Data:        bytes.NewReader(buf.Bytes()),
	}); err != nil {
		return nil, errors.Wrap(err, "unable to store chart tarball")
	}

	release, err := r.db.CreateRelease(ctx, repo.ID, version)
	if err != nil {
		// A concurrent writer on another replica owns the release row;
		// its artifact was just overwritten with ours, which is the same
		// version, so the object stays. Anything else leaves an orphan
		// we clean up now.
		if !errors.Is(err, database.ErrExists) {
			if derr := r.repositories.Delete(ctx, key); derr != nil {
				r.Log("publish: unable to remove %s after failed release insert: %v", key, derr)
			}
		}
		return nil, err
	}

	// The release is durable at this point. A failed refresh leaves the
	// index stale until the next write, which is preferable to failing
	// the publish.
	if err := r.RefreshIndex(ctx, owner); err != nil {
		r.Log("publish: unable to refresh index for %s: %v", owner.Name, err)
	}
	return release, nil
}

// PublishProvenance stores the provenance file for an already published
// release. The bytes are stored verbatim; publishing provenance for a
// version with no release reports database.ErrNotFound.
func (r *Registry) PublishProvenance(ctx context.Context, owner *database.Owner, repo *database.Repository, version string, body io.Reader) error {
	if _, err := r.db.GetRelease(ctx, repo.ID, version); err != nil {
		return err
	}
	return r.repositories.Upload(ctx, provenancePath(owner.ID, repo.ID, version), &storage.UploadRequest{
		ContentType: chartContentType,
		Data:        body,
	})
}

// DeleteRelease removes the release row, its tarball and provenance, and
// refreshes the owner's index. Artifact and refresh failures are logged;
// once the row is gone the delete is considered done and the janitor
// picks up any leftovers.
func (r *Registry) DeleteRelease(ctx context.Context, owner *database.Owner, repo *database.Repository, release *database.Release) error {
	if err := r.db.DeleteRelease(ctx, release.ID); err != nil {
		return err
	}
	keys := []string{
		tarballPath(owner.ID, repo.ID, release.Tag),
		provenancePath(owner.ID, repo.ID, release.Tag),
	}
	for _, key := range keys {
		if err := r.repositories.Delete(ctx, key); err != nil {
			r.Log("delete release: unable to remove %s: %v", key, err)
		}
	}
	if err := r.RefreshIndex(ctx, owner); err != nil {
		r.Log("delete release: unable to refresh index for %s: %v", owner.Name, err)
	}
	return nil
}

// DeleteRepository removes the repository with all of its releases, every
// stored artifact under it, and refreshes the owner's index.
func (r *Registry) DeleteRepository(ctx context.Context, owner *database.Owner, repo *database.Repository) error {
	if err := r.db.DeleteRepository(ctx, repo.ID); err != nil {
		return err
	}
	if err := r.purgeRepository(ctx, owner.ID, repo.ID); err != nil {
		r.Log("delete repository: unable to purge artifacts of %s/%s: %v", owner.Name, repo.Name, err)
	}
	if err := r.RefreshIndex(ctx, owner); err != nil {
		r.Log("delete repository: unable to refresh index for %s: %v", owner.Name, err)
	}
	return nil
}

// PurgeOwner removes every artifact the owner has in storage, the chart
// index included. Callers delete the database rows afterwards.
func (r *Registry) PurgeOwner(ctx context.Context, owner *database.Owner) error {
	repos, err := r.db.ListRepositories(ctx, owner.ID)
	if err != nil {
		return err
	}
	for _, repo := range repos {
		if err := r.purgeRepository(ctx, owner.ID, repo.ID); err != nil {
			return err
		}
	}
	return r.DeleteIndex(ctx, owner.ID)
}

// purgeRepository deletes every object under the repository's tarballs
// directory. A repository that never had an upload is a no-op.
func (r *Registry) purgeRepository(ctx context.Context, owner, repo string) error {
	dir := tarballsDir(owner, repo)
	blobs, err := r.repositories.Blobs(ctx, dir, &storage.ListOptions{ExcludeDirectories: true})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, blob := range blobs {
		if err := r.repositories.Delete(ctx, path.Join(dir, blob.Name)); err != nil {
			return err
		}
	}
	return nil
}
